package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/strandchat/strand/internal/log"
	"github.com/strandchat/strand/internal/vector"
)

// Embedder produces the query embedding for similarity browsing.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index answers similarity queries. Satisfied by *vector.Index.
type Index interface {
	Query(ctx context.Context, embedding []float32, topK int, filter vector.Filter) ([]vector.Match, error)
}

// SimilarConfig tunes similarity browsing.
type SimilarConfig struct {
	TopK     int
	MinScore float64
}

// SimilarHandler exposes the similarity index directly: given text, it
// returns the closest stored messages without generating an answer.
type SimilarHandler struct {
	embedder Embedder
	index    Index
	cfg      SimilarConfig
	logger   log.Logger
}

// NewSimilarHandler creates a similarity browsing handler.
func NewSimilarHandler(embedder Embedder, index Index, cfg SimilarConfig, logger log.Logger) *SimilarHandler {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &SimilarHandler{embedder: embedder, index: index, cfg: cfg, logger: logger}
}

// RegisterRoutes registers the similarity route on the given mux.
func (h *SimilarHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/messages/similar", h.similar)
}

type similarRequest struct {
	NetworkID uuid.UUID  `json:"network_id"`
	ChannelID *uuid.UUID `json:"channel_id,omitempty"`
	Content   string     `json:"content"`
}

type similarResponse struct {
	Success bool           `json:"success"`
	Results []vector.Match `json:"results"`
}

func (h *SimilarHandler) similar(w http.ResponseWriter, r *http.Request) {
	var req similarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", h.logger)
		return
	}
	if req.NetworkID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "network_id is required", h.logger)
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required", h.logger)
		return
	}

	emb, err := h.embedder.Embed(r.Context(), req.Content)
	if err != nil {
		h.logger.Error("embedding query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "embedding failed", h.logger)
		return
	}

	matches, err := h.index.Query(r.Context(), emb, h.cfg.TopK,
		vector.Filter{NetworkID: req.NetworkID, ChannelID: req.ChannelID})
	if err != nil {
		h.logger.Error("similarity query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "similarity query failed", h.logger)
		return
	}

	results := make([]vector.Match, 0, len(matches))
	for _, m := range matches {
		if m.Score < h.cfg.MinScore {
			continue
		}
		results = append(results, m)
	}

	writeJSON(w, http.StatusOK, similarResponse{Success: true, Results: results}, h.logger)
}
