package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/strandchat/strand/internal/assemble"
	"github.com/strandchat/strand/internal/generate"
	"github.com/strandchat/strand/internal/log"
	"github.com/strandchat/strand/internal/message"
	"github.com/strandchat/strand/internal/pipeline"
	"github.com/strandchat/strand/internal/vector"
)

// Answerer runs the ask pipeline. Satisfied by *pipeline.Pipeline.
type Answerer interface {
	Ask(ctx context.Context, trigger message.Message) (pipeline.Answer, error)
	Summarize(ctx context.Context, channelID uuid.UUID) (string, error)
}

// AskHandler handles the ask and summary endpoints.
type AskHandler struct {
	store    MessageStore
	syncer   Dispatcher
	pipeline Answerer
	logger   log.Logger
}

// NewAskHandler creates an ask handler.
func NewAskHandler(store MessageStore, syncer Dispatcher, pipe Answerer, logger log.Logger) *AskHandler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &AskHandler{store: store, syncer: syncer, pipeline: pipe, logger: logger}
}

// RegisterRoutes registers ask routes on the given mux.
func (h *AskHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/ask", h.ask)
	mux.HandleFunc("POST /api/messages/summary", h.summary)
}

type askRequest struct {
	NetworkID uuid.UUID `json:"network_id"`
	ChannelID uuid.UUID `json:"channel_id"`
	AccountID uuid.UUID `json:"account_id"`
	Content   string    `json:"content"`
}

type askResponse struct {
	Success  bool            `json:"success"`
	Response string          `json:"response"`
	Reply    message.Message `json:"reply"`
	Matches  []vector.Match  `json:"matches,omitempty"`
	Degraded bool            `json:"degraded,omitempty"`
}

// ask persists the question as a regular message, dispatches its sync,
// and runs the answer pipeline. The reply is persisted before the
// response is written; only the index syncs are asynchronous.
func (h *AskHandler) ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", h.logger)
		return
	}
	if req.NetworkID == uuid.Nil || req.ChannelID == uuid.Nil || req.AccountID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "network_id, channel_id and account_id are required", h.logger)
		return
	}
	if err := message.ValidateContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, "content must be 1-2000 characters", h.logger)
		return
	}

	// The claimed network must own the channel; recall scope depends on it.
	ch, err := h.store.GetChannel(r.Context(), req.ChannelID)
	if err != nil {
		if errors.Is(err, message.ErrChannelNotFound) {
			writeError(w, http.StatusNotFound, "channel not found", h.logger)
			return
		}
		h.logger.Error("channel lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error", h.logger)
		return
	}
	if ch.NetworkID != req.NetworkID {
		writeError(w, http.StatusNotFound, "channel not found in network", h.logger)
		return
	}

	trigger, err := h.store.CreateMessage(r.Context(), req.ChannelID, req.AccountID, req.Content, message.Meta{})
	if err != nil {
		if errors.Is(err, message.ErrInvalidContent) {
			writeError(w, http.StatusBadRequest, "content must be 1-2000 characters", h.logger)
			return
		}
		h.logger.Error("persisting trigger failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error", h.logger)
		return
	}
	h.syncer.Dispatch(trigger)

	answer, err := h.pipeline.Ask(r.Context(), trigger)
	if err != nil {
		h.writeAskError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		Success:  true,
		Response: answer.Response,
		Reply:    answer.Reply,
		Matches:  answer.Matches,
		Degraded: answer.Degraded,
	}, h.logger)
}

type summaryRequest struct {
	ChannelID uuid.UUID `json:"channel_id"`
}

type summaryResponse struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
}

// summary generates a short summary of a channel's recent history.
func (h *AskHandler) summary(w http.ResponseWriter, r *http.Request) {
	var req summaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", h.logger)
		return
	}
	if req.ChannelID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "channel_id is required", h.logger)
		return
	}

	summary, err := h.pipeline.Summarize(r.Context(), req.ChannelID)
	if err != nil {
		h.writeAskError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summaryResponse{Success: true, Response: summary}, h.logger)
}

// writeAskError maps pipeline errors to HTTP statuses.
func (h *AskHandler) writeAskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrBotTrigger), errors.Is(err, pipeline.ErrEmptyQuestion):
		writeError(w, http.StatusBadRequest, err.Error(), h.logger)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, generate.ErrGenerate):
		h.logger.Error("generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "generation failed", h.logger)
	case errors.Is(err, assemble.ErrHistoryFetch):
		h.logger.Error("context assembly failed", "error", err)
		writeError(w, http.StatusInternalServerError, "context assembly failed", h.logger)
	case errors.Is(err, pipeline.ErrPublish):
		h.logger.Error("publishing reply failed", "error", err)
		writeError(w, http.StatusInternalServerError, "publishing reply failed", h.logger)
	default:
		h.logger.Error("ask failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error", h.logger)
	}
}
