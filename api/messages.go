package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/strandchat/strand/internal/log"
	"github.com/strandchat/strand/internal/message"
)

// MessageStore is the message persistence surface the handlers need.
// Satisfied by *message.Store.
type MessageStore interface {
	CreateMessage(ctx context.Context, channelID, createdBy uuid.UUID, content string, meta message.Meta) (message.Message, error)
	UpdateMessage(ctx context.Context, id, editedBy uuid.UUID, content string) (message.Message, error)
	GetChannel(ctx context.Context, id uuid.UUID) (message.Channel, error)
}

// Dispatcher schedules background index syncs. Satisfied by
// *syncer.Coordinator.
type Dispatcher interface {
	Dispatch(msg message.Message)
}

// MessageHandler handles message create and edit endpoints.
type MessageHandler struct {
	store  MessageStore
	syncer Dispatcher
	logger log.Logger
}

// NewMessageHandler creates a message handler.
func NewMessageHandler(store MessageStore, syncer Dispatcher, logger log.Logger) *MessageHandler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &MessageHandler{store: store, syncer: syncer, logger: logger}
}

// RegisterRoutes registers message routes on the given mux.
func (h *MessageHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/messages", h.create)
	mux.HandleFunc("PATCH /api/messages/{id}", h.update)
}

type createMessageRequest struct {
	ChannelID uuid.UUID     `json:"channel_id"`
	AccountID uuid.UUID     `json:"account_id"`
	Content   string        `json:"content"`
	Meta      *message.Meta `json:"meta,omitempty"`
}

type messageResponse struct {
	Success bool            `json:"success"`
	Message message.Message `json:"message"`
}

// create persists a message and dispatches its index sync. The HTTP
// response does not wait for the sync.
func (h *MessageHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", h.logger)
		return
	}
	if req.ChannelID == uuid.Nil || req.AccountID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "channel_id and account_id are required", h.logger)
		return
	}

	meta := message.Meta{}
	if req.Meta != nil {
		meta = *req.Meta
	}

	msg, err := h.store.CreateMessage(r.Context(), req.ChannelID, req.AccountID, req.Content, meta)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.syncer.Dispatch(msg)
	writeJSON(w, http.StatusCreated, messageResponse{Success: true, Message: msg}, h.logger)
}

type updateMessageRequest struct {
	AccountID uuid.UUID `json:"account_id"`
	Content   string    `json:"content"`
}

// update edits a message and dispatches a re-sync so similarity queries
// converge on the edited content.
func (h *MessageHandler) update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id", h.logger)
		return
	}

	var req updateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", h.logger)
		return
	}
	if req.AccountID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "account_id is required", h.logger)
		return
	}

	msg, err := h.store.UpdateMessage(r.Context(), id, req.AccountID, req.Content)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.syncer.Dispatch(msg)
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: msg}, h.logger)
}

// writeStoreError maps store errors to HTTP statuses.
func (h *MessageHandler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, message.ErrInvalidContent):
		writeError(w, http.StatusBadRequest, "content must be 1-2000 characters", h.logger)
	case errors.Is(err, message.ErrChannelNotFound):
		writeError(w, http.StatusNotFound, "channel not found", h.logger)
	case errors.Is(err, message.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, "message not found", h.logger)
	case errors.Is(err, message.ErrNotAuthor):
		writeError(w, http.StatusForbidden, "only the author can edit a message", h.logger)
	default:
		h.logger.Error("message store error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error", h.logger)
	}
}
