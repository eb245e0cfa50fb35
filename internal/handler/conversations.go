// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rentease/messaging/internal/middleware"
	"github.com/rentease/messaging/internal/model"
	"github.com/rentease/messaging/internal/service"
	"github.com/rentease/messaging/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  log,
	}
}

// Create handles POST /conversations. An existing conversation with the same
// user is returned with 200; a new one with 201.
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.CreateConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateID("user", req.OtherUserID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, created, err := h.service.CreateOrGet(ctx, middleware.GetViewer(ctx), req.OtherUserID)
	if err != nil {
		writeServiceError(w, r, h.logger, "create conversation", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, conv)
}

// List handles GET /conversations.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	convs, err := h.service.List(ctx, middleware.GetViewer(ctx))
	if err != nil {
		writeServiceError(w, r, h.logger, "list conversations", err)
		return
	}

	writeJSON(w, http.StatusOK, &model.ListConversationsResponse{Conversations: convs})
}

// Get handles GET /conversations/{id}.
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateID("conversation", conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.service.Get(ctx, middleware.GetViewer(ctx), conversationID)
	if err != nil {
		writeServiceError(w, r, h.logger, "get conversation", err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Stats handles GET /stats.
func (h *ConversationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.service.Stats(ctx, middleware.GetViewer(ctx))
	if err != nil {
		writeServiceError(w, r, h.logger, "get message stats", err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// Delete handles DELETE /conversations/{id}.
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateID("conversation", conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.Delete(ctx, middleware.GetViewer(ctx), conversationID); err != nil {
		writeServiceError(w, r, h.logger, "delete conversation", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
