package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rentease/messaging/internal/middleware"
	"github.com/rentease/messaging/internal/model"
	"github.com/rentease/messaging/internal/service"
	"github.com/rentease/messaging/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	messageService *service.MessageService
	logger         *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(msgSvc *service.MessageService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: msgSvc,
		logger:         log,
	}
}

// List handles GET /conversations/{id}/messages.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateID("conversation", conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := h.messageService.List(ctx, middleware.GetViewer(ctx), conversationID)
	if err != nil {
		writeServiceError(w, r, h.logger, "get messages", err)
		return
	}

	writeJSON(w, http.StatusOK, &model.ListMessagesResponse{Messages: msgs})
}

// Send handles POST /send.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.messageService.Send(ctx, middleware.GetViewer(ctx), &req)
	if err != nil {
		writeServiceError(w, r, h.logger, "send message", err)
		return
	}

	writeJSON(w, http.StatusCreated, &model.SendMessageResponse{Message: msg})
}

// Delete handles DELETE /{messageId}.
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	messageID := chi.URLParam(r, "messageId")

	if err := middleware.ValidateID("message", messageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	permanent, err := h.messageService.Delete(ctx, middleware.GetViewer(ctx), messageID)
	if err != nil {
		writeServiceError(w, r, h.logger, "delete message", err)
		return
	}

	writeJSON(w, http.StatusOK, &model.DeleteMessageResponse{PermanentlyDeleted: permanent})
}
