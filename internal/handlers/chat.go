package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"chat-backend/internal/llm"
	"chat-backend/internal/middleware"
	"chat-backend/internal/models"
	"chat-backend/internal/services"
	"chat-backend/internal/stream"
)

type chatService interface {
	Prepare(ctx context.Context, userID uuid.UUID, req models.ChatRequest) (*services.Turn, error)
	Stream(ctx context.Context, turn *services.Turn, w *stream.UIMessageWriter) error
	History(ctx context.Context, chatID string) ([]models.UIMessage, error)
}

type ChatHandler struct {
	chatService chatService
}

func NewChatHandler(chatService *services.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Chat answers POST /api/chat with a UI message stream. Failures detected
// before the stream starts are returned as JSON; later failures travel in the
// stream itself.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	sw := stream.NewUIMessageWriter(w)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("request_id", middleware.GetRequestID(r.Context())).Msg("chat handler panicked")
			if !sw.Started() {
				chatError(w, http.StatusInternalServerError, "Internal server error", fmt.Sprint(rec))
			}
		}
	}()

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		chatError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	turn, err := h.chatService.Prepare(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		writeChatError(w, r, err)
		return
	}

	if err := h.chatService.Stream(r.Context(), turn, sw); err != nil && !sw.Started() {
		writeChatError(w, r, err)
	}
}

// History answers GET /api/chats/{chatId}/messages.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	if chatID == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Chat ID is required", r))
		return
	}

	msgs, err := h.chatService.History(r.Context(), chatID)
	if err != nil {
		log.Error().Err(err).Str("chat_id", chatID).Msg("failed to load chat history")
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"chat_id":  chatID,
		"messages": msgs,
	})
}

func writeChatError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		// client went away before anything was sent
		return
	}

	var verr *services.ValidationError
	if errors.As(err, &verr) {
		chatError(w, http.StatusBadRequest, verr.Message, verr.Details)
		return
	}

	var uerr *llm.UpstreamError
	if errors.As(err, &uerr) {
		log.Error().Err(err).Int("status", uerr.Status).Msg("inference provider rejected request")
		chatError(w, http.StatusInternalServerError, uerr.Error(), rootCause(uerr))
		return
	}

	log.Error().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Msg("chat request failed")
	chatError(w, http.StatusInternalServerError, err.Error(), rootCause(err))
}

func rootCause(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
