package services

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"chat-backend/internal/conversation"
	"chat-backend/internal/llm"
	"chat-backend/internal/models"
	"chat-backend/internal/stream"
)

const defaultPersistTimeout = 10 * time.Second

type messageStore interface {
	ListByChat(ctx context.Context, chatID string) ([]*models.StoredMessage, error)
	CreateMany(ctx context.Context, messages []*models.StoredMessage) error
}

type updatePublisher interface {
	Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage)
}

// ChatService runs one chat request: it reconciles history with the
// submitted turns, relays the provider stream and records the exchange.
type ChatService struct {
	store          messageStore
	provider       llm.Provider
	systemPrompt   string
	updates        updatePublisher
	persistTimeout time.Duration
}

func NewChatService(store messageStore, provider llm.Provider, systemPrompt string, updates updatePublisher) *ChatService {
	return &ChatService{
		store:          store,
		provider:       provider,
		systemPrompt:   systemPrompt,
		updates:        updates,
		persistTimeout: defaultPersistTimeout,
	}
}

// Turn is a validated chat request, ready to stream.
type Turn struct {
	UserID          uuid.UUID
	ChatID          string
	Model           string
	SkipUserMessage bool
	Conversation    conversation.Result
	Messages        []llm.Message
}

// Prepare validates the request, loads the conversation history and builds
// the provider message list.
func (s *ChatService) Prepare(ctx context.Context, userID uuid.UUID, req models.ChatRequest) (*Turn, error) {
	model, ok := parseModel(req.Model)
	if !ok {
		return nil, &ValidationError{Message: "Invalid or missing model"}
	}

	incoming, err := ParseIncoming(req.Messages, req.Content)
	if err != nil {
		return nil, err
	}
	if countPresent(incoming) == 0 && req.ChatID == "" {
		return nil, &ValidationError{Message: "No messages provided"}
	}

	var rows []*models.StoredMessage
	if req.ChatID != "" {
		rows, err = s.store.ListByChat(ctx, req.ChatID)
		if err != nil {
			return nil, errors.Wrap(err, "load chat history")
		}
	}

	result := conversation.Reconcile(conversation.DecodeHistory(rows), incoming)
	msgs, fallback := conversation.BuildModelMessages(result.All)

	log.Info().
		Str("chat_id", req.ChatID).
		Str("model", model).
		Int("prior", len(result.Prior)).
		Int("incoming", len(result.Incoming)).
		Int("model_messages", len(msgs)).
		Bool("fallback", fallback).
		Msg("chat request prepared")
	if e := log.Debug(); e.Enabled() {
		dump, _ := json.Marshal(msgs)
		e.RawJSON("messages", dump).Msg("final model messages")
	}

	return &Turn{
		UserID:          userID,
		ChatID:          req.ChatID,
		Model:           model,
		SkipUserMessage: req.SkipUserMessage,
		Conversation:    result,
		Messages:        msgs,
	}, nil
}

// Stream calls the provider and relays its output through w. An error
// returned while w has not started means nothing was sent to the client.
// Once the provider finishes, the user turn and assistant reply are stored;
// storage failures are logged and do not affect the response.
func (s *ChatService) Stream(ctx context.Context, turn *Turn, w *stream.UIMessageWriter) error {
	ps, err := s.provider.Stream(ctx, llm.Request{
		Model:    turn.Model,
		System:   s.systemPrompt,
		Messages: turn.Messages,
	})
	if err != nil {
		return err
	}
	defer ps.Close()

	if err := w.Start(stream.ResponseMessageID(turn.Conversation.Prior)); err != nil {
		return errors.Wrap(err, "start response stream")
	}

	for {
		chunk, err := ps.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Str("chat_id", turn.ChatID).Msg("client disconnected, stream abandoned")
				return ctx.Err()
			}
			log.Error().Err(err).Str("chat_id", turn.ChatID).Str("model", turn.Model).Msg("provider stream failed")
			if ferr := w.Fail(err.Error()); ferr != nil {
				log.Warn().Err(ferr).Msg("failed to write stream error frame")
			}
			return err
		}
		if err := w.Write(chunk); err != nil {
			log.Info().Err(err).Str("chat_id", turn.ChatID).Msg("relay stopped")
			return err
		}
	}

	reply, err := w.Finish()
	if err != nil {
		log.Warn().Err(err).Str("chat_id", turn.ChatID).Msg("failed to close response stream")
	}
	s.persist(ctx, turn, reply)
	return nil
}

// History returns a conversation's stored messages as the UI sees them.
func (s *ChatService) History(ctx context.Context, chatID string) ([]models.UIMessage, error) {
	rows, err := s.store.ListByChat(ctx, chatID)
	if err != nil {
		return nil, errors.Wrap(err, "load chat history")
	}
	return conversation.DecodeHistory(rows), nil
}

func (s *ChatService) persist(ctx context.Context, turn *Turn, reply models.UIMessage) {
	if turn.ChatID == "" {
		log.Debug().Msg("no chat id, exchange not stored")
		return
	}

	var rows []*models.StoredMessage
	if !turn.SkipUserMessage {
		if n := len(turn.Conversation.Incoming); n > 0 && turn.Conversation.Incoming[n-1].Role == models.RoleUser {
			if row, err := s.newRow(turn, models.StoredRoleUser, turn.Conversation.Incoming[n-1]); err == nil {
				rows = append(rows, row)
			} else {
				log.Error().Err(err).Str("chat_id", turn.ChatID).Msg("failed to encode user message")
			}
		}
	}
	if len(reply.Parts) > 0 {
		if row, err := s.newRow(turn, models.StoredRoleAssistant, &reply); err == nil {
			rows = append(rows, row)
		} else {
			log.Error().Err(err).Str("chat_id", turn.ChatID).Msg("failed to encode assistant message")
		}
	}
	if len(rows) == 0 {
		return
	}

	// the request context may already be cancelled by the time the reply is complete
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()

	if err := s.store.CreateMany(pctx, rows); err != nil {
		log.Error().Err(err).Str("chat_id", turn.ChatID).Int("rows", len(rows)).Msg("error saving messages")
		return
	}

	if s.updates != nil && turn.UserID != uuid.Nil {
		saved := models.MessagesSaved{ChatID: turn.ChatID}
		for _, r := range rows {
			saved.MessageIDs = append(saved.MessageIDs, r.ID)
		}
		s.updates.Publish(pctx, turn.UserID, models.WSMessage{Type: "messages_saved", Payload: saved})
	}
}

func (s *ChatService) newRow(turn *Turn, role string, msg *models.UIMessage) (*models.StoredMessage, error) {
	content, err := conversation.EncodeParts(msg)
	if err != nil {
		return nil, err
	}
	return &models.StoredMessage{
		ChatID:      turn.ChatID,
		MessageRole: role,
		MessageType: models.MessageTypeNormal,
		Content:     content,
		Model:       turn.Model,
	}, nil
}

// ParseIncoming reads the submitted turns. messages wins when it is an
// array; otherwise content is used when it is an array; otherwise there are
// no incoming turns. Null entries are kept as nil.
func ParseIncoming(messages, content json.RawMessage) ([]*models.UIMessage, error) {
	raw := content
	if isArray(messages) {
		raw = messages
	}
	if !isArray(raw) {
		return nil, nil
	}
	var turns []*models.UIMessage
	if err := json.Unmarshal(raw, &turns); err != nil {
		return nil, &ValidationError{Message: "Invalid request body", Details: err.Error()}
	}
	return turns, nil
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func parseModel(raw json.RawMessage) (string, bool) {
	var model string
	if len(raw) == 0 || json.Unmarshal(raw, &model) != nil || model == "" {
		return "", false
	}
	return model, true
}

func countPresent(turns []*models.UIMessage) int {
	n := 0
	for _, t := range turns {
		if t != nil {
			n++
		}
	}
	return n
}
