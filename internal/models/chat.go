package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Roles as used on the wire and by the model provider.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Roles and types as stored in the messages table.
const (
	StoredRoleUser      = "USER"
	StoredRoleAssistant = "ASSISTANT"
	MessageTypeNormal   = "NORMAL"
)

// Part kinds this service interprets. Anything else is carried as-is.
const (
	PartText      = "text"
	PartReasoning = "reasoning"
	PartFile      = "file"
	PartStepStart = "step-start"
)

// Part is one typed piece of a message. Parts decoded from JSON keep their
// original encoding so kinds produced by the UI (tool calls, data parts)
// round-trip unchanged.
type Part struct {
	Type      string
	Text      string
	URL       string
	MediaType string

	raw json.RawMessage
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

func (p *Part) UnmarshalJSON(data []byte) error {
	var fields struct {
		Type      string `json:"type"`
		Text      string `json:"text"`
		URL       string `json:"url"`
		MediaType string `json:"mediaType"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	p.Type = fields.Type
	p.Text = fields.Text
	p.URL = fields.URL
	p.MediaType = fields.MediaType
	p.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (p Part) MarshalJSON() ([]byte, error) {
	if len(p.raw) > 0 {
		return p.raw, nil
	}
	out := struct {
		Type      string  `json:"type"`
		Text      *string `json:"text,omitempty"`
		URL       string  `json:"url,omitempty"`
		MediaType string  `json:"mediaType,omitempty"`
	}{Type: p.Type}
	switch p.Type {
	case PartText, PartReasoning:
		out.Text = &p.Text
	case PartFile:
		out.URL = p.URL
		out.MediaType = p.MediaType
	}
	return json.Marshal(out)
}

// UIMessage is the normalized in-memory form of a turn.
type UIMessage struct {
	ID        string     `json:"id,omitempty"`
	Role      string     `json:"role"`
	Parts     []Part     `json:"parts"`
	Content   string     `json:"content,omitempty"` // flat text some clients send instead of parts
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// StoredMessage is a row of the messages table.
type StoredMessage struct {
	ID          uuid.UUID `json:"id"`
	ChatID      string    `json:"chat_id"`
	MessageRole string    `json:"message_role"` // "USER" | "ASSISTANT"
	MessageType string    `json:"message_type"` // "NORMAL"
	Content     string    `json:"content"`      // JSON array of parts
	Model       string    `json:"model"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChatRequest is the body posted to the chat endpoint. messages, content and
// model are kept raw because their shape is validated by the chat service.
type ChatRequest struct {
	ChatID          string          `json:"chatId"`
	Messages        json.RawMessage `json:"messages"`
	Content         json.RawMessage `json:"content"`
	Model           json.RawMessage `json:"model"`
	SkipUserMessage bool            `json:"skipUserMessage"`
}

// ChatErrorResponse is the error body of the chat endpoint.
type ChatErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// MessagesSaved is published after a chat turn is persisted.
type MessagesSaved struct {
	ChatID     string      `json:"chat_id"`
	MessageIDs []uuid.UUID `json:"message_ids"`
}
