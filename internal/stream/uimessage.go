// Package stream writes assistant output as a server-sent UI message stream.
//
// Each frame is a `data: {json}` event. A response looks like
//
//	start{messageId} start-step
//	reasoning-start reasoning-delta... reasoning-end
//	text-start text-delta... text-end
//	finish-step finish
//	[DONE]
//
// with an error{errorText} frame in place of the finish frames when the
// provider fails mid-stream.
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"chat-backend/internal/llm"
	"chat-backend/internal/models"
)

// ProtocolHeader marks the response body as a UI message stream.
const ProtocolHeader = "x-vercel-ai-ui-message-stream"

type frame struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Delta     string `json:"delta,omitempty"`
	ErrorText string `json:"errorText,omitempty"`
}

// ResponseMessageID picks the id of the assistant message being streamed. A
// history that already ends with an assistant message is continued under that
// message's id; otherwise a new id is minted.
func ResponseMessageID(prior []models.UIMessage) string {
	if n := len(prior); n > 0 && prior[n-1].Role == models.RoleAssistant && prior[n-1].ID != "" {
		return prior[n-1].ID
	}
	return uuid.NewString()
}

// UIMessageWriter frames provider chunks onto an HTTP response and collects
// them into the finished assistant message.
type UIMessageWriter struct {
	w         http.ResponseWriter
	rc        *http.ResponseController
	messageID string
	started   bool

	open   llm.ChunkKind
	blocks int
	buf    strings.Builder
	parts  []models.Part
}

func NewUIMessageWriter(w http.ResponseWriter) *UIMessageWriter {
	return &UIMessageWriter{w: w, rc: http.NewResponseController(w)}
}

// Started reports whether response headers have been sent.
func (s *UIMessageWriter) Started() bool {
	return s.started
}

// Start commits the 200 response and opens the assistant message.
func (s *UIMessageWriter) Start(messageID string) error {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set(ProtocolHeader, "v1")
	s.w.WriteHeader(http.StatusOK)
	s.started = true
	s.messageID = messageID

	if err := s.send(frame{Type: "start", MessageID: messageID}); err != nil {
		return err
	}
	return s.send(frame{Type: "start-step"})
}

// Write relays one chunk, opening a new text or reasoning block when the
// chunk kind changes.
func (s *UIMessageWriter) Write(c llm.Chunk) error {
	if c.Text == "" {
		return nil
	}
	if s.open != c.Kind {
		if err := s.closeBlock(); err != nil {
			return err
		}
		s.open = c.Kind
		s.blocks++
		if err := s.send(frame{Type: string(c.Kind) + "-start", ID: s.blockID()}); err != nil {
			return err
		}
	}
	s.buf.WriteString(c.Text)
	return s.send(frame{Type: string(c.Kind) + "-delta", ID: s.blockID(), Delta: c.Text})
}

// Finish closes the stream and returns the assistant message it carried.
func (s *UIMessageWriter) Finish() (models.UIMessage, error) {
	if err := s.closeBlock(); err != nil {
		return s.message(), err
	}
	for _, f := range []frame{{Type: "finish-step"}, {Type: "finish"}} {
		if err := s.send(f); err != nil {
			return s.message(), err
		}
	}
	return s.message(), s.done()
}

// Fail ends the stream with an error frame.
func (s *UIMessageWriter) Fail(errText string) error {
	if err := s.send(frame{Type: "error", ErrorText: errText}); err != nil {
		return err
	}
	return s.done()
}

func (s *UIMessageWriter) blockID() string {
	return fmt.Sprintf("%s-%d", s.open, s.blocks)
}

func (s *UIMessageWriter) closeBlock() error {
	if s.open == "" {
		return nil
	}
	kind := models.PartText
	if s.open == llm.ChunkReasoning {
		kind = models.PartReasoning
	}
	s.parts = append(s.parts, models.Part{Type: kind, Text: s.buf.String()})
	id := s.blockID()
	s.buf.Reset()
	s.open = ""
	return s.send(frame{Type: string(kind) + "-end", ID: id})
}

func (s *UIMessageWriter) message() models.UIMessage {
	return models.UIMessage{ID: s.messageID, Role: models.RoleAssistant, Parts: s.parts}
}

func (s *UIMessageWriter) send(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "marshal stream frame")
	}
	return s.writeEvent(string(data))
}

func (s *UIMessageWriter) done() error {
	return s.writeEvent("[DONE]")
}

func (s *UIMessageWriter) writeEvent(data string) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return errors.Wrap(err, "write stream frame")
	}
	if err := s.rc.Flush(); err != nil {
		return errors.Wrap(err, "flush stream frame")
	}
	return nil
}
