package conversation

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"chat-backend/internal/llm"
	"chat-backend/internal/models"
)

// ConversionError reports a message the structured converter cannot express.
type ConversionError struct {
	Index int
	Role  string
	Part  string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("message %d (%s): unsupported part %q", e.Index, e.Role, e.Part)
}

// ToModelMessages converts UI messages into structured provider messages.
// Reasoning, step markers and data parts are not sent to the model. File
// parts are accepted on user messages only. Anything else, tool parts
// included, fails with a *ConversionError.
func ToModelMessages(msgs []models.UIMessage) ([]llm.Message, error) {
	out := make([]llm.Message, 0, len(msgs))
	for i, m := range msgs {
		switch m.Role {
		case models.RoleUser, models.RoleAssistant, models.RoleSystem:
		default:
			return nil, &ConversionError{Index: i, Role: m.Role, Part: "role:" + m.Role}
		}

		parts := make([]llm.Part, 0, len(m.Parts))
		for _, p := range partsOf(m) {
			switch {
			case p.Type == models.PartText:
				if p.Text != "" {
					parts = append(parts, llm.Part{Kind: llm.PartText, Text: p.Text})
				}
			case p.Type == models.PartFile && m.Role == models.RoleUser && p.URL != "" && p.MediaType != "":
				parts = append(parts, llm.Part{Kind: llm.PartFile, URL: p.URL, MediaType: p.MediaType})
			case p.Type == models.PartReasoning, p.Type == models.PartStepStart, strings.HasPrefix(p.Type, "data-"):
			default:
				return nil, &ConversionError{Index: i, Role: m.Role, Part: p.Type}
			}
		}
		if len(parts) == 0 {
			continue
		}
		out = appendMerged(out, llm.Message{Role: m.Role, Parts: parts})
	}
	return out, nil
}

// Flatten converts each message to {role, content}, joining text parts with
// newlines. Messages left without content are dropped, and neighbours that
// then share a role are joined.
func Flatten(msgs []models.UIMessage) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		var texts []string
		for _, p := range partsOf(m) {
			if p.Type == models.PartText {
				texts = append(texts, p.Text)
			}
		}
		content := strings.Join(texts, "\n")
		if content == "" {
			continue
		}
		out = appendMerged(out, llm.Message{Role: m.Role, Content: content})
	}
	return out
}

func appendMerged(out []llm.Message, next llm.Message) []llm.Message {
	n := len(out)
	if n == 0 || out[n-1].Role != next.Role {
		return append(out, next)
	}
	tail := out[n-1]
	if tail.Structured() && next.Structured() {
		tail.Parts = append(append([]llm.Part(nil), tail.Parts...), next.Parts...)
	} else {
		tail = llm.Message{Role: tail.Role, Content: tail.Text() + "\n" + next.Text()}
	}
	out[n-1] = tail
	return out
}

// BuildModelMessages prefers the structured conversion and falls back to
// Flatten when it fails. The conversion error is logged, never returned.
func BuildModelMessages(msgs []models.UIMessage) (out []llm.Message, usedFallback bool) {
	out, err := ToModelMessages(msgs)
	if err == nil {
		return out, false
	}
	log.Warn().Err(err).Int("messages", len(msgs)).Msg("structured message conversion failed, flattening")
	return Flatten(msgs), true
}
