// Package conversation turns stored chat rows and newly submitted turns into
// the message list sent to the model.
package conversation

import (
	"encoding/json"
	"strings"

	"chat-backend/internal/models"
)

// DecodeStored converts a stored row into a UI message holding only its text
// parts. ok is false when the row has no text to contribute. A payload that
// is not a JSON array is kept verbatim as a single text part.
func DecodeStored(row *models.StoredMessage) (models.UIMessage, bool) {
	msg := models.UIMessage{
		ID:        row.ID.String(),
		Role:      strings.ToLower(row.MessageRole),
		CreatedAt: &row.CreatedAt,
	}

	var elems []json.RawMessage
	// a JSON null decodes without error but leaves elems nil
	if err := json.Unmarshal([]byte(row.Content), &elems); err != nil || elems == nil {
		msg.Parts = []models.Part{models.TextPart(row.Content)}
		return msg, true
	}

	// elements that are not well-formed parts are skipped, not fatal
	for _, elem := range elems {
		var p models.Part
		if err := json.Unmarshal(elem, &p); err != nil {
			continue
		}
		if p.Type == models.PartText {
			msg.Parts = append(msg.Parts, p)
		}
	}
	if len(msg.Parts) == 0 {
		return models.UIMessage{}, false
	}
	return msg, true
}

// DecodeHistory decodes rows in order, dropping those without text.
func DecodeHistory(rows []*models.StoredMessage) []models.UIMessage {
	out := make([]models.UIMessage, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		if msg, ok := DecodeStored(row); ok {
			out = append(out, msg)
		}
	}
	return out
}

// EncodeParts serializes a message for storage. Messages that arrived as flat
// text are stored as a single text part.
func EncodeParts(msg *models.UIMessage) (string, error) {
	parts := msg.Parts
	if parts == nil {
		parts = []models.Part{models.TextPart(msg.Content)}
	}
	b, err := json.Marshal(parts)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
