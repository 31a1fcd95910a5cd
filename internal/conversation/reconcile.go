package conversation

import "chat-backend/internal/models"

// Result is the outcome of merging stored history with the incoming turns.
type Result struct {
	// Prior is the decoded stored history on its own. The response stream
	// frames the new assistant turn against it.
	Prior []models.UIMessage
	// All is history plus incoming turns, with no two adjacent entries
	// sharing a role.
	All []models.UIMessage
	// Incoming holds the submitted turns with nil entries removed.
	Incoming []*models.UIMessage
}

// Reconcile folds history and then the incoming turns into one sequence. A
// turn with the same role as the accumulated tail has its parts appended to
// the tail; any other turn is appended as a new entry. history is not
// modified.
func Reconcile(history []models.UIMessage, incoming []*models.UIMessage) Result {
	kept := make([]*models.UIMessage, 0, len(incoming))
	for _, m := range incoming {
		if m != nil {
			kept = append(kept, m)
		}
	}

	acc := make([]models.UIMessage, 0, len(history)+len(kept))
	for _, m := range history {
		acc = fold(acc, m)
	}
	for _, m := range kept {
		acc = fold(acc, *m)
	}

	return Result{
		Prior:    history,
		All:      acc,
		Incoming: kept,
	}
}

func fold(acc []models.UIMessage, next models.UIMessage) []models.UIMessage {
	next.Parts = partsOf(next)
	next.Content = ""
	if n := len(acc); n > 0 && acc[n-1].Role == next.Role {
		tail := acc[n-1]
		merged := make([]models.Part, 0, len(tail.Parts)+len(next.Parts))
		merged = append(merged, partsOf(tail)...)
		merged = append(merged, next.Parts...)
		tail.Parts = merged
		tail.Content = ""
		acc[n-1] = tail
		return acc
	}
	return append(acc, next)
}

// partsOf returns the message parts, or its flat content as one text part
// when the message carries no parts at all.
func partsOf(m models.UIMessage) []models.Part {
	if m.Parts != nil {
		return m.Parts
	}
	return []models.Part{models.TextPart(m.Content)}
}

// Alternates reports whether no two adjacent messages share a role.
func Alternates[M any](msgs []M, role func(M) string) bool {
	for i := 1; i < len(msgs); i++ {
		if role(msgs[i]) == role(msgs[i-1]) {
			return false
		}
	}
	return true
}
