package conversation

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-backend/internal/llm"
	"chat-backend/internal/models"
)

func stored(role, content string) *models.StoredMessage {
	return &models.StoredMessage{
		ID:          uuid.New(),
		ChatID:      "c1",
		MessageRole: role,
		MessageType: models.MessageTypeNormal,
		Content:     content,
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func userText(texts ...string) *models.UIMessage {
	m := &models.UIMessage{Role: models.RoleUser}
	for _, t := range texts {
		m.Parts = append(m.Parts, models.TextPart(t))
	}
	return m
}

func texts(m models.UIMessage) []string {
	var out []string
	for _, p := range m.Parts {
		out = append(out, p.Text)
	}
	return out
}

func TestDecodeStored(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantOK    bool
		wantTexts []string
	}{
		{"text parts", `[{"type":"text","text":"hi"},{"type":"text","text":"there"}]`, true, []string{"hi", "there"}},
		{"non-text parts dropped", `[{"type":"reasoning","text":"hmm"},{"type":"text","text":"answer"},{"type":"tool-search","input":{}}]`, true, []string{"answer"}},
		{"no text parts", `[{"type":"step-start"},{"type":"reasoning","text":"hmm"}]`, false, nil},
		{"empty array", `[]`, false, nil},
		{"malformed json", `{not json`, true, []string{"{not json"}},
		{"plain string payload", `hello there`, true, []string{"hello there"}},
		{"object payload", `{"type":"text","text":"x"}`, true, []string{`{"type":"text","text":"x"}`}},
		{"json null", `null`, true, []string{"null"}},
		{"array of scalars", `[1,2]`, false, nil},
		{"non-string text", `[{"type":"text","text":5}]`, false, nil},
		{"bad element among text parts", `[7,{"type":"text","text":"kept"},{"type":"text","text":{}}]`, true, []string{"kept"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			row := stored(models.StoredRoleAssistant, tc.content)
			msg, ok := DecodeStored(row)
			require.Equal(t, tc.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, row.ID.String(), msg.ID)
			assert.Equal(t, models.RoleAssistant, msg.Role)
			assert.Equal(t, tc.wantTexts, texts(msg))
		})
	}
}

func TestDecodeHistory_SkipsDiscardedRows(t *testing.T) {
	rows := []*models.StoredMessage{
		stored(models.StoredRoleUser, `[{"type":"text","text":"q"}]`),
		stored(models.StoredRoleAssistant, `[{"type":"step-start"}]`),
		nil,
		stored(models.StoredRoleAssistant, `[{"type":"text","text":"a"}]`),
	}
	msgs := DecodeHistory(rows)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
}

func TestReconcile_MergesConsecutiveUserTurns(t *testing.T) {
	res := Reconcile(nil, []*models.UIMessage{userText("A"), userText("B")})

	require.Len(t, res.All, 1)
	assert.Equal(t, models.RoleUser, res.All[0].Role)
	assert.Equal(t, []string{"A", "B"}, texts(res.All[0]))
	assert.Len(t, res.Incoming, 2)
	assert.Empty(t, res.Prior)
}

func TestReconcile_MergesIntoHistoryTailWithoutMutatingHistory(t *testing.T) {
	history := []models.UIMessage{
		{ID: "1", Role: models.RoleUser, Parts: []models.Part{models.TextPart("first")}},
		{ID: "2", Role: models.RoleAssistant, Parts: []models.Part{models.TextPart("reply")}},
		{ID: "3", Role: models.RoleUser, Parts: []models.Part{models.TextPart("again")}},
	}

	res := Reconcile(history, []*models.UIMessage{userText("dup")})

	require.Len(t, res.All, 3)
	assert.Equal(t, []string{"again", "dup"}, texts(res.All[2]))
	assert.Equal(t, "3", res.All[2].ID)
	assert.Equal(t, []string{"again"}, texts(history[2]), "history must not be modified")
	assert.Equal(t, history, res.Prior)
}

func TestReconcile_DiscardsNilTurns(t *testing.T) {
	history := []models.UIMessage{{Role: models.RoleUser, Parts: []models.Part{models.TextPart("q")}}}

	res := Reconcile(history, []*models.UIMessage{nil, nil})
	assert.Empty(t, res.Incoming)
	require.Len(t, res.All, 1)

	res = Reconcile(nil, []*models.UIMessage{nil, userText("x"), nil})
	require.Len(t, res.Incoming, 1)
	assert.Equal(t, []string{"x"}, texts(res.All[0]))
}

func TestReconcile_FlatContentBecomesTextPart(t *testing.T) {
	res := Reconcile(nil, []*models.UIMessage{
		{Role: models.RoleUser, Content: "one"},
		{Role: models.RoleUser, Content: "two"},
		{Role: models.RoleAssistant, Content: "three"},
	})
	require.Len(t, res.All, 2)
	assert.Equal(t, []string{"one", "two"}, texts(res.All[0]))
	assert.Equal(t, []string{"three"}, texts(res.All[1]))
	assert.Empty(t, res.All[1].Content)
}

func TestReconcile_RepairsAdjacentRolesInHistory(t *testing.T) {
	history := DecodeHistory([]*models.StoredMessage{
		stored(models.StoredRoleUser, `[{"type":"text","text":"q1"}]`),
		stored(models.StoredRoleAssistant, `[{"type":"step-start"}]`),
		stored(models.StoredRoleUser, `[{"type":"text","text":"q2"}]`),
	})
	require.Len(t, history, 2)

	res := Reconcile(history, nil)
	require.Len(t, res.All, 1)
	assert.Equal(t, []string{"q1", "q2"}, texts(res.All[0]))
}

func TestReconcile_NeverEmitsAdjacentRoles(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	roles := []string{models.RoleUser, models.RoleAssistant}
	storedRoles := []string{models.StoredRoleUser, models.StoredRoleAssistant}
	payloads := []string{
		`[{"type":"text","text":"t"}]`,
		`[{"type":"reasoning","text":"r"}]`,
		`[{"type":"tool-x","state":"input-available"},{"type":"text","text":"t"}]`,
		`garbage`,
		`[{"type":"text","text":""}]`,
	}

	for i := 0; i < 500; i++ {
		var rows []*models.StoredMessage
		for j := rng.Intn(6); j > 0; j-- {
			rows = append(rows, stored(storedRoles[rng.Intn(2)], payloads[rng.Intn(len(payloads))]))
		}
		var incoming []*models.UIMessage
		for j := rng.Intn(5); j > 0; j-- {
			switch rng.Intn(4) {
			case 0:
				incoming = append(incoming, nil)
			case 1:
				incoming = append(incoming, &models.UIMessage{Role: roles[rng.Intn(2)], Content: "c"})
			case 2:
				incoming = append(incoming, &models.UIMessage{Role: roles[rng.Intn(2)], Parts: []models.Part{models.TextPart("")}})
			default:
				incoming = append(incoming, &models.UIMessage{Role: roles[rng.Intn(2)], Parts: []models.Part{models.TextPart("p")}})
			}
		}

		res := Reconcile(DecodeHistory(rows), incoming)
		require.True(t, Alternates(res.All, func(m models.UIMessage) string { return m.Role }))

		msgs, _ := BuildModelMessages(res.All)
		require.True(t, Alternates(msgs, func(m llm.Message) string { return m.Role }))
		for _, m := range msgs {
			require.NotEmpty(t, m.Text())
		}
	}
}

func TestToModelMessages_TextAndFiles(t *testing.T) {
	msgs, err := ToModelMessages([]models.UIMessage{
		{Role: models.RoleUser, Parts: []models.Part{
			models.TextPart("look"),
			{Type: models.PartFile, URL: "https://x/img.png", MediaType: "image/png"},
		}},
		{Role: models.RoleAssistant, Parts: []models.Part{
			{Type: models.PartStepStart},
			{Type: models.PartReasoning, Text: "thinking"},
			models.TextPart("a picture"),
		}},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []llm.Part{
		{Kind: llm.PartText, Text: "look"},
		{Kind: llm.PartFile, URL: "https://x/img.png", MediaType: "image/png"},
	}, msgs[0].Parts)
	assert.Equal(t, "a picture", msgs[1].Text())
}

func TestToModelMessages_RejectsToolParts(t *testing.T) {
	var part models.Part
	require.NoError(t, json.Unmarshal([]byte(`{"type":"tool-weather","toolCallId":"c1","state":"input-streaming"}`), &part))

	_, err := ToModelMessages([]models.UIMessage{
		{Role: models.RoleAssistant, Parts: []models.Part{models.TextPart("let me check"), part}},
	})
	var convErr *ConversionError
	require.True(t, errors.As(err, &convErr))
	assert.Equal(t, "tool-weather", convErr.Part)
}

func TestBuildModelMessages_FallbackDropsEmptyContent(t *testing.T) {
	var tool models.Part
	require.NoError(t, json.Unmarshal([]byte(`{"type":"tool-search","state":"output-error"}`), &tool))

	msgs, fallback := BuildModelMessages([]models.UIMessage{
		{Role: models.RoleUser, Parts: []models.Part{models.TextPart("q1")}},
		{Role: models.RoleAssistant, Parts: []models.Part{tool}},
		{Role: models.RoleUser, Parts: []models.Part{models.TextPart("q2"), models.TextPart("more")}},
	})

	require.True(t, fallback)
	require.Len(t, msgs, 1)
	assert.Equal(t, llm.Message{Role: models.RoleUser, Content: "q1\nq2\nmore"}, msgs[0])
}

func TestBuildModelMessages_SingleUserTurn(t *testing.T) {
	res := Reconcile(nil, []*models.UIMessage{userText("hi")})
	msgs, fallback := BuildModelMessages(res.All)

	require.False(t, fallback)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Text())
}

func TestEncodeParts(t *testing.T) {
	var opaque models.Part
	raw := `{"type":"tool-search","toolCallId":"t1","input":{"q":"go"}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &opaque))

	got, err := EncodeParts(&models.UIMessage{Role: models.RoleAssistant, Parts: []models.Part{models.TextPart("hi"), opaque}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type":"text","text":"hi"},`+raw+`]`, got)

	got, err = EncodeParts(&models.UIMessage{Role: models.RoleUser, Content: "flat"})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type":"text","text":"flat"}]`, got)
}
