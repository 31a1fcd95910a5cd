package llm

import (
	"context"
	"io"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Gemini streams completions from the Gemini API.
type Gemini struct {
	client *genai.Client
}

func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Gemini client")
	}
	return &Gemini{client: client}, nil
}

func (p *Gemini) Name() string { return ProviderGemini }

func (p *Gemini) Close() error {
	return p.client.Close()
}

// Stream sends everything but the last message as chat history and the last
// one as the new turn. The first response is fetched before returning so a
// rejected request fails here rather than mid-relay.
func (p *Gemini) Stream(ctx context.Context, req Request) (Stream, error) {
	system, contents := toGeminiContents(req.System, req.Messages)
	history, last, err := splitGeminiTurn(contents)
	if err != nil {
		return nil, &UpstreamError{Provider: ProviderGemini, Err: err}
	}

	model := p.client.GenerativeModel(req.Model)
	if system != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}

	cs := model.StartChat()
	cs.History = history
	it := cs.SendMessageStream(ctx, last.Parts...)

	s := &geminiStream{it: it}
	resp, err := it.Next()
	if errors.Is(err, iterator.Done) {
		s.done = true
		return s, nil
	}
	if err != nil {
		return nil, geminiError(err)
	}
	s.pending = chunksFromResponse(resp)
	return s, nil
}

// splitGeminiTurn separates the new user turn from the history before it.
// Gemini only accepts a user message as the new turn, so a conversation
// ending with a model reply cannot be sent.
func splitGeminiTurn(contents []*genai.Content) ([]*genai.Content, *genai.Content, error) {
	if len(contents) == 0 {
		return nil, nil, errors.New("no messages to send")
	}
	last := contents[len(contents)-1]
	if last.Role != geminiRoleUser {
		return nil, nil, errors.New("conversation must end with a user message")
	}
	return contents[:len(contents)-1], last, nil
}

type geminiStream struct {
	it      *genai.GenerateContentResponseIterator
	pending []Chunk
	done    bool
}

func (s *geminiStream) Recv() (Chunk, error) {
	for len(s.pending) == 0 {
		if s.done {
			return Chunk{}, io.EOF
		}
		resp, err := s.it.Next()
		if errors.Is(err, iterator.Done) {
			s.done = true
			continue
		}
		if err != nil {
			return Chunk{}, geminiError(err)
		}
		s.pending = chunksFromResponse(resp)
	}
	c := s.pending[0]
	s.pending = s.pending[1:]
	return c, nil
}

func (s *geminiStream) Close() error { return nil }

const (
	geminiRoleUser  = "user"
	geminiRoleModel = "model"
)

// toGeminiContents converts messages to Gemini contents. System messages have
// no Gemini role and are appended to the system instruction instead.
func toGeminiContents(system string, msgs []Message) (string, []*genai.Content) {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		var role string
		switch m.Role {
		case "user":
			role = geminiRoleUser
		case "assistant":
			role = geminiRoleModel
		case "system":
			if text := m.Text(); text != "" {
				system = strings.TrimSpace(system + "\n\n" + text)
			}
			continue
		default:
			continue
		}
		var parts []genai.Part
		if !m.Structured() && m.Content != "" {
			parts = append(parts, genai.Text(m.Content))
		}
		for _, p := range m.Parts {
			switch p.Kind {
			case PartText:
				parts = append(parts, genai.Text(p.Text))
			case PartFile:
				parts = append(parts, genai.FileData{MIMEType: p.MediaType, URI: p.URL})
			}
		}
		if len(parts) == 0 {
			continue
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}
	return system, out
}

func chunksFromResponse(resp *genai.GenerateContentResponse) []Chunk {
	var chunks []Chunk
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok && t != "" {
				chunks = append(chunks, Chunk{Kind: ChunkText, Text: string(t)})
			}
		}
	}
	return chunks
}

func geminiError(err error) error {
	ue := &UpstreamError{Provider: ProviderGemini, Err: err}
	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPCode() > 0 {
		ue.Status = apiErr.HTTPCode()
	}
	return ue
}
