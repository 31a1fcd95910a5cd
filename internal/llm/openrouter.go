package llm

import (
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenRouterURL is the OpenAI-compatible base URL of OpenRouter.
const DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

// OpenRouter streams chat completions through OpenRouter's OpenAI-compatible API.
type OpenRouter struct {
	client *openai.Client
}

func NewOpenRouter(cfg Config) *OpenRouter {
	c := openai.DefaultConfig(cfg.APIKey)
	c.BaseURL = DefaultOpenRouterURL
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	return &OpenRouter{client: openai.NewClientWithConfig(c)}
}

func (p *OpenRouter) Name() string { return ProviderOpenRouter }

func (p *OpenRouter) Close() error { return nil }

func (p *OpenRouter) Stream(ctx context.Context, req Request) (Stream, error) {
	s, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toOpenAIMessages(req),
		Stream:   true,
	})
	if err != nil {
		return nil, openAIError(err)
	}
	return &openRouterStream{s: s}, nil
}

type openRouterStream struct {
	s       *openai.ChatCompletionStream
	pending []Chunk
}

// openRouterChunk is the part of a streamed completion chunk that is relayed.
// OpenRouter sends reasoning as delta.reasoning; OpenAI-compatible servers such
// as DeepSeek use delta.reasoning_content. go-openai only decodes the latter.
type openRouterChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			Reasoning        string `json:"reasoning"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *openRouterStream) Recv() (Chunk, error) {
	for len(s.pending) == 0 {
		raw, err := s.s.RecvRaw()
		if errors.Is(err, io.EOF) {
			return Chunk{}, io.EOF
		}
		if err != nil {
			return Chunk{}, openAIError(err)
		}

		var resp openRouterChunk
		if err := json.Unmarshal(raw, &resp); err != nil {
			return Chunk{}, &UpstreamError{Provider: ProviderOpenRouter, Err: errors.Wrap(err, "decode stream chunk")}
		}
		// errors after the response has started arrive as a chunk
		if resp.Error != nil {
			ue := &UpstreamError{Provider: ProviderOpenRouter, Err: errors.New(resp.Error.Message)}
			if code, ok := resp.Error.Code.(float64); ok {
				ue.Status = int(code)
			}
			return Chunk{}, ue
		}
		for _, choice := range resp.Choices {
			reasoning := choice.Delta.Reasoning
			if reasoning == "" {
				reasoning = choice.Delta.ReasoningContent
			}
			if reasoning != "" {
				s.pending = append(s.pending, Chunk{Kind: ChunkReasoning, Text: reasoning})
			}
			if choice.Delta.Content != "" {
				s.pending = append(s.pending, Chunk{Kind: ChunkText, Text: choice.Delta.Content})
			}
		}
	}
	c := s.pending[0]
	s.pending = s.pending[1:]
	return c, nil
}

func (s *openRouterStream) Close() error {
	return s.s.Close()
}

func toOpenAIMessages(req Request) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		if m.Role != openai.ChatMessageRoleUser || !m.hasFiles() {
			out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Text()})
			continue
		}
		parts := make([]openai.ChatMessagePart, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch p.Kind {
			case PartText:
				parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: p.Text})
			case PartFile:
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: p.URL},
				})
			}
		}
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, MultiContent: parts})
	}
	return out
}

func openAIError(err error) error {
	ue := &UpstreamError{Provider: ProviderOpenRouter, Err: err}
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		ue.Status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		ue.Status = reqErr.HTTPStatusCode
	}
	return ue
}
