// Package llm talks to the inference provider. Providers stream chunks of
// assistant output; callers relay them as they arrive.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
)

// Config is built once at process start and handed to New.
type Config struct {
	Provider      string
	APIKey        string
	BaseURL       string
	MaxConcurrent int
	SlotTimeout   time.Duration
}

type PartKind string

const (
	PartText PartKind = "text"
	PartFile PartKind = "file"
)

type Part struct {
	Kind      PartKind
	Text      string
	URL       string
	MediaType string
}

// Message is either structured (Parts set) or flattened (Content only).
type Message struct {
	Role    string
	Content string
	Parts   []Part
}

func (m Message) Structured() bool {
	return m.Parts != nil
}

// Text returns the flattened form: Content for flattened messages, text
// parts joined by newlines for structured ones.
func (m Message) Text() string {
	if !m.Structured() {
		return m.Content
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Kind == PartText {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func (m Message) hasFiles() bool {
	for _, p := range m.Parts {
		if p.Kind == PartFile {
			return true
		}
	}
	return false
}

type Request struct {
	Model    string
	System   string
	Messages []Message
}

type ChunkKind string

const (
	ChunkText      ChunkKind = "text"
	ChunkReasoning ChunkKind = "reasoning"
)

type Chunk struct {
	Kind ChunkKind
	Text string
}

// Stream yields chunks until Recv returns io.EOF.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (Stream, error)
	Close() error
}

// UpstreamError reports a failed call to the inference provider. Status is
// the HTTP status returned upstream, or 0 when none was received.
type UpstreamError struct {
	Provider string
	Status   int
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s upstream error (status %d): %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s upstream error: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// New builds the configured provider, bounded to cfg.MaxConcurrent
// simultaneous streams.
func New(ctx context.Context, cfg Config) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case ProviderOpenRouter, "":
		p = NewOpenRouter(cfg)
	case ProviderGemini:
		p, err = NewGemini(ctx, cfg)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if cfg.MaxConcurrent <= 0 {
		return p, nil
	}
	return NewLimited(p, cfg.MaxConcurrent, cfg.SlotTimeout), nil
}
