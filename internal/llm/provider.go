package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"neuroai/internal/logging"
)

// Provider defines the interface for LLM backends. Both variants receive the
// authoritative conversation history on every call; whether it is resent to
// the wire or reconciled against server-side state is the adapter's business.
type Provider interface {
	// Send generates a complete response for the prompt
	Send(ctx context.Context, prompt string, history []Message) (string, error)

	// Stream generates a response as a lazy sequence of text fragments
	Stream(ctx context.Context, prompt string, history []Message) (*Stream, error)

	// Name returns the provider name (e.g., "gemini", "openai")
	Name() string

	// Health returns the provider's connection monitor
	Health() *Monitor
}

// Message represents a chat message on the provider boundary
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Config holds provider configuration
type Config struct {
	Type        string // "gemini", "openai"
	GeminiKey   string
	GeminiModel string
	OpenAIKey   string
	OpenAIModel string
}

// Error conditions surfaced by providers. Anything else is an opaque
// provider-side failure.
var (
	// ErrDisconnected means the most recent health probe reported the backend
	// unreachable; the call was refused without a network round trip.
	ErrDisconnected = errors.New("llm: provider disconnected")

	// ErrCancelled means the caller aborted the request. Fragments already
	// delivered are kept by the caller.
	ErrCancelled = errors.New("llm: request cancelled")
)

// Stream is a pull-based fragment sequence. Recv returns fragments in
// generation order, io.EOF on normal completion, ErrCancelled once the
// request context is done, and an opaque error on provider failure.
type Stream struct {
	ctx  context.Context
	body io.Closer
	next func() (string, error)
	done bool
}

// NewStream wraps a pull function into a Stream bound to ctx. body, when
// non-nil, is closed by Close.
func NewStream(ctx context.Context, body io.Closer, next func() (string, error)) *Stream {
	return &Stream{ctx: ctx, body: body, next: next}
}

// Recv returns the next fragment. The cancellation check happens between
// pulls, so cancellation latency is bounded by one fragment.
func (s *Stream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	select {
	case <-s.ctx.Done():
		s.done = true
		return "", ErrCancelled
	default:
	}

	frag, err := s.next()
	if err != nil {
		s.done = true
		if err != io.EOF && s.ctx.Err() != nil {
			return "", ErrCancelled
		}
		return "", err
	}
	return frag, nil
}

// Close releases the underlying transport. Safe to call more than once.
func (s *Stream) Close() error {
	s.done = true
	if s.body != nil {
		err := s.body.Close()
		s.body = nil
		return err
	}
	return nil
}

// NewProvider creates a provider based on config. The returned provider owns
// a connection monitor; call Health().Start() to begin probing.
func NewProvider(cfg Config, logger *logging.Logger) (Provider, error) {
	switch cfg.Type {
	case "gemini":
		if cfg.GeminiKey == "" {
			return nil, fmt.Errorf("gemini API key is required")
		}
		return NewGeminiProvider(cfg.GeminiKey, cfg.GeminiModel, logger), nil
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("openai API key is required")
		}
		return NewOpenAIProvider(cfg.OpenAIKey, cfg.OpenAIModel, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
}
