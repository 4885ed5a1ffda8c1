package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := NewOpenAIProvider("test-key", "", testLogger())
	p.baseURL = srv.URL
	return p
}

func sseChunk(content string) string {
	return fmt.Sprintf(`data: {"choices":[{"delta":{"content":%q}}]}`+"\n\n", content)
}

func TestOpenAIStreamDecodesSSE(t *testing.T) {
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sseChunk("Hel"))
		io.WriteString(w, sseChunk("lo"))
		io.WriteString(w, `data: {"choices":[{"delta":{}}]}`+"\n\n") // empty delta skipped
		io.WriteString(w, "data: [DONE]\n\n")
	})

	stream, err := p.Stream(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	defer stream.Close()

	var got string
	for {
		frag, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv() error: %v", err)
		}
		got += frag
	}
	if got != "Hello" {
		t.Errorf("assembled %q, want %q", got, "Hello")
	}
}

func TestOpenAISend(t *testing.T) {
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[{"message":{"content":"Paris"}}]}`)
	})

	got, err := p.Send(context.Background(), "capital of France?", nil)
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if got != "Paris" {
		t.Errorf("Send() = %q, want %q", got, "Paris")
	}
}

func TestOpenAIStreamCancellation(t *testing.T) {
	release := make(chan struct{})
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sseChunk("first"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := p.Stream(ctx, "hi", nil)
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	defer stream.Close()

	frag, err := stream.Recv()
	if err != nil || frag != "first" {
		t.Fatalf("Recv() = %q, %v", frag, err)
	}

	cancel()
	if _, err := stream.Recv(); !errors.Is(err, ErrCancelled) {
		t.Errorf("Recv() after cancel = %v, want ErrCancelled", err)
	}
}

func TestOpenAIRequestFailureMarksDisconnected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	p := NewOpenAIProvider("test-key", "", testLogger())
	p.baseURL = srv.URL
	srv.Close() // all requests now fail at the dial

	if _, err := p.Stream(context.Background(), "hi", nil); err == nil {
		t.Fatal("Stream() succeeded against a closed server")
	}
	if p.Health().Status() != StatusDisconnected {
		t.Errorf("status = %v after failed call, want disconnected", p.Health().Status())
	}

	// Next call fails fast without touching the wire
	if _, err := p.Stream(context.Background(), "hi", nil); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Stream() = %v, want ErrDisconnected", err)
	}
	if _, err := p.Send(context.Background(), "hi", nil); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Send() = %v, want ErrDisconnected", err)
	}
}

func TestOpenAINon200Status(t *testing.T) {
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})

	if _, err := p.Stream(context.Background(), "hi", nil); err == nil {
		t.Fatal("Stream() succeeded on 429")
	}
	// A reachable but refusing backend is not a disconnect
	if p.Health().Status() == StatusDisconnected {
		t.Error("status = disconnected after 429, want not disconnected")
	}
}

func TestOpenAIDefaultModel(t *testing.T) {
	p := NewOpenAIProvider("k", "", testLogger())
	if p.model != "gpt-4o-mini" {
		t.Errorf("default model = %q", p.model)
	}
	p = NewOpenAIProvider("k", "gpt-4o", testLogger())
	if p.model != "gpt-4o" {
		t.Errorf("model = %q, want override", p.model)
	}
}
