package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"neuroai/internal/llm"
)

func TestSubmitConcatenatesFragments(t *testing.T) {
	e, events := newTestEngine(newFakeProvider("Hel", "lo", " there"), &fakeCache{}, nil)
	defer e.Close()
	e.Load(context.Background())

	if err := e.Submit("greet me"); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	waitIdle(t, events)

	msgs := e.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "greet me" {
		t.Errorf("user message = %+v", msgs[0])
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content != "Hello there" {
		t.Errorf("assistant message = %+v, want concatenated fragments", msgs[1])
	}
	if e.State() != StateIdle {
		t.Errorf("state = %v after completion, want idle", e.State())
	}
}

func TestSubmitSetsTitleFromFirstMessage(t *testing.T) {
	e, events := newTestEngine(newFakeProvider("hi"), &fakeCache{}, nil)
	defer e.Close()
	e.Load(context.Background())

	e.Submit("What is the capital of France?")
	waitIdle(t, events)

	sessions := e.Sessions()
	if sessions[0].Title != "What is the capital of France?" {
		t.Errorf("title = %q", sessions[0].Title)
	}
}

func TestSubmitPassesPriorTurnsAsHistory(t *testing.T) {
	prov := newFakeProvider("Hi")
	e, events := newTestEngine(prov, &fakeCache{}, nil)
	defer e.Close()
	e.Load(context.Background())

	e.Submit("Hello")
	waitIdle(t, events)
	e.Submit("Hi there")
	waitIdle(t, events)

	history := prov.history()
	want := []llm.Message{
		{Role: "user", Content: "Hello"},
		{Role: "assistant", Content: "Hi"},
	}
	if len(history) != len(want) {
		t.Fatalf("history has %d entries, want %d: %+v", len(history), len(want), history)
	}
	for i := range want {
		if history[i] != want[i] {
			t.Errorf("history[%d] = %+v, want %+v", i, history[i], want[i])
		}
	}

	msgs := e.Messages()
	if len(msgs) != 4 {
		t.Errorf("got %d messages after two turns, want 4", len(msgs))
	}
}

func TestSubmitWhileStreamingReturnsBusy(t *testing.T) {
	prov := newChannelProvider()
	e, events := newTestEngine(prov, &fakeCache{}, nil)
	defer e.Close()
	e.Load(context.Background())

	if err := e.Submit("first"); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if err := e.Submit("second"); !errors.Is(err, ErrBusy) {
		t.Errorf("second Submit() = %v, want ErrBusy", err)
	}

	close(prov.frags)
	waitIdle(t, events)
}

func TestSubmitFailsFastWhenDisconnected(t *testing.T) {
	prov := newFakeProvider("never sent")
	prov.mon.MarkDisconnected()
	e, _ := newTestEngine(prov, &fakeCache{}, nil)
	defer e.Close()
	e.Load(context.Background())

	err := e.Submit("anyone there?")
	if !errors.Is(err, llm.ErrDisconnected) {
		t.Fatalf("Submit() = %v, want ErrDisconnected", err)
	}

	msgs := e.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want user message plus notice", len(msgs))
	}
	if msgs[1].Role != RoleSystem || msgs[1].Content != failureNotice {
		t.Errorf("notice = %+v", msgs[1])
	}
	if e.State() != StateIdle {
		t.Errorf("state = %v, want idle", e.State())
	}
}

func TestSubmitFailureBeforeFirstFragmentAppendsNotice(t *testing.T) {
	prov := newFakeProvider()
	prov.streamErr = errors.New("upstream exploded")
	e, events := newTestEngine(prov, &fakeCache{}, nil)
	defer e.Close()
	e.Load(context.Background())

	if err := e.Submit("doomed"); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	waitIdle(t, events)

	msgs := e.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[1].Role != RoleSystem || msgs[1].Content != failureNotice {
		t.Errorf("notice = %+v", msgs[1])
	}
}

func TestSubmitFailureMidStreamKeepsPartialOutput(t *testing.T) {
	prov := newFakeProvider("partial answer")
	prov.recvErr = errors.New("connection reset")
	e, events := newTestEngine(prov, &fakeCache{}, nil)
	defer e.Close()
	e.Load(context.Background())

	if err := e.Submit("tell me everything"); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	waitIdle(t, events)

	msgs := e.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content != "partial answer" {
		t.Errorf("partial output lost: %+v", msgs[1])
	}
	for _, m := range msgs {
		if m.Role == RoleSystem {
			t.Error("notice appended despite partial assistant output")
		}
	}
}

func TestCancelMidStreamKeepsDeliveredFragments(t *testing.T) {
	prov := newChannelProvider()
	e, events := newTestEngine(prov, &fakeCache{}, nil)
	defer e.Close()
	e.Load(context.Background())

	if err := e.Submit("long answer please"); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	prov.frags <- "part one"

	// Wait until the fragment landed before cancelling
	deadline := time.After(2 * time.Second)
	for {
		var seen bool
		select {
		case ev := <-events:
			seen = ev.Type == "fragment" && ev.Fragment == "part one"
		case <-deadline:
			t.Fatal("timed out waiting for fragment")
		}
		if seen {
			break
		}
	}

	e.Cancel()
	e.Cancel() // idempotent
	waitIdle(t, events)

	msgs := e.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content != "part one" {
		t.Errorf("delivered fragment lost on cancel: %+v", msgs[1])
	}
	if e.State() != StateIdle {
		t.Errorf("state = %v after cancel, want idle", e.State())
	}
}

func TestCancelWhenIdleIsNoop(t *testing.T) {
	e, _ := newTestEngine(newFakeProvider(), &fakeCache{}, nil)
	defer e.Close()
	e.Load(context.Background())

	e.Cancel()
	if e.State() != StateIdle {
		t.Errorf("state = %v, want idle", e.State())
	}
}

func TestSubmitWithoutSessionCreatesOne(t *testing.T) {
	e, events := newTestEngine(newFakeProvider("ok"), &fakeCache{}, nil)
	defer e.Close()

	if err := e.Submit("bootstrap"); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	waitIdle(t, events)

	if len(e.Sessions()) != 1 {
		t.Fatalf("got %d sessions, want 1", len(e.Sessions()))
	}
	if len(e.Messages()) != 2 {
		t.Errorf("got %d messages, want 2", len(e.Messages()))
	}
}

func TestEmptyFragmentsAreSkipped(t *testing.T) {
	e, events := newTestEngine(newFakeProvider("", "real", ""), &fakeCache{}, nil)
	defer e.Close()
	e.Load(context.Background())

	e.Submit("hello")
	waitIdle(t, events)

	msgs := e.Messages()
	if msgs[len(msgs)-1].Content != "real" {
		t.Errorf("assistant content = %q, want %q", msgs[len(msgs)-1].Content, "real")
	}
}

func TestStreamUpdatesSessionOrdering(t *testing.T) {
	e, events := newTestEngine(newFakeProvider("reply"), &fakeCache{}, nil)
	defer e.Close()

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { now := ts; ts = ts.Add(time.Second); return now }

	first := e.CreateSession()
	second := e.CreateSession()
	e.LoadSession(first.ID)

	e.Submit("bump the old session")
	waitIdle(t, events)

	sessions := e.Sessions()
	if sessions[0].ID != first.ID {
		t.Errorf("head = %s, want the just-updated session %s", sessions[0].ID, first.ID)
	}
	if sessions[1].ID != second.ID {
		t.Errorf("second = %s, want %s", sessions[1].ID, second.ID)
	}
}
