package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeTransport) Send(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, text)
	return nil
}

func TestEchoFilter_TrackedTextSuppressedOnce(t *testing.T) {
	f := NewEchoFilter(30 * time.Second)
	f.Track("The capital of France is Paris. ")

	if !f.IsEcho("The capital of France is Paris.") {
		t.Fatal("tracked text should be recognised")
	}
	if f.IsEcho("The capital of France is Paris.") {
		t.Fatal("a tracked entry matches only once")
	}
}

func TestEchoFilter_Expires(t *testing.T) {
	now := time.Now()
	f := NewEchoFilter(30 * time.Second)
	f.now = func() time.Time { return now }
	f.Track("hello")

	now = now.Add(31 * time.Second)
	if f.IsEcho("hello") {
		t.Fatal("entry should expire after the window")
	}
}

func TestEchoFilter_SystemPatterns(t *testing.T) {
	f := NewEchoFilter(time.Second)
	for _, text := range []string{
		"Sorry, couldn't complete request. Error: TIMEOUT",
		"Sorry, try again.",
		"[GROK] Session expired. Please log in again.",
		"All conversations have been reset.",
		"aibridge running with gemini, grok",
	} {
		if !f.IsEcho(text) {
			t.Errorf("expected %q to match a system pattern", text)
		}
	}
	if f.IsEcho("sorry, try again later?") {
		t.Fatal("user text must not match")
	}
	if f.IsEcho("") {
		t.Fatal("empty text is never an echo")
	}
}

func TestTrackingTransport_ForgetsOnFailure(t *testing.T) {
	f := NewEchoFilter(30 * time.Second)
	inner := &fakeTransport{err: errors.New("osascript failed")}
	tr := NewTrackingTransport(inner, f)

	if err := tr.Send(context.Background(), "answer"); err == nil {
		t.Fatal("expected send error")
	}
	if f.IsEcho("answer") {
		t.Fatal("failed send should not be tracked")
	}

	inner.err = nil
	if err := tr.Send(context.Background(), "answer"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !f.IsEcho("answer") {
		t.Fatal("sent text should be tracked")
	}
}
