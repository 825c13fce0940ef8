package agent

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"aibridge/internal/domain"
)

// skipPrompter skips the listed targets immediately.
type skipPrompter map[domain.Target]bool

func (p skipPrompter) Skip(ctx context.Context, target domain.Target) <-chan struct{} {
	ch := make(chan struct{})
	if p[target] {
		close(ch)
	}
	return ch
}

func TestStartup_InitFailureAndSkippedLogin(t *testing.T) {
	gemini, chatgpt, grok := newFakeDriver("gemini"), newFakeDriver("chatgpt"), newFakeDriver("grok")
	chatgpt.initErr = domain.NewError(domain.KindInitialization, "browser unreachable", nil)
	grok.loggedIn = false
	l, _ := newTestLoop(nil, gemini, chatgpt, grok)
	l.prompter = skipPrompter{"grok": true}

	if err := l.Startup(context.Background()); err != nil {
		t.Fatalf("startup: %v", err)
	}
	if got := joinTargets(l.registry.Available()); got != "gemini" {
		t.Fatalf("expected only gemini available, got %q", got)
	}
	if grok.cleanups != 1 {
		t.Fatalf("skipped session should be cleaned up, got %d", grok.cleanups)
	}
	st, _ := l.registry.Get("gemini")
	if !st.Initialized {
		t.Fatal("gemini should be marked initialized")
	}
}

func TestStartup_WaitsForLogin(t *testing.T) {
	d := newFakeDriver("gemini")
	d.loginSeq = []bool{false, false, true}
	l, _ := newTestLoop(nil, d)
	l.prompter = skipPrompter{}

	if err := l.Startup(context.Background()); err != nil {
		t.Fatalf("startup: %v", err)
	}
	if len(l.registry.Available()) != 1 {
		t.Fatal("session should stay available after login")
	}
}

func TestStartup_NoSessionsIsAnError(t *testing.T) {
	d := newFakeDriver("gemini")
	d.initErr = errors.New("chrome missing")
	l, _ := newTestLoop(nil, d)

	if err := l.Startup(context.Background()); err == nil {
		t.Fatal("expected error with no sessions available")
	}
}

func TestShutdown_CancelModeInterruptsExchange(t *testing.T) {
	gemini, grok := newFakeDriver("gemini"), newFakeDriver("grok")
	gemini.block = make(chan struct{})
	l, tr := newTestLoop(nil, gemini, grok)
	l.shutdownMode = ShutdownCancel

	l.queue.Push(domain.InboundMessage{ID: 1, Text: "slow question"}, domain.InboundMessage{ID: 2, Text: "next"})
	waitFor(t, "submission", func() bool { return gemini.lastSubmitted() != "" })

	l.Shutdown(context.Background())

	sent := tr.messages()
	if len(sent) != 1 || !strings.HasPrefix(sent[0], "Sorry, couldn't complete request") {
		t.Fatalf("expected one apology for the cancelled exchange, got %q", sent)
	}
	if gemini.cleanups != 1 || grok.cleanups != 1 {
		t.Fatalf("all drivers should be cleaned up: gemini=%d grok=%d", gemini.cleanups, grok.cleanups)
	}
	gemini.mu.Lock()
	defer gemini.mu.Unlock()
	if len(gemini.submitted) != 1 {
		t.Fatalf("queued message should be dropped, submitted %q", gemini.submitted)
	}
}

func TestShutdown_WaitModeLetsExchangeFinish(t *testing.T) {
	d := newFakeDriver("gemini")
	d.block = make(chan struct{})
	l, tr := newTestLoop(nil, d)

	l.queue.Push(domain.InboundMessage{ID: 1, Text: "question"})
	waitFor(t, "submission", func() bool { return d.lastSubmitted() != "" })

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(d.block)
	}()
	l.Shutdown(context.Background())

	sent := tr.messages()
	if len(sent) != 1 || sent[0] != "reply from gemini" {
		t.Fatalf("in-flight exchange should complete, got %q", sent)
	}
	if d.cleanups != 1 {
		t.Fatal("driver should be cleaned up")
	}
}

func TestShutdown_WaitModeEndsLoginWait(t *testing.T) {
	d := newFakeDriver("gemini")
	d.loggedIn = false
	l, tr := newTestLoop(nil, d)
	l.shutdownTimeout = 10 * time.Second

	l.queue.Push(domain.InboundMessage{ID: 1, Text: "question"})
	waitFor(t, "expiry notice", func() bool { return len(tr.messages()) == 1 })

	start := time.Now()
	l.Shutdown(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("shutdown waited %s for a login that never came", elapsed)
	}
	if d.cleanups != 1 {
		t.Fatal("driver should be cleaned up")
	}
	if len(d.submitted) != 0 {
		t.Fatalf("nothing should be submitted, got %q", d.submitted)
	}
}

func TestLinePrompter_Skip(t *testing.T) {
	pr, pw := io.Pipe()
	var out bytes.Buffer
	p := NewLinePrompter(pr, &out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	skip := p.Skip(ctx, "grok")

	go pw.Write([]byte("nope\n S \n"))
	select {
	case <-skip:
	case <-time.After(2 * time.Second):
		t.Fatal("expected skip")
	}
	pw.Close()
}

func TestIsSkip(t *testing.T) {
	for in, want := range map[string]bool{"s": true, " S\n": true, "skip": false, "": false} {
		if IsSkip(in) != want {
			t.Errorf("IsSkip(%q) != %v", in, want)
		}
	}
}
