package agent

import (
	"testing"
	"time"

	"aibridge/internal/domain"
)

func newTestRegistry() *Registry {
	return NewRegistry([]domain.SessionDriver{
		newFakeDriver("gemini"),
		newFakeDriver("chatgpt"),
		newFakeDriver("grok"),
	}, testLogger())
}

func TestRegistry_OrderAndAvailability(t *testing.T) {
	r := newTestRegistry()
	if got := joinTargets(r.Targets()); got != "gemini, chatgpt, grok" {
		t.Fatalf("unexpected order %q", got)
	}

	r.MarkUnavailable("chatgpt", "login skipped")
	if got := joinTargets(r.Available()); got != "gemini, grok" {
		t.Fatalf("unexpected available %q", got)
	}
	if got := joinTargets(r.Targets()); got != "gemini, chatgpt, grok" {
		t.Fatal("unavailable targets stay configured")
	}

	_, err := r.Get("chatgpt")
	if domain.KindOf(err) != domain.KindTargetUnavailable {
		t.Fatalf("expected TARGET_UNAVAILABLE, got %v", err)
	}
	_, err = r.Get("claude")
	if domain.KindOf(err) != domain.KindTargetUnavailable {
		t.Fatalf("expected TARGET_UNAVAILABLE for unknown target, got %v", err)
	}
	if len(r.Drivers()) != 3 {
		t.Fatal("drivers of unavailable sessions are still released at shutdown")
	}
}

func TestRegistry_StateTransitions(t *testing.T) {
	r := newTestRegistry()
	st, err := r.Get("grok")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.Tier != domain.TierFast || !st.Available || st.PreambleSent {
		t.Fatalf("unexpected initial state %+v", st)
	}

	r.MarkInitialized("grok")
	r.RecordTierChange("grok", domain.TierThinking)
	r.MarkPreambleSent("grok")
	now := time.Now()
	r.MarkUsed("grok", now)

	if !st.Initialized || st.Tier != domain.TierThinking || !st.PreambleSent || !st.LastUsed.Equal(now) {
		t.Fatalf("state not updated: %+v", st)
	}
	if r.LastUsed() != "grok" {
		t.Fatalf("expected last used grok, got %q", r.LastUsed())
	}

	r.RecordConversationReset("grok")
	if st.PreambleSent {
		t.Fatal("reset should clear the preamble flag")
	}
	if st.Tier != domain.TierFast {
		t.Fatalf("a new conversation starts on the fast tier, got %s", st.Tier)
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	r := newTestRegistry()
	r.MarkUnavailable("grok", "init failed")
	snap := r.Snapshot()
	if len(snap) != 3 || snap[2].Target != "grok" || snap[2].Available {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	snap[0].Tier = domain.TierMax
	if st, _ := r.Get("gemini"); st.Tier != domain.TierFast {
		t.Fatal("snapshot must be a copy")
	}
}

func TestRegistry_IgnoresDuplicateDrivers(t *testing.T) {
	r := NewRegistry([]domain.SessionDriver{newFakeDriver("grok"), newFakeDriver("grok")}, testLogger())
	if len(r.Targets()) != 1 {
		t.Fatalf("expected one target, got %v", r.Targets())
	}
}
