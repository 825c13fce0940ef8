package agent

import (
	"testing"

	"aibridge/internal/domain"
)

func TestApplyPreamble(t *testing.T) {
	const pre = "[be brief] "
	fresh := &domain.SessionState{Target: "grok"}
	sent := &domain.SessionState{Target: "grok", PreambleSent: true}

	tests := []struct {
		name    string
		st      *domain.SessionState
		newConv bool
		last    domain.Target
		want    string
	}{
		{"first message", fresh, false, "", pre + "hi"},
		{"already sent", sent, false, "grok", "hi"},
		{"nothing used yet", sent, false, "", "hi"},
		{"new conversation", sent, true, "grok", pre + "hi"},
		{"switched sessions", sent, false, "gemini", pre + "hi"},
	}
	for _, tt := range tests {
		if got := applyPreamble(pre, "hi", tt.st, tt.newConv, tt.last); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}

	if got := applyPreamble("", "hi", fresh, true, "gemini"); got != "hi" {
		t.Fatalf("empty preamble should leave body alone, got %q", got)
	}
}
