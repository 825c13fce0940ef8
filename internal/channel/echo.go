package channel

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"aibridge/internal/domain"
)

// systemPatterns match text the bridge itself generates.
var systemPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^Sorry, couldn't complete request`),
	regexp.MustCompile(`^Sorry, try again`),
	regexp.MustCompile(`^\[.+\] Session expired`),
	regexp.MustCompile(`^All conversations have been reset`),
	regexp.MustCompile(`^aibridge running`),
}

// EchoFilter recognises replies the bridge sent when they come back through
// the message store as new rows. Tracked text matches once within the window.
type EchoFilter struct {
	mu       sync.Mutex
	window   time.Duration
	sent     map[string]time.Time
	patterns []*regexp.Regexp
	now      func() time.Time
}

func NewEchoFilter(window time.Duration) *EchoFilter {
	return &EchoFilter{
		window:   window,
		sent:     make(map[string]time.Time),
		patterns: systemPatterns,
		now:      time.Now,
	}
}

// Track records text as just sent.
func (f *EchoFilter) Track(text string) {
	key := strings.TrimSpace(text)
	if key == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[key] = f.now()
}

// Forget drops a tracked entry, e.g. after the send failed.
func (f *EchoFilter) Forget(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sent, strings.TrimSpace(text))
}

// IsEcho reports whether text was produced by the bridge.
func (f *EchoFilter) IsEcho(text string) bool {
	key := strings.TrimSpace(text)
	if key == "" {
		return false
	}
	for _, p := range f.patterns {
		if p.MatchString(key) {
			return true
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	for k, at := range f.sent {
		if now.Sub(at) > f.window {
			delete(f.sent, k)
		}
	}
	if _, ok := f.sent[key]; ok {
		delete(f.sent, key)
		return true
	}
	return false
}

// TrackingTransport records every reply in an EchoFilter before sending it.
type TrackingTransport struct {
	inner  domain.ReplyTransport
	filter *EchoFilter
}

func NewTrackingTransport(inner domain.ReplyTransport, filter *EchoFilter) *TrackingTransport {
	return &TrackingTransport{inner: inner, filter: filter}
}

func (t *TrackingTransport) Send(ctx context.Context, text string) error {
	t.filter.Track(text)
	if err := t.inner.Send(ctx, text); err != nil {
		t.filter.Forget(text)
		return err
	}
	return nil
}
