package channel

import (
	"context"
	"testing"
	"time"
)

func TestThrottledTransport_BurstThenWait(t *testing.T) {
	inner := &fakeTransport{}
	tr := NewThrottledTransport(inner, 60, 2)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := tr.Send(ctx, "burst"); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if time.Since(start) > 200*time.Millisecond {
		t.Fatal("burst sends should not wait")
	}

	ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if err := tr.Send(ctx, "third"); err == nil {
		t.Fatal("third send should be throttled past the deadline")
	}
	if len(inner.sent) != 2 {
		t.Fatalf("expected 2 delivered, got %d", len(inner.sent))
	}
}
