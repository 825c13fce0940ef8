package browser

import (
	"context"
	"time"

	"aibridge/internal/domain"
)

// Stabilizer decides when streamed text is final: the polled text must stay
// unchanged and non-empty for Quiet. There is no completion event to wait for.
type Stabilizer struct {
	Interval time.Duration // poll period, default 200ms
	Quiet    time.Duration // quiet window, default 1500ms

	// Busy, when set, reports that the surface is still generating; the quiet
	// window cannot close while it returns true.
	Busy func(ctx context.Context) bool

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Wait polls probe until its value stabilizes or timeout elapses. On timeout
// the last non-empty value is returned; if there never was one the error has
// kind ResponseTimeout. A cancelled ctx returns ctx.Err().
func (s Stabilizer) Wait(ctx context.Context, timeout time.Duration, probe func(ctx context.Context) string) (string, error) {
	interval := s.Interval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	quiet := s.Quiet
	if quiet <= 0 {
		quiet = 1500 * time.Millisecond
	}
	now := s.Now
	if now == nil {
		now = time.Now
	}
	sleep := s.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	start := now()
	deadline := start.Add(timeout)
	var last, lastNonEmpty string
	changedAt := start

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text := probe(ctx)
		t := now()
		if text != last {
			last = text
			changedAt = t
		}
		if text != "" {
			lastNonEmpty = text
			if t.Sub(changedAt) >= quiet && (s.Busy == nil || !s.Busy(ctx)) {
				return text, nil
			}
		}

		if !t.Before(deadline) {
			if lastNonEmpty != "" {
				return lastNonEmpty, nil
			}
			return "", domain.NewError(domain.KindResponseTimeout, "no response within "+timeout.String(), nil)
		}

		if err := sleep(ctx, interval); err != nil {
			return "", err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	return sleepCtx(ctx, d)
}
