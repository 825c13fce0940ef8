package channel

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"aibridge/internal/domain"
)

// ThrottledTransport limits how fast replies leave the bridge.
type ThrottledTransport struct {
	inner   domain.ReplyTransport
	limiter *rate.Limiter
}

// NewThrottledTransport allows perMinute sends per minute with the given burst.
func NewThrottledTransport(inner domain.ReplyTransport, perMinute, burst int) *ThrottledTransport {
	if perMinute <= 0 {
		perMinute = 20
	}
	if burst <= 0 {
		burst = 1
	}
	return &ThrottledTransport{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60), burst),
	}
}

func (t *ThrottledTransport) Send(ctx context.Context, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send throttled: %w", err)
	}
	return t.inner.Send(ctx, text)
}
