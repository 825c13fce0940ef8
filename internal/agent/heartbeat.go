package agent

import (
	"context"
	"log/slog"
	"time"

	"aibridge/internal/metrics"
)

const defaultHeartbeatInterval = 5 * time.Minute

// Heartbeat periodically logs bridge health and refreshes the session and
// queue gauges.
type Heartbeat struct {
	loop     *Loop
	interval time.Duration
	logger   *slog.Logger
}

func NewHeartbeat(loop *Loop, interval time.Duration, logger *slog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Heartbeat{loop: loop, interval: interval, logger: logger}
}

// Start blocks until ctx is cancelled.
func (h *Heartbeat) Start(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.beat()
		}
	}
}

func (h *Heartbeat) beat() {
	available := h.loop.registry.Available()
	depth := h.loop.queue.Len()
	metrics.SessionsAvailable.Set(int64(len(available)))
	metrics.QueueDepth.Set(int64(depth))
	h.logger.Info("heartbeat", "sessions", joinTargets(available), "queue_depth", depth, "last_used", h.loop.registry.LastUsed())
}
