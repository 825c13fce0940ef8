package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"aibridge/internal/domain"
	"aibridge/internal/metrics"
)

const (
	resetReply  = "All conversations have been reset."
	statusReply = "Active AIs: %s. Use . for thinking, .. for max."
)

// ParseCommand matches the whole trimmed text against the control words.
// Callers only consult it for messages without attachments.
func ParseCommand(text string) domain.Command {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "reset", "clear":
		return domain.CommandReset
	case "status":
		return domain.CommandStatus
	default:
		return domain.CommandNone
	}
}

// handleCommand runs a control command and reports whether msg was one.
func (l *Loop) handleCommand(ctx context.Context, logger *slog.Logger, cmd domain.Command) bool {
	switch cmd {
	case domain.CommandReset:
		metrics.CommandsTotal.With("reset").Inc()
		logger.Info("resetting all conversations")
		l.resetAll(ctx, logger)
		l.reply(ctx, logger, resetReply)
		return true

	case domain.CommandStatus:
		metrics.CommandsTotal.With("status").Inc()
		l.reply(ctx, logger, l.statusText())
		return true
	}
	return false
}

// resetAll starts a fresh conversation on every available session at once.
func (l *Loop) resetAll(ctx context.Context, logger *slog.Logger) {
	var wg sync.WaitGroup
	for _, target := range l.registry.Available() {
		st, err := l.registry.Get(target)
		if err != nil {
			continue
		}
		wg.Add(1)
		go func(st *domain.SessionState) {
			defer wg.Done()
			if err := st.Driver.StartNewConversation(ctx); err != nil {
				logger.Warn("new conversation failed", "session", st.Target, "err", err)
			}
		}(st)
	}
	wg.Wait()

	for _, target := range l.registry.Targets() {
		l.registry.RecordConversationReset(target)
	}
}

func (l *Loop) statusText() string {
	return fmt.Sprintf(statusReply, joinTargets(l.registry.Available()))
}

func joinTargets(targets []domain.Target) string {
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
