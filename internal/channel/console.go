package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"aibridge/internal/domain"
)

// Console is a message store and reply transport backed by a terminal.
// Each input line becomes one message; "/new " at the start of a line asks
// for a fresh conversation, like a leading blank line does in a text message.
type Console struct {
	in     io.Reader
	out    io.Writer
	logger *slog.Logger

	mu      sync.Mutex
	msgs    []domain.InboundMessage
	skipper chan struct{} // closed by the next "s" line while a login prompt is open
	outMu   sync.Mutex
}

type ConsoleConfig struct {
	In     io.Reader
	Out    io.Writer
	Logger *slog.Logger
}

func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Console{in: cfg.In, out: cfg.Out, logger: cfg.Logger}
}

// Start reads lines until ctx ends or input reaches EOF.
func (c *Console) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "aibridge console. Type a message and press Enter.")
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}
			if rest, ok := strings.CutPrefix(line, "/new "); ok {
				line = "\n" + rest
			}
			c.mu.Lock()
			if c.skipper != nil && strings.EqualFold(strings.TrimSpace(line), "s") {
				close(c.skipper)
				c.skipper = nil
				c.mu.Unlock()
				continue
			}
			c.msgs = append(c.msgs, domain.InboundMessage{
				ID:        int64(len(c.msgs) + 1),
				Text:      line,
				Timestamp: time.Now(),
			})
			c.mu.Unlock()
		}
		if err := scanner.Err(); err != nil {
			c.logger.Warn("console input closed", "err", err)
		}
	}()
}

func (c *Console) ListNewMessages(ctx context.Context, sinceID int64) ([]domain.InboundMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sinceID >= int64(len(c.msgs)) {
		return nil, nil
	}
	if sinceID < 0 {
		sinceID = 0
	}
	out := make([]domain.InboundMessage, len(c.msgs)-int(sinceID))
	copy(out, c.msgs[sinceID:])
	return out, nil
}

func (c *Console) HighWaterMark(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.msgs)), nil
}

func (c *Console) Send(ctx context.Context, text string) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, err := fmt.Fprintf(c.out, "--- aibridge ---\n%s\n----------------\n", text)
	return err
}

// Skip prompts for a login on the console. While the prompt is open an "s"
// line skips target instead of becoming a message.
func (c *Console) Skip(ctx context.Context, target domain.Target) <-chan struct{} {
	ch := make(chan struct{})
	c.mu.Lock()
	c.skipper = ch
	c.mu.Unlock()

	c.outMu.Lock()
	fmt.Fprintf(c.out, "[%s] Not logged in. Please log in via the browser window.\n[%s] Press 's' + Enter to skip this AI\n", target, target)
	c.outMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			if c.skipper == ch {
				c.skipper = nil
			}
			c.mu.Unlock()
		case <-ch:
		}
	}()
	return ch
}
