package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"aibridge/internal/domain"
	"aibridge/internal/metrics"
)

// Startup initializes every session concurrently, then walks them in order
// to confirm logins. Sessions that fail to initialize or whose login the
// operator skips are marked unavailable. It fails only when none remain.
func (l *Loop) Startup(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, d := range l.registry.Drivers() {
		wg.Add(1)
		go func(d domain.SessionDriver) {
			defer wg.Done()
			if err := d.Initialize(ctx); err != nil {
				l.registry.MarkUnavailable(d.Name(), err.Error())
				return
			}
			l.registry.MarkInitialized(d.Name())
		}(d)
	}
	wg.Wait()

	for _, target := range l.registry.Available() {
		st, err := l.registry.Get(target)
		if err != nil {
			continue
		}
		if st.Driver.IsLoggedIn(ctx) {
			l.logger.Info("already logged in", "session", target)
			continue
		}
		if l.awaitLoginOrSkip(ctx, st.Driver) {
			l.logger.Info("login detected", "session", target)
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := st.Driver.Cleanup(); err != nil {
			l.logger.Warn("cleanup failed", "session", target, "err", err)
		}
		l.registry.MarkUnavailable(target, "login skipped")
	}

	available := l.registry.Available()
	metrics.SessionsAvailable.Set(int64(len(available)))
	if len(available) == 0 {
		return errors.New("no AI sessions available: at least one must be logged in")
	}
	l.logger.Info("ready", "sessions", joinTargets(available))
	return nil
}

// awaitLoginOrSkip polls the driver until it reports a login, the operator
// skips it, or ctx ends.
func (l *Loop) awaitLoginOrSkip(ctx context.Context, d domain.SessionDriver) bool {
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var skip <-chan struct{}
	if l.prompter != nil {
		skip = l.prompter.Skip(pctx, d.Name())
	}
	l.logger.Info("waiting for login", "session", d.Name())

	ticker := time.NewTicker(l.loginPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-skip:
			return false
		case <-ticker.C:
			if d.IsLoggedIn(ctx) {
				return true
			}
		}
	}
}

// Shutdown stops intake and releases every session. In wait mode the
// exchange in flight may finish within the shutdown timeout; in cancel mode
// it is cancelled at once.
func (l *Loop) Shutdown(ctx context.Context) {
	l.queue.Close()
	l.stopOnce.Do(func() { close(l.stopping) })

	if l.shutdownMode == ShutdownCancel {
		l.cancelExchanges()
	}
	timer := time.NewTimer(l.shutdownTimeout)
	select {
	case <-l.queue.Idle():
	case <-timer.C:
		l.logger.Warn("shutdown timeout, cancelling in-flight exchange")
	case <-ctx.Done():
	}
	timer.Stop()
	l.cancelExchanges()

	var wg sync.WaitGroup
	for _, d := range l.registry.Drivers() {
		wg.Add(1)
		go func(d domain.SessionDriver) {
			defer wg.Done()
			if err := d.Cleanup(); err != nil {
				l.logger.Warn("cleanup failed", "session", d.Name(), "err", err)
			}
		}(d)
	}
	wg.Wait()
	l.logger.Info("shutdown complete")
}

// LinePrompter asks on out and reads "s" + Enter from in to skip a login.
type LinePrompter struct {
	in   io.Reader
	out  io.Writer
	once sync.Once
	line chan string
}

func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{in: in, out: out, line: make(chan string)}
}

func (p *LinePrompter) Skip(ctx context.Context, target domain.Target) <-chan struct{} {
	p.once.Do(func() {
		go func() {
			scanner := bufio.NewScanner(p.in)
			for scanner.Scan() {
				p.line <- scanner.Text()
			}
			close(p.line)
		}()
	})

	fmt.Fprintf(p.out, "[%s] Not logged in. Please log in via the browser window.\n", target)
	fmt.Fprintf(p.out, "[%s] Press 's' + Enter to skip this AI\n", target)

	skip := make(chan struct{})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case text, ok := <-p.line:
				if !ok {
					return
				}
				if IsSkip(text) {
					fmt.Fprintf(p.out, "[%s] Skipped - this AI will not be available\n", target)
					close(skip)
					return
				}
			}
		}
	}()
	return skip
}

// IsSkip reports whether an operator input line asks to skip a login.
func IsSkip(line string) bool {
	return strings.EqualFold(strings.TrimSpace(line), "s")
}
