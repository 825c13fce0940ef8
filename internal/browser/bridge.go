package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// Key names accepted by PressKey.
const (
	KeyEnter  = kb.Enter
	KeyEscape = kb.Escape
)

const (
	defaultOpTimeout = 15 * time.Second
	userAgent        = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

var errNotOpen = errors.New("browser not open")

// Bridge owns one long-lived Chrome instance bound to a dedicated profile
// directory. Cookies persist in the profile between runs, so a session logs in
// once and stays logged in.
type Bridge struct {
	profileDir string
	chromePath string
	headless   bool
	logger     *slog.Logger

	mu          sync.Mutex
	taskCtx     context.Context
	cancelTask  context.CancelFunc
	cancelAlloc context.CancelFunc
}

// BridgeConfig holds configuration for the browser bridge.
type BridgeConfig struct {
	ProfileDir string // Chrome user data directory (persists cookies/sessions)
	ChromePath string // optional; chromedp searches the usual locations otherwise
	Headless   bool
	Logger     *slog.Logger
}

func NewBridge(cfg BridgeConfig) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		profileDir: cfg.ProfileDir,
		chromePath: cfg.ChromePath,
		headless:   cfg.Headless,
		logger:     logger,
	}
}

// Open launches Chrome and waits until the first tab is usable or ctx ends.
// Calling Open on an open bridge is a no-op.
func (b *Bridge) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.taskCtx != nil {
		return nil
	}

	if b.profileDir != "" {
		if err := os.MkdirAll(b.profileDir, 0o755); err != nil {
			return fmt.Errorf("create profile dir %s: %w", b.profileDir, err)
		}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.UserAgent(userAgent),
		chromedp.WindowSize(1280, 900),
	)
	if b.profileDir != "" {
		opts = append(opts, chromedp.UserDataDir(b.profileDir))
	}
	if b.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(b.chromePath))
	}
	if b.headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	// The browser outlives the caller's ctx; only Close tears it down.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		b.logger.Debug(fmt.Sprintf(format, args...))
	}))

	started := make(chan error, 1)
	go func() { started <- chromedp.Run(taskCtx) }()

	select {
	case err := <-started:
		if err != nil {
			taskCancel()
			allocCancel()
			return fmt.Errorf("launch chrome: %w", err)
		}
	case <-ctx.Done():
		taskCancel()
		allocCancel()
		return ctx.Err()
	}

	b.taskCtx = taskCtx
	b.cancelTask = taskCancel
	b.cancelAlloc = allocCancel
	b.logger.Debug("browser opened", "profile", b.profileDir, "headless", b.headless)
	return nil
}

// Close shuts the browser down. It is safe to call more than once.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.taskCtx == nil {
		return nil
	}
	b.cancelTask()
	b.cancelAlloc()
	b.taskCtx = nil
	b.cancelTask = nil
	b.cancelAlloc = nil
	b.logger.Debug("browser closed", "profile", b.profileDir)
	return nil
}

// run executes actions on the open tab, bounded by timeout and by ctx.
func (b *Bridge) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	b.mu.Lock()
	taskCtx := b.taskCtx
	b.mu.Unlock()
	if taskCtx == nil {
		return errNotOpen
	}

	opCtx, cancel := context.WithTimeout(taskCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(opCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (b *Bridge) Navigate(ctx context.Context, url string) error {
	return b.run(ctx, 60*time.Second,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (b *Bridge) Exists(ctx context.Context, sel string) bool {
	var ok bool
	if err := b.run(ctx, defaultOpTimeout, chromedp.Evaluate(existsScript(sel), &ok)); err != nil {
		return false
	}
	return ok
}

func (b *Bridge) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	return b.run(ctx, timeout, chromedp.WaitVisible(sel, chromedp.ByQuery))
}

func (b *Bridge) Click(ctx context.Context, sel string) error {
	return b.run(ctx, defaultOpTimeout, chromedp.Click(sel, chromedp.ByQuery))
}

func (b *Bridge) Enabled(ctx context.Context, sel string) bool {
	var ok bool
	if err := b.run(ctx, defaultOpTimeout, chromedp.Evaluate(enabledScript(sel), &ok)); err != nil {
		return false
	}
	return ok
}

func (b *Bridge) InsertText(ctx context.Context, sel, text string) error {
	return b.run(ctx, defaultOpTimeout,
		chromedp.Focus(sel, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.InsertText(text).Do(ctx)
		}),
	)
}

func (b *Bridge) PressKey(ctx context.Context, key string) error {
	return b.run(ctx, defaultOpTimeout, chromedp.KeyEvent(key))
}

func (b *Bridge) Count(ctx context.Context, sel string) int {
	var n int
	if err := b.run(ctx, defaultOpTimeout, chromedp.Evaluate(countScript(sel), &n)); err != nil {
		return 0
	}
	return n
}

func (b *Bridge) LastText(ctx context.Context, sel, inner string) string {
	var text string
	if err := b.run(ctx, defaultOpTimeout, chromedp.Evaluate(lastTextScript(sel, inner), &text)); err != nil {
		b.logger.Debug("read text failed", "selector", sel, "err", err)
		return ""
	}
	return text
}

func (b *Bridge) ClickByText(ctx context.Context, sel, fragment string) (bool, error) {
	var clicked bool
	err := b.run(ctx, defaultOpTimeout, chromedp.Evaluate(clickByTextScript(sel, fragment), &clicked))
	return clicked, err
}

func (b *Bridge) SetFiles(ctx context.Context, sel string, paths []string) error {
	return b.run(ctx, defaultOpTimeout, chromedp.SetUploadFiles(sel, paths, chromedp.ByQuery))
}
