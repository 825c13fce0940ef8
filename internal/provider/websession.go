package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"aibridge/internal/browser"
	"aibridge/internal/domain"
)

// Selectors contains the CSS selectors for one chat website.
// Empty optional selectors disable the step that uses them.
type Selectors struct {
	Input         string // composer; required
	LoggedIn      string // present only when logged in; defaults to Input
	Send          string
	Response      string // assistant turns; required
	ResponseInner string // text container inside a turn
	Busy          string // visible while generating
	NewChat       string
	Attach        string
	FileInput     string
	TierMenu      string
	TierOption    string
	Dialog        string
}

// Profile describes how one vendor's web UI is driven.
type Profile struct {
	Name      domain.Target
	URL       string
	Selectors Selectors

	// TierFragments maps a tier to a text fragment of the menu option to pick.
	// A tier with no fragment needs no UI change.
	TierFragments map[domain.Tier]string
	// TierToggle names an on/off control (matched by text) used instead of a
	// menu: on for thinking and max, off for fast.
	TierToggle string

	EscapeBeforeTyping  bool
	NewChatByNavigation bool
	Settle              time.Duration // pause after submit before polling
}

const defaultSettle = time.Second

var popupButtons = []string{"got it", "no thanks", "skip", "close", "continue", "ok"}

// WebSessionConfig configures a browser-backed session driver.
type WebSessionConfig struct {
	Profile    Profile
	URL        string            // overrides Profile.URL
	Selectors  map[string]string // overrides Profile.Selectors by key
	ProfileDir string
	ChromePath string
	Headless   bool

	InitTimeout       time.Duration
	InputTimeout      time.Duration
	StabilizeInterval time.Duration
	QuietWindow       time.Duration

	// Page replaces the chromedp bridge; used by tests.
	Page   browser.Page
	Logger *slog.Logger
}

type opener interface {
	Open(ctx context.Context) error
}

// WebSession implements domain.SessionDriver on top of a browser page.
type WebSession struct {
	profile Profile
	page    browser.Page
	logger  *slog.Logger

	initTimeout  time.Duration
	inputTimeout time.Duration
	stabilizer   browser.Stabilizer
	sleep        func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	initialized bool
	baseline    int
	toggleOn    bool
}

func NewWebSession(cfg WebSessionConfig) *WebSession {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := cfg.Profile
	if cfg.URL != "" {
		p.URL = cfg.URL
	}
	p.Selectors = applySelectorOverrides(p.Selectors, cfg.Selectors)
	if p.Selectors.LoggedIn == "" {
		p.Selectors.LoggedIn = p.Selectors.Input
	}
	logger = logger.With("session", string(p.Name))

	page := cfg.Page
	if page == nil {
		page = browser.NewBridge(browser.BridgeConfig{
			ProfileDir: cfg.ProfileDir,
			ChromePath: cfg.ChromePath,
			Headless:   cfg.Headless,
			Logger:     logger,
		})
	}

	s := &WebSession{
		profile:      p,
		page:         page,
		logger:       logger,
		initTimeout:  orDefault(cfg.InitTimeout, 60*time.Second),
		inputTimeout: orDefault(cfg.InputTimeout, 10*time.Second),
		sleep:        browser.Sleep,
	}
	s.stabilizer = browser.Stabilizer{
		Interval: cfg.StabilizeInterval,
		Quiet:    cfg.QuietWindow,
	}
	if p.Selectors.Busy != "" {
		s.stabilizer.Busy = func(ctx context.Context) bool {
			return s.page.Exists(ctx, s.profile.Selectors.Busy)
		}
	}
	return s
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func applySelectorOverrides(sel Selectors, overrides map[string]string) Selectors {
	for key, v := range overrides {
		if v == "" {
			continue
		}
		switch key {
		case "input":
			sel.Input = v
		case "loggedIn":
			sel.LoggedIn = v
		case "send", "submit":
			sel.Send = v
		case "response":
			sel.Response = v
		case "responseInner":
			sel.ResponseInner = v
		case "busy", "loading":
			sel.Busy = v
		case "newChat":
			sel.NewChat = v
		case "attach":
			sel.Attach = v
		case "fileInput":
			sel.FileInput = v
		case "tierMenu":
			sel.TierMenu = v
		case "tierOption":
			sel.TierOption = v
		case "dialog":
			sel.Dialog = v
		}
	}
	return sel
}

func (s *WebSession) Name() domain.Target { return s.profile.Name }

// URL returns the address the session opens.
func (s *WebSession) URL() string { return s.profile.URL }

func (s *WebSession) isInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *WebSession) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.initTimeout)
	defer cancel()

	s.logger.Info("launching browser", "url", s.profile.URL)
	if o, ok := s.page.(opener); ok {
		if err := o.Open(ctx); err != nil {
			return domain.NewError(domain.KindInitialization, "launch browser for "+string(s.profile.Name), err)
		}
	}
	if err := s.page.Navigate(ctx, s.profile.URL); err != nil {
		s.page.Close()
		return domain.NewError(domain.KindInitialization, "open "+s.profile.URL, err)
	}
	if err := s.sleep(ctx, 2*time.Second); err != nil {
		s.page.Close()
		return domain.NewError(domain.KindInitialization, "open "+s.profile.URL, err)
	}
	s.dismissPopups(ctx)

	s.initialized = true
	s.logger.Info("browser initialized")
	return nil
}

func (s *WebSession) IsLoggedIn(ctx context.Context) bool {
	if !s.isInitialized() {
		return false
	}
	return s.page.Exists(ctx, s.profile.Selectors.LoggedIn)
}

// dismissPopups closes a blocking dialog if one is showing. Best-effort.
func (s *WebSession) dismissPopups(ctx context.Context) {
	dialog := s.profile.Selectors.Dialog
	if dialog == "" || !s.page.Exists(ctx, dialog) {
		s.page.PressKey(ctx, browser.KeyEscape)
		return
	}
	s.logger.Debug("popup detected, dismissing")
	for _, label := range popupButtons {
		clicked, err := s.page.ClickByText(ctx, descendant(dialog, "button"), label)
		if err == nil && clicked {
			s.sleep(ctx, 300*time.Millisecond)
			return
		}
	}
	s.page.PressKey(ctx, browser.KeyEscape)
}

// descendant scopes child under every alternative of a comma-separated selector.
func descendant(parent, child string) string {
	parts := strings.Split(parent, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p) + " " + child
	}
	return strings.Join(parts, ", ")
}

func (s *WebSession) SelectTier(ctx context.Context, tier domain.Tier) bool {
	if !s.isInitialized() {
		return false
	}
	sel := s.profile.Selectors

	if s.profile.TierToggle != "" {
		want := tier != domain.TierFast
		s.mu.Lock()
		on := s.toggleOn
		s.mu.Unlock()
		if want == on {
			return true
		}
		clicked, err := s.page.ClickByText(ctx, sel.TierOption, s.profile.TierToggle)
		if err != nil || !clicked {
			s.logger.Warn("tier toggle not found", "tier", tier, "err", err)
			return false
		}
		s.mu.Lock()
		s.toggleOn = want
		s.mu.Unlock()
		s.sleep(ctx, 500*time.Millisecond)
		s.logger.Info("tier selected", "tier", tier)
		return true
	}

	fragment := s.profile.TierFragments[tier]
	if fragment == "" {
		return true
	}
	if sel.TierMenu != "" {
		if !s.page.Exists(ctx, sel.TierMenu) {
			s.logger.Warn("model selector not found, keeping current tier", "tier", tier)
			return false
		}
		if err := s.page.Click(ctx, sel.TierMenu); err != nil {
			s.logger.Warn("open model selector failed", "err", err)
			return false
		}
		s.sleep(ctx, 500*time.Millisecond)
	}
	clicked, err := s.page.ClickByText(ctx, sel.TierOption, fragment)
	if err != nil || !clicked {
		s.logger.Warn("model option not found", "tier", tier, "fragment", fragment, "err", err)
		if sel.TierMenu != "" {
			s.page.PressKey(ctx, browser.KeyEscape)
		}
		return false
	}
	s.sleep(ctx, 500*time.Millisecond)
	s.logger.Info("tier selected", "tier", tier)
	return true
}

func (s *WebSession) UploadAttachments(ctx context.Context, paths []string) {
	if len(paths) == 0 || !s.isInitialized() {
		return
	}
	sel := s.profile.Selectors
	if sel.FileInput == "" {
		s.logger.Warn("attachments not supported, skipping", "count", len(paths))
		return
	}

	if sel.Attach != "" && !s.page.Exists(ctx, sel.FileInput) && s.page.Exists(ctx, sel.Attach) {
		if err := s.page.Click(ctx, sel.Attach); err != nil {
			s.logger.Debug("attach button click failed", "err", err)
		}
		s.sleep(ctx, 300*time.Millisecond)
	}
	if !s.page.Exists(ctx, sel.FileInput) {
		s.logger.Warn("file input not found, skipping attachments", "count", len(paths))
		return
	}
	if err := s.page.SetFiles(ctx, sel.FileInput, paths); err != nil {
		s.logger.Warn("attachment upload failed", "err", err)
		return
	}
	s.sleep(ctx, 2*time.Second)
	s.logger.Info("attachments uploaded", "count", len(paths))
}

func (s *WebSession) SubmitMessage(ctx context.Context, text string) error {
	if !s.isInitialized() {
		return domain.NewError(domain.KindNotInitialized, "browser not initialized", nil)
	}
	sel := s.profile.Selectors

	if s.profile.EscapeBeforeTyping {
		s.page.PressKey(ctx, browser.KeyEscape)
		s.sleep(ctx, 300*time.Millisecond)
	}

	if err := s.page.WaitVisible(ctx, sel.Input, s.inputTimeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.NewError(domain.KindInputNotFound, "could not find input field", err)
	}

	baseline := s.page.Count(ctx, sel.Response)
	s.mu.Lock()
	s.baseline = baseline
	s.mu.Unlock()

	if err := s.page.InsertText(ctx, sel.Input, text); err != nil {
		return fmt.Errorf("type message: %w", err)
	}
	if err := s.sleep(ctx, 300*time.Millisecond); err != nil {
		return err
	}

	if sel.Send != "" && s.page.Exists(ctx, sel.Send) && s.page.Enabled(ctx, sel.Send) {
		err := s.page.Click(ctx, sel.Send)
		if err == nil {
			s.logger.Debug("message submitted", "len", len(text))
			return nil
		}
		s.logger.Debug("send click failed, pressing enter", "err", err)
	}
	if err := s.page.PressKey(ctx, browser.KeyEnter); err != nil {
		return fmt.Errorf("submit message: %w", err)
	}
	s.logger.Debug("message submitted", "len", len(text))
	return nil
}

func (s *WebSession) AwaitCompletion(ctx context.Context, timeout time.Duration) (string, error) {
	if !s.isInitialized() {
		return "", domain.NewError(domain.KindNotInitialized, "browser not initialized", nil)
	}
	sel := s.profile.Selectors

	if err := s.sleep(ctx, s.profile.Settle); err != nil {
		return "", err
	}

	s.mu.Lock()
	baseline := s.baseline
	s.mu.Unlock()

	probe := func(ctx context.Context) string {
		if s.page.Count(ctx, sel.Response) <= baseline {
			return ""
		}
		return s.page.LastText(ctx, sel.Response, sel.ResponseInner)
	}

	text, err := s.stabilizer.Wait(ctx, timeout, probe)
	if err != nil {
		return "", err
	}
	s.logger.Info("received response", "len", len(text))
	return text, nil
}

func (s *WebSession) StartNewConversation(ctx context.Context) error {
	if !s.isInitialized() {
		return domain.NewError(domain.KindNotInitialized, "browser not initialized", nil)
	}
	sel := s.profile.Selectors

	defer func() {
		s.mu.Lock()
		s.baseline = 0
		s.toggleOn = false
		s.mu.Unlock()
	}()

	if !s.profile.NewChatByNavigation && sel.NewChat != "" && s.page.Exists(ctx, sel.NewChat) {
		if err := s.page.Click(ctx, sel.NewChat); err == nil {
			return s.sleep(ctx, 2*time.Second)
		}
	}
	if err := s.page.Navigate(ctx, s.profile.URL); err != nil {
		return fmt.Errorf("open new conversation: %w", err)
	}
	return s.sleep(ctx, 2*time.Second)
}

func (s *WebSession) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = false
	if err := s.page.Close(); err != nil {
		return err
	}
	s.logger.Info("browser closed")
	return nil
}
