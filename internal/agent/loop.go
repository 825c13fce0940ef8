package agent

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"aibridge/internal/domain"
	"aibridge/internal/metrics"
)

const (
	defaultPollInterval    = time.Second
	defaultResponseTimeout = 60 * time.Second
	defaultLoginPoll       = 2 * time.Second
	defaultShutdownTimeout = 90 * time.Second
)

const (
	ShutdownWait   = "wait"
	ShutdownCancel = "cancel"
)

// EchoDetector recognises text the bridge itself sent.
type EchoDetector interface {
	IsEcho(text string) bool
}

// LoginPrompter lets the operator skip a session that needs a login.
// The returned channel is closed if the operator chooses to skip target;
// prompting stops when ctx ends.
type LoginPrompter interface {
	Skip(ctx context.Context, target domain.Target) <-chan struct{}
}

// Loop is the orchestrator: it polls the message store, queues new messages
// and turns each one into a single exchange with an AI session.
type Loop struct {
	registry   *Registry
	targets    []domain.Target // every name a message may address
	store      domain.MessageStore
	transport  domain.ReplyTransport
	checkpoint domain.Checkpoint
	echo       EchoDetector
	prompter   LoginPrompter
	wake       <-chan struct{}
	queue      *Queue
	logger     *slog.Logger

	defaultTarget   domain.Target
	preamble        string
	pollInterval    time.Duration
	responseTimeout time.Duration
	loginPoll       time.Duration
	shutdownMode    string
	shutdownTimeout time.Duration

	// Exchanges run on their own context so a shutdown in wait mode can
	// let the one in flight finish.
	exchangeCtx     context.Context
	cancelExchanges context.CancelFunc

	// stopping is closed as soon as Shutdown starts, in either mode.
	stopping chan struct{}
	stopOnce sync.Once
}

// LoopConfig holds all dependencies and tuning parameters for the loop.
type LoopConfig struct {
	Registry   *Registry
	Store      domain.MessageStore
	Transport  domain.ReplyTransport
	Checkpoint domain.Checkpoint
	Echo       EchoDetector    // optional
	Prompter   LoginPrompter   // optional: without it login waits never end early
	Wake       <-chan struct{} // optional: signals the store changed

	// KnownTargets names sessions that exist but are not registered, such
	// as disabled ones. Addressing them gets a "not configured" reply
	// instead of falling through to the default target.
	KnownTargets []domain.Target

	DefaultTarget   domain.Target
	Preamble        string
	PollInterval    time.Duration
	ResponseTimeout time.Duration
	LoginPoll       time.Duration
	ShutdownMode    string
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = defaultResponseTimeout
	}
	if cfg.LoginPoll <= 0 {
		cfg.LoginPoll = defaultLoginPoll
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.ShutdownMode == "" {
		cfg.ShutdownMode = ShutdownWait
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DefaultTarget == "" {
		if targets := cfg.Registry.Targets(); len(targets) > 0 {
			cfg.DefaultTarget = targets[0]
		}
	}

	exCtx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		registry:        cfg.Registry,
		targets:         mergeTargets(cfg.Registry.Targets(), cfg.KnownTargets),
		store:           cfg.Store,
		transport:       cfg.Transport,
		checkpoint:      cfg.Checkpoint,
		echo:            cfg.Echo,
		prompter:        cfg.Prompter,
		wake:            cfg.Wake,
		logger:          cfg.Logger,
		defaultTarget:   cfg.DefaultTarget,
		preamble:        cfg.Preamble,
		pollInterval:    cfg.PollInterval,
		responseTimeout: cfg.ResponseTimeout,
		loginPoll:       cfg.LoginPoll,
		shutdownMode:    cfg.ShutdownMode,
		shutdownTimeout: cfg.ShutdownTimeout,
		exchangeCtx:     exCtx,
		cancelExchanges: cancel,
		stopping:        make(chan struct{}),
	}
	l.queue = NewQueue(l.process, cfg.Logger)
	return l
}

// Run polls the message store until ctx is cancelled. Poll errors are logged
// and retried on the next tick.
func (l *Loop) Run(ctx context.Context) error {
	last, err := l.checkpoint.Load()
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	if last == 0 {
		// First run: skip history and start from the newest message.
		var ok bool
		if last, ok = l.seedCheckpoint(ctx, ticker.C); !ok {
			l.logger.Info("poll loop stopping")
			return nil
		}
		if err := l.checkpoint.Save(last); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
	}
	l.logger.Info("listening for new messages", "since", last, "interval", l.pollInterval)

	for {
		last = l.poll(ctx, last)

		select {
		case <-ctx.Done():
			l.logger.Info("poll loop stopping")
			return nil
		case <-ticker.C:
		case <-l.wake:
		}
	}
}

// seedCheckpoint reads the store's high-water mark, retrying on every tick
// until it succeeds. It reports false if ctx ends first.
func (l *Loop) seedCheckpoint(ctx context.Context, tick <-chan time.Time) (int64, bool) {
	for {
		hw, err := l.store.HighWaterMark(ctx)
		if err == nil {
			return hw, true
		}
		if ctx.Err() == nil {
			metrics.PollErrors.Inc()
			l.logger.Warn("read high-water mark failed, retrying", "err", err)
		}
		select {
		case <-ctx.Done():
			return 0, false
		case <-tick:
		}
	}
}

// poll queues messages newer than last and returns the new checkpoint.
func (l *Loop) poll(ctx context.Context, last int64) int64 {
	msgs, err := l.store.ListNewMessages(ctx, last)
	if err != nil {
		if ctx.Err() == nil {
			metrics.PollErrors.Inc()
			l.logger.Warn("poll failed", "err", err)
		}
		return last
	}
	if len(msgs) == 0 {
		return last
	}

	// Persist before processing: a crash mid-exchange must not replay it.
	last = msgs[len(msgs)-1].ID
	if err := l.checkpoint.Save(last); err != nil {
		l.logger.Error("save checkpoint failed", "id", last, "err", err)
	}

	accepted := make([]domain.InboundMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.FromMe {
			continue
		}
		if l.echo != nil && l.echo.IsEcho(m.Text) {
			metrics.EchoSuppressed.Inc()
			l.logger.Debug("dropping self-echo", "message_id", m.ID)
			continue
		}
		accepted = append(accepted, m)
	}
	metrics.MessagesTotal.Add(int64(len(accepted)))
	l.queue.Push(accepted...)
	return last
}

// process turns one message into at most one exchange and one reply.
// Failures are reported to the user and never retried.
func (l *Loop) process(msg domain.InboundMessage) {
	ctx := l.exchangeCtx
	logger := l.logger.With("trace_id", uuid.NewString(), "message_id", msg.ID)
	logger.Info("incoming message", "preview", preview(msg.Text, 40), "attachments", len(msg.Attachments))

	if !msg.HasAttachments() && l.handleCommand(ctx, logger, ParseCommand(msg.Text)) {
		return
	}

	d := ParseDirective(msg.Text, l.targets, l.defaultTarget)
	body := d.Body
	if body == "" {
		if !msg.HasAttachments() {
			logger.Info("ignoring empty message")
			return
		}
		body = imagePrompt
	}

	st, err := l.registry.Get(d.Target)
	if err != nil {
		logger.Warn("target unavailable", "session", d.Target)
		l.reply(ctx, logger, fmt.Sprintf("%s is not configured. Available: %s", d.Target.Upper(), joinTargets(l.registry.Available())))
		return
	}
	logger = logger.With("session", d.Target)

	if !st.Driver.IsLoggedIn(ctx) {
		logger.Warn("session expired, waiting for re-login")
		l.reply(ctx, logger, fmt.Sprintf("[%s] Session expired. Please log in again.", d.Target.Upper()))
		if !l.waitForLogin(ctx, st.Driver) {
			logger.Warn("login wait abandoned")
			return
		}
		logger.Info("login detected")
	}

	if d.NewConversation {
		logger.Info("starting new conversation")
		if err := st.Driver.StartNewConversation(ctx); err != nil {
			logger.Warn("new conversation failed", "err", err)
		}
		l.registry.RecordConversationReset(d.Target)
	}

	text := applyPreamble(l.preamble, body, st, d.NewConversation, l.registry.LastUsed())
	logger.Info("routing", "tier", d.Tier, "new_conversation", d.NewConversation, "with_preamble", len(text) != len(body))

	start := time.Now()
	metrics.ExchangesTotal.With(string(d.Target)).Inc()
	resp, err := l.exchange(ctx, st, text, msg.Attachments, d.Tier)
	if err != nil {
		metrics.ExchangeFailures.With(string(domain.KindOf(err))).Inc()
		logger.Error("exchange failed", "kind", domain.KindOf(err), "err", err)
		l.reply(ctx, logger, apology(err))
		return
	}
	metrics.ExchangeLatency.With(string(d.Target)).Observe(time.Since(start).Seconds())

	l.registry.MarkPreambleSent(d.Target)
	l.registry.MarkUsed(d.Target, time.Now())
	logger.Info("response received", "len", len(resp), "duration_ms", time.Since(start).Milliseconds())
	l.reply(ctx, logger, resp)
}

// exchange switches tier if needed, attaches files, submits text and waits
// for the reply to stabilize. Errors always carry a kind.
func (l *Loop) exchange(ctx context.Context, st *domain.SessionState, text string, attachments []string, tier domain.Tier) (string, error) {
	d := st.Driver
	if tier != st.Tier {
		if d.SelectTier(ctx, tier) {
			l.registry.RecordTierChange(st.Target, tier)
		} else {
			l.logger.Warn("tier switch not confirmed", "session", st.Target, "tier", tier)
		}
	}
	if len(attachments) > 0 {
		d.UploadAttachments(ctx, attachments)
	}
	if err := d.SubmitMessage(ctx, text); err != nil {
		return "", withKind(err)
	}
	resp, err := d.AwaitCompletion(ctx, l.responseTimeout)
	if err != nil {
		return "", withKind(err)
	}
	return resp, nil
}

func withKind(err error) error {
	if domain.KindOf(err) != "" {
		return err
	}
	return domain.NewError(domain.KindResponseFailed, "exchange failed", err)
}

func apology(err error) string {
	if kind := domain.KindOf(err); kind != "" {
		return "Sorry, couldn't complete request. Error: " + string(kind)
	}
	return "Sorry, try again."
}

func (l *Loop) reply(ctx context.Context, logger *slog.Logger, text string) {
	if err := l.transport.Send(ctx, text); err != nil {
		metrics.RepliesFailed.Inc()
		logger.Error("reply failed", "err", err)
	}
}

// waitForLogin polls the driver until it reports a login, ctx ends or
// shutdown begins. There is no exchange to protect yet, so even a shutdown
// in wait mode ends it at once.
func (l *Loop) waitForLogin(ctx context.Context, d domain.SessionDriver) bool {
	ticker := time.NewTicker(l.loginPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-l.stopping:
			return false
		case <-ticker.C:
			if d.IsLoggedIn(ctx) {
				return true
			}
		}
	}
}

// Status reports the session registry for status endpoints.
func (l *Loop) Status() any {
	return l.registry.Snapshot()
}

// mergeTargets appends the names in extra that are not already in base.
func mergeTargets(base, extra []domain.Target) []domain.Target {
	out := append([]domain.Target(nil), base...)
	for _, t := range extra {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
