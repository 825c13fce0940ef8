package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aibridge/internal/agent"
	"aibridge/internal/channel"
	"aibridge/internal/config"
	"aibridge/internal/domain"
	"aibridge/internal/logging"
	"aibridge/internal/metrics"
	"aibridge/internal/provider"
	"aibridge/internal/state"

	"github.com/spf13/cobra"
)

// inbox is the message source and reply path for one configured transport.
type inbox struct {
	store      domain.MessageStore
	transport  domain.ReplyTransport
	checkpoint domain.Checkpoint
	prompter   agent.LoginPrompter
	wake       <-chan struct{}
	closers    []io.Closer
}

func (in *inbox) Close() {
	for i := len(in.closers) - 1; i >= 0; i-- {
		in.closers[i].Close()
	}
}

// openInbox builds the store, transport and checkpoint for cfg.Inbox.Transport.
// Console input is read from stdin, which it also shares with login prompts.
func openInbox(ctx context.Context, cfg *config.Config, stdin io.Reader, stdout io.Writer, logger *slog.Logger) (*inbox, error) {
	in := &inbox{}

	switch cfg.Inbox.Transport {
	case "telegram":
		tg, err := channel.NewTelegramInbox(channel.TelegramConfig{
			Token:         cfg.Telegram.Token,
			ChatID:        cfg.Telegram.ChatID,
			AttachmentDir: cfg.Telegram.AttachmentDir,
			Logger:        logger.With("component", "telegram"),
		})
		if err != nil {
			return nil, err
		}
		in.store, in.transport = tg, tg
		in.checkpoint = state.NewFileCheckpoint(cfg.Inbox.CheckpointPath)

	case "console":
		console := channel.NewConsole(channel.ConsoleConfig{In: stdin, Out: stdout, Logger: logger})
		console.Start(ctx)
		in.store, in.transport, in.prompter = console, console, console
		in.checkpoint = &state.MemoryCheckpoint{}

	default:
		store, err := channel.NewIMessageStore(channel.IMessageStoreConfig{
			DBPath: cfg.IMessage.ChatDBPath,
			Handle: cfg.IMessage.TargetHandle,
			Logger: logger.With("component", "imessage"),
		})
		if err != nil {
			return nil, err
		}
		in.closers = append(in.closers, store)
		in.store = store
		in.transport = channel.NewIMessageSender(cfg.IMessage.TargetHandleFull, logger.With("component", "imessage"))
		in.checkpoint = state.NewFileCheckpoint(cfg.Inbox.CheckpointPath)

		if cfg.Inbox.WatchStore {
			w, err := channel.NewStoreWatcher(cfg.IMessage.ChatDBPath, logger)
			if err != nil {
				logger.Warn("store watcher unavailable, polling only", "err", err)
			} else {
				w.Start()
				in.closers = append(in.closers, w)
				in.wake = w.Changes()
			}
		}
	}

	if in.prompter == nil {
		in.prompter = agent.NewLinePrompter(stdin, os.Stderr)
	}
	return in, nil
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config (run 'aibridge setup' first?): %w", err)
	}
	if cfg.NeedsSetup() {
		return fmt.Errorf("inbox %q is not configured; run 'aibridge setup'", cfg.Inbox.Transport)
	}

	lg, logCloser, err := logging.New(logging.Options{
		Level:      cfg.General.LogLevel,
		File:       cfg.General.LogFile,
		MaxSizeMB:  cfg.General.LogMaxSizeMB,
		MaxBackups: cfg.General.LogMaxBackups,
		JSON:       cfg.General.LogJSON,
	})
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer logCloser.Close()
	logger = lg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, err := openInbox(ctx, cfg, os.Stdin, os.Stdout, logger)
	if err != nil {
		return err
	}
	defer in.Close()

	echo := channel.NewEchoFilter(cfg.Inbox.EchoWindow())
	transport := channel.NewTrackingTransport(
		channel.NewThrottledTransport(in.transport, cfg.Inbox.SendRatePerMinute, cfg.Inbox.SendBurst),
		echo,
	)

	factory := provider.NewFactory(cfg, logger)
	drivers, err := factory.Drivers()
	if err != nil {
		return err
	}
	registry := agent.NewRegistry(drivers, logger)

	loop := agent.NewLoop(agent.LoopConfig{
		Registry:        registry,
		Store:           in.store,
		Transport:       transport,
		Checkpoint:      in.checkpoint,
		Echo:            echo,
		Prompter:        in.prompter,
		Wake:            in.wake,
		KnownTargets:    factory.Names(),
		DefaultTarget:   domain.Target(cfg.General.DefaultTarget),
		Preamble:        cfg.General.Preamble,
		PollInterval:    cfg.Inbox.PollInterval(),
		ResponseTimeout: cfg.Response.Timeout(),
		LoginPoll:       cfg.Response.LoginPoll(),
		ShutdownMode:    cfg.General.ShutdownMode,
		ShutdownTimeout: time.Duration(cfg.General.ShutdownTimeoutSeconds) * time.Second,
		Logger:          logger,
	})

	shutdown := func() {
		// Intake has stopped; give the in-flight exchange its full timeout.
		sctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.General.ShutdownTimeoutSeconds+10)*time.Second)
		defer cancel()
		loop.Shutdown(sctx)
	}

	if err := loop.Startup(ctx); err != nil {
		shutdown()
		return err
	}

	if cfg.Metrics.Enabled {
		router := metrics.NewRouter(metrics.Default, func() any { return loop.Status() })
		if err := metrics.NewServer(cfg.Metrics.Listen, router, logger).Start(ctx); err != nil {
			logger.Warn("metrics server not started", "addr", cfg.Metrics.Listen, "err", err)
		}
	}
	go agent.NewHeartbeat(loop, 0, logger).Start(ctx)

	notice := fmt.Sprintf("aibridge running. Active AIs: %s", upperList(registry.Available()))
	if err := transport.Send(ctx, notice); err != nil {
		logger.Warn("startup notice failed", "err", err)
	}
	logger.Info("bridge started. Press Ctrl+C to stop.", "transport", cfg.Inbox.Transport, "version", version)

	runErr := loop.Run(ctx)
	logger.Info("shutting down bridge...")
	shutdown()
	return runErr
}

func upperList(targets []domain.Target) string {
	s := ""
	for i, t := range targets {
		if i > 0 {
			s += ", "
		}
		s += t.Upper()
	}
	return s
}
