package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"aibridge/internal/config"
	"aibridge/internal/provider"
	"aibridge/internal/state"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "aibridge",
		Short: "aibridge: relay text messages to browser AI chat sessions",
		Long: `aibridge watches one conversation (iMessage, Telegram or the console),
forwards each message to ChatGPT, Gemini or Grok running in a browser
and sends the answer back.`,
		RunE: runBridge,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.aibridge/config.json)")

	root.AddCommand(runCmd())
	root.AddCommand(loginCmd())
	root.AddCommand(setupCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())
	root.AddCommand(daemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bridge (default)",
		Long:  "Opens every enabled AI session, waits for logins and relays messages until Ctrl+C.",
		RunE:  runBridge,
	}
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Open every AI session in a visible browser and wait for you to log in",
		Long:  "Cookies are kept in each session's profile directory, so later runs can stay headless.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			factory := provider.NewFactory(cfg, logger)
			factory.ForceHeadless(false)
			drivers, err := factory.Drivers()
			if err != nil {
				return err
			}
			defer func() {
				for _, d := range drivers {
					if err := d.Cleanup(); err != nil {
						logger.Warn("cleanup failed", "session", d.Name(), "err", err)
					}
				}
			}()

			for _, d := range drivers {
				if err := d.Initialize(ctx); err != nil {
					return fmt.Errorf("open %s: %w", d.Name(), err)
				}
			}

			fmt.Println("Log in to each AI in its browser window. Press Ctrl+C to abort.")
			pending := make(map[string]bool, len(drivers))
			for _, d := range drivers {
				pending[string(d.Name())] = true
			}
			ticker := time.NewTicker(cfg.Response.LoginPoll())
			defer ticker.Stop()
			for len(pending) > 0 {
				for _, d := range drivers {
					if pending[string(d.Name())] && d.IsLoggedIn(ctx) {
						delete(pending, string(d.Name()))
						fmt.Printf("[%s] logged in\n", d.Name().Upper())
					}
				}
				if len(pending) == 0 {
					break
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
			}
			fmt.Println("All sessions logged in. Run 'aibridge run' to start the bridge.")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				fmt.Printf("Config:     %s (not loaded: %v)\n", cfgPath, err)
				return nil
			}
			fmt.Printf("Config:     %s\n", cfgPath)
			fmt.Printf("Transport:  %s\n", cfg.Inbox.Transport)
			if cfg.Inbox.Transport == "imessage" {
				fmt.Printf("Handle:     %s\n", cfg.IMessage.TargetHandleFull)
			}
			fmt.Printf("Sessions:   %s (default %s)\n", strings.Join(cfg.EnabledTargets(), ", "), cfg.General.DefaultTarget)

			last, err := state.NewFileCheckpoint(cfg.Inbox.CheckpointPath).Load()
			if err != nil {
				fmt.Printf("Checkpoint: unreadable: %v\n", err)
			} else {
				fmt.Printf("Checkpoint: %d\n", last)
			}
			if cfg.NeedsSetup() {
				fmt.Println("\nSetup incomplete. Run 'aibridge setup'.")
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. general.defaultTarget)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. general.defaultTarget chatgpt)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	var flat bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = config.Sanitize(cfg)
			if flat {
				for _, line := range config.ListPaths(cfg) {
					fmt.Println(line)
				}
				return nil
			}
			data, _ := json.MarshalIndent(cfg, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}
	listCmd.Flags().BoolVar(&flat, "flat", false, "print one 'path = value' line per setting")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
