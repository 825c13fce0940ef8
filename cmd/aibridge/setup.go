package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"aibridge/internal/config"

	"github.com/spf13/cobra"
)

var knownTransports = []struct {
	ID   string
	Desc string
}{
	{"imessage", "Messages.app on this Mac"},
	{"telegram", "Telegram bot"},
	{"console", "This terminal (for testing)"},
}

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive first-run setup: transport → contact → save config",
		Long:  "Asks which transport to watch and who you are on it, then writes the config to the path used by --config or the default.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				cfg = config.Defaults()
			}
			if err := runSetup(cfg, os.Stdin, os.Stdout); err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("config validation: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			fmt.Printf("\nConfig saved to %s\n", cfgPath)
			fmt.Println("Next: run 'aibridge login' once, then 'aibridge run'.")
			return nil
		},
	}
}

// runSetup fills in the inbox settings of cfg from answers read on in.
func runSetup(cfg *config.Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	prompt := func(def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, " [%s]: ", def)
		} else {
			fmt.Fprint(out, ": ")
		}
		line, err := reader.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" && def != "" {
			return def, nil
		}
		return s, nil
	}

	fmt.Fprintln(out, "\n--- Step 1: Transport ---")
	defNum := "1"
	for i, t := range knownTransports {
		fmt.Fprintf(out, "  %d) %s: %s\n", i+1, t.ID, t.Desc)
		if t.ID == cfg.Inbox.Transport {
			defNum = strconv.Itoa(i + 1)
		}
	}
	fmt.Fprintf(out, "Choose transport (1-%d)", len(knownTransports))
	choice, err := prompt(defNum)
	if err != nil {
		return err
	}
	idx, err := strconv.Atoi(choice)
	if err != nil || idx < 1 || idx > len(knownTransports) {
		idx = 1
	}
	cfg.Inbox.Transport = knownTransports[idx-1].ID

	fmt.Fprintln(out, "\n--- Step 2: Contact ---")
	switch cfg.Inbox.Transport {
	case "imessage":
		fmt.Fprint(out, "Your phone number or Apple ID email (messages from it are relayed)")
		raw, err := prompt(cfg.IMessage.TargetHandleFull)
		if err != nil {
			return err
		}
		handle, full := config.NormalizeHandle(raw)
		if handle == "" {
			return fmt.Errorf("no phone number or email entered")
		}
		cfg.IMessage.TargetHandle = handle
		cfg.IMessage.TargetHandleFull = full
		fmt.Fprintf(out, "  Watching: %s\n", full)

	case "telegram":
		fmt.Fprint(out, "Telegram bot token (from @BotFather, or ${TELEGRAM_BOT_TOKEN})")
		tok, err := prompt(cfg.Telegram.Token)
		if err != nil {
			return err
		}
		cfg.Telegram.Token = tok
		def := ""
		if cfg.Telegram.ChatID != 0 {
			def = strconv.FormatInt(cfg.Telegram.ChatID, 10)
		}
		fmt.Fprint(out, "Your Telegram chat id")
		raw, err := prompt(def)
		if err != nil {
			return err
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid chat id %q", raw)
		}
		cfg.Telegram.ChatID = id

	case "console":
		fmt.Fprintln(out, "  Nothing to configure.")
	}

	fmt.Fprintln(out, "\n--- Step 3: Default AI ---")
	targets := cfg.EnabledTargets()
	fmt.Fprintf(out, "Messages without a prefix go to (%s)", strings.Join(targets, ", "))
	def, err := prompt(cfg.General.DefaultTarget)
	if err != nil {
		return err
	}
	cfg.General.DefaultTarget = strings.ToLower(def)
	return nil
}
