package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"aibridge/internal/config"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your aibridge installation",
		Long: `Verifies that the configuration, the Messages database, browser profiles
and the metrics port are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("aibridge doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'aibridge setup' to create a configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return err
			}
			printPass("Config validation", "valid")
			passed++

			if cfg.NeedsSetup() {
				printFail("Inbox", fmt.Sprintf("%s not configured, run 'aibridge setup'", cfg.Inbox.Transport))
				failed++
			} else {
				printPass("Inbox", cfg.Inbox.Transport)
				passed++
			}

			// 3. Messages database readable
			if cfg.Inbox.Transport == "imessage" {
				if err := checkChatDB(cfg.IMessage.ChatDBPath); err != nil {
					printFail("Messages database", err.Error())
					failed++
				} else {
					printPass("Messages database", cfg.IMessage.ChatDBPath)
					passed++
				}
				if _, err := exec.LookPath("osascript"); err != nil {
					printFail("osascript", "not found; replies cannot be sent")
					failed++
				} else {
					printPass("osascript", "available")
					passed++
				}
			}

			// 4. Browser profiles
			for _, name := range cfg.EnabledTargets() {
				sc := cfg.Sessions[name]
				label := "Session: " + name
				if sc.ChromePath != "" {
					if _, err := os.Stat(sc.ChromePath); err != nil {
						printFail(label, fmt.Sprintf("chrome not found: %s", sc.ChromePath))
						failed++
						continue
					}
				}
				if sc.ProfileDir == "" {
					printWarn(label, "no profile directory; logins will not persist")
					warned++
					continue
				}
				if _, err := os.Stat(sc.ProfileDir); err != nil {
					printWarn(label, fmt.Sprintf("profile %s missing, run 'aibridge login'", sc.ProfileDir))
					warned++
					continue
				}
				printPass(label, sc.ProfileDir)
				passed++
			}

			// 5. Checkpoint directory writable
			if err := checkWritableDir(cfg.Inbox.CheckpointPath); err != nil {
				printFail("Checkpoint", err.Error())
				failed++
			} else {
				printPass("Checkpoint", cfg.Inbox.CheckpointPath)
				passed++
			}

			// 6. Metrics port
			if cfg.Metrics.Enabled {
				if err := checkPort(cfg.Metrics.Listen); err != nil {
					printWarn("Metrics port", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Listen, err))
					warned++
				} else {
					printPass("Metrics port", cfg.Metrics.Listen+" available")
					passed++
				}
			}

			// 7. Log file writable
			if cfg.General.LogFile != "" {
				if err := checkWritableDir(cfg.General.LogFile); err != nil {
					printWarn("Log file", err.Error())
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running aibridge.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\naibridge should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! aibridge is ready to run.\n")
			}
			return nil
		},
	}
}

// checkChatDB opens the Messages database read-only and reads one row.
func checkChatDB(dbPath string) error {
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("cannot access: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var n int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM handle").Scan(&n); err != nil {
		return fmt.Errorf("cannot read (grant Full Disk Access to the terminal): %w", err)
	}
	return nil
}

// checkWritableDir creates the parent directory of path and probes it with a temp file.
func checkWritableDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	f.Close()
	return os.Remove(f.Name())
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
