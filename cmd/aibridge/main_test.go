package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"aibridge/internal/config"
	"aibridge/internal/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRunSetup_IMessage(t *testing.T) {
	cfg := config.Defaults()
	in := strings.NewReader("1\n(555) 123-4567\nchatgpt\n")

	if err := runSetup(cfg, in, io.Discard); err != nil {
		t.Fatalf("runSetup: %v", err)
	}
	if cfg.Inbox.Transport != "imessage" {
		t.Fatalf("transport = %q, want imessage", cfg.Inbox.Transport)
	}
	if cfg.IMessage.TargetHandle != "5551234567" || cfg.IMessage.TargetHandleFull != "+15551234567" {
		t.Fatalf("handle = %q/%q", cfg.IMessage.TargetHandle, cfg.IMessage.TargetHandleFull)
	}
	if cfg.General.DefaultTarget != "chatgpt" {
		t.Fatalf("default target = %q, want chatgpt", cfg.General.DefaultTarget)
	}
	if cfg.NeedsSetup() {
		t.Fatal("config still needs setup")
	}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestRunSetup_TelegramKeepsDefaultTarget(t *testing.T) {
	cfg := config.Defaults()
	in := strings.NewReader("2\n123:abc\n42\n\n")

	if err := runSetup(cfg, in, io.Discard); err != nil {
		t.Fatalf("runSetup: %v", err)
	}
	if cfg.Inbox.Transport != "telegram" || cfg.Telegram.Token != "123:abc" || cfg.Telegram.ChatID != 42 {
		t.Fatalf("telegram = %q %q %d", cfg.Inbox.Transport, cfg.Telegram.Token, cfg.Telegram.ChatID)
	}
	if cfg.General.DefaultTarget != "gemini" {
		t.Fatalf("default target = %q, want gemini", cfg.General.DefaultTarget)
	}
}

func TestRunSetup_InvalidChatID(t *testing.T) {
	cfg := config.Defaults()
	in := strings.NewReader("2\ntok\nnot-a-number\n")

	if err := runSetup(cfg, in, io.Discard); err == nil {
		t.Fatal("expected error for invalid chat id")
	}
}

func TestRunSetup_EmptyHandle(t *testing.T) {
	cfg := config.Defaults()
	in := strings.NewReader("1\n\n")

	if err := runSetup(cfg, in, io.Discard); err == nil {
		t.Fatal("expected error for empty handle")
	}
}

func TestRenderService(t *testing.T) {
	unit := renderService(systemdTemplate, map[string]string{
		"EXEC":   "/usr/local/bin/aibridge",
		"CONFIG": "/home/u/.aibridge/config.json",
	})
	if !strings.Contains(unit, "ExecStart=/usr/local/bin/aibridge run --config /home/u/.aibridge/config.json") {
		t.Fatalf("unexpected unit:\n%s", unit)
	}
	if strings.Contains(unit, "{{") {
		t.Fatalf("unrendered placeholder:\n%s", unit)
	}

	plist := renderService(launchdTemplate, map[string]string{
		"EXEC": "/bin/aibridge", "CONFIG": "/c.json", "LABEL": launchdLabel, "LOG": "/l", "ERR_LOG": "/e",
	})
	if !strings.Contains(plist, "<string>"+launchdLabel+"</string>") || strings.Contains(plist, "{{") {
		t.Fatalf("unexpected plist:\n%s", plist)
	}
}

func TestOpenInbox_Console(t *testing.T) {
	cfg := config.Defaults()
	cfg.Inbox.Transport = "console"

	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in, err := openInbox(ctx, cfg, pr, io.Discard, testLogger())
	if err != nil {
		t.Fatalf("openInbox: %v", err)
	}
	defer in.Close()

	if in.store == nil || in.transport == nil || in.prompter == nil {
		t.Fatal("console inbox incomplete")
	}
	if _, ok := in.checkpoint.(*state.MemoryCheckpoint); !ok {
		t.Fatalf("checkpoint = %T, want *state.MemoryCheckpoint", in.checkpoint)
	}
	if in.wake != nil {
		t.Fatal("console inbox should not have a wake channel")
	}
}

func TestOpenInbox_IMessageMissingDB(t *testing.T) {
	cfg := config.Defaults()
	cfg.IMessage.TargetHandle = "5551234567"
	cfg.IMessage.ChatDBPath = filepath.Join(t.TempDir(), "missing.db")

	if _, err := openInbox(context.Background(), cfg, strings.NewReader(""), io.Discard, testLogger()); err == nil {
		t.Fatal("expected error for missing chat.db")
	}
}

func TestCheckWritableDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "last-message-id.txt")
	if err := checkWritableDir(path); err != nil {
		t.Fatalf("checkWritableDir: %v", err)
	}
}
