package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

const sendScript = `tell application "Messages"
	set targetBuddy to "%s"
	set targetService to id of 1st account whose service type = iMessage
	set theBuddy to participant targetBuddy of account id targetService
	send "%s" to theBuddy
end tell`

var appleScriptEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// EscapeAppleScript quotes text for use inside an AppleScript string literal.
func EscapeAppleScript(text string) string {
	return appleScriptEscaper.Replace(text)
}

// IMessageSender sends replies through Messages.app with osascript.
type IMessageSender struct {
	recipient string
	logger    *slog.Logger

	// run executes the script; replaced in tests.
	run func(ctx context.Context, script string) ([]byte, error)
}

func NewIMessageSender(recipient string, logger *slog.Logger) *IMessageSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &IMessageSender{recipient: recipient, logger: logger, run: runOsascript}
}

func runOsascript(ctx context.Context, script string) ([]byte, error) {
	return exec.CommandContext(ctx, "osascript", "-e", script).CombinedOutput()
}

func (s *IMessageSender) Send(ctx context.Context, text string) error {
	if s.recipient == "" {
		return errors.New("imessage: no recipient configured")
	}
	script := fmt.Sprintf(sendScript, EscapeAppleScript(s.recipient), EscapeAppleScript(text))
	if out, err := s.run(ctx, script); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	s.logger.Info("reply sent", "to", s.recipient, "len", len(text))
	return nil
}
