package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"aibridge/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// telegramAPI is the part of *tgbotapi.BotAPI the inbox uses.
type telegramAPI interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// TelegramInbox is a message store and reply transport for a single Telegram
// chat. Update ids serve as the monotonic message ids.
type TelegramInbox struct {
	api           telegramAPI
	chatID        int64
	attachmentDir string
	httpClient    *http.Client
	logger        *slog.Logger

	mu   sync.Mutex
	seen int64 // highest update id fetched, including ones from other chats
}

type TelegramConfig struct {
	Token         string
	ChatID        int64
	AttachmentDir string
	Logger        *slog.Logger
}

func NewTelegramInbox(cfg TelegramConfig) (*TelegramInbox, error) {
	if cfg.Token == "" || cfg.ChatID == 0 {
		return nil, errors.New("telegram: token and chatId are required")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	t := newTelegramInbox(bot, cfg)
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "chat_id", cfg.ChatID)
	return t, nil
}

func newTelegramInbox(api telegramAPI, cfg TelegramConfig) *TelegramInbox {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramInbox{
		api:           api,
		chatID:        cfg.ChatID,
		attachmentDir: cfg.AttachmentDir,
		httpClient:    &http.Client{Timeout: 60 * time.Second},
		logger:        logger,
	}
}

// ListNewMessages fetches updates after sinceID. Updates from other chats are
// skipped but still acknowledged on the next call.
func (t *TelegramInbox) ListNewMessages(ctx context.Context, sinceID int64) ([]domain.InboundMessage, error) {
	t.mu.Lock()
	offset := max(sinceID, t.seen) + 1
	t.mu.Unlock()

	u := tgbotapi.NewUpdate(int(offset))
	u.Timeout = 0
	u.Limit = 100
	updates, err := t.api.GetUpdates(u)
	if err != nil {
		return nil, fmt.Errorf("telegram get updates: %w", err)
	}

	var msgs []domain.InboundMessage
	for _, update := range updates {
		t.mu.Lock()
		t.seen = max(t.seen, int64(update.UpdateID))
		t.mu.Unlock()

		m := update.Message
		if m == nil || m.Chat == nil || m.Chat.ID != t.chatID {
			continue
		}
		text := m.Text
		if text == "" {
			text = m.Caption
		}
		msg := domain.InboundMessage{
			ID:        int64(update.UpdateID),
			Text:      text,
			Timestamp: m.Time(),
			FromMe:    m.From != nil && m.From.IsBot,
		}
		if len(m.Photo) > 0 {
			// sizes are ordered smallest first
			photo := m.Photo[len(m.Photo)-1]
			if path, err := t.download(ctx, photo.FileID, fmt.Sprintf("%d-%s.jpg", update.UpdateID, photo.FileUniqueID)); err != nil {
				t.logger.Warn("telegram photo download failed", "update_id", update.UpdateID, "err", err)
			} else {
				msg.Attachments = append(msg.Attachments, path)
			}
		}
		if msg.Text == "" && len(msg.Attachments) == 0 {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (t *TelegramInbox) download(ctx context.Context, fileID, name string) (string, error) {
	url, err := t.api.GetFileDirectURL(fileID)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: status %d", fileID, resp.StatusCode)
	}

	if err := os.MkdirAll(t.attachmentDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(t.attachmentDir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	return path, f.Close()
}

// HighWaterMark returns the id of the newest pending update, or 0.
func (t *TelegramInbox) HighWaterMark(ctx context.Context) (int64, error) {
	u := tgbotapi.NewUpdate(-1)
	u.Limit = 1
	updates, err := t.api.GetUpdates(u)
	if err != nil {
		return 0, fmt.Errorf("telegram get updates: %w", err)
	}
	if len(updates) == 0 {
		return 0, nil
	}
	return int64(updates[len(updates)-1].UpdateID), nil
}

// Send delivers text to the configured chat, split into Telegram-sized chunks.
func (t *TelegramInbox) Send(ctx context.Context, text string) error {
	for len(text) > 0 {
		chunk := text
		if len(chunk) > telegramMaxMsgLen {
			cutAt := strings.LastIndex(chunk[:telegramMaxMsgLen], "\n")
			if cutAt < telegramMaxMsgLen/2 {
				cutAt = telegramMaxMsgLen
				// Telegram rejects text that is not valid UTF-8.
				for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
					cutAt--
				}
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}
		if err := t.sendChunk(ctx, chunk); err != nil {
			return err
		}
	}
	t.logger.Info("reply sent", "chat_id", t.chatID)
	return nil
}

// sendChunk sends one chunk, backing off on rate limits and transient errors.
func (t *TelegramInbox) sendChunk(ctx context.Context, text string) error {
	var err error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		if _, err = t.api.Send(tgbotapi.NewMessage(t.chatID, text)); err == nil {
			return nil
		}
		if attempt == telegramMaxSendRetries {
			break
		}

		backoff := time.Duration(attempt+1) * time.Second
		if errStr := err.Error(); strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			backoff = time.Duration(attempt+1) * 3 * time.Second
		}
		t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", telegramMaxSendRetries+1, err)
}
