package channel

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"aibridge/internal/domain"

	_ "modernc.org/sqlite"
)

// Messages.app stores dates relative to 2001-01-01 UTC, in nanoseconds on
// current macOS and in seconds on older releases.
var appleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

const newMessagesQuery = `
	SELECT m.ROWID, m.text, m.date, m.is_from_me, m.cache_has_attachments
	FROM message m
	JOIN handle h ON m.handle_id = h.ROWID
	WHERE h.id LIKE ?
	  AND m.is_from_me = 0
	  AND m.ROWID > ?
	  AND (m.text IS NOT NULL OR m.cache_has_attachments = 1)
	ORDER BY m.ROWID ASC`

const attachmentsQuery = `
	SELECT a.filename, a.mime_type
	FROM attachment a
	JOIN message_attachment_join maj ON a.ROWID = maj.attachment_id
	WHERE maj.message_id = ?`

const highWaterQuery = `
	SELECT MAX(m.ROWID)
	FROM message m
	JOIN handle h ON m.handle_id = h.ROWID
	WHERE h.id LIKE ?`

// IMessageStore reads inbound messages from one handle out of the Messages
// database. The database is opened read-only.
type IMessageStore struct {
	db     *sql.DB
	handle string
	logger *slog.Logger
}

type IMessageStoreConfig struct {
	DBPath string
	Handle string // matched as a substring of handle.id
	Logger *slog.Logger
}

func NewIMessageStore(cfg IMessageStoreConfig) (*IMessageStore, error) {
	if cfg.Handle == "" {
		return nil, errors.New("imessage: target handle is not configured")
	}
	if _, err := os.Stat(cfg.DBPath); err != nil {
		return nil, fmt.Errorf("imessage: cannot access %s: %w", cfg.DBPath, err)
	}

	db, err := sql.Open("sqlite", "file:"+cfg.DBPath+"?mode=ro&_pragma=busy_timeout(1000)")
	if err != nil {
		return nil, fmt.Errorf("imessage: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("imessage: open %s (grant Full Disk Access to the terminal): %w", cfg.DBPath, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &IMessageStore{db: db, handle: cfg.Handle, logger: logger}, nil
}

func (s *IMessageStore) Close() error {
	return s.db.Close()
}

// ListNewMessages returns messages from the handle with ROWID above sinceID.
// A busy or locked database yields no messages and no error.
func (s *IMessageStore) ListNewMessages(ctx context.Context, sinceID int64) ([]domain.InboundMessage, error) {
	rows, err := s.db.QueryContext(ctx, newMessagesQuery, "%"+s.handle+"%", sinceID)
	if err != nil {
		if isLocked(err) {
			s.logger.Debug("messages database locked, will retry")
			return nil, nil
		}
		return nil, fmt.Errorf("query messages: %w", err)
	}

	type row struct {
		id             int64
		text           sql.NullString
		date           int64
		fromMe         bool
		hasAttachments bool
	}
	var found []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.text, &r.date, &r.fromMe, &r.hasAttachments); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan message: %w", err)
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		if isLocked(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read messages: %w", err)
	}
	rows.Close()

	msgs := make([]domain.InboundMessage, 0, len(found))
	for _, r := range found {
		msg := domain.InboundMessage{
			ID:        r.id,
			Text:      r.text.String,
			Timestamp: appleTime(r.date),
			FromMe:    r.fromMe,
		}
		if r.hasAttachments {
			msg.Attachments = s.imageAttachments(ctx, r.id)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// imageAttachments resolves image files attached to a message. Files that no
// longer exist on disk are skipped.
func (s *IMessageStore) imageAttachments(ctx context.Context, messageID int64) []string {
	rows, err := s.db.QueryContext(ctx, attachmentsQuery, messageID)
	if err != nil {
		s.logger.Warn("query attachments failed", "message_id", messageID, "err", err)
		return nil
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var filename, mime sql.NullString
		if err := rows.Scan(&filename, &mime); err != nil {
			s.logger.Warn("scan attachment failed", "err", err)
			continue
		}
		if filename.String == "" || !strings.HasPrefix(mime.String, "image/") {
			continue
		}
		path := expandHome(filename.String)
		if _, err := os.Stat(path); err != nil {
			s.logger.Debug("attachment missing on disk", "path", path)
			continue
		}
		paths = append(paths, path)
	}
	return paths
}

// ErrDatabaseLocked reports that Messages.app held a lock on chat.db.
var ErrDatabaseLocked = errors.New("messages database is locked")

// HighWaterMark returns the newest ROWID for the handle, or 0 when the handle
// has no messages. A locked database is an error: reading it as 0 would
// replay the whole history.
func (s *IMessageStore) HighWaterMark(ctx context.Context) (int64, error) {
	var hw sql.NullInt64
	err := s.db.QueryRowContext(ctx, highWaterQuery, "%"+s.handle+"%").Scan(&hw)
	if err != nil {
		if isLocked(err) {
			return 0, fmt.Errorf("query high-water mark: %w: %v", ErrDatabaseLocked, err)
		}
		return 0, fmt.Errorf("query high-water mark: %w", err)
	}
	return hw.Int64, nil
}

func isLocked(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy") || strings.Contains(msg, "sqlite_locked")
}

func appleTime(v int64) time.Time {
	if v > 1e12 {
		return appleEpoch.Add(time.Duration(v))
	}
	return appleEpoch.Add(time.Duration(v) * time.Second)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
