package channel

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const chatSchema = `
CREATE TABLE handle (ROWID INTEGER PRIMARY KEY, id TEXT);
CREATE TABLE message (
	ROWID INTEGER PRIMARY KEY,
	text TEXT,
	date INTEGER,
	is_from_me INTEGER,
	handle_id INTEGER,
	cache_has_attachments INTEGER
);
CREATE TABLE attachment (ROWID INTEGER PRIMARY KEY, filename TEXT, mime_type TEXT);
CREATE TABLE message_attachment_join (message_id INTEGER, attachment_id INTEGER);
`

// newChatDB writes a minimal Messages database and returns its path.
func newChatDB(t *testing.T, stmts ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	for _, s := range append([]string{chatSchema}, stmts...) {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
	return path
}

func TestIMessageStore_ListNewMessages(t *testing.T) {
	img := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(img, []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	path := newChatDB(t,
		`INSERT INTO handle VALUES (1, '+15551234567'), (2, '+15550000000')`,
		`INSERT INTO message VALUES
			(1, 'old', 0, 0, 1, 0),
			(2, 'gemini: hi', 700000000000000000, 0, 1, 0),
			(3, 'my own reply', 700000001000000000, 1, 1, 0),
			(4, 'other person', 700000002000000000, 0, 2, 0),
			(5, NULL, 700000003000000000, 0, 1, 1),
			(6, NULL, 700000004000000000, 0, 1, 0)`,
		`INSERT INTO attachment VALUES
			(1, '`+img+`', 'image/jpeg'),
			(2, '/nowhere/missing.png', 'image/png'),
			(3, '`+img+`', 'application/pdf')`,
		`INSERT INTO message_attachment_join VALUES (5, 1), (5, 2), (5, 3)`,
	)

	store, err := NewIMessageStore(IMessageStoreConfig{DBPath: path, Handle: "5551234567", Logger: testLogger()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	msgs, err := store.ListNewMessages(context.Background(), 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %+v", msgs)
	}
	if msgs[0].ID != 2 || msgs[0].Text != "gemini: hi" || msgs[0].HasAttachments() {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}
	want := appleEpoch.Add(700000000 * time.Second)
	if !msgs[0].Timestamp.Equal(want) {
		t.Fatalf("expected %v, got %v", want, msgs[0].Timestamp)
	}
	if msgs[1].ID != 5 || msgs[1].Text != "" || len(msgs[1].Attachments) != 1 || msgs[1].Attachments[0] != img {
		t.Fatalf("unexpected attachment message: %+v", msgs[1])
	}

	hw, err := store.HighWaterMark(context.Background())
	if err != nil || hw != 6 {
		t.Fatalf("expected high-water mark 6, got %d, %v", hw, err)
	}
}

func TestIMessageStore_EmptyHandle(t *testing.T) {
	path := newChatDB(t)
	store, err := NewIMessageStore(IMessageStoreConfig{DBPath: path, Handle: "nobody@example.com", Logger: testLogger()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	if hw, err := store.HighWaterMark(context.Background()); err != nil || hw != 0 {
		t.Fatalf("expected 0, got %d, %v", hw, err)
	}
	if msgs, err := store.ListNewMessages(context.Background(), 0); err != nil || len(msgs) != 0 {
		t.Fatalf("expected no messages, got %d, %v", len(msgs), err)
	}
}

func TestIMessageStore_LockedHighWaterMarkIsAnError(t *testing.T) {
	path := newChatDB(t,
		`INSERT INTO handle VALUES (1, '+15551234567')`,
		`INSERT INTO message VALUES (1, 'old', 0, 0, 1, 0)`,
	)
	store, err := NewIMessageStore(IMessageStoreConfig{DBPath: path, Handle: "5551234567", Logger: testLogger()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	writer, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	defer writer.Close()
	ctx := context.Background()
	conn, err := writer.Conn(ctx)
	if err != nil {
		t.Fatalf("writer conn: %v", err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "BEGIN EXCLUSIVE"); err != nil {
		t.Fatalf("lock: %v", err)
	}

	hw, err := store.HighWaterMark(ctx)
	if !errors.Is(err, ErrDatabaseLocked) {
		t.Fatalf("expected ErrDatabaseLocked, got %d, %v", hw, err)
	}

	if _, err := conn.ExecContext(ctx, "ROLLBACK"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if hw, err := store.HighWaterMark(ctx); err != nil || hw != 1 {
		t.Fatalf("expected 1 after unlock, got %d, %v", hw, err)
	}
}

func TestNewIMessageStore_Errors(t *testing.T) {
	if _, err := NewIMessageStore(IMessageStoreConfig{DBPath: "/tmp/x.db"}); err == nil {
		t.Fatal("expected error without handle")
	}
	if _, err := NewIMessageStore(IMessageStoreConfig{DBPath: filepath.Join(t.TempDir(), "missing.db"), Handle: "x"}); err == nil {
		t.Fatal("expected error for missing database")
	}
}

func TestAppleTime(t *testing.T) {
	if got := appleTime(60); !got.Equal(appleEpoch.Add(time.Minute)) {
		t.Fatalf("seconds: got %v", got)
	}
	if got := appleTime(2_000_000_000_000); !got.Equal(appleEpoch.Add(2000 * time.Second)) {
		t.Fatalf("nanoseconds: got %v", got)
	}
}

func TestIsLocked(t *testing.T) {
	if !isLocked(errString("database is locked (5) (SQLITE_BUSY)")) {
		t.Fatal("expected locked")
	}
	if isLocked(errString("no such table: message")) {
		t.Fatal("expected not locked")
	}
}

type errString string

func (e errString) Error() string { return string(e) }
