package channel

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

func TestConsole_LinesBecomeMessages(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(ConsoleConfig{
		In:     strings.NewReader("hello\n\n/new gemini: fresh start\ngrok: hi\n"),
		Out:    &out,
		Logger: testLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		hw, _ := c.HighWaterMark(ctx)
		if hw == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 messages, have %d", hw)
		}
		time.Sleep(10 * time.Millisecond)
	}

	msgs, err := c.ListNewMessages(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != 2 || msgs[1].ID != 3 {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if msgs[0].Text != "\ngemini: fresh start" {
		t.Fatalf("/new should become a leading newline, got %q", msgs[0].Text)
	}
	if msgs, _ := c.ListNewMessages(ctx, 3); len(msgs) != 0 {
		t.Fatalf("expected nothing after the last id, got %d", len(msgs))
	}
}

func TestConsole_Send(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(ConsoleConfig{In: strings.NewReader(""), Out: &out, Logger: testLogger()})
	if err := c.Send(context.Background(), "Paris."); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(out.String(), "Paris.") {
		t.Fatalf("reply not printed: %q", out.String())
	}
}

func TestConsole_SkipConsumesLine(t *testing.T) {
	pr, pw := io.Pipe()
	var out bytes.Buffer
	c := NewConsole(ConsoleConfig{In: pr, Out: &out, Logger: testLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	skip := c.Skip(ctx, "grok")
	go pw.Write([]byte("s\nhello\n"))

	select {
	case <-skip:
	case <-time.After(2 * time.Second):
		t.Fatal("expected skip")
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs, _ := c.ListNewMessages(ctx, 0)
		if len(msgs) == 1 {
			if msgs[0].Text != "hello" {
				t.Fatalf("unexpected message %q", msgs[0].Text)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected only the line after the skip to become a message")
		}
		time.Sleep(10 * time.Millisecond)
	}
	pw.Close()
}
