package domain

import "context"

// MessageStore reads new inbound messages from the local inbox.
// Implementations return an empty slice, not an error, while the store is locked.
type MessageStore interface {
	ListNewMessages(ctx context.Context, sinceID int64) ([]InboundMessage, error)
	HighWaterMark(ctx context.Context) (int64, error)
}

// ReplyTransport delivers outbound text to the messaging network.
type ReplyTransport interface {
	Send(ctx context.Context, text string) error
}

// Checkpoint persists the last processed message id.
type Checkpoint interface {
	Load() (int64, error)
	Save(id int64) error
}
