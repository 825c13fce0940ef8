package domain

import "time"

// InboundMessage is one row reported by a MessageStore. It is immutable once built.
type InboundMessage struct {
	ID          int64     // monotonically increasing, source-of-truth ordering key
	Text        string    // empty when the row carried only attachments
	Attachments []string  // absolute file paths, in store order
	Timestamp   time.Time
	FromMe      bool
}

// HasAttachments reports whether the message carries at least one attachment.
func (m InboundMessage) HasAttachments() bool {
	return len(m.Attachments) > 0
}
