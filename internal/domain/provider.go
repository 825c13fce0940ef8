package domain

import (
	"context"
	"time"
)

// SessionDriver is the contract every AI integration implements.
// Only the orchestrator calls it; drivers never touch the delivery queue.
type SessionDriver interface {
	Name() Target

	// Initialize opens the automation context. Calling it twice is a no-op.
	Initialize(ctx context.Context) error

	// IsLoggedIn is a best-effort probe. False may mean the page is still rendering.
	IsLoggedIn(ctx context.Context) bool

	// SelectTier switches the remote model tier. It returns true only when the
	// switch was confirmed on the page; failures are logged, not returned.
	SelectTier(ctx context.Context, tier Tier) bool

	// UploadAttachments attaches files to the composer. Best-effort.
	UploadAttachments(ctx context.Context, paths []string)

	SubmitMessage(ctx context.Context, text string) error
	AwaitCompletion(ctx context.Context, timeout time.Duration) (string, error)
	StartNewConversation(ctx context.Context) error

	// Cleanup releases the automation context. Safe to call at any time.
	Cleanup() error
}

// SessionState is the per-target record owned by the session registry.
type SessionState struct {
	Target       Target
	Driver       SessionDriver
	Initialized  bool
	Tier         Tier
	Available    bool
	PreambleSent bool
	LastUsed     time.Time
}
