package raffle

import (
	"context"
	"time"
)

// EntropySource supplies uniformly distributed 32-bit values.
// Implementations must be backed by a cryptographically secure generator.
type EntropySource interface {
	Uint32() (uint32, error)
}

// SessionDrawer drives a draw round whose history lives outside the calling process
type SessionDrawer interface {
	// Start creates a fresh round for the request, replacing any previous round under the same ID
	Start(ctx context.Context, sessionID string, req DrawRequest) (*SessionState, error)

	// Draw draws the next batch for the session and commits it to the session history
	Draw(ctx context.Context, sessionID string) (DrawBatch, error)

	// Reset discards the session history
	Reset(ctx context.Context, sessionID string) error

	// Load returns the current session state
	Load(ctx context.Context, sessionID string) (*SessionState, error)
}

// SessionRepository persists session state between draws
type SessionRepository interface {
	Save(ctx context.Context, state *SessionState) error
	Load(ctx context.Context, sessionID string) (*SessionState, error)
	Delete(ctx context.Context, sessionID string) error
}

// SessionLocker serializes draws against the same session
type SessionLocker interface {
	AcquireLock(ctx context.Context, lockKey, lockValue string, expireTime time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey, lockValue string) (bool, error)
}

// Logger defines the interface for logging operations
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}
