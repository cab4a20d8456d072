// Package history defines conversation history storage: the Store contract,
// retention trimming with soft deletes, an in-memory implementation, and a
// Service wrapper adding prompt caching, write retries, and read-path
// degradation.
package history

import (
	"context"
	"errors"
	"time"
)

// ErrStorage is the base sentinel wrapped by storage failures.
var ErrStorage = errors.New("history: storage failure")

// Role identifies the author of a turn.
type Role string

// Role constants for conversation turns.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Turn is one message in a conversation. ID is assigned by the store on
// first persistence; a Turn with an empty ID has not been saved yet.
type Turn struct {
	ID        string
	Role      Role
	Content   string
	CreatedAt time.Time
}

// DialogInfo summarises a user's conversation for status displays.
// SystemPrompt is empty when the user runs on the default prompt.
type DialogInfo struct {
	MessageCount int       `json:"messages_count"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store persists per-user conversation history with soft deletes.
// Implementations must be safe for concurrent use and must scope each
// operation to its own transaction where the backend is transactional.
type Store interface {
	// LoadFull returns all active (non-soft-deleted) turns for the user
	// in conversation order. An unknown user yields an empty slice.
	LoadFull(ctx context.Context, userID int64) ([]Turn, error)

	// LoadRecent returns the most recent limit active turns in
	// conversation order. limit <= 0 behaves like LoadFull.
	LoadRecent(ctx context.Context, userID int64, limit int) ([]Turn, error)

	// Save upserts the given turns: turns carrying a known ID are updated
	// in place, turns without an ID are inserted and assigned one (written
	// back into the slice). After the upsert, retention trimming
	// soft-deletes the oldest non-system turns beyond the user's limit.
	Save(ctx context.Context, userID int64, turns []Turn) error

	// Clear soft-deletes all active turns. The user row and settings
	// survive.
	Clear(ctx context.Context, userID int64) error

	// SystemPrompt returns the user's custom prompt and whether one is set.
	SystemPrompt(ctx context.Context, userID int64) (string, bool, error)

	// SetSystemPrompt performs a hard logical reset: soft-deletes all
	// active turns, records prompt in the user's settings, and inserts a
	// fresh system turn as the sole active turn.
	SetSystemPrompt(ctx context.Context, userID int64, prompt string) error

	// DialogInfo returns a summary of the user's conversation.
	DialogInfo(ctx context.Context, userID int64) (DialogInfo, error)
}

// RetentionOverflow returns the IDs of active turns to soft-delete so that
// at most max turns remain. Turns must be in conversation order. The oldest
// non-system turns go first; system turns are never selected.
func RetentionOverflow(active []Turn, max int) []string {
	if max <= 0 || len(active) <= max {
		return nil
	}

	excess := len(active) - max
	ids := make([]string, 0, excess)
	for _, t := range active {
		if len(ids) == excess {
			break
		}
		if t.Role == RoleSystem {
			continue
		}
		ids = append(ids, t.ID)
	}
	return ids
}
