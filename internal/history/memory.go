package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memRow is a stored turn plus its soft-delete marker.
type memRow struct {
	Turn
	seq       int
	deletedAt *time.Time
}

// memUser holds one user's rows and settings.
type memUser struct {
	rows        []*memRow
	maxHistory  int
	prompt      string
	hasPrompt   bool
	updatedAt   time.Time
	nextSeq     int
	settingsSet bool
}

// MemoryStore is a thread-safe in-memory Store. Soft-deleted rows stay in
// the store with their deletion marker set, mirroring the relational
// backend's behaviour, so retention and reset semantics are identical.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[int64]*memUser
	maxHistory int
	now        func() time.Time
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store. maxHistory seeds each user's
// message limit on first contact.
func NewMemoryStore(maxHistory int) *MemoryStore {
	return &MemoryStore{
		users:      make(map[int64]*memUser),
		maxHistory: maxHistory,
		now:        time.Now,
	}
}

func (s *MemoryStore) getOrCreate(userID int64) *memUser {
	u, ok := s.users[userID]
	if !ok {
		u = &memUser{maxHistory: s.maxHistory}
		s.users[userID] = u
	}
	return u
}

// activeLocked returns the user's active turns in conversation order.
func (u *memUser) activeLocked() []Turn {
	var turns []Turn
	for _, r := range u.rows {
		if r.deletedAt == nil {
			turns = append(turns, r.Turn)
		}
	}
	return turns
}

// LoadFull returns all active turns for the user.
func (s *MemoryStore) LoadFull(ctx context.Context, userID int64) ([]Turn, error) {
	return s.LoadRecent(ctx, userID, 0)
}

// LoadRecent returns the most recent limit active turns in order.
func (s *MemoryStore) LoadRecent(_ context.Context, userID int64, limit int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return []Turn{}, nil
	}

	turns := u.activeLocked()
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	if turns == nil {
		turns = []Turn{}
	}
	return turns, nil
}

// Save upserts turns and applies retention trimming.
func (s *MemoryStore) Save(_ context.Context, userID int64, turns []Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.getOrCreate(userID)
	now := s.now().UTC()

	byID := make(map[string]*memRow, len(u.rows))
	for _, r := range u.rows {
		byID[r.ID] = r
	}

	for i := range turns {
		if turns[i].ID != "" {
			if row, ok := byID[turns[i].ID]; ok {
				row.Role = turns[i].Role
				row.Content = turns[i].Content
				continue
			}
		} else {
			turns[i].ID = uuid.NewString()
		}
		if turns[i].CreatedAt.IsZero() {
			turns[i].CreatedAt = now
		}
		row := &memRow{Turn: turns[i], seq: u.nextSeq}
		u.nextSeq++
		u.rows = append(u.rows, row)
		byID[row.ID] = row
	}

	for _, id := range RetentionOverflow(u.activeLocked(), u.maxHistory) {
		if row, ok := byID[id]; ok {
			ts := now
			row.deletedAt = &ts
		}
	}

	u.updatedAt = now
	return nil
}

// Clear soft-deletes all active turns for the user.
func (s *MemoryStore) Clear(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.getOrCreate(userID)
	now := s.now().UTC()
	for _, r := range u.rows {
		if r.deletedAt == nil {
			ts := now
			r.deletedAt = &ts
		}
	}
	u.updatedAt = now
	return nil
}

// SystemPrompt returns the user's custom prompt, if any.
func (s *MemoryStore) SystemPrompt(_ context.Context, userID int64) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return "", false, nil
	}
	return u.prompt, u.hasPrompt, nil
}

// SetSystemPrompt resets the conversation to a single fresh system turn.
func (s *MemoryStore) SetSystemPrompt(_ context.Context, userID int64, prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.getOrCreate(userID)
	now := s.now().UTC()

	for _, r := range u.rows {
		if r.deletedAt == nil {
			ts := now
			r.deletedAt = &ts
		}
	}

	u.prompt = prompt
	u.hasPrompt = true
	u.updatedAt = now

	row := &memRow{
		Turn: Turn{
			ID:        uuid.NewString(),
			Role:      RoleSystem,
			Content:   prompt,
			CreatedAt: now,
		},
		seq: u.nextSeq,
	}
	u.nextSeq++
	u.rows = append(u.rows, row)
	return nil
}

// DialogInfo summarises the user's conversation.
func (s *MemoryStore) DialogInfo(_ context.Context, userID int64) (DialogInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return DialogInfo{}, nil
	}

	info := DialogInfo{
		MessageCount: len(u.activeLocked()),
		UpdatedAt:    u.updatedAt,
	}
	if u.hasPrompt {
		info.SystemPrompt = u.prompt
	}
	return info, nil
}

// deletedCount reports how many rows carry a soft-delete marker.
// Used by tests to assert soft-delete visibility.
func (s *MemoryStore) deletedCount(userID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return 0
	}
	var n int
	for _, r := range u.rows {
		if r.deletedAt != nil {
			n++
		}
	}
	return n
}
