package history

import (
	"context"
	"testing"
	"time"
)

func seedTurns(t *testing.T, s Store, userID int64, contents ...string) []Turn {
	t.Helper()

	now := time.Now().UTC()
	turns := []Turn{{Role: RoleSystem, Content: "be helpful", CreatedAt: now}}
	role := RoleUser
	for i, c := range contents {
		turns = append(turns, Turn{Role: role, Content: c, CreatedAt: now.Add(time.Duration(i+1) * time.Second)})
		if role == RoleUser {
			role = RoleAssistant
		} else {
			role = RoleUser
		}
	}
	if err := s.Save(context.Background(), userID, turns); err != nil {
		t.Fatalf("save: %v", err)
	}
	return turns
}

func TestMemoryStore_LoadFullEmptyUser(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(50)
	turns, err := s.LoadFull(context.Background(), 42)
	if err != nil {
		t.Fatalf("load full: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("got %d turns for unknown user, want 0", len(turns))
	}
}

func TestMemoryStore_SaveAssignsIDsAndRoundTrips(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(50)
	saved := seedTurns(t, s, 1, "hello", "hi there")

	for i, turn := range saved {
		if turn.ID == "" {
			t.Errorf("turn %d has no ID after save", i)
		}
	}

	got, err := s.LoadFull(context.Background(), 1)
	if err != nil {
		t.Fatalf("load full: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d turns, want 3", len(got))
	}
	if got[0].Role != RoleSystem || got[1].Content != "hello" || got[2].Content != "hi there" {
		t.Errorf("unexpected order: %+v", got)
	}
}

func TestMemoryStore_SaveIsIdempotentForKnownIDs(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(50)
	seedTurns(t, s, 1, "hello", "hi there")

	// Re-save a snapshot that already contains persisted turns plus one new.
	snapshot, _ := s.LoadFull(context.Background(), 1)
	snapshot = append(snapshot, Turn{Role: RoleUser, Content: "again", CreatedAt: time.Now().UTC()})
	if err := s.Save(context.Background(), 1, snapshot); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, _ := s.LoadFull(context.Background(), 1)
	if len(got) != 4 {
		t.Fatalf("got %d turns after re-save, want 4 (no duplication)", len(got))
	}
}

func TestMemoryStore_SaveUpdatesContentInPlace(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(50)
	seedTurns(t, s, 1, "hello")

	turns, _ := s.LoadFull(context.Background(), 1)
	turns[1].Content = "hello, edited"
	if err := s.Save(context.Background(), 1, turns); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, _ := s.LoadFull(context.Background(), 1)
	if len(got) != 2 {
		t.Fatalf("got %d turns, want 2", len(got))
	}
	if got[1].Content != "hello, edited" {
		t.Errorf("content = %q, want updated value", got[1].Content)
	}
}

func TestMemoryStore_RetentionKeepsSystemTurn(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(5)
	var contents []string
	for i := 0; i < 10; i++ {
		contents = append(contents, "msg")
	}
	seedTurns(t, s, 1, contents...)

	got, _ := s.LoadFull(context.Background(), 1)
	if len(got) != 5 {
		t.Fatalf("got %d active turns, want 5", len(got))
	}

	var systems int
	for _, turn := range got {
		if turn.Role == RoleSystem {
			systems++
		}
	}
	if systems != 1 {
		t.Errorf("got %d system turns after trimming, want exactly 1", systems)
	}
	if got[0].Role != RoleSystem {
		t.Errorf("first active turn is %s, want system", got[0].Role)
	}

	// Trimmed rows are soft-deleted, not removed.
	if n := s.deletedCount(1); n != 6 {
		t.Errorf("deletedCount = %d, want 6", n)
	}
}

func TestMemoryStore_LoadRecent(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(50)
	seedTurns(t, s, 1, "a", "b", "c", "d")

	got, err := s.LoadRecent(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("load recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d turns, want 2", len(got))
	}
	if got[0].Content != "c" || got[1].Content != "d" {
		t.Errorf("recent turns = %q, %q; want c, d", got[0].Content, got[1].Content)
	}

	all, _ := s.LoadRecent(context.Background(), 1, 0)
	if len(all) != 5 {
		t.Errorf("limit 0 returned %d turns, want all 5", len(all))
	}
}

func TestMemoryStore_ClearSoftDeletes(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(50)
	seedTurns(t, s, 1, "a", "b")

	if err := s.Clear(context.Background(), 1); err != nil {
		t.Fatalf("clear: %v", err)
	}

	got, _ := s.LoadFull(context.Background(), 1)
	if len(got) != 0 {
		t.Fatalf("got %d active turns after clear, want 0", len(got))
	}
	if n := s.deletedCount(1); n != 3 {
		t.Errorf("deletedCount = %d after clear, want 3 (rows kept with marker)", n)
	}

	// Settings survive the clear.
	if err := s.SetSystemPrompt(context.Background(), 1, "p"); err != nil {
		t.Fatalf("set prompt: %v", err)
	}
}

func TestMemoryStore_SetSystemPromptResetsConversation(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(50)
	seedTurns(t, s, 1, "a", "b")

	if err := s.SetSystemPrompt(context.Background(), 1, "talk like a pirate"); err != nil {
		t.Fatalf("set prompt: %v", err)
	}

	got, _ := s.LoadFull(context.Background(), 1)
	if len(got) != 1 {
		t.Fatalf("got %d active turns, want exactly the new system turn", len(got))
	}
	if got[0].Role != RoleSystem || got[0].Content != "talk like a pirate" {
		t.Errorf("sole turn = %+v, want the new system turn", got[0])
	}

	prompt, custom, err := s.SystemPrompt(context.Background(), 1)
	if err != nil {
		t.Fatalf("system prompt: %v", err)
	}
	if !custom || prompt != "talk like a pirate" {
		t.Errorf("prompt = %q, custom = %v; want the stored override", prompt, custom)
	}
}

func TestMemoryStore_SystemPromptUnknownUser(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(50)
	prompt, custom, err := s.SystemPrompt(context.Background(), 7)
	if err != nil {
		t.Fatalf("system prompt: %v", err)
	}
	if custom || prompt != "" {
		t.Errorf("unknown user should have no override, got %q, %v", prompt, custom)
	}
}

func TestMemoryStore_DialogInfo(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(50)

	info, err := s.DialogInfo(context.Background(), 9)
	if err != nil {
		t.Fatalf("dialog info: %v", err)
	}
	if info.MessageCount != 0 {
		t.Errorf("unknown user MessageCount = %d, want 0", info.MessageCount)
	}

	seedTurns(t, s, 9, "a", "b")
	if err := s.SetSystemPrompt(context.Background(), 9, "custom"); err != nil {
		t.Fatalf("set prompt: %v", err)
	}

	info, _ = s.DialogInfo(context.Background(), 9)
	if info.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1 after prompt reset", info.MessageCount)
	}
	if info.SystemPrompt != "custom" {
		t.Errorf("SystemPrompt = %q, want custom", info.SystemPrompt)
	}
	if info.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set")
	}
}

func TestRetentionOverflow(t *testing.T) {
	t.Parallel()

	mk := func(id string, role Role) Turn { return Turn{ID: id, Role: role} }

	tests := []struct {
		name   string
		active []Turn
		max    int
		want   []string
	}{
		{
			name:   "under limit",
			active: []Turn{mk("s", RoleSystem), mk("1", RoleUser)},
			max:    5,
			want:   nil,
		},
		{
			name: "evicts oldest non-system first",
			active: []Turn{
				mk("s", RoleSystem), mk("1", RoleUser), mk("2", RoleAssistant), mk("3", RoleUser),
			},
			max:  2,
			want: []string{"1", "2"},
		},
		{
			name:   "system turn never selected",
			active: []Turn{mk("s", RoleSystem), mk("1", RoleUser)},
			max:    1,
			want:   []string{"1"},
		},
		{
			name:   "no system turn",
			active: []Turn{mk("1", RoleUser), mk("2", RoleAssistant), mk("3", RoleUser)},
			max:    2,
			want:   []string{"1"},
		},
		{
			name:   "zero limit disables trimming",
			active: []Turn{mk("1", RoleUser)},
			max:    0,
			want:   nil,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := RetentionOverflow(tt.active, tt.max)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("id %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
