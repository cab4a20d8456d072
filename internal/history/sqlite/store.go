package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flemzord/chatrelay/internal/history"
)

// TimeLayout is how instants are stored. The fractional part is
// zero-padded to a fixed width so UTC values sort lexicographically and
// created_at ordering works in SQL. Collaborators issuing their own
// range queries must format bounds with the same layout.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the SQLite-backed history.Store. Every operation runs in its
// own transaction: commit on success, rollback on any error.
type Store struct {
	db         *sql.DB
	maxHistory int
	now        func() time.Time
}

// Compile-time interface check.
var _ history.Store = (*Store)(nil)

func newStore(db *sql.DB, maxHistory int) *Store {
	return &Store{db: db, maxHistory: maxHistory, now: time.Now}
}

// DB exposes the underlying handle for read-only collaborators such as
// the stats collector. Writers must go through the Store.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ensureUser inserts the user and default settings rows if missing.
// Idempotent; safe to call at the start of every write.
func (s *Store) ensureUser(ctx context.Context, tx *sql.Tx, userID int64, now string) error {
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO users (id, created_at, updated_at) VALUES (?, ?, ?)",
		userID, now, now,
	); err != nil {
		return fmt.Errorf("sqlite: ensure user: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO user_settings (user_id, max_history_messages, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		userID, s.maxHistory, now, now,
	); err != nil {
		return fmt.Errorf("sqlite: ensure settings: %w", err)
	}

	return nil
}

// LoadFull returns all active turns for the user in conversation order.
func (s *Store) LoadFull(ctx context.Context, userID int64) ([]history.Turn, error) {
	return s.LoadRecent(ctx, userID, 0)
}

// LoadRecent returns the most recent limit active turns in conversation
// order. limit <= 0 returns everything.
func (s *Store) LoadRecent(ctx context.Context, userID int64, limit int) ([]history.Turn, error) {
	query := `
		SELECT id, role, content, created_at
		FROM messages
		WHERE user_id = ? AND deleted_at IS NULL
		ORDER BY created_at DESC, rowid DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	turns := []history.Turn{}
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: load turns rows: %w", err)
	}

	// Fetched newest-first for the LIMIT; flip back to conversation order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Save upserts turns by stable ID, then soft-deletes the oldest
// non-system turns beyond the user's retention limit.
func (s *Store) Save(ctx context.Context, userID int64, turns []history.Turn) (err error) {
	now := s.now().UTC()
	nowStr := now.Format(TimeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin save tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.ensureUser(ctx, tx, userID, nowStr); err != nil {
		return err
	}

	for i := range turns {
		if turns[i].ID != "" {
			res, err := tx.ExecContext(ctx,
				"UPDATE messages SET role = ?, content = ?, content_length = ? WHERE id = ? AND user_id = ?",
				string(turns[i].Role), turns[i].Content, len(turns[i].Content), turns[i].ID, userID,
			)
			if err != nil {
				return fmt.Errorf("sqlite: update turn: %w", err)
			}
			if n, err := res.RowsAffected(); err == nil && n > 0 {
				continue
			}
		} else {
			turns[i].ID = uuid.NewString()
		}

		if turns[i].CreatedAt.IsZero() {
			turns[i].CreatedAt = now
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, user_id, role, content, content_length, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			turns[i].ID, userID, string(turns[i].Role), turns[i].Content,
			len(turns[i].Content), turns[i].CreatedAt.UTC().Format(TimeLayout),
		); err != nil {
			return fmt.Errorf("sqlite: insert turn: %w", err)
		}
	}

	if err := s.trimTx(ctx, tx, userID, nowStr); err != nil {
		return err
	}

	if err := touchUser(ctx, tx, userID, nowStr); err != nil {
		return err
	}

	return tx.Commit()
}

// trimTx applies retention trimming inside an open transaction.
func (s *Store) trimTx(ctx context.Context, tx *sql.Tx, userID int64, nowStr string) error {
	var limit int
	err := tx.QueryRowContext(ctx,
		"SELECT max_history_messages FROM user_settings WHERE user_id = ?", userID,
	).Scan(&limit)
	if errors.Is(err, sql.ErrNoRows) {
		limit = s.maxHistory
	} else if err != nil {
		return fmt.Errorf("sqlite: read retention limit: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, role, content, created_at
		FROM messages
		WHERE user_id = ? AND deleted_at IS NULL
		ORDER BY created_at ASC, rowid ASC`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: load active turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var active []history.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return err
		}
		active = append(active, t)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: active turns rows: %w", err)
	}

	for _, id := range history.RetentionOverflow(active, limit) {
		if _, err := tx.ExecContext(ctx,
			"UPDATE messages SET deleted_at = ? WHERE id = ?", nowStr, id,
		); err != nil {
			return fmt.Errorf("sqlite: trim turn: %w", err)
		}
	}
	return nil
}

// Clear soft-deletes all active turns for the user.
func (s *Store) Clear(ctx context.Context, userID int64) (err error) {
	nowStr := s.now().UTC().Format(TimeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin clear tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.ensureUser(ctx, tx, userID, nowStr); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE messages SET deleted_at = ? WHERE user_id = ? AND deleted_at IS NULL",
		nowStr, userID,
	); err != nil {
		return fmt.Errorf("sqlite: clear turns: %w", err)
	}

	if err := touchUser(ctx, tx, userID, nowStr); err != nil {
		return err
	}

	return tx.Commit()
}

// SystemPrompt returns the user's custom prompt, if any.
func (s *Store) SystemPrompt(ctx context.Context, userID int64) (string, bool, error) {
	var prompt sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT system_prompt FROM user_settings WHERE user_id = ?", userID,
	).Scan(&prompt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite: read system prompt: %w", err)
	}
	return prompt.String, prompt.Valid, nil
}

// SetSystemPrompt resets the conversation: all active turns are
// soft-deleted, the settings row records the new prompt, and a fresh
// system turn becomes the sole active turn.
func (s *Store) SetSystemPrompt(ctx context.Context, userID int64, prompt string) (err error) {
	now := s.now().UTC()
	nowStr := now.Format(TimeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin prompt tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.ensureUser(ctx, tx, userID, nowStr); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE messages SET deleted_at = ? WHERE user_id = ? AND deleted_at IS NULL",
		nowStr, userID,
	); err != nil {
		return fmt.Errorf("sqlite: reset turns: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE user_settings SET system_prompt = ?, updated_at = ? WHERE user_id = ?",
		prompt, nowStr, userID,
	); err != nil {
		return fmt.Errorf("sqlite: update system prompt: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, user_id, role, content, content_length, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), userID, string(history.RoleSystem), prompt, len(prompt), nowStr,
	); err != nil {
		return fmt.Errorf("sqlite: insert system turn: %w", err)
	}

	if err := touchUser(ctx, tx, userID, nowStr); err != nil {
		return err
	}

	return tx.Commit()
}

// DialogInfo summarises the user's conversation.
func (s *Store) DialogInfo(ctx context.Context, userID int64) (history.DialogInfo, error) {
	var info history.DialogInfo

	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE user_id = ? AND deleted_at IS NULL", userID,
	).Scan(&info.MessageCount)
	if err != nil {
		return history.DialogInfo{}, fmt.Errorf("sqlite: count turns: %w", err)
	}

	var prompt sql.NullString
	var updatedAt string
	err = s.db.QueryRowContext(ctx, `
		SELECT s.system_prompt, u.updated_at
		FROM users u LEFT JOIN user_settings s ON s.user_id = u.id
		WHERE u.id = ?`, userID,
	).Scan(&prompt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return info, nil
	}
	if err != nil {
		return history.DialogInfo{}, fmt.Errorf("sqlite: read dialog info: %w", err)
	}

	info.SystemPrompt = prompt.String
	if ts, err := time.Parse(TimeLayout, updatedAt); err == nil {
		info.UpdatedAt = ts
	}
	return info, nil
}

// PurgeDeleted physically removes soft-deleted rows older than cutoff.
// Housekeeping only; core operations never delete rows.
func (s *Store) PurgeDeleted(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM messages WHERE deleted_at IS NOT NULL AND deleted_at < ?",
		cutoff.UTC().Format(TimeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge deleted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge rows affected: %w", err)
	}
	return n, nil
}

// touchUser bumps the user's updated_at inside an open transaction.
func touchUser(ctx context.Context, tx *sql.Tx, userID int64, nowStr string) error {
	if _, err := tx.ExecContext(ctx,
		"UPDATE users SET updated_at = ? WHERE id = ?", nowStr, userID,
	); err != nil {
		return fmt.Errorf("sqlite: touch user: %w", err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanTurn(sc scanner) (history.Turn, error) {
	var (
		t       history.Turn
		role    string
		created string
	)
	if err := sc.Scan(&t.ID, &role, &t.Content, &created); err != nil {
		return t, fmt.Errorf("sqlite: scan turn: %w", err)
	}
	t.Role = history.Role(role)
	if ts, err := time.Parse(TimeLayout, created); err == nil {
		t.CreatedAt = ts
	}
	return t, nil
}
