package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/tools"
)

// MemoryRepository implements tools.MemoryStore using SQLite.
type MemoryRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ tools.MemoryStore = (*MemoryRepository)(nil)

func newMemoryRepository(db *sql.DB) *MemoryRepository {
	return &MemoryRepository{db: db, now: time.Now}
}

// Get returns the value stored under key, and false if there is none.
func (r *MemoryRepository) Get(ctx context.Context, conversationID, key string) (json.RawMessage, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM memory WHERE conversation_id = ? AND key = ?`,
		conversationID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get memory value: %w", err)
	}
	return json.RawMessage(value), true, nil
}

// Put inserts or replaces the value stored under key.
func (r *MemoryRepository) Put(ctx context.Context, conversationID, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return fmt.Errorf("memory value for %q is not valid JSON", key)
	}
	now := r.now().UnixMilli()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO memory (conversation_id, key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		conversationID, key, string(value), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to put memory value: %w", err)
	}
	return nil
}

// AppendEvent adds an event to the conversation's log and returns its id.
func (r *MemoryRepository) AppendEvent(ctx context.Context, conversationID, kind string, data json.RawMessage) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO memory_events (conversation_id, kind, data, created_at) VALUES (?, ?, ?, ?)`,
		conversationID, kind, nullableJSON(data), r.now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append memory event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return id, nil
}

// Events returns up to limit events for the conversation, newest first.
func (r *MemoryRepository) Events(ctx context.Context, conversationID string, limit int) ([]tools.MemoryEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, conversation_id, kind, data, created_at FROM memory_events
		WHERE conversation_id = ? ORDER BY id DESC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []tools.MemoryEvent{}
	for rows.Next() {
		var m MemoryEventModel
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Kind, &m.Data, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory event: %w", err)
		}
		events = append(events, m.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memory events: %w", err)
	}
	return events, nil
}

// Forget deletes every value and event of a conversation.
func (r *MemoryRepository) Forget(ctx context.Context, conversationID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("failed to delete memory values: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_events WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("failed to delete memory events: %w", err)
	}
	return tx.Commit()
}
