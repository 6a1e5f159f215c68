package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/supervisor"
)

const crashColumns = `id, crashed_at, pid, entry, exit_code, signal, restart_count, restart_delay_ms, stderr_tail`

// CrashRepository implements supervisor.CrashStore using SQLite.
type CrashRepository struct {
	db *sql.DB
}

var _ supervisor.CrashStore = (*CrashRepository)(nil)

func newCrashRepository(db *sql.DB) *CrashRepository {
	return &CrashRepository{db: db}
}

// RecordCrash stores one crash.
func (r *CrashRepository) RecordCrash(ctx context.Context, rec supervisor.CrashRecord) error {
	m := toCrashModel(rec)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO crashes (crashed_at, pid, entry, exit_code, signal, restart_count, restart_delay_ms, stderr_tail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.CrashedAt, m.PID, m.Entry, m.ExitCode, m.Signal, m.RestartCount, m.RestartDelayMs, m.StderrTail,
	)
	if err != nil {
		return fmt.Errorf("failed to insert crash: %w", err)
	}
	return nil
}

// List returns up to limit crashes, newest first.
func (r *CrashRepository) List(ctx context.Context, limit int) ([]supervisor.CrashRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+crashColumns+` FROM crashes ORDER BY crashed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list crashes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	crashes := []supervisor.CrashRecord{}
	for rows.Next() {
		var m CrashModel
		if err := rows.Scan(&m.ID, &m.CrashedAt, &m.PID, &m.Entry, &m.ExitCode, &m.Signal,
			&m.RestartCount, &m.RestartDelayMs, &m.StderrTail); err != nil {
			return nil, fmt.Errorf("failed to scan crash: %w", err)
		}
		crashes = append(crashes, m.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate crashes: %w", err)
	}
	return crashes, nil
}

// CountSince returns how many crashes happened at or after since.
func (r *CrashRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM crashes WHERE crashed_at >= ?`, since.UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count crashes: %w", err)
	}
	return n, nil
}

// Prune deletes crashes older than before and reports how many went.
func (r *CrashRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM crashes WHERE crashed_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune crashes: %w", err)
	}
	return result.RowsAffected()
}
