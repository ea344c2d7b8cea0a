// Package history keeps a SQLite audit trail of published signals.
//
// Entries are written by a recorder subscribed to the live store and read
// back through the API. History is never replayed into the store; after a
// restart the live state comes from each adapter's resync.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-live/internal/signal"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Entry is one recorded signal snapshot.
type Entry struct {
	ID         int64         `json:"id"`
	Signal     signal.Signal `json:"signal"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// Logger is the logging interface used by the prune loop.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Repository stores signal history in the signal_history table.
//
// Thread Safety:
//   - Safe for concurrent use; serialisation is left to database/sql.
type Repository struct {
	db     *sql.DB
	now    func() time.Time
	logger Logger
}

// NewRepository creates a repository over an open, migrated database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		db:     db,
		now:    func() time.Time { return time.Now().UTC() },
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for prune reports.
func (r *Repository) SetLogger(logger Logger) {
	r.logger = logger
}

// WriteSignal records sig with the current time.
func (r *Repository) WriteSignal(ctx context.Context, sig signal.Signal) error {
	if sig.ID == "" {
		return fmt.Errorf("signal id is required")
	}

	var value *string
	if !sig.Value.IsNull() {
		data, err := json.Marshal(sig.Value)
		if err != nil {
			return fmt.Errorf("marshalling value: %w", err)
		}
		s := string(data)
		value = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO signal_history
		 (signal_id, value, display_value, unit, available, signal_type, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, value, sig.DisplayValue, sig.Unit, sig.Available, string(sig.Type),
		r.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting signal history: %w", err)
	}
	return nil
}

// History returns the newest entries for id, newest first.
// limit defaults to 50 and is capped at 200.
func (r *Repository) History(ctx context.Context, id string, limit int) ([]Entry, error) {
	if id == "" {
		return nil, fmt.Errorf("signal id is required")
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, signal_id, value, display_value, unit, available, signal_type, recorded_at
		 FROM signal_history
		 WHERE signal_id = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		id, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying signal history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e          Entry
			value      sql.NullString
			sigType    string
			recordedAt int64
		)
		if err := rows.Scan(&e.ID, &e.Signal.ID, &value, &e.Signal.DisplayValue, &e.Signal.Unit,
			&e.Signal.Available, &sigType, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning signal history: %w", err)
		}
		if value.Valid {
			if err := json.Unmarshal([]byte(value.String), &e.Signal.Value); err != nil {
				return nil, fmt.Errorf("unmarshalling value: %w", err)
			}
		}
		e.Signal.Type = signal.Type(sigType)
		e.RecordedAt = time.UnixMilli(recordedAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating signal history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than olderThan and returns how many went.
func (r *Repository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := r.now().Add(-olderThan).UnixMilli()
	result, err := r.db.ExecContext(ctx, "DELETE FROM signal_history WHERE recorded_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting signal history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// RunPruner prunes entries older than retention every interval until ctx
// ends. The first prune runs immediately.
func (r *Repository) RunPruner(ctx context.Context, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := r.Prune(ctx, retention)
		switch {
		case err != nil && ctx.Err() == nil:
			r.logger.Warn("signal history prune failed", "error", err)
		case n > 0:
			r.logger.Info("signal history pruned", "deleted", n, "retention", retention.String())
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
