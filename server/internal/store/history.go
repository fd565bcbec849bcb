package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// History is an append-only SQLite log of received batches.
type History struct {
	db *sql.DB
}

// OpenHistory opens (creating if needed) the history database at path.
func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS batches (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_id TEXT NOT NULL,
			device TEXT NOT NULL,
			events TEXT NOT NULL,
			size INTEGER NOT NULL,
			duplicate INTEGER NOT NULL,
			received_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_batches_received ON batches(received_at);
		CREATE INDEX IF NOT EXISTS idx_batches_device ON batches(device, received_at);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: init schema: %w", err)
	}
	return &History{db: db}, nil
}

// Append writes b to the log.
func (h *History) Append(ctx context.Context, b Batch) error {
	events, err := json.Marshal(b.Events)
	if err != nil {
		return fmt.Errorf("history: marshal events: %w", err)
	}
	_, err = h.db.ExecContext(ctx,
		`INSERT INTO batches (batch_id, device, events, size, duplicate, received_at) VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.Device, string(events), len(b.Events), b.Duplicate, b.ReceivedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

// Query returns up to limit batches received at or after since, newest
// first. An empty device matches all devices.
func (h *History) Query(ctx context.Context, device string, since time.Time, limit int) ([]Batch, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT batch_id, device, events, duplicate, received_at
		FROM batches
		WHERE received_at >= ? AND (? = '' OR device = ?)
		ORDER BY received_at DESC, seq DESC
		LIMIT ?
	`, since.UnixMilli(), device, device, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		var (
			b      Batch
			events string
			millis int64
		)
		if err := rows.Scan(&b.ID, &b.Device, &events, &b.Duplicate, &millis); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(events), &b.Events); err != nil {
			return nil, fmt.Errorf("history: decode events of %s: %w", b.ID, err)
		}
		b.ReceivedAt = time.UnixMilli(millis).UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

// Prune deletes rows received before cutoff and returns how many were removed.
func (h *History) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := h.db.ExecContext(ctx, `DELETE FROM batches WHERE received_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}
