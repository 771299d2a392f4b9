package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// Counter names incremented by the pipeline.
const (
	CounterMessagesTotal   = "messages_total"
	CounterMessagesText    = "messages_text"
	CounterMessagesPayload = "messages_payload"
	CounterSendTotal       = "send_total"
	CounterSendOK          = "send_ok"
	CounterSendError       = "send_error"
	CounterMeshConnect     = "mesh_connect"
	CounterMeshDisconnect  = "mesh_disconnect"
	CounterMeshError       = "mesh_error"
	CounterWritesDropped   = "writes_dropped"
)

type CounterRepo struct {
	db *sql.DB
}

func NewCounterRepo(db *sql.DB) *CounterRepo {
	return &CounterRepo{db: db}
}

// Increment atomically adds delta to the named counter, creating it at
// zero first.
func (r *CounterRepo) Increment(ctx context.Context, name string, delta int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO counters(name, value) VALUES(?, ?)
		ON CONFLICT(name) DO UPDATE SET value = value + excluded.value
	`, name, delta)
	if err != nil {
		return fmt.Errorf("increment counter %q: %w", name, err)
	}
	return nil
}

func (r *CounterRepo) All(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, value FROM counters`)
	if err != nil {
		return nil, fmt.Errorf("list counters: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			name  string
			value int64
		)
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan counter: %w", err)
		}
		out[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counters: %w", err)
	}
	return out, nil
}

// Reset zeroes every counter. Counters never decrease otherwise.
func (r *CounterRepo) Reset(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE counters SET value = 0`); err != nil {
		return fmt.Errorf("reset counters: %w", err)
	}
	return nil
}
