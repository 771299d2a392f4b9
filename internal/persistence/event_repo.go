package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"meshmon/internal/domain"
)

const maxEventDetailLen = 600

// Event is one persisted lifecycle/operational event.
type Event struct {
	ID     int64
	TS     int64
	Event  string
	Detail string
}

type EventRepo struct {
	db *sql.DB
}

func NewEventRepo(db *sql.DB) *EventRepo {
	return &EventRepo{db: db}
}

func (r *EventRepo) Insert(ctx context.Context, ts int64, event, detail string) error {
	detail = domain.ClampText(detail, maxEventDetailLen)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO events(ts, event, detail) VALUES(?, ?, ?)
	`, ts, event, nullableString(detail))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Recent returns the newest events, oldest first for easier reading.
func (r *EventRepo) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 12
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, ts, event, detail FROM events ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []Event
	for rows.Next() {
		var (
			e      Event
			detail sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TS, &e.Event, &detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Detail = detail.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Trim deletes all but the newest keep rows.
func (r *EventRepo) Trim(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM events
		WHERE id NOT IN (SELECT id FROM events ORDER BY id DESC LIMIT ?)
	`, keep)
	if err != nil {
		return fmt.Errorf("trim events: %w", err)
	}
	return nil
}
