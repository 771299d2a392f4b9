package persistence

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // register sqlite driver
)

func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

// migrations are additive only: new versions append statements, columns
// are never dropped or repurposed, and readers degrade missing columns
// to null.
var migrations = [][]string{
	{
		`CREATE TABLE messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			rx_time INTEGER NOT NULL,
			from_id TEXT,
			to_id TEXT,
			channel INTEGER,
			portnum INTEGER,
			app TEXT,
			text TEXT,
			payload_b64 TEXT,
			snr REAL,
			rssi REAL,
			hop_limit INTEGER,
			request_id INTEGER,
			want_response INTEGER NOT NULL DEFAULT 0,
			request_to_me INTEGER NOT NULL DEFAULT 0,
			error TEXT
		);`,
		`CREATE INDEX idx_messages_rx_time ON messages(rx_time);`,
		`CREATE INDEX idx_messages_from_id ON messages(from_id);`,
		`CREATE TABLE node_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			node_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			snr REAL,
			quality TEXT,
			hops_away INTEGER,
			age_sec INTEGER
		);`,
		`CREATE INDEX idx_node_history_node_ts ON node_history(node_id, ts);`,
		`CREATE TABLE status_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			battery_percent REAL,
			channel_utilization REAL,
			air_util_tx REAL,
			wifi_rssi INTEGER,
			wifi_ip TEXT,
			heap_free INTEGER,
			fs_free INTEGER
		);`,
		`CREATE INDEX idx_status_history_ts ON status_history(ts);`,
		`CREATE TABLE counters (
			name TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);`,
		`CREATE TABLE events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			event TEXT NOT NULL,
			detail TEXT
		);`,
		`CREATE TABLE node_counts (
			node_id TEXT PRIMARY KEY,
			from_count INTEGER NOT NULL DEFAULT 0,
			to_count INTEGER NOT NULL DEFAULT 0,
			last_rx INTEGER,
			last_snr REAL,
			last_rssi REAL,
			short_name TEXT,
			long_name TEXT,
			hops_away INTEGER,
			last_heard INTEGER
		);`,
	},
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for v := version; v < len(migrations); v++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration tx: %w", err)
		}
		for _, stmt := range migrations[v] {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()

				return fmt.Errorf("apply migration %d: %w", v+1, err)
			}
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, v+1)); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("bump schema version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", v+1, err)
		}
	}

	return nil
}
