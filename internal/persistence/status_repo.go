package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// StatusSample is one compact snapshot of the device status report.
type StatusSample struct {
	TS             int64
	BatteryPercent *float64
	ChannelUtil    *float64
	AirUtilTx      *float64
	WifiRSSI       *int
	WifiIP         string
	HeapFree       *int64
	FSFree         *int64
}

type StatusRepo struct {
	db *sql.DB
}

func NewStatusRepo(db *sql.DB) *StatusRepo {
	return &StatusRepo{db: db}
}

func (r *StatusRepo) Insert(ctx context.Context, s StatusSample) error {
	var heap, fs any
	if s.HeapFree != nil {
		heap = *s.HeapFree
	}
	if s.FSFree != nil {
		fs = *s.FSFree
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO status_history(ts, battery_percent, channel_utilization, air_util_tx, wifi_rssi, wifi_ip, heap_free, fs_free)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
	`, s.TS, nullableFloat(s.BatteryPercent), nullableFloat(s.ChannelUtil), nullableFloat(s.AirUtilTx),
		nullableInt(s.WifiRSSI), nullableString(s.WifiIP), heap, fs)
	if err != nil {
		return fmt.Errorf("insert status sample: %w", err)
	}
	return nil
}

func (r *StatusRepo) List(ctx context.Context, limit int, order string) ([]StatusSample, error) {
	query := `
		SELECT ts, battery_percent, channel_utilization, air_util_tx, wifi_rssi, wifi_ip, heap_free, fs_free
		FROM status_history
		ORDER BY ts ` + orderDir(order)
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list status samples: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []StatusSample
	for rows.Next() {
		var (
			s       StatusSample
			battery sql.NullFloat64
			chUtil  sql.NullFloat64
			txUtil  sql.NullFloat64
			rssi    sql.NullInt64
			ip      sql.NullString
			heap    sql.NullInt64
			fs      sql.NullInt64
		)
		if err := rows.Scan(&s.TS, &battery, &chUtil, &txUtil, &rssi, &ip, &heap, &fs); err != nil {
			return nil, fmt.Errorf("scan status sample: %w", err)
		}
		s.BatteryPercent = floatPtr(battery)
		s.ChannelUtil = floatPtr(chUtil)
		s.AirUtilTx = floatPtr(txUtil)
		s.WifiRSSI = intPtr(rssi)
		s.WifiIP = ip.String
		if heap.Valid {
			v := heap.Int64
			s.HeapFree = &v
		}
		if fs.Valid {
			v := fs.Int64
			s.FSFree = &v
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status samples: %w", err)
	}
	return out, nil
}
