package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"meshmon/internal/domain"
)

// NodeCountRow tracks per-node traffic totals and last-seen metadata.
// It doubles as the recovery source for historically observed nodes
// after a restart.
type NodeCountRow struct {
	NodeID    string
	FromCount int64
	ToCount   int64
	LastRx    *int64
	LastSNR   *float64
	LastRSSI  *float64
	ShortName string
	LongName  string
	HopsAway  *int
	LastHeard *int64
}

type NodeCountRepo struct {
	db *sql.DB
}

func NewNodeCountRepo(db *sql.DB) *NodeCountRepo {
	return &NodeCountRepo{db: db}
}

// RecordTraffic bumps the from/to counters for one packet and refreshes
// the sender's last-seen signal sample.
func (r *NodeCountRepo) RecordTraffic(ctx context.Context, p domain.Packet) error {
	if p.FromID != "" {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO node_counts(node_id, from_count, last_rx, last_snr, last_rssi)
			VALUES(?, 1, ?, ?, ?)
			ON CONFLICT(node_id) DO UPDATE SET
				from_count = from_count + 1,
				last_rx = excluded.last_rx,
				last_snr = excluded.last_snr,
				last_rssi = excluded.last_rssi
		`, p.FromID, p.RxTime, nullableFloat(p.SNR), nullableFloat(p.RSSI))
		if err != nil {
			return fmt.Errorf("record from traffic: %w", err)
		}
	}
	if p.ToID != "" && p.ToID != domain.BroadcastID {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO node_counts(node_id, to_count) VALUES(?, 1)
			ON CONFLICT(node_id) DO UPDATE SET to_count = to_count + 1
		`, p.ToID)
		if err != nil {
			return fmt.Errorf("record to traffic: %w", err)
		}
	}
	return nil
}

// UpsertSnapshot merges node-table metadata without erasing traffic
// counters, keeping existing values when the snapshot is sparse.
func (r *NodeCountRepo) UpsertSnapshot(ctx context.Context, nodes []domain.Node) error {
	for _, n := range nodes {
		if n.NodeID == "" {
			continue
		}
		var lastHeard any
		if !n.LastHeardAt.IsZero() {
			lastHeard = timeToEpoch(n.LastHeardAt)
		}
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO node_counts(node_id, short_name, long_name, hops_away, last_heard, last_snr)
			VALUES(?, ?, ?, ?, ?, ?)
			ON CONFLICT(node_id) DO UPDATE SET
				short_name = COALESCE(excluded.short_name, short_name),
				long_name = COALESCE(excluded.long_name, long_name),
				hops_away = COALESCE(excluded.hops_away, hops_away),
				last_heard = COALESCE(excluded.last_heard, last_heard),
				last_snr = COALESCE(excluded.last_snr, last_snr)
		`, n.NodeID, nullableString(n.ShortName), nullableString(n.LongName),
			nullableInt(n.HopsAway), lastHeard, nullableFloat(n.SNR))
		if err != nil {
			return fmt.Errorf("upsert node snapshot: %w", err)
		}
	}
	return nil
}

// KnownNodes returns every node id ever seen in traffic or a snapshot,
// used to rebuild the observed-only registry set at startup.
func (r *NodeCountRepo) KnownNodes(ctx context.Context) ([]NodeCountRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT node_id, from_count, to_count, last_rx, last_snr, last_rssi,
			short_name, long_name, hops_away, last_heard
		FROM node_counts
		WHERE node_id LIKE '!%'
			AND (from_count > 0 OR to_count > 0 OR last_rx IS NOT NULL OR last_heard IS NOT NULL)
	`)
	if err != nil {
		return nil, fmt.Errorf("list known nodes: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []NodeCountRow
	for rows.Next() {
		row, err := scanNodeCount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate known nodes: %w", err)
	}
	return out, nil
}

// TopTalkers returns the busiest nodes by from- or to-count in the
// window, recomputed from messages so results stay derived-on-read.
// Order: count desc, last rx desc, id asc.
type TopTalker struct {
	NodeID   string
	Count    int64
	LastRx   *int64
	LastSNR  *float64
	LastRSSI *float64
}

func (r *NodeCountRepo) TopTalkers(ctx context.Context, kind string, since int64, limit int) ([]TopTalker, error) {
	col := "from_id"
	if kind == "to" {
		col = "to_id"
	}
	if limit <= 0 {
		limit = 8
	}

	query := fmt.Sprintf(`
		SELECT %[1]s AS node_id, COUNT(*) AS cnt, MAX(rx_time) AS last_rx
		FROM messages
		WHERE %[1]s IS NOT NULL AND %[1]s != '' AND rx_time >= ?
		GROUP BY %[1]s
		ORDER BY cnt DESC, last_rx DESC, node_id ASC
		LIMIT ?
	`, col)
	rows, err := r.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list top %s talkers: %w", kind, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []TopTalker
	for rows.Next() {
		var (
			t      TopTalker
			lastRx sql.NullInt64
		)
		if err := rows.Scan(&t.NodeID, &t.Count, &lastRx); err != nil {
			return nil, fmt.Errorf("scan top talker: %w", err)
		}
		if lastRx.Valid {
			v := lastRx.Int64
			t.LastRx = &v
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top talkers: %w", err)
	}

	// Attach the most recent signal sample per node.
	for i := range out {
		row := r.db.QueryRowContext(ctx, `
			SELECT snr, rssi FROM messages
			WHERE from_id = ? AND rx_time >= ?
			ORDER BY seq DESC LIMIT 1
		`, out[i].NodeID, since)
		var snr, rssi sql.NullFloat64
		if err := row.Scan(&snr, &rssi); err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, fmt.Errorf("scan talker signal: %w", err)
		}
		out[i].LastSNR = floatPtr(snr)
		out[i].LastRSSI = floatPtr(rssi)
	}
	return out, nil
}

func scanNodeCount(scanner interface {
	Scan(dest ...any) error
}) (NodeCountRow, error) {
	var (
		row       NodeCountRow
		lastRx    sql.NullInt64
		lastSNR   sql.NullFloat64
		lastRSSI  sql.NullFloat64
		shortName sql.NullString
		longName  sql.NullString
		hopsAway  sql.NullInt64
		lastHeard sql.NullInt64
	)
	err := scanner.Scan(&row.NodeID, &row.FromCount, &row.ToCount, &lastRx, &lastSNR, &lastRSSI,
		&shortName, &longName, &hopsAway, &lastHeard)
	if err != nil {
		return NodeCountRow{}, fmt.Errorf("scan node count row: %w", err)
	}
	if lastRx.Valid {
		v := lastRx.Int64
		row.LastRx = &v
	}
	row.LastSNR = floatPtr(lastSNR)
	row.LastRSSI = floatPtr(lastRSSI)
	row.ShortName = shortName.String
	row.LongName = longName.String
	row.HopsAway = intPtr(hopsAway)
	if lastHeard.Valid {
		v := lastHeard.Int64
		row.LastHeard = &v
	}
	return row, nil
}
