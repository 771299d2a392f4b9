package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"meshmon/internal/domain"
)

// NodeHistorySample is one periodic snapshot of a node's quality
// fields. Samples are written on a timer and never mutated.
type NodeHistorySample struct {
	NodeID   string
	TS       int64
	SNR      *float64
	Quality  string
	HopsAway *int
	AgeSec   *int64
}

func SampleFromNode(n domain.Node, ts int64) NodeHistorySample {
	s := NodeHistorySample{
		NodeID:   n.NodeID,
		TS:       ts,
		SNR:      n.SNR,
		HopsAway: n.HopsAway,
	}
	if q := n.Quality(); q != domain.QualityUnknown {
		s.Quality = q.String()
	}
	if age := n.AgeSec(timeFromEpoch(ts)); age >= 0 {
		s.AgeSec = &age
	}
	return s
}

type NodeHistoryRepo struct {
	db *sql.DB
}

func NewNodeHistoryRepo(db *sql.DB) *NodeHistoryRepo {
	return &NodeHistoryRepo{db: db}
}

func (r *NodeHistoryRepo) Insert(ctx context.Context, s NodeHistorySample) error {
	var age any
	if s.AgeSec != nil {
		age = *s.AgeSec
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO node_history(node_id, ts, snr, quality, hops_away, age_sec)
		VALUES(?, ?, ?, ?, ?, ?)
	`, s.NodeID, s.TS, nullableFloat(s.SNR), nullableString(s.Quality), nullableInt(s.HopsAway), age)
	if err != nil {
		return fmt.Errorf("insert node history sample: %w", err)
	}
	return nil
}

// HistoryQuery selects node history samples. NodeID empty means all
// nodes; Since 0 means unbounded.
type HistoryQuery struct {
	NodeID string
	Since  int64
	Limit  int
	Order  string
}

func (r *NodeHistoryRepo) List(ctx context.Context, q HistoryQuery) ([]NodeHistorySample, error) {
	query := `SELECT node_id, ts, snr, quality, hops_away, age_sec FROM node_history WHERE 1=1`
	args := make([]any, 0, 3)
	if q.NodeID != "" {
		query += ` AND node_id = ?`
		args = append(args, q.NodeID)
	}
	if q.Since > 0 {
		query += ` AND ts >= ?`
		args = append(args, q.Since)
	}
	query += ` ORDER BY ts ` + orderDir(q.Order)
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list node history: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []NodeHistorySample
	for rows.Next() {
		var (
			s       NodeHistorySample
			snr     sql.NullFloat64
			quality sql.NullString
			hops    sql.NullInt64
			age     sql.NullInt64
		)
		if err := rows.Scan(&s.NodeID, &s.TS, &snr, &quality, &hops, &age); err != nil {
			return nil, fmt.Errorf("scan node history sample: %w", err)
		}
		s.SNR = floatPtr(snr)
		s.Quality = quality.String
		s.HopsAway = intPtr(hops)
		if age.Valid {
			v := age.Int64
			s.AgeSec = &v
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate node history: %w", err)
	}
	return out, nil
}

// VisibleSampleCounts returns, per node, how many history samples fall
// inside [since, until]. The stats engine turns these into visibility
// durations.
func (r *NodeHistoryRepo) VisibleSampleCounts(ctx context.Context, since, until int64) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT node_id, COUNT(*)
		FROM node_history
		WHERE ts >= ? AND ts <= ?
		GROUP BY node_id
	`, since, until)
	if err != nil {
		return nil, fmt.Errorf("count node history samples: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	out := make(map[string]int)
	for rows.Next() {
		var (
			nodeID string
			count  int
		)
		if err := rows.Scan(&nodeID, &count); err != nil {
			return nil, fmt.Errorf("scan node history count: %w", err)
		}
		out[nodeID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate node history counts: %w", err)
	}
	return out, nil
}
