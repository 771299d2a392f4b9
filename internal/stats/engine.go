package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"meshmon/internal/persistence"
)

const (
	DefaultWindowHours = 24
	DefaultCacheTTL    = 5 * time.Second
	defaultTopLimit    = 8
	defaultEventLimit  = 12
	requestListLimit   = 50
)

// HourBucket is one hour of message counts. Hour is the bucket start in
// epoch seconds.
type HourBucket struct {
	Hour        int64
	Messages    int64
	WithText    int64
	WithPayload int64
}

// AppCount aggregates one application type over the window.
type AppCount struct {
	App      string
	Total    int64
	Requests int64
}

// RequestInfo is one request addressed to the local node.
type RequestInfo struct {
	App    string
	FromID string
	ToID   string
	RxTime int64
}

// NodeVisibility reports how much of the window a node was visible.
type NodeVisibility struct {
	NodeID         string
	SecondsVisible int64
	Percent        float64
}

// Summary is the full aggregate view over one trailing window. It is
// derived entirely from the durable store; a disabled store yields a
// zero-valued Summary, never an error.
type Summary struct {
	GeneratedAt      int64
	WindowHours      int
	StoreEnabled     bool
	Counters         map[string]int64
	MessagesLastHour int64
	MessagesWindow   int64
	Hourly           []HourBucket
	Apps             []AppCount
	RequestsToMe     []RequestInfo
	TopFrom          []persistence.TopTalker
	TopTo            []persistence.TopTalker
	Visibility       []NodeVisibility
	RecentEvents     []persistence.Event
}

type cachedSummary struct {
	summary   Summary
	fetchedAt time.Time
}

// Engine recomputes aggregates from the durable store on demand, with a
// short per-window result cache to bound query cost under polling.
type Engine struct {
	logger         *slog.Logger
	store          *persistence.Store
	sampleInterval time.Duration
	ttl            time.Duration
	now            func() time.Time

	mu    sync.Mutex
	cache map[int]cachedSummary
}

func NewEngine(logger *slog.Logger, store *persistence.Store, sampleInterval, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Engine{
		logger:         logger,
		store:          store,
		sampleInterval: sampleInterval,
		ttl:            ttl,
		now:            time.Now,
		cache:          make(map[int]cachedSummary),
	}
}

// Summary computes (or serves from cache) the aggregate view for the
// trailing window of the given number of hours.
func (e *Engine) Summary(ctx context.Context, windowHours int) (Summary, error) {
	if windowHours <= 0 {
		windowHours = DefaultWindowHours
	}

	e.mu.Lock()
	if c, ok := e.cache[windowHours]; ok && e.now().Sub(c.fetchedAt) < e.ttl {
		e.mu.Unlock()
		return c.summary, nil
	}
	e.mu.Unlock()

	s, err := e.compute(ctx, windowHours)
	if err != nil {
		return Summary{}, err
	}

	e.mu.Lock()
	e.cache[windowHours] = cachedSummary{summary: s, fetchedAt: e.now()}
	e.mu.Unlock()

	return s, nil
}

func (e *Engine) compute(ctx context.Context, windowHours int) (Summary, error) {
	now := e.now().Unix()
	s := Summary{
		GeneratedAt: now,
		WindowHours: windowHours,
		Counters:    map[string]int64{},
	}
	if e.store == nil {
		return s, nil
	}
	s.StoreEnabled = true

	since := now - int64(windowHours)*3600
	since1h := now - 3600

	counters, err := e.store.Counters.All(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load counters: %w", err)
	}
	s.Counters = counters

	if s.Hourly, err = e.hourly(ctx, since); err != nil {
		return Summary{}, err
	}
	for _, h := range s.Hourly {
		s.MessagesWindow += h.Messages
	}
	if err := e.store.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE rx_time >= ?
	`, since1h).Scan(&s.MessagesLastHour); err != nil {
		return Summary{}, fmt.Errorf("count last hour messages: %w", err)
	}

	if s.Apps, err = e.appCounts(ctx, since); err != nil {
		return Summary{}, err
	}
	if s.RequestsToMe, err = e.requestsToMe(ctx, since); err != nil {
		return Summary{}, err
	}
	if s.TopFrom, err = e.store.NodeCounts.TopTalkers(ctx, "from", since, defaultTopLimit); err != nil {
		return Summary{}, fmt.Errorf("top from: %w", err)
	}
	if s.TopTo, err = e.store.NodeCounts.TopTalkers(ctx, "to", since, defaultTopLimit); err != nil {
		return Summary{}, fmt.Errorf("top to: %w", err)
	}
	if s.Visibility, err = e.visibility(ctx, since, now); err != nil {
		return Summary{}, err
	}
	if s.RecentEvents, err = e.store.Events.Recent(ctx, defaultEventLimit); err != nil {
		return Summary{}, fmt.Errorf("recent events: %w", err)
	}

	return s, nil
}

func (e *Engine) hourly(ctx context.Context, since int64) ([]HourBucket, error) {
	rows, err := e.store.DB.QueryContext(ctx, `
		SELECT (rx_time / 3600) * 3600 AS hour,
			COUNT(*),
			SUM(CASE WHEN text IS NOT NULL AND text != '' THEN 1 ELSE 0 END),
			SUM(CASE WHEN payload_b64 IS NOT NULL AND payload_b64 != '' THEN 1 ELSE 0 END)
		FROM messages
		WHERE rx_time >= ?
		GROUP BY hour
		ORDER BY hour ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("hourly buckets: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []HourBucket
	for rows.Next() {
		var b HourBucket
		if err := rows.Scan(&b.Hour, &b.Messages, &b.WithText, &b.WithPayload); err != nil {
			return nil, fmt.Errorf("scan hour bucket: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hour buckets: %w", err)
	}
	return out, nil
}

func (e *Engine) appCounts(ctx context.Context, since int64) ([]AppCount, error) {
	rows, err := e.store.DB.QueryContext(ctx, `
		SELECT
			CASE
				WHEN app IS NOT NULL AND app != '' THEN app
				WHEN portnum IS NOT NULL THEN 'PORT_' || portnum
				ELSE 'UNKNOWN'
			END AS app_name,
			COUNT(*),
			SUM(request_to_me)
		FROM messages
		WHERE rx_time >= ? AND error IS NULL
		GROUP BY app_name
		ORDER BY COUNT(*) DESC, app_name ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("app counts: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []AppCount
	for rows.Next() {
		var a AppCount
		if err := rows.Scan(&a.App, &a.Total, &a.Requests); err != nil {
			return nil, fmt.Errorf("scan app count: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate app counts: %w", err)
	}
	return out, nil
}

func (e *Engine) requestsToMe(ctx context.Context, since int64) ([]RequestInfo, error) {
	rows, err := e.store.DB.QueryContext(ctx, `
		SELECT
			CASE
				WHEN app IS NOT NULL AND app != '' THEN app
				WHEN portnum IS NOT NULL THEN 'PORT_' || portnum
				ELSE 'UNKNOWN'
			END,
			COALESCE(from_id, ''), COALESCE(to_id, ''), rx_time
		FROM messages
		WHERE rx_time >= ? AND request_to_me = 1
		ORDER BY rx_time DESC, seq DESC
		LIMIT ?
	`, since, requestListLimit)
	if err != nil {
		return nil, fmt.Errorf("requests to me: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []RequestInfo
	for rows.Next() {
		var r RequestInfo
		if err := rows.Scan(&r.App, &r.FromID, &r.ToID, &r.RxTime); err != nil {
			return nil, fmt.Errorf("scan request info: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return out, nil
}

func (e *Engine) visibility(ctx context.Context, since, until int64) ([]NodeVisibility, error) {
	if e.sampleInterval <= 0 {
		return nil, nil
	}
	counts, err := e.store.NodeHistory.VisibleSampleCounts(ctx, since, until)
	if err != nil {
		return nil, err
	}

	windowSec := until - since
	out := make([]NodeVisibility, 0, len(counts))
	for nodeID, n := range counts {
		visible := int64(n) * int64(e.sampleInterval/time.Second)
		if visible > windowSec {
			visible = windowSec
		}
		pct := 0.0
		if windowSec > 0 {
			pct = float64(visible) / float64(windowSec) * 100
		}
		out = append(out, NodeVisibility{NodeID: nodeID, SecondsVisible: visible, Percent: pct})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SecondsVisible != out[j].SecondsVisible {
			return out[i].SecondsVisible > out[j].SecondsVisible
		}
		return out[i].NodeID < out[j].NodeID
	})
	return out, nil
}
