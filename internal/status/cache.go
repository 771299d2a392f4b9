package status

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultCacheTTL   = 5 * time.Second
	DefaultStaleGrace = 60 * time.Second

	defaultHTTPTimeout = 5 * time.Second
	maxReportBody      = 1 << 20
)

// Report is one device status document. Fields absent from the device
// response stay nil.
type Report struct {
	FetchedAt          int64
	BatteryPercent     *float64
	ChannelUtilization *float64
	AirUtilTx          *float64
	WifiRSSI           *float64
	WifiIP             *string
	HeapFree           *int64
	FSFree             *int64
	Raw                map[string]any
}

// Fetcher retrieves a fresh status report from the device.
type Fetcher interface {
	Fetch(ctx context.Context) (Report, error)
}

// HTTPFetcher reads the device's JSON report endpoint.
type HTTPFetcher struct {
	logger *slog.Logger
	url    string
	client *http.Client
}

func NewHTTPFetcher(logger *slog.Logger, host string, port int) *HTTPFetcher {
	url := fmt.Sprintf("http://%s/json/report", host)
	if port > 0 && port != 80 {
		url = fmt.Sprintf("http://%s:%d/json/report", host, port)
	}
	return &HTTPFetcher{
		logger: logger,
		url:    url,
		client: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context) (Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return Report{}, fmt.Errorf("build report request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Report{}, fmt.Errorf("fetch report: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return Report{}, fmt.Errorf("fetch report: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReportBody))
	if err != nil {
		return Report{}, fmt.Errorf("read report body: %w", err)
	}

	var doc struct {
		Status string         `json:"status"`
		Data   map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return Report{}, fmt.Errorf("decode report: %w", err)
	}
	if doc.Status != "ok" {
		return Report{}, fmt.Errorf("device report status %q", doc.Status)
	}

	return reportFromData(doc.Data, time.Now().Unix()), nil
}

func reportFromData(data map[string]any, at int64) Report {
	r := Report{FetchedAt: at, Raw: data}
	if data == nil {
		return r
	}
	if v, ok := lookupFloat(data, "power", "battery_percent"); ok {
		r.BatteryPercent = &v
	}
	if v, ok := lookupFloat(data, "airtime", "channel_utilization"); ok {
		r.ChannelUtilization = &v
	}
	if v, ok := lookupFloat(data, "airtime", "utilization_tx"); ok {
		r.AirUtilTx = &v
	}
	if v, ok := lookupFloat(data, "wifi", "rssi"); ok {
		r.WifiRSSI = &v
	}
	if s, ok := lookupString(data, "wifi", "ip"); ok {
		r.WifiIP = &s
	}
	if v, ok := lookupFloat(data, "memory", "heap_free"); ok {
		n := int64(v)
		r.HeapFree = &n
	}
	if v, ok := lookupFloat(data, "memory", "fs_free"); ok {
		n := int64(v)
		r.FSFree = &n
	}
	return r
}

// lookupFloat reads data[section][key] if section is an object, falling
// back to the flat data[key]. Device firmware differs on nesting here.
func lookupFloat(data map[string]any, section, key string) (float64, bool) {
	if sub, ok := data[section].(map[string]any); ok {
		if v, ok := sub[key].(float64); ok {
			return v, true
		}
	}
	if v, ok := data[key].(float64); ok {
		return v, true
	}
	return 0, false
}

func lookupString(data map[string]any, section, key string) (string, bool) {
	if sub, ok := data[section].(map[string]any); ok {
		if s, ok := sub[key].(string); ok {
			return s, true
		}
	}
	if s, ok := data[key].(string); ok {
		return s, true
	}
	return "", false
}

// Result is what the cache hands out: the best report it has plus the
// error from the most recent fetch attempt, if any. Stale reports keep
// serving through transient fetch failures until the grace window runs
// out.
type Result struct {
	Report Report
	Stale  bool
	Err    error
}

// Cache deduplicates concurrent fetches and serves reports for a TTL.
type Cache struct {
	logger  *slog.Logger
	fetcher Fetcher
	ttl     time.Duration
	grace   time.Duration
	now     func() time.Time

	group singleflight.Group

	mu        sync.Mutex
	have      bool
	report    Report
	fetchedAt time.Time
	lastErr   error
}

func NewCache(logger *slog.Logger, fetcher Fetcher, ttl, grace time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if grace <= 0 {
		grace = DefaultStaleGrace
	}
	return &Cache{
		logger:  logger,
		fetcher: fetcher,
		ttl:     ttl,
		grace:   grace,
		now:     time.Now,
	}
}

// Get returns the cached report when fresh, otherwise fetches. Concurrent
// callers share a single in-flight fetch. On fetch failure the previous
// report is served as stale until it ages past ttl+grace.
func (c *Cache) Get(ctx context.Context) Result {
	c.mu.Lock()
	if c.have && c.now().Sub(c.fetchedAt) < c.ttl {
		r := Result{Report: c.report}
		c.mu.Unlock()
		return r
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("report", func() (any, error) {
		// Re-check under the flight: a just-finished fetch may have
		// refreshed the cache while this caller was queued.
		c.mu.Lock()
		if c.have && c.now().Sub(c.fetchedAt) < c.ttl {
			r := c.report
			c.mu.Unlock()
			return r, nil
		}
		c.mu.Unlock()

		report, err := c.fetcher.Fetch(ctx)
		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			c.lastErr = err
			return Report{}, err
		}
		c.have = true
		c.report = report
		c.fetchedAt = c.now()
		c.lastErr = nil
		return report, nil
	})
	if err == nil {
		return Result{Report: v.(Report)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.have && c.now().Sub(c.fetchedAt) < c.ttl+c.grace {
		if c.logger != nil {
			c.logger.Warn("Serving stale device report", "error", err)
		}
		return Result{Report: c.report, Stale: true, Err: err}
	}
	return Result{Err: err}
}

// Invalidate drops the cached report, forcing the next Get to fetch.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.have = false
	c.lastErr = nil
}
