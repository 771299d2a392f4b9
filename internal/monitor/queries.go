package monitor

import (
	"context"
	"errors"

	"meshmon/internal/connectors"
	"meshmon/internal/domain"
	"meshmon/internal/persistence"
	"meshmon/internal/radio"
	"meshmon/internal/stats"
	"meshmon/internal/status"
	"meshmon/internal/transport"
)

// ErrStoreDisabled is returned by history queries when the pipeline
// runs without a durable store.
var ErrStoreDisabled = errors.New("durable store is disabled")

// ConnectionState returns the most recent connection status snapshot.
func (p *Pipeline) ConnectionState() connectors.ConnStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connStatus
}

// LiveMessages returns the in-memory message ring, oldest first. A
// negative channel returns all channels.
func (p *Pipeline) LiveMessages(channel int) []domain.Packet {
	if channel < 0 {
		return p.live.Snapshot()
	}
	return p.live.SnapshotChannel(channel)
}

// Nodes returns a sorted snapshot of one node class.
func (p *Pipeline) Nodes(class domain.NodeClass, key domain.NodeSortKey) []domain.Node {
	if class == domain.NodeObserved {
		return p.registry.Observed(key)
	}
	return p.registry.Direct(key)
}

// NodeCounts returns the sizes of the direct and observed-only sets.
func (p *Pipeline) NodeCounts() (direct, observed int) {
	return p.registry.Counts()
}

// Channels returns the last decoded channel table.
func (p *Pipeline) Channels() []domain.ChannelInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.ChannelInfo, len(p.channels))
	copy(out, p.channels)
	return out
}

// LocalNodeID returns the local node id, or empty before the handshake.
func (p *Pipeline) LocalNodeID() string {
	return p.supervisor.LocalNodeID()
}

// SendText queues an outbound text message through the supervisor.
func (p *Pipeline) SendText(to string, channel int, text string) <-chan radio.SendResult {
	return p.supervisor.SendText(to, channel, text)
}

// UpdateTarget swaps the mesh transport at runtime.
func (p *Pipeline) UpdateTarget(tr transport.Transport) {
	p.supervisor.UpdateTarget(tr)
}

// Messages queries the durable message log.
func (p *Pipeline) Messages(ctx context.Context, q persistence.MessageQuery) ([]persistence.PersistedMessage, error) {
	if p.store == nil {
		return nil, ErrStoreDisabled
	}
	return p.store.Messages.List(ctx, q)
}

// NodeHistory queries the per-node signal history.
func (p *Pipeline) NodeHistory(ctx context.Context, q persistence.HistoryQuery) ([]persistence.NodeHistorySample, error) {
	if p.store == nil {
		return nil, ErrStoreDisabled
	}
	return p.store.NodeHistory.List(ctx, q)
}

// Stats returns the aggregate summary for the trailing window. The
// writer queue's drop counter is folded in at read time so it reflects
// the running process, not only persisted increments.
// Stats summarizes traffic over the requested trailing window.
// A windowHours of zero or less falls back to the configured default.
func (p *Pipeline) Stats(ctx context.Context, windowHours int) (stats.Summary, error) {
	if windowHours <= 0 {
		windowHours = p.opts.StatsWindowHours
	}
	if p.statsEng == nil {
		return stats.Summary{WindowHours: windowHours, Counters: map[string]int64{}}, nil
	}
	s, err := p.statsEng.Summary(ctx, windowHours)
	if err != nil {
		return stats.Summary{}, err
	}
	if p.writer != nil {
		if dropped := p.writer.Dropped(); dropped > 0 {
			// Copy before mutating: the engine caches and shares summaries.
			counters := make(map[string]int64, len(s.Counters)+1)
			for k, v := range s.Counters {
				counters[k] = v
			}
			counters[persistence.CounterWritesDropped] = dropped
			s.Counters = counters
		}
	}
	return s, nil
}

// Status returns the cached device status report.
func (p *Pipeline) Status(ctx context.Context) status.Result {
	if p.statusCch == nil {
		return status.Result{Err: errors.New("status endpoint not configured")}
	}
	return p.statusCch.Get(ctx)
}
