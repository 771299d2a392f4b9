package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"meshmon/internal/bus"
	"meshmon/internal/connectors"
	"meshmon/internal/domain"
	"meshmon/internal/persistence"
	"meshmon/internal/radio"
	"meshmon/internal/stats"
	"meshmon/internal/status"
)

const (
	DefaultNodeSampleInterval   = time.Minute
	DefaultStatusSampleInterval = time.Minute
	DefaultSweepInterval        = 10 * time.Minute
	DefaultEventTrimKeep        = 5000
	DefaultStatsWindowHours     = 24

	eventTrimInterval = time.Hour
)

// Forwarder receives every normalized packet after local processing.
// Forward errors are logged, never propagated back into ingestion.
type Forwarder interface {
	Name() string
	Forward(ctx context.Context, p domain.Packet) error
}

// SampleEveryObservation disables the node sampling timer and writes a
// history sample for every node-table observation instead.
const SampleEveryObservation = -1

// Options tunes the pipeline's buffers and sampler cadence. Zero values
// pick the defaults; persistence-dependent samplers are skipped when no
// store is attached.
type Options struct {
	LiveCapacity         int
	ObservedTTL          time.Duration
	NodeSampleInterval   time.Duration
	StatusSampleInterval time.Duration
	SweepInterval        time.Duration
	EventTrimKeep        int
	StatsWindowHours     int
}

func (o Options) withDefaults() Options {
	if o.LiveCapacity <= 0 {
		o.LiveCapacity = domain.DefaultLiveBufferCapacity
	}
	if o.ObservedTTL <= 0 {
		o.ObservedTTL = domain.DefaultObservedTTL
	}
	if o.NodeSampleInterval == 0 {
		o.NodeSampleInterval = DefaultNodeSampleInterval
	}
	if o.StatusSampleInterval <= 0 {
		o.StatusSampleInterval = DefaultStatusSampleInterval
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.EventTrimKeep <= 0 {
		o.EventTrimKeep = DefaultEventTrimKeep
	}
	if o.StatsWindowHours <= 0 {
		o.StatsWindowHours = DefaultStatsWindowHours
	}
	return o
}

// Pipeline consumes the supervisor's bus events and maintains every
// derived view: the live message ring, the node registry, the durable
// store projections and the aggregate engine. It is the single entry
// point the command layer talks to.
type Pipeline struct {
	logger     *slog.Logger
	bus        bus.MessageBus
	supervisor *radio.Supervisor
	store      *persistence.Store
	writer     *persistence.WriterQueue
	statsEng   *stats.Engine
	statusCch  *status.Cache
	opts       Options

	live     *domain.LiveBuffer
	registry *domain.NodeRegistry

	mu         sync.RWMutex
	connStatus connectors.ConnStatus
	channels   []domain.ChannelInfo
	forwarders []Forwarder
}

func NewPipeline(
	logger *slog.Logger,
	b bus.MessageBus,
	sup *radio.Supervisor,
	store *persistence.Store,
	writer *persistence.WriterQueue,
	statsEng *stats.Engine,
	statusCache *status.Cache,
	opts Options,
) *Pipeline {
	opts = opts.withDefaults()
	return &Pipeline{
		logger:     logger,
		bus:        b,
		supervisor: sup,
		store:      store,
		writer:     writer,
		statsEng:   statsEng,
		statusCch:  statusCache,
		opts:       opts,
		live:       domain.NewLiveBuffer(opts.LiveCapacity),
		registry:   domain.NewNodeRegistry(opts.ObservedTTL),
		connStatus: connectors.ConnStatus{State: connectors.ConnectionStateDisconnected},
	}
}

// AddForwarder registers a downstream consumer for every normalized
// packet. Must be called before Run.
func (p *Pipeline) AddForwarder(f Forwarder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forwarders = append(p.forwarders, f)
}

// Run blocks consuming bus events until the context is cancelled. It
// also drives the periodic samplers.
func (p *Pipeline) Run(ctx context.Context) {
	p.warmLoad(ctx)

	sub := p.bus.Subscribe(
		connectors.TopicConnStatus,
		connectors.TopicLifecycle,
		connectors.TopicPacket,
		connectors.TopicNodeInfo,
		connectors.TopicLocalNode,
		connectors.TopicChannels,
		connectors.TopicSendResult,
	)
	defer p.bus.Unsubscribe(sub)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.runSamplers(ctx)
	}()
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub:
			if !ok {
				return
			}
			p.dispatch(ctx, msg)
		}
	}
}

func (p *Pipeline) dispatch(ctx context.Context, msg any) {
	switch ev := msg.(type) {
	case connectors.ConnStatus:
		p.mu.Lock()
		p.connStatus = ev
		p.mu.Unlock()
	case connectors.LifecycleEvent:
		p.handleLifecycle(ev)
	case connectors.PacketEvent:
		p.handlePacket(ctx, ev.Packet)
	case connectors.NodeUpdate:
		p.handleNodeUpdate(ev.Node)
	case connectors.ChannelsUpdate:
		p.mu.Lock()
		p.channels = ev.Channels
		p.mu.Unlock()
		p.logger.Info("channel table updated", "channels", len(ev.Channels))
	case connectors.LocalNodeUpdate:
		p.logger.Info("local node identified", "node_id", ev.NodeID)
	case connectors.SendResult:
		p.handleSendResult(ev)
	}
}

// handlePacket is the per-packet fan-out: live ring, registry, counters,
// durable record and forwarders, in that order.
func (p *Pipeline) handlePacket(ctx context.Context, pkt domain.Packet) {
	p.live.Push(pkt)

	at := time.Unix(pkt.RxTime, 0)
	if pkt.FromID != "" {
		p.registry.ObserveTraffic(pkt.FromID, at, true)
	}
	if pkt.ToID != "" && !pkt.IsBroadcast() {
		p.registry.ObserveTraffic(pkt.ToID, at, false)
	}

	if p.store != nil && p.writer != nil {
		store := p.store
		p.writer.Enqueue("counters.messages", func(ctx context.Context) error {
			if err := store.Counters.Increment(ctx, persistence.CounterMessagesTotal, 1); err != nil {
				return err
			}
			if pkt.HasText {
				if err := store.Counters.Increment(ctx, persistence.CounterMessagesText, 1); err != nil {
					return err
				}
			}
			if pkt.HasPayload {
				if err := store.Counters.Increment(ctx, persistence.CounterMessagesPayload, 1); err != nil {
					return err
				}
			}
			return nil
		})
		p.writer.Enqueue("messages.insert", func(ctx context.Context) error {
			_, err := store.Messages.Insert(ctx, pkt)
			return err
		})
		p.writer.Enqueue("node_counts.traffic", func(ctx context.Context) error {
			return store.NodeCounts.RecordTraffic(ctx, pkt)
		})
	}

	p.mu.RLock()
	forwarders := p.forwarders
	p.mu.RUnlock()
	for _, f := range forwarders {
		if err := f.Forward(ctx, pkt); err != nil {
			p.logger.Warn("packet forward failed", "forwarder", f.Name(), "error", err)
		}
	}
}

func (p *Pipeline) handleNodeUpdate(node domain.Node) {
	p.registry.UpsertDirect(node)

	if p.store == nil || p.writer == nil {
		return
	}
	store := p.store
	p.writer.Enqueue("node_counts.snapshot", func(ctx context.Context) error {
		return store.NodeCounts.UpsertSnapshot(ctx, []domain.Node{node})
	})
	if p.opts.NodeSampleInterval == SampleEveryObservation && !node.LastHeardAt.IsZero() {
		sample := persistence.SampleFromNode(node, time.Now().Unix())
		p.writer.Enqueue("node_history.insert", func(ctx context.Context) error {
			return store.NodeHistory.Insert(ctx, sample)
		})
	}
}

func (p *Pipeline) handleLifecycle(ev connectors.LifecycleEvent) {
	counter := ""
	switch ev.Event {
	case "connect":
		counter = persistence.CounterMeshConnect
	case "disconnect":
		counter = persistence.CounterMeshDisconnect
	case "error":
		counter = persistence.CounterMeshError
	}

	if p.store == nil || p.writer == nil || counter == "" {
		return
	}
	store := p.store
	ts := ev.At.Unix()
	event, detail := ev.Event, ev.Detail
	p.writer.Enqueue("lifecycle.record", func(ctx context.Context) error {
		if err := store.Counters.Increment(ctx, counter, 1); err != nil {
			return err
		}
		return store.Events.Insert(ctx, ts, "mesh_"+event, detail)
	})
}

func (p *Pipeline) handleSendResult(ev connectors.SendResult) {
	if p.store == nil || p.writer == nil {
		return
	}
	store := p.store
	outcome := persistence.CounterSendOK
	detail := "to=" + ev.To
	if !ev.OK {
		outcome = persistence.CounterSendError
		detail += " error=" + ev.Err
	}
	ts := ev.At.Unix()
	p.writer.Enqueue("send.record", func(ctx context.Context) error {
		if err := store.Counters.Increment(ctx, persistence.CounterSendTotal, 1); err != nil {
			return err
		}
		if err := store.Counters.Increment(ctx, outcome, 1); err != nil {
			return err
		}
		return store.Events.Insert(ctx, ts, "send", detail)
	})
}

// warmLoad restores historically observed nodes so the registry is not
// empty after a restart.
func (p *Pipeline) warmLoad(ctx context.Context) {
	if p.store == nil {
		return
	}
	rows, err := p.store.NodeCounts.KnownNodes(ctx)
	if err != nil {
		p.logger.Warn("observed node warm load failed", "error", err)
		return
	}
	for _, row := range rows {
		node := domain.Node{
			NodeID:    row.NodeID,
			ShortName: row.ShortName,
			LongName:  row.LongName,
			HopsAway:  row.HopsAway,
			SNR:       row.LastSNR,
			RSSI:      row.LastRSSI,
		}
		if row.LastHeard != nil {
			node.LastHeardAt = time.Unix(*row.LastHeard, 0)
		} else if row.LastRx != nil {
			node.LastHeardAt = time.Unix(*row.LastRx, 0)
		}
		p.registry.SeedObserved(node)
	}
	if len(rows) > 0 {
		p.logger.Info("restored observed nodes", "count", len(rows))
	}
}

func (p *Pipeline) runSamplers(ctx context.Context) {
	sweep := time.NewTicker(p.opts.SweepInterval)
	defer sweep.Stop()
	trim := time.NewTicker(eventTrimInterval)
	defer trim.Stop()
	nodeInterval := p.opts.NodeSampleInterval
	if nodeInterval == SampleEveryObservation {
		// Per-observation sampling happens in handleNodeUpdate; the
		// stopped ticker never fires.
		nodeInterval = time.Hour
	}
	nodeSample := time.NewTicker(nodeInterval)
	defer nodeSample.Stop()
	if p.opts.NodeSampleInterval == SampleEveryObservation {
		nodeSample.Stop()
	}
	statusSample := time.NewTicker(p.opts.StatusSampleInterval)
	defer statusSample.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			if n := p.registry.SweepObserved(); n > 0 {
				p.logger.Info("evicted stale observed nodes", "count", n)
			}
		case <-trim.C:
			p.trimEvents()
		case <-nodeSample.C:
			p.sampleNodes()
		case <-statusSample.C:
			p.sampleStatus(ctx)
		}
	}
}

func (p *Pipeline) trimEvents() {
	if p.store == nil || p.writer == nil {
		return
	}
	store, keep := p.store, p.opts.EventTrimKeep
	p.writer.Enqueue("events.trim", func(ctx context.Context) error {
		return store.Events.Trim(ctx, keep)
	})
}

// sampleNodes records one history row per direct node. Only nodes heard
// at least once produce samples, so visibility stats are not inflated
// by stale table entries.
func (p *Pipeline) sampleNodes() {
	if p.store == nil || p.writer == nil {
		return
	}
	ts := time.Now().Unix()
	store := p.store
	for _, node := range p.registry.Direct(domain.SortByAge) {
		if node.LastHeardAt.IsZero() {
			continue
		}
		sample := persistence.SampleFromNode(node, ts)
		p.writer.Enqueue("node_history.insert", func(ctx context.Context) error {
			return store.NodeHistory.Insert(ctx, sample)
		})
	}
}

func (p *Pipeline) sampleStatus(ctx context.Context) {
	if p.store == nil || p.writer == nil || p.statusCch == nil {
		return
	}
	res := p.statusCch.Get(ctx)
	if res.Err != nil && !res.Stale {
		p.logger.Debug("status sample skipped", "error", res.Err)
		return
	}
	if res.Stale {
		return
	}

	sample := statusSampleFromReport(res.Report)
	store := p.store
	p.writer.Enqueue("status_history.insert", func(ctx context.Context) error {
		return store.Status.Insert(ctx, sample)
	})
}

func statusSampleFromReport(r status.Report) persistence.StatusSample {
	s := persistence.StatusSample{
		TS:             r.FetchedAt,
		BatteryPercent: r.BatteryPercent,
		ChannelUtil:    r.ChannelUtilization,
		AirUtilTx:      r.AirUtilTx,
		HeapFree:       r.HeapFree,
		FSFree:         r.FSFree,
	}
	if r.WifiRSSI != nil {
		v := int(*r.WifiRSSI)
		s.WifiRSSI = &v
	}
	if r.WifiIP != nil {
		s.WifiIP = *r.WifiIP
	}
	return s
}
