package domain

import (
	"sync"
	"time"
)

// DefaultObservedTTL bounds how long an observed-only node survives
// without being seen again before the sweeper drops it.
const DefaultObservedTTL = 24 * time.Hour

// NodeRegistry merges the radio's live node table ("direct" nodes) with
// lower-confidence nodes inferred purely from traffic addresses
// ("observed-only"). The two sets are disjoint: observing a direct
// entry for an id removes it from the observed set.
//
// Mutation happens only on the ingestion goroutine; readers take
// snapshot copies.
type NodeRegistry struct {
	mu          sync.RWMutex
	direct      map[string]Node
	observed    map[string]Node
	observedTTL time.Duration
	now         func() time.Time
}

func NewNodeRegistry(observedTTL time.Duration) *NodeRegistry {
	if observedTTL <= 0 {
		observedTTL = DefaultObservedTTL
	}
	return &NodeRegistry{
		direct:      make(map[string]Node),
		observed:    make(map[string]Node),
		observedTTL: observedTTL,
		now:         time.Now,
	}
}

// UpsertDirect merges a node-table update into the direct set. Sparse
// updates keep previously known metadata. The same id is dropped from
// the observed-only set.
func (r *NodeRegistry) UpsertDirect(node Node) {
	node.NodeID = NormalizeNodeID(node.NodeID)
	if node.NodeID == "" {
		return
	}
	node.Class = NodeDirect

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.direct[node.NodeID]; ok {
		node = mergeNode(existing, node)
	} else if obs, ok := r.observed[node.NodeID]; ok {
		if node.LastHeardAt.IsZero() {
			node.LastHeardAt = obs.LastHeardAt
		}
	}
	delete(r.observed, node.NodeID)
	r.direct[node.NodeID] = node
}

// ObserveTraffic records a from/to address seen in traffic. Ids already
// tracked as direct only refresh their last-heard time (from-addresses
// only, since destinations say nothing about the sender being alive).
func (r *NodeRegistry) ObserveTraffic(nodeID string, at time.Time, heard bool) {
	nodeID = NormalizeNodeID(nodeID)
	if nodeID == "" || !IsNodeID(nodeID) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if n, ok := r.direct[nodeID]; ok {
		if heard && at.After(n.LastHeardAt) {
			n.LastHeardAt = at
			r.direct[nodeID] = n
		}
		return
	}

	n, ok := r.observed[nodeID]
	if !ok {
		n = Node{NodeID: nodeID, Class: NodeObserved}
	}
	if at.After(n.LastHeardAt) {
		n.LastHeardAt = at
	}
	r.observed[nodeID] = n
}

// SeedObserved restores an observed-only node, typically recovered from
// the durable store on startup. Ids already tracked as direct are left
// alone; an existing observed entry only gains missing metadata.
func (r *NodeRegistry) SeedObserved(node Node) {
	node.NodeID = NormalizeNodeID(node.NodeID)
	if node.NodeID == "" || !IsNodeID(node.NodeID) {
		return
	}
	node.Class = NodeObserved

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.direct[node.NodeID]; ok {
		return
	}
	if existing, ok := r.observed[node.NodeID]; ok {
		node = mergeNode(existing, node)
	}
	r.observed[node.NodeID] = node
}

// SweepObserved drops observed-only nodes not seen within the TTL and
// returns how many were evicted.
func (r *NodeRegistry) SweepObserved() int {
	cutoff := r.now().Add(-r.observedTTL)

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, n := range r.observed {
		if n.LastHeardAt.Before(cutoff) {
			delete(r.observed, id)
			evicted++
		}
	}
	return evicted
}

// Direct returns a sorted snapshot of the direct node set.
func (r *NodeRegistry) Direct(key NodeSortKey) []Node {
	r.mu.RLock()
	out := make([]Node, 0, len(r.direct))
	for _, n := range r.direct {
		out = append(out, n)
	}
	r.mu.RUnlock()

	SortNodes(out, key, r.now())
	return out
}

// Observed returns a sorted snapshot of the observed-only node set.
func (r *NodeRegistry) Observed(key NodeSortKey) []Node {
	r.mu.RLock()
	out := make([]Node, 0, len(r.observed))
	for _, n := range r.observed {
		out = append(out, n)
	}
	r.mu.RUnlock()

	SortNodes(out, key, r.now())
	return out
}

// Get looks up a node in either set.
func (r *NodeRegistry) Get(nodeID string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n, ok := r.direct[nodeID]; ok {
		return n, true
	}
	n, ok := r.observed[nodeID]
	return n, ok
}

// Counts returns the sizes of the direct and observed sets.
func (r *NodeRegistry) Counts() (direct, observed int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.direct), len(r.observed)
}

// Reset drops all tracked nodes, e.g. after a target change.
func (r *NodeRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.direct = make(map[string]Node)
	r.observed = make(map[string]Node)
}

func mergeNode(existing, update Node) Node {
	if update.ShortName == "" {
		update.ShortName = existing.ShortName
	}
	if update.LongName == "" {
		update.LongName = existing.LongName
	}
	if update.Role == "" {
		update.Role = existing.Role
	}
	if update.HardwareModel == "" {
		update.HardwareModel = existing.HardwareModel
	}
	if update.SNR == nil {
		update.SNR = existing.SNR
	}
	if update.RSSI == nil {
		update.RSSI = existing.RSSI
	}
	if update.HopsAway == nil {
		update.HopsAway = existing.HopsAway
	}
	if update.BatteryLevel == nil {
		update.BatteryLevel = existing.BatteryLevel
	}
	if update.Voltage == nil {
		update.Voltage = existing.Voltage
	}
	if update.ChannelUtil == nil {
		update.ChannelUtil = existing.ChannelUtil
	}
	if update.AirUtilTx == nil {
		update.AirUtilTx = existing.AirUtilTx
	}
	if update.Latitude == nil {
		update.Latitude = existing.Latitude
	}
	if update.Longitude == nil {
		update.Longitude = existing.Longitude
	}
	if update.LastHeardAt.IsZero() || existing.LastHeardAt.After(update.LastHeardAt) {
		update.LastHeardAt = existing.LastHeardAt
	}
	update.Favorite = update.Favorite || existing.Favorite
	update.Muted = update.Muted || existing.Muted
	update.Ignored = update.Ignored || existing.Ignored
	return update
}
