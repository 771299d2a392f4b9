package domain

import (
	"sort"
	"time"
)

// NodeClass distinguishes how a node became known to the registry.
type NodeClass int

const (
	// NodeDirect means the node is present in the radio's own node table.
	NodeDirect NodeClass = iota + 1
	// NodeObserved means the node was only ever seen as a from/to address
	// in relayed traffic and never heard directly.
	NodeObserved
)

// Node is the per-node live state tracked by the registry.
type Node struct {
	NodeID        string
	ShortName     string
	LongName      string
	Role          string
	HardwareModel string
	Class         NodeClass
	LastHeardAt   time.Time
	SNR           *float64
	RSSI          *float64
	HopsAway      *int
	BatteryLevel  *uint32
	Voltage       *float64
	ChannelUtil   *float64
	AirUtilTx     *float64
	Latitude      *float64
	Longitude     *float64
	Favorite      bool
	Muted         bool
	Ignored       bool
}

// AgeSec returns full seconds since the node was last heard, or -1 when
// it was never heard.
func (n Node) AgeSec(now time.Time) int64 {
	if n.LastHeardAt.IsZero() {
		return -1
	}
	age := int64(now.Sub(n.LastHeardAt) / time.Second)
	if age < 0 {
		return 0
	}
	return age
}

// Quality classifies the node's last SNR sample, or QualityUnknown when
// there is no signal sample yet.
func (n Node) Quality() Quality {
	if n.SNR == nil {
		return QualityUnknown
	}
	return QualityFromSNR(*n.SNR)
}

// Quality is a discrete signal classification used for display and sorting.
type Quality int

const (
	QualityUnknown Quality = iota
	QualityBad
	QualityWeak
	QualityOK
	QualityGood
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityOK:
		return "ok"
	case QualityWeak:
		return "weak"
	case QualityBad:
		return "bad"
	default:
		return ""
	}
}

// QualityFromSNR buckets an SNR reading. Thresholds follow the
// Meshtastic signal indicator conventions.
func QualityFromSNR(snr float64) Quality {
	switch {
	case snr >= 0:
		return QualityGood
	case snr >= -7:
		return QualityOK
	case snr >= -12:
		return QualityWeak
	default:
		return QualityBad
	}
}

// NodeSortKey selects the listing order for node snapshots.
type NodeSortKey int

const (
	SortByAge NodeSortKey = iota
	SortBySignal
	SortByHops
)

// SortNodes orders nodes deterministically: the requested key first with
// missing values last, then ascending age, then node id.
func SortNodes(nodes []Node, key NodeSortKey, now time.Time) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		switch key {
		case SortBySignal:
			if c := compareNullableDesc(a.SNR, b.SNR); c != 0 {
				return c < 0
			}
		case SortByHops:
			if c := compareHops(a.HopsAway, b.HopsAway); c != 0 {
				return c < 0
			}
		}
		if c := compareAge(a.AgeSec(now), b.AgeSec(now)); c != 0 {
			return c < 0
		}
		return a.NodeID < b.NodeID
	})
}

func compareAge(a, b int64) int {
	// -1 means "never heard" and sorts after every real age.
	switch {
	case a == b:
		return 0
	case a < 0:
		return 1
	case b < 0:
		return -1
	case a < b:
		return -1
	default:
		return 1
	}
}

func compareNullableDesc(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case *a > *b:
		return -1
	case *a < *b:
		return 1
	default:
		return 0
	}
}

func compareHops(a, b *int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case *a < *b:
		return -1
	case *a > *b:
		return 1
	default:
		return 0
	}
}

// ChannelInfo is one decoded channel table entry.
type ChannelInfo struct {
	Index   int
	Name    string
	Role    string
	Enabled *bool
}
