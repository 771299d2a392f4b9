package domain

import "sync"

const DefaultLiveBufferCapacity = 200

// LiveBuffer is a fixed-capacity ring of the most recent packets in
// arrival order. Pushes evict the oldest entry once at capacity.
// Snapshots are defensive copies so readers never see later mutation.
type LiveBuffer struct {
	mu    sync.RWMutex
	items []Packet
	head  int
	size  int
}

func NewLiveBuffer(capacity int) *LiveBuffer {
	if capacity <= 0 {
		capacity = DefaultLiveBufferCapacity
	}
	return &LiveBuffer{items: make([]Packet, capacity)}
}

func (b *LiveBuffer) Capacity() int {
	return len(b.items)
}

func (b *LiveBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Push appends one packet, evicting the oldest when full.
func (b *LiveBuffer) Push(p Packet) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = p
	b.head = (b.head + 1) % len(b.items)
	if b.size < len(b.items) {
		b.size++
	}
}

// Snapshot returns the buffered packets oldest-first.
func (b *LiveBuffer) Snapshot() []Packet {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Packet, 0, b.size)
	start := b.head - b.size
	if start < 0 {
		start += len(b.items)
	}
	for i := 0; i < b.size; i++ {
		out = append(out, b.items[(start+i)%len(b.items)])
	}
	return out
}

// SnapshotChannel returns only the packets on the given channel index,
// oldest-first.
func (b *LiveBuffer) SnapshotChannel(channel int) []Packet {
	all := b.Snapshot()
	out := make([]Packet, 0, len(all))
	for _, p := range all {
		if p.Channel != nil && *p.Channel == channel {
			out = append(out, p)
		}
	}
	return out
}
