package domain

import (
	"testing"
	"time"
)

func TestNodeRegistry_DirectAndObservedStayDisjoint(t *testing.T) {
	reg := NewNodeRegistry(0)
	now := time.Now()

	reg.ObserveTraffic("!aabbccdd", now, true)
	if direct, observed := reg.Counts(); direct != 0 || observed != 1 {
		t.Fatalf("expected 0 direct / 1 observed, got %d / %d", direct, observed)
	}

	reg.UpsertDirect(Node{NodeID: "!aabbccdd", LongName: "Alpha"})
	if direct, observed := reg.Counts(); direct != 1 || observed != 0 {
		t.Fatalf("expected promotion to direct, got %d direct / %d observed", direct, observed)
	}

	// Traffic from a direct node must not re-create an observed entry.
	reg.ObserveTraffic("!aabbccdd", now.Add(time.Second), true)
	if _, observed := reg.Counts(); observed != 0 {
		t.Fatalf("expected observed set to stay empty, got %d", observed)
	}
}

func TestNodeRegistryObserveTraffic_DestinationDoesNotRefreshDirectLastHeard(t *testing.T) {
	reg := NewNodeRegistry(0)
	heard := time.Unix(1000, 0)

	reg.UpsertDirect(Node{NodeID: "!aabbccdd", LastHeardAt: heard})
	reg.ObserveTraffic("!aabbccdd", time.Unix(2000, 0), false)

	node, ok := reg.Get("!aabbccdd")
	if !ok {
		t.Fatalf("expected node present")
	}
	if !node.LastHeardAt.Equal(heard) {
		t.Fatalf("expected last heard unchanged at %v, got %v", heard, node.LastHeardAt)
	}

	reg.ObserveTraffic("!aabbccdd", time.Unix(2000, 0), true)
	node, _ = reg.Get("!aabbccdd")
	if !node.LastHeardAt.Equal(time.Unix(2000, 0)) {
		t.Fatalf("expected heard traffic to refresh last heard, got %v", node.LastHeardAt)
	}
}

func TestNodeRegistryObserveTraffic_RejectsBroadcastAndPlaceholders(t *testing.T) {
	reg := NewNodeRegistry(0)
	now := time.Now()

	reg.ObserveTraffic(BroadcastID, now, false)
	reg.ObserveTraffic("unknown", now, true)
	reg.ObserveTraffic("!ffffffff", now, true)
	reg.ObserveTraffic("", now, true)

	if direct, observed := reg.Counts(); direct != 0 || observed != 0 {
		t.Fatalf("expected empty registry, got %d direct / %d observed", direct, observed)
	}
}

func TestNodeRegistrySweepObserved_EvictsOnlyExpiredEntries(t *testing.T) {
	reg := NewNodeRegistry(24 * time.Hour)
	base := time.Unix(1_700_000_000, 0)
	reg.now = func() time.Time { return base }

	reg.ObserveTraffic("!00000001", base.Add(-25*time.Hour), true)
	reg.ObserveTraffic("!00000002", base.Add(-time.Hour), true)
	reg.UpsertDirect(Node{NodeID: "!00000003", LastHeardAt: base.Add(-48 * time.Hour)})

	if evicted := reg.SweepObserved(); evicted != 1 {
		t.Fatalf("expected one eviction, got %d", evicted)
	}
	if _, ok := reg.Get("!00000001"); ok {
		t.Fatalf("expected expired observed node evicted")
	}
	if _, ok := reg.Get("!00000002"); !ok {
		t.Fatalf("expected fresh observed node retained")
	}
	// Direct nodes never expire.
	if _, ok := reg.Get("!00000003"); !ok {
		t.Fatalf("expected direct node retained regardless of age")
	}
}

func TestNodeRegistryUpsertDirect_SparseUpdatePreservesMetadata(t *testing.T) {
	reg := NewNodeRegistry(0)
	snr := 5.5

	reg.UpsertDirect(Node{NodeID: "!11111111", LongName: "Alpha", ShortName: "ALPH", SNR: &snr})
	reg.UpsertDirect(Node{NodeID: "!11111111", LongName: "Alpha Updated"})

	node, ok := reg.Get("!11111111")
	if !ok {
		t.Fatalf("expected node present")
	}
	if node.LongName != "Alpha Updated" {
		t.Fatalf("expected long name updated, got %q", node.LongName)
	}
	if node.ShortName != "ALPH" {
		t.Fatalf("expected short name preserved, got %q", node.ShortName)
	}
	if node.SNR == nil || *node.SNR != snr {
		t.Fatalf("expected snr preserved, got %v", node.SNR)
	}
}

func TestNodeRegistrySeedObserved_DoesNotShadowDirectNodes(t *testing.T) {
	reg := NewNodeRegistry(0)

	reg.UpsertDirect(Node{NodeID: "!22222222", LongName: "Direct"})
	reg.SeedObserved(Node{NodeID: "!22222222", LongName: "Recovered"})
	reg.SeedObserved(Node{NodeID: "!33333333", ShortName: "OBSV"})

	if direct, observed := reg.Counts(); direct != 1 || observed != 1 {
		t.Fatalf("expected 1 direct / 1 observed, got %d / %d", direct, observed)
	}
	node, _ := reg.Get("!22222222")
	if node.LongName != "Direct" {
		t.Fatalf("expected direct metadata untouched, got %q", node.LongName)
	}
	node, _ = reg.Get("!33333333")
	if node.Class != NodeObserved {
		t.Fatalf("expected seeded node classed observed, got %v", node.Class)
	}
}
