package persistence

import (
	"context"
	"testing"
)

func TestStatusRepoInsertAndList_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	battery := 88.5
	rssi := -59
	ip := "192.168.1.20"
	heap := int64(104856)

	samples := []StatusSample{
		{TS: 1000, BatteryPercent: &battery, WifiRSSI: &rssi, WifiIP: ip, HeapFree: &heap},
		{TS: 1060},
	}
	for _, s := range samples {
		if err := store.Status.Insert(ctx, s); err != nil {
			t.Fatalf("insert status sample: %v", err)
		}
	}

	got, err := store.Status.List(ctx, 10, "asc")
	if err != nil {
		t.Fatalf("list status samples: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	first := got[0]
	if first.TS != 1000 {
		t.Fatalf("expected ascending order, got first ts %d", first.TS)
	}
	if first.BatteryPercent == nil || *first.BatteryPercent != battery {
		t.Fatalf("expected battery round trip, got %v", first.BatteryPercent)
	}
	if first.WifiRSSI == nil || *first.WifiRSSI != rssi {
		t.Fatalf("expected wifi rssi round trip, got %v", first.WifiRSSI)
	}
	if first.WifiIP != ip {
		t.Fatalf("expected wifi ip round trip, got %q", first.WifiIP)
	}

	// Sparse sample keeps all optional fields nil.
	if got[1].BatteryPercent != nil || got[1].HeapFree != nil {
		t.Fatalf("expected sparse sample round trip, got %+v", got[1])
	}
}
