package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"meshmon/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	store, err := OpenStore(ctx, filepath.Join(t.TempDir(), "meshmon.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMessageRepoInsertAndGet_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	snr := -6.5
	channel := 0
	portnum := 1
	pkt := domain.Packet{
		RxTime:       1_700_000_000,
		FromID:       "!aabbccdd",
		ToID:         "^all",
		Channel:      &channel,
		Portnum:      &portnum,
		App:          "TEXT_MESSAGE_APP",
		Text:         "hello mesh",
		HasText:      true,
		SNR:          &snr,
		RequestID:    42,
		WantResponse: true,
		RequestToMe:  true,
	}

	seq, err := store.Messages.Insert(ctx, pkt)
	if err != nil {
		t.Fatalf("insert message: %v", err)
	}
	if seq <= 0 {
		t.Fatalf("expected positive sequence, got %d", seq)
	}

	got, err := store.Messages.GetBySeq(ctx, seq)
	if err != nil {
		t.Fatalf("get by seq: %v", err)
	}
	if got.Packet.FromID != pkt.FromID || got.Packet.ToID != pkt.ToID {
		t.Fatalf("addressing mismatch: %+v", got.Packet)
	}
	if !got.Packet.HasText || got.Packet.Text != "hello mesh" {
		t.Fatalf("expected text round trip, got %+v", got.Packet)
	}
	if got.Packet.HasPayload {
		t.Fatalf("expected no payload flag without payload")
	}
	if got.Packet.SNR == nil || *got.Packet.SNR != snr {
		t.Fatalf("expected snr round trip, got %v", got.Packet.SNR)
	}
	if got.Packet.RequestID != 42 || !got.Packet.WantResponse || !got.Packet.RequestToMe {
		t.Fatalf("expected request markers round trip, got %+v", got.Packet)
	}
}

func TestMessageRepoList_WindowAndPagination(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	for i := 0; i < 5; i++ {
		pkt := domain.Packet{RxTime: int64(1000 + i*100), FromID: "!aabbccdd"}
		if _, err := store.Messages.Insert(ctx, pkt); err != nil {
			t.Fatalf("insert message %d: %v", i, err)
		}
	}

	msgs, err := store.Messages.List(ctx, MessageQuery{Since: 1100, Until: 1300})
	if err != nil {
		t.Fatalf("list window: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages in window, got %d", len(msgs))
	}
	if msgs[0].Packet.RxTime != 1100 {
		t.Fatalf("expected ascending sequence order, got first rx_time %d", msgs[0].Packet.RxTime)
	}

	page, err := store.Messages.List(ctx, MessageQuery{Limit: 2, Offset: 2, Order: "desc"})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected page of 2, got %d", len(page))
	}
	if page[0].Packet.RxTime != 1200 {
		t.Fatalf("expected descending page starting at 1200, got %d", page[0].Packet.RxTime)
	}
}

func TestMessageRepoInsert_ErrorPacketRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	seq, err := store.Messages.Insert(ctx, domain.Packet{RxTime: 2000, Error: "decode inbound event: eof"})
	if err != nil {
		t.Fatalf("insert error packet: %v", err)
	}
	got, err := store.Messages.GetBySeq(ctx, seq)
	if err != nil {
		t.Fatalf("get error packet: %v", err)
	}
	if got.Packet.Error != "decode inbound event: eof" {
		t.Fatalf("expected error field round trip, got %q", got.Packet.Error)
	}
	if got.Packet.FromID != "" || got.Packet.HasText {
		t.Fatalf("expected error packet without content, got %+v", got.Packet)
	}
}
