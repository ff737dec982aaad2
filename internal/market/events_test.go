package market

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ajibolagenius/corpsmart/internal/models"
)

// With no consumer on the live stream, the channel fills and later events
// are dropped from it. The journal must still hold every event, expiry
// sweeps included, so the recorder never misses a durable change.
func TestMarket_JournalOutlivesFullStream(t *testing.T) {
	m := newTestMarket(t, Config{OfferTTL: time.Hour})
	sellerID, buyerID, _ := seedUsers(m)

	base := time.Now()
	m.now = func() time.Time { return base }

	l := seedListing(t, m, sellerID, 15500)
	ctx := context.Background()

	conv, err := m.GetOrCreateConversation(ctx, l.ID, buyerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 300; i++ {
		if _, err := m.AppendMessage(ctx, conv.ID, buyerID, MessageContent{
			Kind: models.MessageText,
			Body: fmt.Sprintf("message %d", i),
		}); err != nil {
			t.Fatalf("unexpected error on message %d: %v", i, err)
		}
	}

	offer, err := m.ProposeOffer(ctx, conv.ID, buyerID, 14000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.now = func() time.Time { return base.Add(2 * time.Hour) }
	if n := m.ExpireOffers(ctx); n != 1 {
		t.Fatalf("expected 1 expiry, got %d", n)
	}

	// The stream saturated long ago.
	if len(m.Events()) != cap(m.events) {
		t.Fatalf("expected the live stream full at %d, got %d", cap(m.events), len(m.Events()))
	}

	evs := m.DrainJournal()
	if len(evs) <= cap(m.events) {
		t.Errorf("expected the journal to hold more than the stream's %d slots, got %d", cap(m.events), len(evs))
	}

	var messages int
	var expiry bool
	for _, ev := range evs {
		switch ev.Type {
		case EventMessageAppended:
			messages++
		case EventOfferExpired:
			if ev.OfferID == offer.ID {
				expiry = true
			}
		}
	}
	if messages < 300 {
		t.Errorf("expected all 300 message events journaled, got %d", messages)
	}
	if !expiry {
		t.Error("expected the offer expiry in the journal despite the full stream")
	}

	// Drained means drained.
	if left := m.DrainJournal(); len(left) != 0 {
		t.Errorf("expected an empty journal after draining, got %d events", len(left))
	}
}

func TestMarket_RequeueJournal(t *testing.T) {
	m := newTestMarket(t, Config{})
	sellerID, buyerID, _ := seedUsers(m)
	l := seedListing(t, m, sellerID, 15500)
	ctx := context.Background()

	conv, err := m.GetOrCreateConversation(ctx, l.ID, buyerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.AppendMessage(ctx, conv.ID, buyerID, MessageContent{Kind: models.MessageText, Body: "first"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A failed write puts the batch back; it must come out before anything
	// emitted afterwards.
	failed := m.DrainJournal()
	if len(failed) == 0 {
		t.Fatal("expected journaled events")
	}
	m.RequeueJournal(failed)

	if _, err := m.AppendMessage(ctx, conv.ID, buyerID, MessageContent{Kind: models.MessageText, Body: "second"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	evs := m.DrainJournal()
	if len(evs) != len(failed)+1 {
		t.Fatalf("expected %d events, got %d", len(failed)+1, len(evs))
	}
	for i, ev := range failed {
		if evs[i].Type != ev.Type || evs[i].Seq != ev.Seq {
			t.Fatalf("expected requeued event %d first, got %v", i, evs[i].Type)
		}
	}
	if last := evs[len(evs)-1]; last.Message == nil || last.Message.Body != "second" {
		t.Error("expected the newest event after the requeued batch")
	}
}
