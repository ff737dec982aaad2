package market

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ajibolagenius/corpsmart/internal/models"
)

func TestMarket_BuyNow(t *testing.T) {
	m := newTestMarket(t, Config{})
	sellerID, buyerID, _ := seedUsers(m)
	l := seedListing(t, m, sellerID, 15500)
	ctx := context.Background()

	txn, err := m.BuyNow(ctx, l.ID, buyerID, models.MethodBankTransfer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.Amount != 15500 {
		t.Errorf("expected transaction at asking price, got %d", txn.Amount)
	}
	if txn.Status != models.TxnAwaiting {
		t.Errorf("expected awaiting_confirmation for bank transfer, got %s", txn.Status)
	}

	listing, _ := m.GetListing(l.ID)
	if listing.Status != models.ListingReserved {
		t.Errorf("expected listing reserved, got %s", listing.Status)
	}

	// A conversation was opened for the settlement notices.
	convs := m.ConversationsForUser(buyerID)
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}
	msgs, err := m.History(convs[0].ID, buyerID, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) == 0 || msgs[0].Kind != models.MessageSystemNotice {
		t.Error("expected purchase notice in the thread")
	}
}

func TestMarket_BuyNowInstantMethod(t *testing.T) {
	m := newTestMarket(t, Config{})
	sellerID, buyerID, _ := seedUsers(m)
	l := seedListing(t, m, sellerID, 15500)
	ctx := context.Background()

	txn, err := m.BuyNow(ctx, l.ID, buyerID, models.MethodPaystack)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.Status != models.TxnCompleted {
		t.Errorf("expected gateway payment to complete immediately, got %s", txn.Status)
	}
	listing, _ := m.GetListing(l.ID)
	if listing.Status != models.ListingSold {
		t.Errorf("expected listing sold, got %s", listing.Status)
	}
}

func TestMarket_BuyNowRace(t *testing.T) {
	m := newTestMarket(t, Config{})
	sellerID, buyerID, _ := seedUsers(m)
	m.LoadUser(models.User{ID: "buyer-2", DisplayName: "Chinedu Okwu", Verified: true, Role: models.RoleMember})
	l := seedListing(t, m, sellerID, 15500)
	ctx := context.Background()

	// Two buyers race for the same listing. Exactly one reservation wins;
	// the loser is told the item was taken, not left half-reserved.
	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, id := range []string{buyerID, "buyer-2"} {
		wg.Add(1)
		go func(buyer string) {
			defer wg.Done()
			_, err := m.BuyNow(ctx, l.ID, buyer, models.MethodBankTransfer)
			results <- err
		}(id)
	}
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrListingUnavailable):
			losses++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Errorf("expected exactly one winner and one ListingUnavailable, got %d/%d", wins, losses)
	}

	listing, _ := m.GetListing(l.ID)
	if listing.Status != models.ListingReserved {
		t.Errorf("expected listing reserved by the winner, got %s", listing.Status)
	}
}

func TestMarket_MarkSold(t *testing.T) {
	m := newTestMarket(t, Config{})
	sellerID, buyerID, _ := seedUsers(m)
	l := seedListing(t, m, sellerID, 15500)
	ctx := context.Background()

	// Only the seller or an admin may mark sold.
	if _, err := m.MarkSold(ctx, l.ID, buyerID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for buyer marking sold, got %v", err)
	}

	txn, err := m.MarkSold(ctx, l.ID, sellerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.Status != models.TxnCompleted {
		t.Errorf("expected completed transaction, got %s", txn.Status)
	}
	if txn.Method != models.MethodCash {
		t.Errorf("expected cash method for a direct sale, got %s", txn.Method)
	}
	if txn.BuyerID != "" {
		t.Errorf("expected no buyer on a direct sale, got %s", txn.BuyerID)
	}

	listing, _ := m.GetListing(l.ID)
	if listing.Status != models.ListingSold {
		t.Errorf("expected listing sold, got %s", listing.Status)
	}

	// Sold is terminal.
	if _, err := m.MarkSold(ctx, l.ID, sellerID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on a sold listing, got %v", err)
	}
}

func TestMarket_MarkSoldWhileReserved(t *testing.T) {
	m := newTestMarket(t, Config{})
	sellerID, buyerID, _ := seedUsers(m)
	l := seedListing(t, m, sellerID, 15500)
	ctx := context.Background()

	if _, err := m.BuyNow(ctx, l.ID, buyerID, models.MethodBankTransfer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// An in-flight settlement holds the listing; the seller must resolve it
	// through the transaction, not around it.
	if _, err := m.MarkSold(ctx, l.ID, sellerID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition while reserved, got %v", err)
	}
}

func TestMarket_SelectPaymentMethod(t *testing.T) {
	m := newTestMarket(t, Config{})
	sellerID, buyerID, _ := seedUsers(m)
	l := seedListing(t, m, sellerID, 15500)
	ctx := context.Background()

	// Buy without a method, then choose one.
	txn, err := m.BuyNow(ctx, l.ID, buyerID, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.Status != models.TxnPending {
		t.Errorf("expected pending until a method is chosen, got %s", txn.Status)
	}

	if _, err := m.SelectPaymentMethod(ctx, txn.ID, sellerID, models.MethodCash); !errors.Is(err, ErrInvalidActor) {
		t.Errorf("expected ErrInvalidActor for seller choosing method, got %v", err)
	}

	updated, err := m.SelectPaymentMethod(ctx, txn.ID, buyerID, models.MethodBankTransfer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != models.TxnAwaiting {
		t.Errorf("expected awaiting_confirmation, got %s", updated.Status)
	}

	// The method is settled; choosing again is rejected.
	if _, err := m.SelectPaymentMethod(ctx, txn.ID, buyerID, models.MethodCash); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on second choice, got %v", err)
	}

	confirmed, err := m.ConfirmPayment(ctx, txn.ID, sellerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if confirmed.Status != models.TxnCompleted {
		t.Errorf("expected completed after confirmation, got %s", confirmed.Status)
	}
	listing, _ := m.GetListing(l.ID)
	if listing.Status != models.ListingSold {
		t.Errorf("expected listing sold, got %s", listing.Status)
	}
}

func TestMarket_ConfirmPendingDefaultsToCash(t *testing.T) {
	m := newTestMarket(t, Config{})
	sellerID, buyerID, _ := seedUsers(m)
	l := seedListing(t, m, sellerID, 15500)
	ctx := context.Background()

	txn, err := m.BuyNow(ctx, l.ID, buyerID, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The seller confirms an in-person cash handover before the buyer ever
	// picked a method in the app.
	confirmed, err := m.ConfirmPayment(ctx, txn.ID, sellerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if confirmed.Method != models.MethodCash {
		t.Errorf("expected cash method recorded, got %s", confirmed.Method)
	}
	if confirmed.Status != models.TxnCompleted {
		t.Errorf("expected completed, got %s", confirmed.Status)
	}
}

func TestMarket_CancelTransaction(t *testing.T) {
	m := newTestMarket(t, Config{})
	sellerID, buyerID, _ := seedUsers(m)
	l := seedListing(t, m, sellerID, 15500)
	ctx := context.Background()

	txn, err := m.BuyNow(ctx, l.ID, buyerID, models.MethodBankTransfer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m.LoadUser(models.User{ID: "stranger", Verified: true, Role: models.RoleMember})
	if _, err := m.CancelTransaction(ctx, txn.ID, "stranger"); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for outsider cancelling, got %v", err)
	}

	cancelled, err := m.CancelTransaction(ctx, txn.ID, buyerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled.Status != models.TxnCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}

	// The listing returns to the market.
	listing, _ := m.GetListing(l.ID)
	if listing.Status != models.ListingActive {
		t.Errorf("expected listing released to active, got %s", listing.Status)
	}

	// Cancelling again reports the terminal state and changes nothing.
	again, err := m.CancelTransaction(ctx, txn.ID, buyerID)
	if !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("expected ErrAlreadyTerminal, got %v", err)
	}
	if again.Status != models.TxnCancelled {
		t.Errorf("expected status unchanged, got %s", again.Status)
	}
}

func TestMarket_CancelCompletedTransaction(t *testing.T) {
	m := newTestMarket(t, Config{})
	sellerID, buyerID, _ := seedUsers(m)
	l := seedListing(t, m, sellerID, 15500)
	ctx := context.Background()

	txn, err := m.BuyNow(ctx, l.ID, buyerID, models.MethodPaystack)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A late cancel on a finished sale is refused; the sale stands.
	got, err := m.CancelTransaction(ctx, txn.ID, buyerID)
	if !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("expected ErrAlreadyTerminal, got %v", err)
	}
	if got.Status != models.TxnCompleted {
		t.Errorf("expected completed to stand, got %s", got.Status)
	}
	listing, _ := m.GetListing(l.ID)
	if listing.Status != models.ListingSold {
		t.Errorf("expected listing to stay sold, got %s", listing.Status)
	}
}

func TestMarket_WithdrawReservedListing(t *testing.T) {
	m := newTestMarket(t, Config{})
	sellerID, buyerID, _ := seedUsers(m)
	l := seedListing(t, m, sellerID, 15500)
	ctx := context.Background()

	txn, err := m.BuyNow(ctx, l.ID, buyerID, models.MethodBankTransfer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	listing, err := m.WithdrawListing(ctx, l.ID, sellerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if listing.Status != models.ListingWithdrawn {
		t.Errorf("expected withdrawn, got %s", listing.Status)
	}

	// The preempted settlement is cancelled, not left dangling.
	got, err := m.GetTransaction(txn.ID, buyerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != models.TxnCancelled {
		t.Errorf("expected reserving transaction cancelled, got %s", got.Status)
	}
}

func TestMarket_RemoveListing(t *testing.T) {
	m := newTestMarket(t, Config{})
	sellerID, buyerID, adminID := seedUsers(m)
	l := seedListing(t, m, sellerID, 15500)
	ctx := context.Background()

	if _, err := m.RemoveListing(ctx, l.ID, buyerID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for member moderating, got %v", err)
	}
	if _, err := m.RemoveListing(ctx, l.ID, sellerID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for seller moderating, got %v", err)
	}

	listing, err := m.RemoveListing(ctx, l.ID, adminID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if listing.Status != models.ListingRemoved {
		t.Errorf("expected removed, got %s", listing.Status)
	}

	if _, err := m.RemoveListing(ctx, l.ID, adminID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on terminal listing, got %v", err)
	}
}

func TestMarket_BuyNowWithdrawnListing(t *testing.T) {
	m := newTestMarket(t, Config{})
	sellerID, buyerID, _ := seedUsers(m)
	l := seedListing(t, m, sellerID, 15500)
	ctx := context.Background()

	if _, err := m.WithdrawListing(ctx, l.ID, sellerID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The rejection names the listing's actual state, not a phantom
	// competing buyer.
	_, err := m.BuyNow(ctx, l.ID, buyerID, models.MethodBankTransfer)
	if !errors.Is(err, ErrListingUnavailable) {
		t.Fatalf("expected ErrListingUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "withdrawn") {
		t.Errorf("expected the error to name the withdrawn state, got %q", err)
	}

	// The failed purchase leaves no conversation behind.
	if convs := m.ConversationsForUser(buyerID); len(convs) != 0 {
		t.Errorf("expected no conversation after a rejected purchase, got %d", len(convs))
	}
}

func TestMarket_SweepTransactions(t *testing.T) {
	m := newTestMarket(t, Config{ConfirmTimeout: time.Hour})
	sellerID, buyerID, _ := seedUsers(m)

	base := time.Now()
	m.now = func() time.Time { return base }

	l := seedListing(t, m, sellerID, 15500)
	ctx := context.Background()

	txn, err := m.BuyNow(ctx, l.ID, buyerID, models.MethodBankTransfer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m.now = func() time.Time { return base.Add(30 * time.Minute) }
	if n := m.SweepTransactions(ctx); n != 0 {
		t.Errorf("expected 0 timeouts within the window, got %d", n)
	}

	m.now = func() time.Time { return base.Add(2 * time.Hour) }
	if n := m.SweepTransactions(ctx); n != 1 {
		t.Errorf("expected 1 timeout, got %d", n)
	}

	got, _ := m.GetTransaction(txn.ID, buyerID)
	if got.Status != models.TxnFailed {
		t.Errorf("expected failed after timeout, got %s", got.Status)
	}
	listing, _ := m.GetListing(l.ID)
	if listing.Status != models.ListingActive {
		t.Errorf("expected listing released after timeout, got %s", listing.Status)
	}
}

func TestMarket_ConfirmWindowRestartsOnMethodChoice(t *testing.T) {
	m := newTestMarket(t, Config{ConfirmTimeout: time.Hour})
	sellerID, buyerID, _ := seedUsers(m)

	base := time.Now()
	m.now = func() time.Time { return base }

	l := seedListing(t, m, sellerID, 15500)
	ctx := context.Background()

	txn, err := m.BuyNow(ctx, l.ID, buyerID, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The buyer spends most of the window deciding, then picks a method.
	m.now = func() time.Time { return base.Add(50 * time.Minute) }
	if _, err := m.SelectPaymentMethod(ctx, txn.ID, buyerID, models.MethodBankTransfer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 70 minutes after creation but only 20 into the confirmation window.
	m.now = func() time.Time { return base.Add(70 * time.Minute) }
	if n := m.SweepTransactions(ctx); n != 0 {
		t.Errorf("expected the window to restart on method choice, swept %d", n)
	}

	m.now = func() time.Time { return base.Add(115 * time.Minute) }
	if n := m.SweepTransactions(ctx); n != 1 {
		t.Errorf("expected 1 timeout after the restarted window, got %d", n)
	}
	got, _ := m.GetTransaction(txn.ID, buyerID)
	if got.Status != models.TxnFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
}

// TestMarket_NegotiationToSale walks the full happy path: contact,
// negotiation with a counter, acceptance, payment and completion.
func TestMarket_NegotiationToSale(t *testing.T) {
	m := newTestMarket(t, Config{})
	sellerID, buyerID, _ := seedUsers(m)
	ctx := context.Background()

	l, err := m.CreateListing(ctx, sellerID, ListingInput{
		Title:     "Samsung Galaxy A54",
		Category:  "Electronics",
		Price:     450000,
		Condition: "Excellent",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	conv, err := m.GetOrCreateConversation(ctx, l.ID, buyerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.AppendMessage(ctx, conv.ID, buyerID, MessageContent{Kind: models.MessageText, Body: "Last price?"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	offer, err := m.ProposeOffer(ctx, conv.ID, buyerID, 400000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	counter, err := m.CounterOffer(ctx, offer.ID, sellerID, 420000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	accepted, txn, err := m.AcceptOffer(ctx, counter.ID, buyerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if accepted.Amount != 420000 || txn.Amount != 420000 {
		t.Errorf("expected settlement at 420000, got offer %d txn %d", accepted.Amount, txn.Amount)
	}

	paid, err := m.SelectPaymentMethod(ctx, txn.ID, buyerID, models.MethodPaystack)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if paid.Status != models.TxnCompleted {
		t.Errorf("expected completed, got %s", paid.Status)
	}

	listing, _ := m.GetListing(l.ID)
	if listing.Status != models.ListingSold {
		t.Errorf("expected listing sold, got %s", listing.Status)
	}
	final, _ := m.GetOffer(counter.ID, buyerID)
	if final.Status != models.OfferAccepted {
		t.Errorf("expected offer accepted, got %s", final.Status)
	}

	// The thread tells the whole story in order: message, two offer events,
	// acceptance notice, completion notice.
	msgs, err := m.History(conv.ID, sellerID, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, msg := range msgs {
		if msg.Seq != int64(i+1) {
			t.Fatalf("expected gapless sequence, message %d has seq %d", i, msg.Seq)
		}
	}
	last := msgs[len(msgs)-1]
	if last.Kind != models.MessageSystemNotice {
		t.Errorf("expected completion notice last, got kind %s", last.Kind)
	}
}
