package market

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ajibolagenius/corpsmart/internal/models"
	"github.com/ajibolagenius/corpsmart/internal/policy"
)

// BuyNow opens settlement at the asking price without negotiation. The
// buyer's conversation with the seller is created if it does not exist so
// settlement notices have a thread to land in. An empty method defers the
// choice to a later SelectPaymentMethod call.
func (m *Market) BuyNow(ctx context.Context, listingID, buyerID string, method models.PaymentMethod) (models.Transaction, error) {
	if method != "" && !validMethod(method) {
		return models.Transaction{}, fmt.Errorf("unknown payment method %q", method)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	l, buyer, err := m.listingActorLocked(listingID, buyerID)
	if err != nil {
		return models.Transaction{}, err
	}
	if err := m.authorize(ctx, buyer, l, policy.ActionOffer); err != nil {
		return models.Transaction{}, err
	}
	// Availability is checked before the conversation exists so a rejected
	// purchase of a withdrawn or sold listing leaves nothing behind.
	if err := m.availableLocked(l); err != nil {
		return models.Transaction{}, err
	}

	conv, err := m.getOrCreateConvLocked(l, buyerID)
	if err != nil {
		return models.Transaction{}, err
	}

	txn, err := m.openSettlementLocked(conv, l, buyerID, l.Price, method)
	if err != nil {
		return models.Transaction{}, err
	}
	m.appendSystemNoticeLocked(conv, fmt.Sprintf("%s started a purchase at ₦%d", buyer.DisplayName, l.Price))
	return txn, nil
}

// MarkSold records a direct sale: the seller (or an admin) closes an active
// listing outside the in-app settlement flow, e.g. cash in person. The
// listing is reserved and finalized in one step under a completed cash
// transaction.
func (m *Market) MarkSold(ctx context.Context, listingID, actorID string) (models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, actor, err := m.listingActorLocked(listingID, actorID)
	if err != nil {
		return models.Transaction{}, err
	}
	if err := m.authorize(ctx, actor, l, policy.ActionMarkSold); err != nil {
		return models.Transaction{}, err
	}
	if l.Status == models.ListingReserved {
		return models.Transaction{}, fmt.Errorf("listing is reserved; confirm or cancel the pending transaction instead: %w", ErrInvalidTransition)
	}
	if l.Status != models.ListingActive {
		return models.Transaction{}, fmt.Errorf("cannot mark a %s listing as sold: %w", l.Status, ErrInvalidTransition)
	}

	t := &models.Transaction{
		ID:        uuid.New().String(),
		ListingID: l.ID,
		SellerID:  l.SellerID,
		Amount:    l.Price,
		Method:    models.MethodCash,
		Status:    models.TxnPending,
		CreatedAt: m.now(),
	}
	if err := m.reserveLocked(l, t.ID); err != nil {
		return models.Transaction{}, err
	}
	m.txns[t.ID] = t
	m.emit(Event{Type: EventTransactionCreated, ListingID: l.ID, TransactionID: t.ID})
	if err := m.completeLocked(t, l); err != nil {
		return models.Transaction{}, err
	}
	return *t, nil
}

// SelectPaymentMethod records the buyer's payment method for a pending
// transaction. Gateway methods confirm instantly and complete the sale;
// bank transfer and cash wait for explicit confirmation.
func (m *Market) SelectPaymentMethod(ctx context.Context, txnID, by string, method models.PaymentMethod) (models.Transaction, error) {
	if !validMethod(method) {
		return models.Transaction{}, fmt.Errorf("unknown payment method %q", method)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.txnForUpdateLocked(txnID)
	if err != nil {
		return models.Transaction{}, err
	}
	if by != t.BuyerID {
		return models.Transaction{}, fmt.Errorf("only the buyer chooses the payment method: %w", ErrInvalidActor)
	}
	if t.Status != models.TxnPending {
		return models.Transaction{}, fmt.Errorf("payment method already chosen: %w", ErrInvalidTransition)
	}

	t.Method = method
	l := m.listings[t.ListingID]
	if method.Instant() {
		if err := m.completeLocked(t, l); err != nil {
			return models.Transaction{}, err
		}
	} else {
		t.Status = models.TxnAwaiting
		at := m.now()
		t.AwaitingSince = &at
		if conv, ok := m.convs[t.ConversationID]; ok {
			m.appendSystemNoticeLocked(conv, fmt.Sprintf("Awaiting %s payment confirmation", method))
		}
	}
	return *t, nil
}

// ConfirmPayment marks the payment as received and completes the sale,
// finalizing the listing to sold. Either party (or an admin) may confirm;
// confirming a pending transaction with no chosen method records it as a
// cash settlement.
func (m *Market) ConfirmPayment(ctx context.Context, txnID, by string) (models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.txnForUpdateLocked(txnID)
	if err != nil {
		return models.Transaction{}, err
	}
	if err := m.settlementActorLocked(t, by); err != nil {
		return models.Transaction{}, err
	}
	if t.Method == "" {
		t.Method = models.MethodCash
	}

	if err := m.completeLocked(t, m.listings[t.ListingID]); err != nil {
		return models.Transaction{}, err
	}
	return *t, nil
}

// CancelTransaction cancels a non-terminal transaction and releases the
// listing back to active. Cancelling an already finished transaction
// reports AlreadyTerminal and changes nothing, so cancellation is
// idempotent.
func (m *Market) CancelTransaction(ctx context.Context, txnID, by string) (models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.txns[txnID]
	if !ok {
		return models.Transaction{}, fmt.Errorf("transaction %s: %w", txnID, ErrNotFound)
	}
	if t.Status.Terminal() {
		return *t, fmt.Errorf("transaction is already %s: %w", t.Status, ErrAlreadyTerminal)
	}
	if err := m.settlementActorLocked(t, by); err != nil {
		return models.Transaction{}, err
	}

	m.closeLocked(t, models.TxnCancelled, "Transaction cancelled")
	return *t, nil
}

// GetTransaction returns a transaction to one of its parties or an admin.
func (m *Market) GetTransaction(txnID, userID string) (models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.txns[txnID]
	if !ok {
		return models.Transaction{}, fmt.Errorf("transaction %s: %w", txnID, ErrNotFound)
	}
	if err := m.settlementActorLocked(t, userID); err != nil {
		return models.Transaction{}, err
	}
	return *t, nil
}

// SweepTransactions fails non-terminal transactions whose confirmation
// window elapsed and releases their listings. Returns how many it failed.
// No-op when no timeout is configured. The window restarts when the
// transaction enters awaiting_confirmation; a transaction still pending
// counts from creation.
func (m *Market) SweepTransactions(ctx context.Context) int {
	if m.cfg.ConfirmTimeout <= 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.cfg.ConfirmTimeout)
	n := 0
	for _, txnID := range m.activeTxn {
		t := m.txns[txnID]
		since := t.CreatedAt
		if t.Status == models.TxnAwaiting && t.AwaitingSince != nil {
			since = *t.AwaitingSince
		}
		if since.After(cutoff) {
			continue
		}
		m.closeLocked(t, models.TxnFailed, "Payment confirmation timed out")
		n++
	}
	return n
}

// openSettlementLocked creates a pending transaction and reserves the
// listing for it, atomically: when the reservation loses to a concurrent
// transaction nothing is recorded and ListingUnavailable surfaces to the
// later-arriving party. An instant method completes the sale immediately.
func (m *Market) openSettlementLocked(conv *conversation, l *models.Listing, buyerID string, amount int64, method models.PaymentMethod) (models.Transaction, error) {
	t := &models.Transaction{
		ID:             uuid.New().String(),
		ListingID:      l.ID,
		ConversationID: conv.ID,
		BuyerID:        buyerID,
		SellerID:       l.SellerID,
		Amount:         amount,
		Method:         method,
		Status:         models.TxnPending,
		CreatedAt:      m.now(),
	}
	if err := m.reserveLocked(l, t.ID); err != nil {
		return models.Transaction{}, err
	}
	m.txns[t.ID] = t
	m.emit(Event{Type: EventTransactionCreated, ListingID: l.ID, ConversationID: conv.ID, TransactionID: t.ID})

	switch {
	case method == "":
		// Method chosen later by the buyer.
	case method.Instant():
		if err := m.completeLocked(t, l); err != nil {
			return models.Transaction{}, err
		}
	default:
		t.Status = models.TxnAwaiting
		at := m.now()
		t.AwaitingSince = &at
		m.appendSystemNoticeLocked(conv, fmt.Sprintf("Awaiting %s payment confirmation", method))
	}
	return *t, nil
}

// completeLocked finishes a transaction and finalizes its listing to sold.
// The reservation is held by t while t is non-terminal, so the finalize
// guard only fails if that invariant is broken; nothing mutates in that
// case.
func (m *Market) completeLocked(t *models.Transaction, l *models.Listing) error {
	if err := m.finalizeLocked(l, t.ID); err != nil {
		return err
	}
	t.Status = models.TxnCompleted
	m.emit(Event{Type: EventTransactionCompleted, ListingID: l.ID, TransactionID: t.ID, TxnStatus: t.Status})
	if conv, ok := m.convs[t.ConversationID]; ok {
		m.appendSystemNoticeLocked(conv, "Payment confirmed, item sold")
	}
	return nil
}

// closeLocked moves a non-terminal transaction to cancelled or failed and
// releases the listing if this transaction still reserves it.
func (m *Market) closeLocked(t *models.Transaction, status models.TransactionStatus, notice string) {
	t.Status = status
	l := m.listings[t.ListingID]
	if l.Status == models.ListingReserved && m.activeTxn[l.ID] == t.ID {
		m.releaseLocked(l, t.ID)
	} else {
		delete(m.activeTxn, l.ID)
	}
	ev := EventTransactionCancelled
	if status == models.TxnFailed {
		ev = EventTransactionFailed
	}
	m.emit(Event{Type: ev, ListingID: t.ListingID, TransactionID: t.ID, TxnStatus: t.Status})
	if conv, ok := m.convs[t.ConversationID]; ok {
		m.appendSystemNoticeLocked(conv, notice)
	}
}

// txnForUpdateLocked fetches a transaction for a state transition. A late
// event on a finished transaction is reported as AlreadyTerminal, never
// applied.
func (m *Market) txnForUpdateLocked(txnID string) (*models.Transaction, error) {
	t, ok := m.txns[txnID]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", txnID, ErrNotFound)
	}
	if t.Status.Terminal() {
		return nil, fmt.Errorf("transaction is already %s: %w", t.Status, ErrAlreadyTerminal)
	}
	return t, nil
}

// settlementActorLocked checks the actor is the buyer, the seller or an
// admin of this transaction.
func (m *Market) settlementActorLocked(t *models.Transaction, userID string) error {
	if userID == t.BuyerID || userID == t.SellerID {
		return nil
	}
	if u, ok := m.users[userID]; ok && u.Role == models.RoleAdmin {
		return nil
	}
	return fmt.Errorf("not a party to this transaction: %w", ErrForbidden)
}

// getOrCreateConvLocked is the lock-held form of GetOrCreateConversation,
// used when settlement needs a thread for an unnegotiated purchase.
func (m *Market) getOrCreateConvLocked(l *models.Listing, buyerID string) (*conversation, error) {
	if id, ok := m.convByPair[pairKey{l.ID, buyerID}]; ok {
		return m.convs[id], nil
	}
	conv := &conversation{
		Conversation: models.Conversation{
			ID:        uuid.New().String(),
			ListingID: l.ID,
			BuyerID:   buyerID,
			SellerID:  l.SellerID,
			CreatedAt: m.now(),
		},
		read: make(map[string]int64),
	}
	m.convs[conv.ID] = conv
	m.convByPair[pairKey{l.ID, buyerID}] = conv.ID
	return conv, nil
}

func validMethod(method models.PaymentMethod) bool {
	switch method {
	case models.MethodPaystack, models.MethodFlutterwave, models.MethodBankTransfer, models.MethodCash:
		return true
	}
	return false
}
