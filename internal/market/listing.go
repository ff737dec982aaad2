package market

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ajibolagenius/corpsmart/internal/models"
	"github.com/ajibolagenius/corpsmart/internal/policy"
)

// Conditions accepted on a listing.
var Conditions = []string{"Brand New", "Excellent", "Very Good", "Good", "Fair"}

// ListingInput is the seller-supplied part of a new listing.
type ListingInput struct {
	Title       string
	Description string
	Category    string
	Price       int64
	Condition   string
}

// CreateListing creates a new active listing owned by the seller.
func (m *Market) CreateListing(ctx context.Context, sellerID string, in ListingInput) (models.Listing, error) {
	if strings.TrimSpace(in.Title) == "" {
		return models.Listing{}, fmt.Errorf("title is required")
	}
	if in.Price <= 0 {
		return models.Listing{}, fmt.Errorf("price must be positive")
	}
	if in.Condition != "" && !validCondition(in.Condition) {
		return models.Listing{}, fmt.Errorf("unknown condition %q", in.Condition)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[sellerID]; !ok {
		return models.Listing{}, fmt.Errorf("user %s: %w", sellerID, ErrNotFound)
	}

	l := &models.Listing{
		ID:          uuid.New().String(),
		SellerID:    sellerID,
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		Price:       in.Price,
		Condition:   in.Condition,
		Status:      models.ListingActive,
		CreatedAt:   m.now(),
	}
	m.listings[l.ID] = l
	return *l, nil
}

func validCondition(c string) bool {
	for _, v := range Conditions {
		if v == c {
			return true
		}
	}
	return false
}

// GetListing returns a listing by id.
func (m *Market) GetListing(listingID string) (models.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.listings[listingID]
	if !ok {
		return models.Listing{}, fmt.Errorf("listing %s: %w", listingID, ErrNotFound)
	}
	return *l, nil
}

// Listings returns listings with the given status (all when empty), newest
// first. Read-only browse query for the UI.
func (m *Market) Listings(status models.ListingStatus) []models.Listing {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Listing
	for _, l := range m.listings {
		if status == "" || l.Status == status {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// WithdrawListing takes a listing off the market. Allowed from active or
// reserved, by the seller or an admin. Withdrawing a reserved listing
// cancels the reserving transaction.
func (m *Market) WithdrawListing(ctx context.Context, listingID, actorID string) (models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, actor, err := m.listingActorLocked(listingID, actorID)
	if err != nil {
		return models.Listing{}, err
	}
	if err := m.authorize(ctx, actor, l, policy.ActionMarkSold); err != nil {
		return models.Listing{}, err
	}
	if l.Status != models.ListingActive && l.Status != models.ListingReserved {
		return models.Listing{}, fmt.Errorf("cannot withdraw a %s listing: %w", l.Status, ErrInvalidTransition)
	}

	m.cancelActiveTxnLocked(l.ID, "listing withdrawn by seller")
	l.Status = models.ListingWithdrawn
	m.emit(Event{Type: EventListingWithdrawn, ListingID: l.ID, ListingStatus: l.Status})
	return *l, nil
}

// RemoveListing is the moderation action: admins may remove any
// non-terminal listing. Removing a reserved listing cancels the reserving
// transaction.
func (m *Market) RemoveListing(ctx context.Context, listingID, actorID string) (models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, actor, err := m.listingActorLocked(listingID, actorID)
	if err != nil {
		return models.Listing{}, err
	}
	if err := m.authorize(ctx, actor, l, policy.ActionModerate); err != nil {
		return models.Listing{}, err
	}
	if l.Status.Terminal() {
		return models.Listing{}, fmt.Errorf("cannot remove a %s listing: %w", l.Status, ErrInvalidTransition)
	}

	m.cancelActiveTxnLocked(l.ID, "listing removed by moderation")
	l.Status = models.ListingRemoved
	m.emit(Event{Type: EventListingRemoved, ListingID: l.ID, ListingStatus: l.Status})
	return *l, nil
}

func (m *Market) listingActorLocked(listingID, actorID string) (*models.Listing, *models.User, error) {
	l, ok := m.listings[listingID]
	if !ok {
		return nil, nil, fmt.Errorf("listing %s: %w", listingID, ErrNotFound)
	}
	actor, ok := m.users[actorID]
	if !ok {
		return nil, nil, fmt.Errorf("user %s: %w", actorID, ErrNotFound)
	}
	return l, actor, nil
}

// availableLocked checks a listing can be reserved right now. The error
// names the actual reason: a concurrent reservation or the listing's real
// status.
func (m *Market) availableLocked(l *models.Listing) error {
	if _, busy := m.activeTxn[l.ID]; busy {
		return fmt.Errorf("this item was just reserved by another buyer: %w", ErrListingUnavailable)
	}
	if l.Status != models.ListingActive {
		return fmt.Errorf("this listing is %s: %w", l.Status, ErrListingUnavailable)
	}
	return nil
}

// reserveLocked moves an active listing to reserved for the transaction.
// The at-most-one-concurrent-reservation guarantee lives here: the guard
// rejects when a non-terminal transaction already holds the listing.
func (m *Market) reserveLocked(l *models.Listing, txnID string) error {
	if err := m.availableLocked(l); err != nil {
		return err
	}
	l.Status = models.ListingReserved
	m.activeTxn[l.ID] = txnID
	m.emit(Event{Type: EventListingReserved, ListingID: l.ID, TransactionID: txnID, ListingStatus: l.Status})
	return nil
}

// finalizeLocked moves a reserved listing to sold. Guard: the reserving
// transaction is the completed one.
func (m *Market) finalizeLocked(l *models.Listing, txnID string) error {
	if l.Status != models.ListingReserved {
		return fmt.Errorf("listing is %s, not reserved: %w", l.Status, ErrInvalidTransition)
	}
	if m.activeTxn[l.ID] != txnID {
		return fmt.Errorf("listing is reserved by a different transaction: %w", ErrInvalidTransition)
	}
	l.Status = models.ListingSold
	delete(m.activeTxn, l.ID)
	m.emit(Event{Type: EventListingSold, ListingID: l.ID, TransactionID: txnID, ListingStatus: l.Status})
	return nil
}

// releaseLocked returns a reserved listing to active after its reserving
// transaction cancelled or failed.
func (m *Market) releaseLocked(l *models.Listing, txnID string) error {
	if l.Status != models.ListingReserved || m.activeTxn[l.ID] != txnID {
		return fmt.Errorf("listing is not reserved by this transaction: %w", ErrInvalidTransition)
	}
	l.Status = models.ListingActive
	delete(m.activeTxn, l.ID)
	m.emit(Event{Type: EventListingReleased, ListingID: l.ID, TransactionID: txnID, ListingStatus: l.Status})
	return nil
}

// cancelActiveTxnLocked cancels whatever non-terminal transaction holds the
// listing, if any. Used when a withdraw or moderation removal preempts an
// in-flight settlement.
func (m *Market) cancelActiveTxnLocked(listingID, reason string) {
	txnID, ok := m.activeTxn[listingID]
	if !ok {
		return
	}
	t := m.txns[txnID]
	t.Status = models.TxnCancelled
	delete(m.activeTxn, listingID)
	m.emit(Event{Type: EventTransactionCancelled, ListingID: listingID, TransactionID: txnID, TxnStatus: t.Status})
	if conv, ok := m.convs[t.ConversationID]; ok {
		m.appendSystemNoticeLocked(conv, reason)
	}
}
