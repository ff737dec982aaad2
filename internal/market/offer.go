package market

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ajibolagenius/corpsmart/internal/models"
	"github.com/ajibolagenius/corpsmart/internal/policy"
)

// ProposeOffer creates a live offer in the conversation. A prior live offer
// is implicitly superseded and marked expired. Supersession and status
// writes for one conversation are serialized under the market write lock,
// so at most one offer is ever live per conversation.
func (m *Market) ProposeOffer(ctx context.Context, conversationID, by string, amount int64) (models.Offer, error) {
	if amount <= 0 {
		return models.Offer{}, fmt.Errorf("offer amount must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.convs[conversationID]
	if !ok {
		return models.Offer{}, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	if by != conv.BuyerID && by != conv.SellerID {
		return models.Offer{}, fmt.Errorf("only the buyer and seller can make offers here: %w", ErrForbidden)
	}
	l := m.listings[conv.ListingID]
	actor := m.users[by]
	if err := m.authorize(ctx, actor, l, policy.ActionOffer); err != nil {
		return models.Offer{}, err
	}
	if l.Status == models.ListingRemoved || l.Status == models.ListingWithdrawn {
		return models.Offer{}, fmt.Errorf("this listing is no longer available: %w", ErrForbidden)
	}

	superseded := m.expireLiveOfferLocked(conv.ID)

	o := &models.Offer{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Amount:         amount,
		ProposedBy:     by,
		Status:         models.OfferProposed,
		Supersedes:     superseded,
		CreatedAt:      m.now(),
	}
	m.offers[o.ID] = o
	m.liveOffer[conv.ID] = o.ID

	m.appendOfferEventLocked(conv, by, o.ID)
	m.emit(Event{Type: EventOfferProposed, ConversationID: conv.ID, ListingID: conv.ListingID, OfferID: o.ID, OfferStatus: o.Status})
	return *o, nil
}

// CounterOffer resolves a proposed offer with a counter-proposal from the
// other party: the original is marked expired and a new offer is created in
// countered state, superseding it.
func (m *Market) CounterOffer(ctx context.Context, offerID, by string, amount int64) (models.Offer, error) {
	if amount <= 0 {
		return models.Offer{}, fmt.Errorf("offer amount must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev, conv, err := m.liveOfferForUpdateLocked(offerID)
	if err != nil {
		return models.Offer{}, err
	}
	if prev.Status != models.OfferProposed {
		return models.Offer{}, fmt.Errorf("only a proposed offer can be countered: %w", ErrInvalidTransition)
	}
	if by != m.otherParty(conv, prev.ProposedBy) {
		return models.Offer{}, fmt.Errorf("only the other party can counter this offer: %w", ErrInvalidActor)
	}

	m.resolveOfferLocked(prev, models.OfferExpired)

	o := &models.Offer{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Amount:         amount,
		ProposedBy:     by,
		Status:         models.OfferCountered,
		Supersedes:     prev.ID,
		CreatedAt:      m.now(),
	}
	m.offers[o.ID] = o
	m.liveOffer[conv.ID] = o.ID

	m.appendOfferEventLocked(conv, by, o.ID)
	m.emit(Event{Type: EventOfferCountered, ConversationID: conv.ID, ListingID: conv.ListingID, OfferID: o.ID, OfferStatus: o.Status})
	return *o, nil
}

// AcceptOffer resolves a live offer by the party that did not propose it
// and atomically opens settlement: a pending transaction is created and the
// listing reserved. If the listing was already reserved by a concurrent
// transaction, nothing changes and the caller gets ListingUnavailable.
func (m *Market) AcceptOffer(ctx context.Context, offerID, by string) (models.Offer, models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, conv, err := m.liveOfferForUpdateLocked(offerID)
	if err != nil {
		return models.Offer{}, models.Transaction{}, err
	}
	if by == o.ProposedBy {
		return models.Offer{}, models.Transaction{}, fmt.Errorf("you cannot accept your own offer: %w", ErrInvalidActor)
	}
	if by != m.otherParty(conv, o.ProposedBy) {
		return models.Offer{}, models.Transaction{}, fmt.Errorf("only the other party can accept this offer: %w", ErrInvalidActor)
	}

	l := m.listings[conv.ListingID]
	txn, err := m.openSettlementLocked(conv, l, conv.BuyerID, o.Amount, "")
	if err != nil {
		return models.Offer{}, models.Transaction{}, err
	}

	m.resolveOfferLocked(o, models.OfferAccepted)
	m.appendSystemNoticeLocked(conv, fmt.Sprintf("Offer of ₦%d accepted", o.Amount))
	m.emit(Event{Type: EventOfferAccepted, ConversationID: conv.ID, ListingID: conv.ListingID, OfferID: o.ID, TransactionID: txn.ID, OfferStatus: o.Status})
	return *o, txn, nil
}

// RejectOffer resolves a live offer as rejected, by the other party.
func (m *Market) RejectOffer(ctx context.Context, offerID, by string) (models.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, conv, err := m.liveOfferForUpdateLocked(offerID)
	if err != nil {
		return models.Offer{}, err
	}
	if by != m.otherParty(conv, o.ProposedBy) {
		return models.Offer{}, fmt.Errorf("only the other party can reject this offer: %w", ErrInvalidActor)
	}

	m.resolveOfferLocked(o, models.OfferRejected)
	m.appendSystemNoticeLocked(conv, fmt.Sprintf("Offer of ₦%d rejected", o.Amount))
	m.emit(Event{Type: EventOfferRejected, ConversationID: conv.ID, ListingID: conv.ListingID, OfferID: o.ID, OfferStatus: o.Status})
	return *o, nil
}

// WithdrawOffer lets the original proposer pull a live offer back.
func (m *Market) WithdrawOffer(ctx context.Context, offerID, by string) (models.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, conv, err := m.liveOfferForUpdateLocked(offerID)
	if err != nil {
		return models.Offer{}, err
	}
	if by != o.ProposedBy {
		return models.Offer{}, fmt.Errorf("only the proposer can withdraw an offer: %w", ErrInvalidActor)
	}

	m.resolveOfferLocked(o, models.OfferWithdrawn)
	m.emit(Event{Type: EventOfferWithdrawn, ConversationID: conv.ID, ListingID: conv.ListingID, OfferID: o.ID, OfferStatus: o.Status})
	return *o, nil
}

// GetOffer returns an offer to a conversation participant or admin.
func (m *Market) GetOffer(offerID, userID string) (models.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.offers[offerID]
	if !ok {
		return models.Offer{}, fmt.Errorf("offer %s: %w", offerID, ErrNotFound)
	}
	if _, err := m.participantLocked(o.ConversationID, userID); err != nil {
		return models.Offer{}, err
	}
	return *o, nil
}

// ExpireOffers expires live offers whose TTL elapsed. Returns how many it
// expired. No-op when no TTL is configured.
func (m *Market) ExpireOffers(ctx context.Context) int {
	if m.cfg.OfferTTL <= 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.cfg.OfferTTL)
	n := 0
	for convID, offerID := range m.liveOffer {
		o := m.offers[offerID]
		if o.CreatedAt.After(cutoff) {
			continue
		}
		m.resolveOfferLocked(o, models.OfferExpired)
		m.appendSystemNoticeLocked(m.convs[convID], fmt.Sprintf("Offer of ₦%d expired", o.Amount))
		m.emit(Event{Type: EventOfferExpired, ConversationID: convID, OfferID: o.ID, OfferStatus: o.Status})
		n++
	}
	return n
}

// liveOfferForUpdateLocked fetches an offer for a state transition. A
// resolved offer means the caller lost the race and must refresh.
func (m *Market) liveOfferForUpdateLocked(offerID string) (*models.Offer, *conversation, error) {
	o, ok := m.offers[offerID]
	if !ok {
		return nil, nil, fmt.Errorf("offer %s: %w", offerID, ErrNotFound)
	}
	if !o.Status.Live() {
		return nil, nil, fmt.Errorf("offer was already %s: %w", o.Status, ErrStaleOfferState)
	}
	return o, m.convs[o.ConversationID], nil
}

// resolveOfferLocked moves a live offer to a terminal status and clears the
// live index.
func (m *Market) resolveOfferLocked(o *models.Offer, status models.OfferStatus) {
	now := m.now()
	o.Status = status
	o.ResolvedAt = &now
	if m.liveOffer[o.ConversationID] == o.ID {
		delete(m.liveOffer, o.ConversationID)
	}
}

// expireLiveOfferLocked expires the conversation's live offer, if any, and
// returns its id.
func (m *Market) expireLiveOfferLocked(conversationID string) string {
	offerID, ok := m.liveOffer[conversationID]
	if !ok {
		return ""
	}
	o := m.offers[offerID]
	m.resolveOfferLocked(o, models.OfferExpired)
	m.emit(Event{Type: EventOfferExpired, ConversationID: conversationID, OfferID: o.ID, OfferStatus: o.Status})
	return offerID
}

// otherParty returns the counterpart of a proposer within a conversation.
func (m *Market) otherParty(conv *conversation, proposedBy string) string {
	if proposedBy == conv.BuyerID {
		return conv.SellerID
	}
	return conv.BuyerID
}
