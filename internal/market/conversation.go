package market

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/ajibolagenius/corpsmart/internal/models"
	"github.com/ajibolagenius/corpsmart/internal/policy"
)

// MessageContent is the sender-supplied part of a message. Offer events and
// system notices are appended by the core itself, never by clients.
type MessageContent struct {
	Kind models.MessageKind
	Body string
	URLs []string
}

// GetOrCreateConversation returns the one conversation for the (listing,
// buyer) pair, creating it on first contact. Idempotent.
func (m *Market) GetOrCreateConversation(ctx context.Context, listingID, buyerID string) (models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.convByPair[pairKey{listingID, buyerID}]; ok {
		return m.convs[id].Conversation, nil
	}

	l, buyer, err := m.listingActorLocked(listingID, buyerID)
	if err != nil {
		return models.Conversation{}, err
	}
	if err := m.authorize(ctx, buyer, l, policy.ActionMessage); err != nil {
		return models.Conversation{}, err
	}
	if l.Status == models.ListingRemoved || l.Status == models.ListingWithdrawn {
		return models.Conversation{}, fmt.Errorf("listing is no longer available: %w", ErrForbidden)
	}

	conv := &conversation{
		Conversation: models.Conversation{
			ID:        uuid.New().String(),
			ListingID: listingID,
			BuyerID:   buyerID,
			SellerID:  l.SellerID,
			CreatedAt: m.now(),
		},
		read: make(map[string]int64),
	}
	m.convs[conv.ID] = conv
	m.convByPair[pairKey{listingID, buyerID}] = conv.ID
	return conv.Conversation, nil
}

// GetConversation returns the conversation header for a participant or
// admin.
func (m *Market) GetConversation(conversationID, userID string) (models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, err := m.participantLocked(conversationID, userID)
	if err != nil {
		return models.Conversation{}, err
	}
	return conv.Conversation, nil
}

// ConversationsForUser lists the conversations a user takes part in,
// newest first.
func (m *Market) ConversationsForUser(userID string) []models.Conversation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Conversation
	for _, conv := range m.convs {
		if conv.BuyerID == userID || conv.SellerID == userID {
			out = append(out, conv.Conversation)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// AppendMessage appends a text or image message to the conversation,
// assigning the next sequence number. Fails Forbidden when the sender is
// not a participant or the listing has been removed or withdrawn.
func (m *Market) AppendMessage(ctx context.Context, conversationID, senderID string, content MessageContent) (models.Message, error) {
	switch content.Kind {
	case models.MessageText:
		if content.Body == "" {
			return models.Message{}, fmt.Errorf("message body is empty")
		}
	case models.MessageImageBundle:
		if len(content.URLs) == 0 {
			return models.Message{}, fmt.Errorf("image bundle has no images")
		}
	default:
		return models.Message{}, fmt.Errorf("clients can only send text or image messages")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.convs[conversationID]
	if !ok {
		return models.Message{}, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	if senderID != conv.BuyerID && senderID != conv.SellerID {
		return models.Message{}, fmt.Errorf("only the buyer and seller can message here: %w", ErrForbidden)
	}
	status := m.listings[conv.ListingID].Status
	if status == models.ListingRemoved || status == models.ListingWithdrawn {
		return models.Message{}, fmt.Errorf("this listing is no longer available: %w", ErrForbidden)
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()
	msg := conv.appendLocked(models.Message{
		Kind:     content.Kind,
		SenderID: senderID,
		Body:     content.Body,
		URLs:     content.URLs,
	}, m.now())
	m.emit(Event{Type: EventMessageAppended, ConversationID: conv.ID, ListingID: conv.ListingID, Seq: msg.Seq, Message: &msg})
	return msg, nil
}

// History returns the messages after the cursor in sequence order. The
// cursor is the last-seen sequence number; no iterator state is kept
// between calls.
func (m *Market) History(conversationID, userID string, cursor int64) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, err := m.participantLocked(conversationID, userID)
	if err != nil {
		return nil, err
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()
	var out []models.Message
	for _, msg := range conv.messages {
		if msg.Seq > cursor {
			out = append(out, msg)
		}
	}
	return out, nil
}

// MarkRead stores the per-user read watermark. Watermarks only move
// forward.
func (m *Market) MarkRead(conversationID, userID string, uptoSeq int64) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, err := m.participantLocked(conversationID, userID)
	if err != nil {
		return err
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()
	if uptoSeq > conv.read[userID] {
		conv.read[userID] = uptoSeq
	}
	return nil
}

// UnreadCount counts messages past the user's watermark that the user did
// not send themselves.
func (m *Market) UnreadCount(conversationID, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, err := m.participantLocked(conversationID, userID)
	if err != nil {
		return 0, err
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()
	watermark := conv.read[userID]
	n := 0
	for _, msg := range conv.messages {
		if msg.Seq > watermark && msg.SenderID != userID {
			n++
		}
	}
	return n, nil
}

// participantLocked fetches a conversation and checks that the user is the
// buyer, the seller or an admin. Caller holds at least the read lock.
func (m *Market) participantLocked(conversationID, userID string) (*conversation, error) {
	conv, ok := m.convs[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	if userID != conv.BuyerID && userID != conv.SellerID {
		if u, ok := m.users[userID]; !ok || u.Role != models.RoleAdmin {
			return nil, fmt.Errorf("not a participant in this conversation: %w", ErrForbidden)
		}
	}
	return conv, nil
}

// appendLocked assigns the next sequence number and stores the message.
// Caller holds the conversation lock.
func (c *conversation) appendLocked(msg models.Message, now time.Time) models.Message {
	c.seq++
	msg.ID = newMessageID()
	msg.Seq = c.seq
	msg.SentAt = now
	c.messages = append(c.messages, msg)
	return msg
}

// appendSystemNoticeLocked appends a system notice from the core itself.
// Caller holds the market write lock; the conversation lock is taken here.
func (m *Market) appendSystemNoticeLocked(conv *conversation, notice string) models.Message {
	conv.mu.Lock()
	defer conv.mu.Unlock()
	msg := conv.appendLocked(models.Message{
		Kind:   models.MessageSystemNotice,
		Notice: notice,
	}, m.now())
	m.emit(Event{Type: EventMessageAppended, ConversationID: conv.ID, ListingID: conv.ListingID, Seq: msg.Seq, Message: &msg})
	return msg
}

// appendOfferEventLocked records an offer milestone inside the thread.
// Caller holds the market write lock.
func (m *Market) appendOfferEventLocked(conv *conversation, senderID, offerID string) models.Message {
	conv.mu.Lock()
	defer conv.mu.Unlock()
	msg := conv.appendLocked(models.Message{
		Kind:     models.MessageOfferEvent,
		SenderID: senderID,
		OfferID:  offerID,
	}, m.now())
	m.emit(Event{Type: EventMessageAppended, ConversationID: conv.ID, ListingID: conv.ListingID, Seq: msg.Seq, Message: &msg})
	return msg
}

func newMessageID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return ulid.MustNew(ulid.Now(), entropy).String()
}
