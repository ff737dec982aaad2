// Package market implements the transaction core of the marketplace: the
// identity store, listing lifecycle, conversation engine, negotiation state
// machine and transaction settlement coordinator. It holds the authoritative
// state in memory; the db package keeps the durable record.
package market

import (
	"sync"
	"time"

	"github.com/ajibolagenius/corpsmart/internal/models"
	"github.com/ajibolagenius/corpsmart/internal/policy"
)

// Config holds the tunable parameters of the core. Zero durations disable
// the corresponding sweep.
type Config struct {
	// OfferTTL is how long a live offer waits for a response before the
	// expiry sweep marks it expired.
	OfferTTL time.Duration
	// ConfirmTimeout is how long a non-terminal transaction may wait for
	// payment confirmation before the sweep fails it and releases the
	// listing.
	ConfirmTimeout time.Duration
}

// pairKey identifies the one conversation per (listing, buyer) pair.
type pairKey struct {
	listingID string
	buyerID   string
}

// conversation is the engine-internal thread state. Its mutex linearizes
// sequence assignment and watermark updates for one conversation; threads
// are independent of each other. Lock order is always the market lock
// before a conversation lock.
type conversation struct {
	models.Conversation

	mu       sync.Mutex
	seq      int64
	messages []models.Message
	read     map[string]int64 // userID -> highest sequence marked read
}

// Market is the single logical store behind all request handlers.
type Market struct {
	mu sync.RWMutex

	users      map[string]*models.User
	listings   map[string]*models.Listing
	convs      map[string]*conversation
	convByPair map[pairKey]string
	offers     map[string]*models.Offer
	liveOffer  map[string]string // conversationID -> live offer ID
	txns       map[string]*models.Transaction
	activeTxn  map[string]string // listingID -> non-terminal transaction ID
	reports    map[string]*models.Report

	policy *policy.Engine
	cfg    Config
	events chan Event

	journalMu sync.Mutex
	journal   []Event // events awaiting the write-behind recorder

	now func() time.Time // overridden in tests
}

// New creates an empty market core.
func New(pe *policy.Engine, cfg Config) *Market {
	return &Market{
		users:      make(map[string]*models.User),
		listings:   make(map[string]*models.Listing),
		convs:      make(map[string]*conversation),
		convByPair: make(map[pairKey]string),
		offers:     make(map[string]*models.Offer),
		liveOffer:  make(map[string]string),
		txns:       make(map[string]*models.Transaction),
		activeTxn:  make(map[string]string),
		reports:    make(map[string]*models.Report),
		policy:     pe,
		cfg:        cfg,
		events:     make(chan Event, 256),
		now:        time.Now,
	}
}

// LoadUser inserts a persisted user into the store. Used at startup to
// hydrate from the database and by registration.
func (m *Market) LoadUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = &u
}

// LoadListing inserts a persisted listing into the store.
func (m *Market) LoadListing(l models.Listing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[l.ID] = &l
}

// LoadConversation inserts a persisted conversation with its messages and
// read watermarks. The sequence counter resumes after the highest loaded
// message.
func (m *Market) LoadConversation(c models.Conversation, msgs []models.Message, read map[string]int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv := &conversation{
		Conversation: c,
		messages:     msgs,
		read:         make(map[string]int64),
	}
	for uid, seq := range read {
		conv.read[uid] = seq
	}
	for _, msg := range msgs {
		if msg.Seq > conv.seq {
			conv.seq = msg.Seq
		}
	}
	m.convs[c.ID] = conv
	m.convByPair[pairKey{c.ListingID, c.BuyerID}] = c.ID
}

// LoadOffer inserts a persisted offer, rebuilding the live-offer index.
func (m *Market) LoadOffer(o models.Offer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers[o.ID] = &o
	if o.Status.Live() {
		m.liveOffer[o.ConversationID] = o.ID
	}
}

// LoadTransaction inserts a persisted transaction, rebuilding the
// active-transaction index.
func (m *Market) LoadTransaction(t models.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txns[t.ID] = &t
	if !t.Status.Terminal() {
		m.activeTxn[t.ListingID] = t.ID
	}
}

// LoadReport inserts a persisted report.
func (m *Market) LoadReport(rep models.Report) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[rep.ID] = &rep
}
