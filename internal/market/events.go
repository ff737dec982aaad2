package market

import (
	"time"

	"github.com/ajibolagenius/corpsmart/internal/models"
)

// EventType identifies a domain event emitted by the core.
type EventType string

const (
	EventMessageAppended      EventType = "message_appended"
	EventOfferProposed        EventType = "offer_proposed"
	EventOfferCountered       EventType = "offer_countered"
	EventOfferAccepted        EventType = "offer_accepted"
	EventOfferRejected        EventType = "offer_rejected"
	EventOfferWithdrawn       EventType = "offer_withdrawn"
	EventOfferExpired         EventType = "offer_expired"
	EventListingReserved      EventType = "listing_reserved"
	EventListingReleased      EventType = "listing_released"
	EventListingSold          EventType = "listing_sold"
	EventListingWithdrawn     EventType = "listing_withdrawn"
	EventListingRemoved       EventType = "listing_removed"
	EventTransactionCreated   EventType = "transaction_created"
	EventTransactionCompleted EventType = "transaction_completed"
	EventTransactionCancelled EventType = "transaction_cancelled"
	EventTransactionFailed    EventType = "transaction_failed"
	EventReportSubmitted      EventType = "report_submitted"
	EventReportReviewed       EventType = "report_reviewed"
)

// Event is a domain event. Fields not relevant to the event type are empty.
// Status fields and the message snapshot let consumers (websocket push, the
// write-behind recorder) act without reading back into the core.
type Event struct {
	Type           EventType `json:"type"`
	At             time.Time `json:"at"`
	ListingID      string    `json:"listing_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	OfferID        string    `json:"offer_id,omitempty"`
	TransactionID  string    `json:"transaction_id,omitempty"`
	ReportID       string    `json:"report_id,omitempty"`
	Seq            int64     `json:"seq,omitempty"`

	ListingStatus models.ListingStatus     `json:"listing_status,omitempty"`
	OfferStatus   models.OfferStatus       `json:"offer_status,omitempty"`
	TxnStatus     models.TransactionStatus `json:"transaction_status,omitempty"`
	ReportStatus  models.ReportStatus      `json:"report_status,omitempty"`
	Message       *models.Message          `json:"message,omitempty"`
}

// Events returns the channel the core publishes domain events on. The
// server consumes it for websocket push. It is a live stream: a slow
// consumer drops events, so durable recording reads the journal instead.
func (m *Market) Events() <-chan Event {
	return m.events
}

// DrainJournal takes every event journaled since the last drain. The
// recorder persists them in order; re-queue what could not be written.
func (m *Market) DrainJournal() []Event {
	m.journalMu.Lock()
	defer m.journalMu.Unlock()
	evs := m.journal
	m.journal = nil
	return evs
}

// RequeueJournal puts unrecorded events back at the front of the journal
// so a failed database write is retried before anything newer.
func (m *Market) RequeueJournal(evs []Event) {
	if len(evs) == 0 {
		return
	}
	m.journalMu.Lock()
	defer m.journalMu.Unlock()
	m.journal = append(append([]Event{}, evs...), m.journal...)
}

// emit journals the event for the recorder and publishes it to the live
// stream. The journal never drops; the stream does, under backpressure,
// because websocket push tolerates gaps and durable state must not.
func (m *Market) emit(ev Event) {
	ev.At = m.now()
	m.journalMu.Lock()
	m.journal = append(m.journal, ev)
	m.journalMu.Unlock()
	select {
	case m.events <- ev:
	default:
	}
}
