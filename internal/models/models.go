package models

import "time"

// Role of a registered user.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// User represents a registered corps member
type User struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"display_name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Verified     bool      `json:"verified"`
	Role         Role      `json:"role"`
	State        string    `json:"state"`
	Batch        string    `json:"batch"`
	CallUpNumber string    `json:"call_up_number,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListingStatus is the lifecycle state of a listing.
type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingReserved  ListingStatus = "reserved"
	ListingSold      ListingStatus = "sold"
	ListingWithdrawn ListingStatus = "withdrawn"
	ListingRemoved   ListingStatus = "removed"
)

// Terminal reports whether no further transitions are accepted.
func (s ListingStatus) Terminal() bool {
	return s == ListingSold || s == ListingWithdrawn || s == ListingRemoved
}

// Listing represents an item for sale
type Listing struct {
	ID          string        `json:"id"`
	SellerID    string        `json:"seller_id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Category    string        `json:"category,omitempty"`
	Price       int64         `json:"price"` // Price in naira
	Condition   string        `json:"condition,omitempty"`
	Status      ListingStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
}

// MessageKind discriminates the message variants in a conversation.
type MessageKind string

const (
	MessageText         MessageKind = "text"
	MessageImageBundle  MessageKind = "image_bundle"
	MessageOfferEvent   MessageKind = "offer_event"
	MessageSystemNotice MessageKind = "system_notice"
)

// Message is one entry in a conversation thread. Seq is assigned by the
// conversation engine at append time and is strictly increasing per
// conversation; (SentAt, Seq) is the ordering key and Seq breaks ties.
type Message struct {
	ID       string      `json:"id"`
	Kind     MessageKind `json:"kind"`
	Seq      int64       `json:"seq"`
	SenderID string      `json:"sender_id,omitempty"` // empty for system notices
	Body     string      `json:"body,omitempty"`      // text messages
	URLs     []string    `json:"urls,omitempty"`      // image bundles
	OfferID  string      `json:"offer_id,omitempty"`  // offer events
	Notice   string      `json:"notice,omitempty"`    // system notices
	SentAt   time.Time   `json:"sent_at"`
}

// Conversation is the thread between one buyer and the seller for one
// listing. Exactly one exists per (listing, buyer) pair. It outlives the
// listing and is never destroyed.
type Conversation struct {
	ID        string    `json:"id"`
	ListingID string    `json:"listing_id"`
	BuyerID   string    `json:"buyer_id"`
	SellerID  string    `json:"seller_id"`
	CreatedAt time.Time `json:"created_at"`
}

// OfferStatus is the lifecycle state of a price offer.
type OfferStatus string

const (
	OfferProposed  OfferStatus = "proposed"
	OfferCountered OfferStatus = "countered"
	OfferAccepted  OfferStatus = "accepted"
	OfferRejected  OfferStatus = "rejected"
	OfferExpired   OfferStatus = "expired"
	OfferWithdrawn OfferStatus = "withdrawn"
)

// Live reports whether the offer is still open for resolution.
func (s OfferStatus) Live() bool {
	return s == OfferProposed || s == OfferCountered
}

// Offer is a proposed price within a conversation. At most one offer per
// conversation is live at any time; a new proposal supersedes the prior
// live offer.
type Offer struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Amount         int64       `json:"amount"` // Amount in naira
	ProposedBy     string      `json:"proposed_by"`
	Status         OfferStatus `json:"status"`
	Supersedes     string      `json:"supersedes,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	ResolvedAt     *time.Time  `json:"resolved_at,omitempty"`
}

// PaymentMethod is how a buyer settles a transaction.
type PaymentMethod string

const (
	MethodPaystack     PaymentMethod = "paystack"
	MethodFlutterwave  PaymentMethod = "flutterwave"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCash         PaymentMethod = "cash"
)

// Instant reports whether the method confirms at initiation (gateway
// redirect methods) rather than requiring a later confirmation step.
func (m PaymentMethod) Instant() bool {
	return m == MethodPaystack || m == MethodFlutterwave
}

// TransactionStatus is the settlement state of a transaction.
type TransactionStatus string

const (
	TxnPending   TransactionStatus = "pending"
	TxnAwaiting  TransactionStatus = "awaiting_confirmation"
	TxnCompleted TransactionStatus = "completed"
	TxnFailed    TransactionStatus = "failed"
	TxnCancelled TransactionStatus = "cancelled"
)

// Terminal reports whether the transaction accepts no further transitions.
func (s TransactionStatus) Terminal() bool {
	return s == TxnCompleted || s == TxnFailed || s == TxnCancelled
}

// Transaction is the settlement record tracking a listing's sale from
// reservation to completion. At most one non-terminal transaction exists
// per listing at a time. AwaitingSince is set when the transaction enters
// awaiting_confirmation; the confirmation window is measured from it, not
// from creation, so time spent choosing a method does not count against
// the buyer.
type Transaction struct {
	ID             string            `json:"id"`
	ListingID      string            `json:"listing_id"`
	ConversationID string            `json:"conversation_id,omitempty"`
	BuyerID        string            `json:"buyer_id,omitempty"` // empty for direct mark-sold sales
	SellerID       string            `json:"seller_id"`
	Amount         int64             `json:"amount"`
	Method         PaymentMethod     `json:"method"`
	Status         TransactionStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	AwaitingSince  *time.Time        `json:"awaiting_since,omitempty"`
}

// ReportStatus is the moderation state of a report.
type ReportStatus string

const (
	ReportPending       ReportStatus = "pending"
	ReportInvestigating ReportStatus = "investigating"
	ReportResolved      ReportStatus = "resolved"
	ReportDismissed     ReportStatus = "dismissed"
)

// Terminal reports whether the report has been dealt with.
func (s ReportStatus) Terminal() bool {
	return s == ReportResolved || s == ReportDismissed
}

// ReportPriority orders the moderation queue.
type ReportPriority string

const (
	PriorityLow      ReportPriority = "low"
	PriorityMedium   ReportPriority = "medium"
	PriorityHigh     ReportPriority = "high"
	PriorityCritical ReportPriority = "critical"
)

// Report is a member's complaint about a listing or another user, queued
// for admin review. Exactly one of ListingID and UserID names the target.
type Report struct {
	ID         string         `json:"id"`
	ReporterID string         `json:"reporter_id"`
	ListingID  string         `json:"listing_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Reason     string         `json:"reason"`
	Details    string         `json:"details,omitempty"`
	Priority   ReportPriority `json:"priority"`
	Status     ReportStatus   `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}
