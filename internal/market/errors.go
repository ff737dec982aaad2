package market

import "errors"

// Recoverable failures returned to callers for display. None of these leave
// shared state partially mutated.
var (
	// ErrNotFound means the entity id is unknown.
	ErrNotFound = errors.New("not found")
	// ErrForbidden means the actor lacks the capability for the action.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidTransition means the state machine has no such edge or a
	// guard is unmet.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrInvalidActor means a role-relative rule was violated, e.g. a
	// proposer accepting their own offer.
	ErrInvalidActor = errors.New("invalid actor")
	// ErrStaleOfferState means the caller lost a compare-and-set race on an
	// offer and must refresh.
	ErrStaleOfferState = errors.New("stale offer state")
	// ErrListingUnavailable means another transaction reserved the listing
	// first.
	ErrListingUnavailable = errors.New("listing unavailable")
	// ErrAlreadyTerminal means a late event arrived for a finished entity.
	// The entity is left unchanged.
	ErrAlreadyTerminal = errors.New("already terminal")
)
