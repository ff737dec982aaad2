// Package policy wraps an embedded rego policy that decides whether an
// actor may perform a marketplace action on a listing.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Action is a capability checked against the policy.
type Action string

const (
	ActionMessage  Action = "message"
	ActionOffer    Action = "offer"
	ActionMarkSold Action = "mark_sold"
	ActionModerate Action = "moderate"
)

const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Actor is the policy view of a user.
type Actor struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	Verified bool   `json:"verified"`
}

// Listing is the policy view of a listing.
type Listing struct {
	SellerID string `json:"seller_id"`
	Status   string `json:"status"`
}

// Input is the document evaluated by the policy.
type Input struct {
	Action  Action  `json:"action"`
	Actor   Actor   `json:"actor"`
	Listing Listing `json:"listing"`
}

// Engine is the prepared rego query.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine prepares the given policy for evaluation.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.marketplace.decision"),
		rego.Module("marketplace.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}
	return &Engine{query: query}, nil
}

// Evaluate returns "allow" or "deny" for the input.
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionDeny, nil
	}
	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return DecisionDeny, nil
}

// DefaultPolicy encodes the marketplace capability rules: anyone may
// message on a listing they do not own, only verified non-owners may
// offer (sellers may name a price in their own threads), the seller or an
// admin may mark sold, and moderation is admin-only.
const DefaultPolicy = `
package marketplace

import rego.v1

default decision := "deny"

decision := "allow" if {
	input.action == "message"
	input.actor.id != input.listing.seller_id
}

decision := "allow" if {
	input.action == "offer"
	input.actor.id != input.listing.seller_id
	input.actor.verified
}

decision := "allow" if {
	input.action == "offer"
	input.actor.id == input.listing.seller_id
}

decision := "allow" if {
	input.action == "mark_sold"
	input.actor.id == input.listing.seller_id
}

decision := "allow" if {
	input.action == "mark_sold"
	input.actor.role == "admin"
}

decision := "allow" if {
	input.action == "moderate"
	input.actor.role == "admin"
}
`
