package market

import (
	"context"
	"fmt"

	"github.com/ajibolagenius/corpsmart/internal/models"
	"github.com/ajibolagenius/corpsmart/internal/policy"
)

// Resolve answers "who is this actor".
func (m *Market) Resolve(userID string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[userID]
	if !ok {
		return models.User{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return *u, nil
}

// VerifyUser marks a user as verified. Only admins verify.
func (m *Market) VerifyUser(userID, actorID string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	actor, ok := m.users[actorID]
	if !ok {
		return models.User{}, fmt.Errorf("user %s: %w", actorID, ErrNotFound)
	}
	if actor.Role != models.RoleAdmin {
		return models.User{}, fmt.Errorf("only admins can verify users: %w", ErrForbidden)
	}
	u, ok := m.users[userID]
	if !ok {
		return models.User{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	u.Verified = true
	return *u, nil
}

// Authorize asks the policy engine whether the actor may perform the action
// on the listing. Pure read, no side effects. Callers must hold at least
// the read lock; the exported capability check is authorized via the
// operation entry points.
func (m *Market) authorize(ctx context.Context, actor *models.User, listing *models.Listing, action policy.Action) error {
	decision, err := m.policy.Evaluate(ctx, policy.Input{
		Action: action,
		Actor: policy.Actor{
			ID:       actor.ID,
			Role:     string(actor.Role),
			Verified: actor.Verified,
		},
		Listing: policy.Listing{
			SellerID: listing.SellerID,
			Status:   string(listing.Status),
		},
	})
	if err != nil {
		return fmt.Errorf("evaluate policy: %w", err)
	}
	if decision != policy.DecisionAllow {
		return fmt.Errorf("%s not permitted for this user on this listing: %w", action, ErrForbidden)
	}
	return nil
}
