package market

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/ajibolagenius/corpsmart/internal/models"
	"github.com/ajibolagenius/corpsmart/internal/policy"
)

// ReportInput is the reporter-supplied part of a new report. Exactly one
// of ListingID and UserID names the target.
type ReportInput struct {
	ListingID string
	UserID    string
	Reason    string
	Details   string
	Priority  models.ReportPriority
}

// SubmitReport files a complaint about a listing or another member. Any
// member may report; the report lands in the admin moderation queue as
// pending.
func (m *Market) SubmitReport(ctx context.Context, reporterID string, in ReportInput) (models.Report, error) {
	if in.Reason == "" {
		return models.Report{}, fmt.Errorf("a reason is required")
	}
	if (in.ListingID == "") == (in.UserID == "") {
		return models.Report{}, fmt.Errorf("report exactly one listing or one user")
	}
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}
	if !validPriority(in.Priority) {
		return models.Report{}, fmt.Errorf("unknown priority %q", in.Priority)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[reporterID]; !ok {
		return models.Report{}, fmt.Errorf("user %s: %w", reporterID, ErrNotFound)
	}
	if in.ListingID != "" {
		l, ok := m.listings[in.ListingID]
		if !ok {
			return models.Report{}, fmt.Errorf("listing %s: %w", in.ListingID, ErrNotFound)
		}
		if l.SellerID == reporterID {
			return models.Report{}, fmt.Errorf("cannot report your own listing: %w", ErrForbidden)
		}
	}
	if in.UserID != "" {
		if _, ok := m.users[in.UserID]; !ok {
			return models.Report{}, fmt.Errorf("user %s: %w", in.UserID, ErrNotFound)
		}
		if in.UserID == reporterID {
			return models.Report{}, fmt.Errorf("cannot report yourself: %w", ErrForbidden)
		}
	}

	rep := &models.Report{
		ID:         uuid.New().String(),
		ReporterID: reporterID,
		ListingID:  in.ListingID,
		UserID:     in.UserID,
		Reason:     in.Reason,
		Details:    in.Details,
		Priority:   in.Priority,
		Status:     models.ReportPending,
		CreatedAt:  m.now(),
	}
	m.reports[rep.ID] = rep
	m.emit(Event{Type: EventReportSubmitted, ReportID: rep.ID, ListingID: rep.ListingID, ReportStatus: rep.Status})
	return *rep, nil
}

// Reports lists the moderation queue for an admin, filtered by status when
// given, newest first.
func (m *Market) Reports(ctx context.Context, actorID string, status models.ReportStatus) ([]models.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.moderatorLocked(ctx, actorID); err != nil {
		return nil, err
	}

	var out []models.Report
	for _, rep := range m.reports {
		if status == "" || rep.Status == status {
			out = append(out, *rep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ReviewReport moves a report through the moderation queue. Admins may
// start investigating a pending report, and resolve or dismiss any open
// one. Reviewing a report does not act on its target; removal goes
// through RemoveListing.
func (m *Market) ReviewReport(ctx context.Context, reportID, actorID string, status models.ReportStatus) (models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.moderatorLocked(ctx, actorID); err != nil {
		return models.Report{}, err
	}
	rep, ok := m.reports[reportID]
	if !ok {
		return models.Report{}, fmt.Errorf("report %s: %w", reportID, ErrNotFound)
	}
	if rep.Status.Terminal() {
		return models.Report{}, fmt.Errorf("report is already %s: %w", rep.Status, ErrAlreadyTerminal)
	}

	switch status {
	case models.ReportInvestigating:
		if rep.Status != models.ReportPending {
			return models.Report{}, fmt.Errorf("report is already %s: %w", rep.Status, ErrInvalidTransition)
		}
		rep.Status = status
	case models.ReportResolved, models.ReportDismissed:
		rep.Status = status
		at := m.now()
		rep.ResolvedAt = &at
	default:
		return models.Report{}, fmt.Errorf("cannot move a report to %q: %w", status, ErrInvalidTransition)
	}

	m.emit(Event{Type: EventReportReviewed, ReportID: rep.ID, ListingID: rep.ListingID, ReportStatus: rep.Status})
	return *rep, nil
}

// moderatorLocked checks the actor holds the moderation capability. The
// policy's moderate rule looks only at the actor, so no listing is bound.
func (m *Market) moderatorLocked(ctx context.Context, actorID string) error {
	actor, ok := m.users[actorID]
	if !ok {
		return fmt.Errorf("user %s: %w", actorID, ErrNotFound)
	}
	return m.authorize(ctx, actor, &models.Listing{}, policy.ActionModerate)
}

func validPriority(p models.ReportPriority) bool {
	switch p {
	case models.PriorityLow, models.PriorityMedium, models.PriorityHigh, models.PriorityCritical:
		return true
	}
	return false
}
