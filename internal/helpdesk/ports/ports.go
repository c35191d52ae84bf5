// Package ports defines the interfaces the helpdesk services consume.
// Interfaces live here when more than one service or store implements or
// uses them.
package ports

import (
	"context"
	"log/slog"

	"troubledesk/internal/helpdesk/models"
)

// Repository is the persistence contract for issues, experts and ratings.
// Implementations return value copies; callers never share aliases with the
// store. Issue updates are optimistic: the expected version must match or
// the update fails with a conflict.
type Repository interface {
	// InsertIssue persists a new issue.
	InsertIssue(ctx context.Context, issue models.Issue) error

	// FindIssue retrieves an issue by id.
	FindIssue(ctx context.Context, id string) (*models.Issue, error)

	// UpdateIssue applies a field-level update if the stored version still
	// equals expectedVersion, bumping the version on success.
	UpdateIssue(ctx context.Context, id string, expectedVersion int64, upd models.IssueUpdate) error

	// DeleteIssue removes an issue permanently.
	DeleteIssue(ctx context.Context, id string) error

	// ListIssues returns issues matching the filter.
	ListIssues(ctx context.Context, filter models.IssueFilter) ([]models.Issue, error)

	// CountIssues returns the number of issues matching the filter.
	CountIssues(ctx context.Context, filter models.IssueFilter) (int, error)

	// FindExpert retrieves an expert by id.
	FindExpert(ctx context.Context, id string) (*models.Expert, error)

	// ListExperts returns experts matching the filter.
	ListExperts(ctx context.Context, filter models.ExpertFilter) ([]models.Expert, error)

	// CountExperts returns the number of experts matching the filter.
	CountExperts(ctx context.Context, filter models.ExpertFilter) (int, error)

	// UpdateExpert applies a field-level expert update.
	UpdateExpert(ctx context.Context, id string, upd models.ExpertUpdate) error

	// AdjustActiveIssues atomically adds delta to an expert's active-issue
	// counter, clamping the result at zero.
	AdjustActiveIssues(ctx context.Context, id string, delta int) error

	// InsertRating persists a rating.
	InsertRating(ctx context.Context, rating models.Rating) error

	// HasRating reports whether rater already rated the issue.
	HasRating(ctx context.Context, issueID, raterID string) (bool, error)
}

// Notifier delivers an event to one recipient. Delivery is best effort: a
// missing or disconnected recipient is dropped, never retried.
type Notifier interface {
	Publish(ctx context.Context, recipientID string, event models.Event, payload map[string]any) error
}

// EventPublisher emits lifecycle events to the issue-events stream for
// downstream consumers, keyed by issue id.
type EventPublisher interface {
	Publish(ctx context.Context, event models.Event, issueID string, payload map[string]any) error
}

// Embedder produces a dense vector for free text. The model behind it is
// out of scope; matching only needs the vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Notify sends a best-effort notification, logging failures instead of
// propagating them. A nil notifier or empty recipient is a no-op.
func Notify(ctx context.Context, logger *slog.Logger, n Notifier, recipientID string, event models.Event, payload map[string]any) {
	if n == nil || recipientID == "" {
		return
	}
	if err := n.Publish(ctx, recipientID, event, payload); err != nil && logger != nil {
		logger.WarnContext(ctx, "notification dropped",
			"event", string(event), "recipient", recipientID, "error", err)
	}
}

// Emit publishes a lifecycle event best effort, logging failures. A nil
// publisher is a no-op.
func Emit(ctx context.Context, logger *slog.Logger, p EventPublisher, event models.Event, issueID string, payload map[string]any) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, event, issueID, payload); err != nil && logger != nil {
		logger.WarnContext(ctx, "event publish failed",
			"event", string(event), "issue_id", issueID, "error", err)
	}
}
