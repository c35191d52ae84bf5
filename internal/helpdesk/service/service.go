// Package service implements the assignment orchestrator: the issue state
// machine, expert selection on submission and reassignment, and the delayed
// retry for issues left unassigned.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"troubledesk/internal/helpdesk/matching"
	"troubledesk/internal/helpdesk/models"
	"troubledesk/internal/helpdesk/ports"
	"troubledesk/internal/platform/metrics"
	"troubledesk/pkg/fault"
)

// DefaultRetryDelay is how long an unassigned issue waits before one more
// selection attempt.
const DefaultRetryDelay = 30 * time.Second

// Service owns issue lifecycle transitions. Every mutating operation is a
// read-modify-write serialized per issue id (keyed lock in-process,
// version-conditional update at the store) and either applies its whole
// transition or none of it.
type Service struct {
	repo      ports.Repository
	selector  *matching.Selector
	regions   *matching.RegionBalancer
	notifier  ports.Notifier
	publisher ports.EventPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	retries   *RetryScheduler
	locks     keyedMutex
	now       func() time.Time
	newID     func() string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithNotifier attaches the per-recipient notifier. Delivery is best
// effort; a nil notifier disables notifications.
func WithNotifier(n ports.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithEventPublisher attaches the lifecycle event stream publisher.
func WithEventPublisher(p ports.EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMetrics attaches Prometheus instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRetryDelay overrides the delayed-retry interval.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Service) { s.retries.delay = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides issue/rating id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// New builds the orchestrator. Repository, selector and region balancer are
// required; everything else is optional.
func New(repo ports.Repository, selector *matching.Selector, regions *matching.RegionBalancer, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, fault.New(fault.CodeValidation, "repository is required")
	}
	if selector == nil {
		return nil, fault.New(fault.CodeValidation, "selector is required")
	}
	if regions == nil {
		return nil, fault.New(fault.CodeValidation, "region balancer is required")
	}

	s := &Service{
		repo:     repo,
		selector: selector,
		regions:  regions,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	s.retries = newRetryScheduler(DefaultRetryDelay, s.retryAssignment)
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.retries.logger = s.logger
	return s, nil
}

// Close drains outstanding retry timers. Call at shutdown.
func (s *Service) Close() {
	s.retries.Stop()
}

// Retries exposes the scheduler, mainly so wiring and tests can observe
// outstanding retry markers.
func (s *Service) Retries() *RetryScheduler {
	return s.retries
}

// SubmitInput is a new issue report.
type SubmitInput struct {
	Title       string
	Description string
	Category    string
	Urgency     int
	Region      string
}

func (in SubmitInput) validate() error {
	if in.Title == "" {
		return fault.New(fault.CodeValidation, "title is required")
	}
	if in.Urgency < 1 || in.Urgency > 5 {
		return fault.Newf(fault.CodeValidation, "urgency must be between 1 and 5, got %d", in.Urgency)
	}
	if in.Region == "" {
		return fault.New(fault.CodeValidation, "region is required")
	}
	return nil
}

// Submit creates an issue and tries to assign an expert immediately:
// first from the submitter's region, then from the globally least-loaded
// region when the home region has no qualified local expert. When nobody
// qualifies the issue stays pending and a delayed retry is scheduled.
func (s *Service) Submit(ctx context.Context, caller models.Identity, in SubmitInput) (*models.Issue, error) {
	if caller.Role != models.RoleUser {
		return nil, fault.New(fault.CodeForbidden, "only users can report issues")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	truth := true
	region := in.Region
	pool, err := s.repo.ListExperts(ctx, models.ExpertFilter{
		Region: &region, Verified: &truth, Available: &truth,
	})
	if err != nil {
		return nil, fault.Wrap(err, fault.CodeInternal, "list regional experts")
	}
	if len(pool) == 0 {
		fallback, err := s.regions.BestRegion(ctx)
		if err != nil {
			return nil, err
		}
		region = fallback
		pool, err = s.repo.ListExperts(ctx, models.ExpertFilter{
			Region: &region, Verified: &truth, Available: &truth,
		})
		if err != nil {
			return nil, fault.Wrap(err, fault.CodeInternal, "list fallback experts")
		}
	}

	issue := models.Issue{
		ID:          s.newID(),
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		Urgency:     in.Urgency,
		Status:      models.StatusPending,
		Region:      region,
		SubmittedBy: caller.ID,
		RejectedBy:  []string{},
		SkippedBy:   []string{},
		CreatedAt:   s.now(),
		Version:     1,
	}
	if err := s.repo.InsertIssue(ctx, issue); err != nil {
		return nil, fault.Wrap(err, fault.CodeInternal, "insert issue")
	}
	if s.metrics != nil {
		s.metrics.IssuesSubmitted.Inc()
	}
	s.notify(ctx, caller.ID, models.EventIssueCreated, payload(issue.ID))
	s.emit(ctx, models.EventIssueCreated, issue.ID, payload(issue.ID))

	expertID, ok := s.selectExpert(ctx, issue, pool)
	if !ok {
		s.noCandidate(ctx, &issue, "submit", caller.ID)
		return &issue, nil
	}
	if err := s.assign(ctx, &issue, expertID, "submit", assignOpts{}); err != nil {
		return nil, err
	}
	return &issue, nil
}

type assignOpts struct {
	logReassignment bool
	notifySubmitter bool
}

// assign flips a pending issue to assigned, bumps the new expert's load and
// fans out notifications. The issue copy is updated in place to mirror the
// store.
func (s *Service) assign(ctx context.Context, issue *models.Issue, expertID, trigger string, opts assignOpts) error {
	assigned := models.StatusAssigned
	upd := models.IssueUpdate{Status: &assigned, AssignedExpert: &expertID}
	var entry models.ReassignmentEntry
	if opts.logReassignment {
		entry = models.ReassignmentEntry{ExpertID: expertID, Timestamp: s.now()}
		upd.AppendReassignment = &entry
	}

	if err := s.repo.UpdateIssue(ctx, issue.ID, issue.Version, upd); err != nil {
		return fault.Wrap(err, fault.GetCode(err), "assign expert")
	}
	if err := s.repo.AdjustActiveIssues(ctx, expertID, 1); err != nil {
		return fault.Wrap(err, fault.CodeInternal, "increment expert load")
	}

	issue.Status = models.StatusAssigned
	issue.AssignedExpert = &expertID
	issue.Version++
	if opts.logReassignment {
		issue.ReassignmentLog = append(issue.ReassignmentLog, entry)
	}

	if s.metrics != nil {
		s.metrics.Assignments.WithLabelValues(trigger).Inc()
	}
	s.logger.InfoContext(ctx, "issue assigned",
		"issue_id", issue.ID, "expert_id", expertID, "trigger", trigger)

	s.notify(ctx, expertID, models.EventIssueAssigned, payload(issue.ID))
	if opts.notifySubmitter {
		s.notify(ctx, issue.SubmittedBy, models.EventIssueAssigned, payload(issue.ID))
	}
	s.emit(ctx, models.EventIssueAssigned, issue.ID, map[string]any{
		"issue_id": issue.ID, "expert_id": expertID, "trigger": trigger,
	})
	return nil
}

// noCandidate records a failed selection round: the issue stays pending, a
// one-shot retry is scheduled and the submitter is told nobody is free.
func (s *Service) noCandidate(ctx context.Context, issue *models.Issue, trigger, submitterID string) {
	if s.metrics != nil {
		s.metrics.NoCandidate.WithLabelValues(trigger).Inc()
	}
	s.scheduleRetry(issue.ID)
	s.notify(ctx, submitterID, models.EventNoExpertNow, payload(issue.ID))
	s.logger.InfoContext(ctx, "no eligible expert",
		"issue_id", issue.ID, "trigger", trigger)
}

func (s *Service) selectExpert(ctx context.Context, issue models.Issue, pool []models.Expert) (string, bool) {
	start := time.Now()
	id, ok := s.selector.Select(ctx, issue, pool)
	if s.metrics != nil {
		s.metrics.SelectionDuration.Observe(time.Since(start).Seconds())
	}
	return id, ok
}

func (s *Service) scheduleRetry(issueID string) {
	s.retries.Schedule(issueID)
	if s.metrics != nil {
		s.metrics.RetriesScheduled.Inc()
	}
}

// reassignmentPool is the candidate pool for reject/escalate/retry paths:
// available verified experts minus the exclusion list, regardless of
// region (the selector still prefers the issue's region).
func (s *Service) reassignmentPool(ctx context.Context, exclude []string) ([]models.Expert, error) {
	truth := true
	pool, err := s.repo.ListExperts(ctx, models.ExpertFilter{
		Verified: &truth, Available: &truth, ExcludeIDs: exclude,
	})
	if err != nil {
		return nil, fault.Wrap(err, fault.CodeInternal, "list reassignment candidates")
	}
	return pool, nil
}

func (s *Service) notify(ctx context.Context, recipientID string, event models.Event, data map[string]any) {
	ports.Notify(ctx, s.logger, s.notifier, recipientID, event, data)
}

func (s *Service) emit(ctx context.Context, event models.Event, issueID string, data map[string]any) {
	ports.Emit(ctx, s.logger, s.publisher, event, issueID, data)
}

func payload(issueID string) map[string]any {
	return map[string]any{"issue_id": issueID}
}
