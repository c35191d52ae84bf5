package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// retryTimeout bounds one delayed reassignment attempt.
const retryTimeout = 30 * time.Second

// RetryScheduler runs one-shot delayed reassignment attempts for issues
// left unassigned. Each issue holds at most one outstanding timer; a firing
// retry re-fetches current state and no-ops when the issue was assigned or
// deleted in the meantime. Retries are not cancelled on reassignment — the
// still-unassigned check makes a stale timer harmless.
type RetryScheduler struct {
	delay   time.Duration
	attempt func(issueID string)
	logger  *slog.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

func newRetryScheduler(delay time.Duration, attempt func(issueID string)) *RetryScheduler {
	return &RetryScheduler{
		delay:   delay,
		attempt: attempt,
		timers:  make(map[string]*time.Timer),
	}
}

// Schedule arms a delayed attempt for the issue. A second call while one is
// outstanding is a no-op; each retry is a single attempt, not a backoff
// loop.
func (r *RetryScheduler) Schedule(issueID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if _, outstanding := r.timers[issueID]; outstanding {
		return
	}

	r.wg.Add(1)
	r.timers[issueID] = time.AfterFunc(r.delay, func() {
		defer r.wg.Done()

		r.mu.Lock()
		delete(r.timers, issueID)
		stopped := r.stopped
		r.mu.Unlock()
		if stopped {
			return
		}
		r.attempt(issueID)
	})
	if r.logger != nil {
		r.logger.Debug("retry scheduled", "issue_id", issueID, "delay", r.delay)
	}
}

// Outstanding reports whether the issue has a retry pending.
func (r *RetryScheduler) Outstanding(issueID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[issueID]
	return ok
}

// Stop cancels pending timers and waits for in-flight attempts to finish.
func (r *RetryScheduler) Stop() {
	r.mu.Lock()
	r.stopped = true
	for id, t := range r.timers {
		if t.Stop() {
			r.wg.Done()
		}
		delete(r.timers, id)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// retryAssignment is the scheduler callback: one more selection round for
// an issue that was left unassigned. Failing to find a candidate is not an
// error, merely a no-op.
func (s *Service) retryAssignment(issueID string) {
	ctx, cancel := context.WithTimeout(context.Background(), retryTimeout)
	defer cancel()

	if s.metrics != nil {
		s.metrics.RetriesFired.Inc()
	}

	unlock := s.locks.lock(issueID)
	defer unlock()

	issue, err := s.repo.FindIssue(ctx, issueID)
	if err != nil {
		return // deleted, or the store is unhappy; either way nothing to do
	}
	if issue.AssignedExpert != nil {
		return // someone got there first
	}

	pool, err := s.reassignmentPool(ctx, issue.RejectedBy)
	if err != nil {
		s.logger.WarnContext(ctx, "retry pool lookup failed", "issue_id", issueID, "error", err)
		return
	}
	expertID, ok := s.selectExpert(ctx, *issue, pool)
	if !ok {
		return
	}

	if err := s.assign(ctx, issue, expertID, "retry", assignOpts{notifySubmitter: true}); err != nil {
		s.logger.WarnContext(ctx, "retry assignment failed", "issue_id", issueID, "error", err)
	}
}
