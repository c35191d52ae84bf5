package service

import (
	"context"

	"troubledesk/internal/helpdesk/models"
	"troubledesk/pkg/fault"
)

// Accept moves an assigned issue to in_progress. Only the assigned expert
// may accept.
func (s *Service) Accept(ctx context.Context, caller models.Identity, issueID string) (*models.Issue, error) {
	unlock := s.locks.lock(issueID)
	defer unlock()

	issue, err := s.ownedByExpert(ctx, caller, issueID)
	if err != nil {
		return nil, err
	}
	if issue.Status != models.StatusAssigned {
		return nil, fault.Newf(fault.CodeValidation, "issue cannot be accepted from status %q", issue.Status)
	}

	inProgress := models.StatusInProgress
	if err := s.repo.UpdateIssue(ctx, issue.ID, issue.Version, models.IssueUpdate{Status: &inProgress}); err != nil {
		return nil, fault.Wrap(err, fault.GetCode(err), "accept assignment")
	}
	issue.Status = inProgress
	issue.Version++

	s.notify(ctx, issue.SubmittedBy, models.EventIssueStarted, payload(issue.ID))
	s.emit(ctx, models.EventIssueStarted, issue.ID, payload(issue.ID))
	return issue, nil
}

// SubmitResolution records the expert's resolution and parks the issue in
// awaiting_confirmation. The issue leaves the expert's plate immediately:
// their active-issue count drops now, not at closure.
func (s *Service) SubmitResolution(ctx context.Context, caller models.Identity, issueID, notes string) (*models.Issue, error) {
	unlock := s.locks.lock(issueID)
	defer unlock()

	issue, err := s.ownedByExpert(ctx, caller, issueID)
	if err != nil {
		return nil, err
	}
	if issue.Status != models.StatusAssigned && issue.Status != models.StatusInProgress {
		return nil, fault.Newf(fault.CodeValidation, "resolution cannot be submitted from status %q", issue.Status)
	}

	awaiting := models.StatusAwaitingConfirmation
	resolvedAt := s.now()
	notDone := false
	upd := models.IssueUpdate{
		Status:          &awaiting,
		ResolutionNotes: &notes,
		ResolvedAt:      &resolvedAt,
		DoneBySubmitter: &notDone,
		DoneByExpert:    &notDone,
	}
	if err := s.repo.UpdateIssue(ctx, issue.ID, issue.Version, upd); err != nil {
		return nil, fault.Wrap(err, fault.GetCode(err), "submit resolution")
	}
	if err := s.repo.AdjustActiveIssues(ctx, caller.ID, -1); err != nil {
		return nil, fault.Wrap(err, fault.CodeInternal, "decrement expert load")
	}

	issue.Status = awaiting
	issue.ResolutionNotes = &notes
	issue.ResolvedAt = &resolvedAt
	issue.DoneBySubmitter = false
	issue.DoneByExpert = false
	issue.Version++

	s.notify(ctx, issue.SubmittedBy, models.EventResolutionSubmitted, map[string]any{
		"issue_id": issue.ID, "resolution_notes": notes,
	})
	s.emit(ctx, models.EventResolutionSubmitted, issue.ID, payload(issue.ID))
	return issue, nil
}

// MarkDone sets the calling party's completion flag. When both parties have
// marked done the issue closes and both are told a rating prompt should
// follow. Returns the updated issue and whether it closed.
func (s *Service) MarkDone(ctx context.Context, caller models.Identity, issueID string) (*models.Issue, bool, error) {
	unlock := s.locks.lock(issueID)
	defer unlock()

	issue, err := s.repo.FindIssue(ctx, issueID)
	if err != nil {
		return nil, false, err
	}
	if issue.Status == models.StatusClosed {
		return nil, false, fault.New(fault.CodeValidation, "issue is already closed")
	}

	done := true
	upd := models.IssueUpdate{}
	switch {
	case caller.Role == models.RoleUser && issue.SubmittedBy == caller.ID:
		upd.DoneBySubmitter = &done
		issue.DoneBySubmitter = true
	case caller.Role == models.RoleExpert && issue.AssignedExpert != nil && *issue.AssignedExpert == caller.ID:
		upd.DoneByExpert = &done
		issue.DoneByExpert = true
	default:
		return nil, false, fault.New(fault.CodeForbidden, "only the submitter or the assigned expert can mark an issue done")
	}

	closed := issue.DoneBySubmitter && issue.DoneByExpert
	if closed {
		status := models.StatusClosed
		closedAt := s.now()
		upd.Status = &status
		upd.ClosedAt = &closedAt
		issue.Status = status
		issue.ClosedAt = &closedAt
	}

	if err := s.repo.UpdateIssue(ctx, issue.ID, issue.Version, upd); err != nil {
		return nil, false, fault.Wrap(err, fault.GetCode(err), "mark done")
	}
	issue.Version++

	if closed {
		if s.metrics != nil {
			s.metrics.IssuesClosed.Inc()
		}
		data := map[string]any{"issue_id": issue.ID, "rate_prompt": true}
		s.notify(ctx, issue.SubmittedBy, models.EventIssueClosed, data)
		if issue.AssignedExpert != nil {
			s.notify(ctx, *issue.AssignedExpert, models.EventIssueClosed, data)
		}
		s.emit(ctx, models.EventIssueClosed, issue.ID, data)
	}
	return issue, closed, nil
}

// Reject lets the assigned expert hand an issue back. The expert lands in
// the rejected-by set and is excluded from the immediate reselection; when
// nobody else qualifies the issue stays pending with a retry outstanding.
func (s *Service) Reject(ctx context.Context, caller models.Identity, issueID string) (*models.Issue, error) {
	unlock := s.locks.lock(issueID)
	defer unlock()

	issue, err := s.ownedByExpert(ctx, caller, issueID)
	if err != nil {
		return nil, err
	}
	// A resolved issue already left the expert's plate; unassigning it here
	// would release their load a second time.
	if issue.Status != models.StatusAssigned && issue.Status != models.StatusInProgress {
		return nil, fault.Newf(fault.CodeValidation, "issue cannot be rejected from status %q", issue.Status)
	}

	if err := s.unassign(ctx, issue, caller.ID, models.IssueUpdate{AppendRejectedBy: &caller.ID}); err != nil {
		return nil, fault.Wrap(err, fault.GetCode(err), "reject assignment")
	}
	issue.RejectedBy = append(issue.RejectedBy, caller.ID)
	if s.metrics != nil {
		s.metrics.Rejections.Inc()
	}
	s.emit(ctx, models.EventIssueUnassigned, issue.ID, map[string]any{
		"issue_id": issue.ID, "expert_id": caller.ID, "trigger": "reject",
	})

	pool, err := s.reassignmentPool(ctx, issue.RejectedBy)
	if err != nil {
		return nil, err
	}
	expertID, ok := s.selectExpert(ctx, *issue, pool)
	if !ok {
		s.noCandidate(ctx, issue, "reject", issue.SubmittedBy)
		return issue, nil
	}
	if err := s.assign(ctx, issue, expertID, "reject", assignOpts{logReassignment: true, notifySubmitter: true}); err != nil {
		return nil, err
	}
	return issue, nil
}

// Escalate lets the submitter force a hand-off away from the current
// expert, who lands in the skipped-by set. Reselection excludes everyone
// who previously rejected or was skipped. No retry is scheduled when it
// fails; escalating again is the submitter's lever.
func (s *Service) Escalate(ctx context.Context, caller models.Identity, issueID string) (*models.Issue, error) {
	unlock := s.locks.lock(issueID)
	defer unlock()

	if caller.Role != models.RoleUser {
		return nil, fault.New(fault.CodeForbidden, "only users can escalate issues")
	}
	issue, err := s.repo.FindIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if issue.SubmittedBy != caller.ID {
		return nil, fault.New(fault.CodeForbidden, "only the submitter can escalate this issue")
	}
	if issue.AssignedExpert == nil {
		return nil, fault.New(fault.CodeValidation, "no expert currently assigned to escalate from")
	}
	if issue.Status != models.StatusAssigned && issue.Status != models.StatusInProgress {
		return nil, fault.Newf(fault.CodeValidation, "issue cannot be escalated from status %q", issue.Status)
	}
	oldExpert := *issue.AssignedExpert

	if err := s.unassign(ctx, issue, oldExpert, models.IssueUpdate{AppendSkippedBy: &oldExpert}); err != nil {
		return nil, fault.Wrap(err, fault.GetCode(err), "escalate issue")
	}
	issue.SkippedBy = append(issue.SkippedBy, oldExpert)
	if s.metrics != nil {
		s.metrics.Escalations.Inc()
	}
	s.emit(ctx, models.EventIssueUnassigned, issue.ID, map[string]any{
		"issue_id": issue.ID, "expert_id": oldExpert, "trigger": "escalate",
	})

	pool, err := s.reassignmentPool(ctx, issue.ExcludedExperts())
	if err != nil {
		return nil, err
	}
	expertID, ok := s.selectExpert(ctx, *issue, pool)
	if !ok {
		if s.metrics != nil {
			s.metrics.NoCandidate.WithLabelValues("escalate").Inc()
		}
		s.notify(ctx, caller.ID, models.EventNoExpertNow, payload(issue.ID))
		return issue, nil
	}
	if err := s.assign(ctx, issue, expertID, "escalate", assignOpts{logReassignment: true, notifySubmitter: true}); err != nil {
		return nil, err
	}
	s.notify(ctx, oldExpert, models.EventIssueUnassigned, payload(issue.ID))
	return issue, nil
}

// Delete removes an issue permanently. Submitter only. If an expert still
// owns the issue their load counter is released first.
func (s *Service) Delete(ctx context.Context, caller models.Identity, issueID string) error {
	unlock := s.locks.lock(issueID)
	defer unlock()

	issue, err := s.repo.FindIssue(ctx, issueID)
	if err != nil {
		return err
	}
	if caller.Role != models.RoleUser || issue.SubmittedBy != caller.ID {
		return fault.New(fault.CodeForbidden, "only the submitter can delete this issue")
	}

	// An expert in awaiting_confirmation already gave the count back at
	// resolution time; releasing again would double-decrement.
	if issue.AssignedExpert != nil &&
		(issue.Status == models.StatusAssigned || issue.Status == models.StatusInProgress) {
		if err := s.repo.AdjustActiveIssues(ctx, *issue.AssignedExpert, -1); err != nil {
			return fault.Wrap(err, fault.CodeInternal, "release expert load")
		}
	}

	if err := s.repo.DeleteIssue(ctx, issueID); err != nil {
		return err
	}
	s.notify(ctx, caller.ID, models.EventIssueDeleted, payload(issueID))
	s.emit(ctx, models.EventIssueDeleted, issueID, payload(issueID))
	return nil
}

// unassign clears the assignment, returns the issue to pending and releases
// the leaving expert's load in one version-checked step.
func (s *Service) unassign(ctx context.Context, issue *models.Issue, expertID string, upd models.IssueUpdate) error {
	pending := models.StatusPending
	upd.Status = &pending
	upd.ClearAssignedExpert = true

	if err := s.repo.UpdateIssue(ctx, issue.ID, issue.Version, upd); err != nil {
		return err
	}
	if err := s.repo.AdjustActiveIssues(ctx, expertID, -1); err != nil {
		return fault.Wrap(err, fault.CodeInternal, "decrement expert load")
	}
	issue.Status = pending
	issue.AssignedExpert = nil
	issue.Version++
	return nil
}

// ownedByExpert loads the issue and checks the caller is the expert it is
// assigned to.
func (s *Service) ownedByExpert(ctx context.Context, caller models.Identity, issueID string) (*models.Issue, error) {
	if caller.Role != models.RoleExpert {
		return nil, fault.New(fault.CodeForbidden, "expert role required")
	}
	issue, err := s.repo.FindIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if issue.AssignedExpert == nil || *issue.AssignedExpert != caller.ID {
		return nil, fault.New(fault.CodeForbidden, "issue is not assigned to this expert")
	}
	return issue, nil
}
