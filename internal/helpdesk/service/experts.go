package service

import (
	"context"
	"math"

	"troubledesk/internal/helpdesk/models"
	"troubledesk/pkg/fault"
)

// RateExpert records the submitter's 1-5 rating of the expert who worked
// the issue and folds it into the expert's trust score as a running
// vote-weighted average, rounded to two decimals. One rating per issue per
// rater.
func (s *Service) RateExpert(ctx context.Context, caller models.Identity, issueID string, score int, comment string) (*models.Rating, error) {
	if caller.Role != models.RoleUser {
		return nil, fault.New(fault.CodeForbidden, "only users can rate experts")
	}
	if score < 1 || score > 5 {
		return nil, fault.Newf(fault.CodeValidation, "rating must be between 1 and 5, got %d", score)
	}

	issue, err := s.repo.FindIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if issue.SubmittedBy != caller.ID {
		return nil, fault.New(fault.CodeForbidden, "only the submitter can rate this issue's expert")
	}
	if issue.AssignedExpert == nil {
		return nil, fault.New(fault.CodeValidation, "issue has no expert to rate")
	}
	expertID := *issue.AssignedExpert

	if exists, err := s.repo.HasRating(ctx, issueID, caller.ID); err != nil {
		return nil, fault.Wrap(err, fault.CodeInternal, "check existing rating")
	} else if exists {
		return nil, fault.New(fault.CodeValidation, "issue already rated")
	}

	expert, err := s.repo.FindExpert(ctx, expertID)
	if err != nil {
		return nil, err
	}

	rating := models.Rating{
		ID:        s.newID(),
		IssueID:   issueID,
		ExpertID:  expertID,
		RaterID:   caller.ID,
		Score:     score,
		Comment:   comment,
		CreatedAt: s.now(),
	}
	if err := s.repo.InsertRating(ctx, rating); err != nil {
		return nil, err
	}

	votes := expert.TrustVotes
	if votes < 1 {
		votes = 1
	}
	normalized := float64(score) / 5
	trust := math.Round((expert.TrustScore*float64(votes)+normalized)/float64(votes+1)*100) / 100
	if err := s.repo.UpdateExpert(ctx, expertID, models.ExpertUpdate{
		TrustScore:      &trust,
		TrustVotesDelta: 1,
	}); err != nil {
		return nil, fault.Wrap(err, fault.CodeInternal, "update trust score")
	}

	s.notify(ctx, expertID, models.EventExpertRated, payload(issueID))
	s.emit(ctx, models.EventExpertRated, issueID, map[string]any{
		"issue_id": issueID, "expert_id": expertID,
	})
	return &rating, nil
}

// SetAvailability flips the calling expert's availability flag.
func (s *Service) SetAvailability(ctx context.Context, caller models.Identity, available bool) error {
	if caller.Role != models.RoleExpert {
		return fault.New(fault.CodeForbidden, "only experts can update availability")
	}
	return s.repo.UpdateExpert(ctx, caller.ID, models.ExpertUpdate{Available: &available})
}

// VerifyExpert marks an expert verified. Admin only; verifying an already
// verified expert is a no-op.
func (s *Service) VerifyExpert(ctx context.Context, caller models.Identity, expertID, notes string) error {
	if caller.Role != models.RoleAdmin {
		return fault.New(fault.CodeForbidden, "only admins can verify experts")
	}
	expert, err := s.repo.FindExpert(ctx, expertID)
	if err != nil {
		return err
	}
	if expert.Verified {
		return nil
	}
	if notes == "" {
		notes = "verified by admin"
	}
	verified := true
	return s.repo.UpdateExpert(ctx, expertID, models.ExpertUpdate{
		Verified:          &verified,
		VerificationNotes: &notes,
	})
}

// ListIssuesBySubmitter returns the caller's reported issues.
func (s *Service) ListIssuesBySubmitter(ctx context.Context, caller models.Identity) ([]models.Issue, error) {
	if caller.Role != models.RoleUser {
		return nil, fault.New(fault.CodeForbidden, "only users can list their issues")
	}
	return s.repo.ListIssues(ctx, models.IssueFilter{SubmittedBy: &caller.ID})
}

// ListAssignments returns the caller's open assignments: everything they
// currently own plus resolutions awaiting confirmation.
func (s *Service) ListAssignments(ctx context.Context, caller models.Identity) ([]models.Issue, error) {
	if caller.Role != models.RoleExpert {
		return nil, fault.New(fault.CodeForbidden, "only experts can list assignments")
	}
	return s.repo.ListIssues(ctx, models.IssueFilter{
		AssignedExpert: &caller.ID,
		Statuses: []models.Status{
			models.StatusAssigned,
			models.StatusInProgress,
			models.StatusAwaitingConfirmation,
		},
	})
}
