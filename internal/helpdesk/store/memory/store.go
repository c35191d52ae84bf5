// Package memory provides an in-memory Repository. It backs unit tests and
// single-process development runs; production uses the postgres store.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"troubledesk/internal/helpdesk/models"
	"troubledesk/pkg/fault"
)

// Store implements ports.Repository over process-local maps. All reads
// return deep copies so callers never alias stored state, and issue updates
// are version-checked the same way the postgres store's conditional UPDATE
// is.
type Store struct {
	mu      sync.RWMutex
	issues  map[string]models.Issue
	experts map[string]models.Expert
	ratings map[string]models.Rating // keyed by issueID+"/"+raterID
}

// New creates an empty store.
func New() *Store {
	return &Store{
		issues:  make(map[string]models.Issue),
		experts: make(map[string]models.Expert),
		ratings: make(map[string]models.Rating),
	}
}

// SeedExpert inserts or replaces an expert. Test and dev helper.
func (s *Store) SeedExpert(e models.Expert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.experts[e.ID] = copyExpert(e)
}

func (s *Store) InsertIssue(ctx context.Context, issue models.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.issues[issue.ID]; exists {
		return fault.Newf(fault.CodeConflict, "issue %s already exists", issue.ID)
	}
	s.issues[issue.ID] = copyIssue(issue)
	return nil
}

func (s *Store) FindIssue(ctx context.Context, id string) (*models.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	issue, ok := s.issues[id]
	if !ok {
		return nil, fault.Newf(fault.CodeNotFound, "issue %s not found", id)
	}
	out := copyIssue(issue)
	return &out, nil
}

func (s *Store) UpdateIssue(ctx context.Context, id string, expectedVersion int64, upd models.IssueUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	issue, ok := s.issues[id]
	if !ok {
		return fault.Newf(fault.CodeNotFound, "issue %s not found", id)
	}
	if issue.Version != expectedVersion {
		return fault.Newf(fault.CodeConflict,
			"issue %s version changed (have %d, expected %d)", id, issue.Version, expectedVersion)
	}

	if upd.Status != nil {
		issue.Status = *upd.Status
	}
	if upd.ClearAssignedExpert {
		issue.AssignedExpert = nil
	} else if upd.AssignedExpert != nil {
		v := *upd.AssignedExpert
		issue.AssignedExpert = &v
	}
	if upd.AppendRejectedBy != nil && !slices.Contains(issue.RejectedBy, *upd.AppendRejectedBy) {
		issue.RejectedBy = append(issue.RejectedBy, *upd.AppendRejectedBy)
	}
	if upd.AppendSkippedBy != nil && !slices.Contains(issue.SkippedBy, *upd.AppendSkippedBy) {
		issue.SkippedBy = append(issue.SkippedBy, *upd.AppendSkippedBy)
	}
	if upd.AppendReassignment != nil {
		issue.ReassignmentLog = append(issue.ReassignmentLog, *upd.AppendReassignment)
	}
	if upd.DoneBySubmitter != nil {
		issue.DoneBySubmitter = *upd.DoneBySubmitter
	}
	if upd.DoneByExpert != nil {
		issue.DoneByExpert = *upd.DoneByExpert
	}
	if upd.ResolutionNotes != nil {
		v := *upd.ResolutionNotes
		issue.ResolutionNotes = &v
	}
	if upd.ResolvedAt != nil {
		v := *upd.ResolvedAt
		issue.ResolvedAt = &v
	}
	if upd.ClosedAt != nil {
		v := *upd.ClosedAt
		issue.ClosedAt = &v
	}

	issue.Version++
	s.issues[id] = issue
	return nil
}

func (s *Store) DeleteIssue(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.issues[id]; !ok {
		return fault.Newf(fault.CodeNotFound, "issue %s not found", id)
	}
	delete(s.issues, id)
	return nil
}

func (s *Store) ListIssues(ctx context.Context, filter models.IssueFilter) ([]models.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Issue
	for _, issue := range s.issues {
		if matchIssue(issue, filter) {
			out = append(out, copyIssue(issue))
		}
	}
	slices.SortFunc(out, func(a, b models.Issue) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (s *Store) CountIssues(ctx context.Context, filter models.IssueFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, issue := range s.issues {
		if matchIssue(issue, filter) {
			n++
		}
	}
	return n, nil
}

func (s *Store) FindExpert(ctx context.Context, id string) (*models.Expert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.experts[id]
	if !ok {
		return nil, fault.Newf(fault.CodeNotFound, "expert %s not found", id)
	}
	out := copyExpert(e)
	return &out, nil
}

func (s *Store) ListExperts(ctx context.Context, filter models.ExpertFilter) ([]models.Expert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Expert
	for _, e := range s.experts {
		if matchExpert(e, filter) {
			out = append(out, copyExpert(e))
		}
	}
	slices.SortFunc(out, func(a, b models.Expert) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) CountExperts(ctx context.Context, filter models.ExpertFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.experts {
		if matchExpert(e, filter) {
			n++
		}
	}
	return n, nil
}

func (s *Store) UpdateExpert(ctx context.Context, id string, upd models.ExpertUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.experts[id]
	if !ok {
		return fault.Newf(fault.CodeNotFound, "expert %s not found", id)
	}
	if upd.Available != nil {
		e.Available = *upd.Available
	}
	if upd.Verified != nil {
		e.Verified = *upd.Verified
	}
	if upd.VerificationNotes != nil {
		e.VerificationNotes = *upd.VerificationNotes
	}
	if upd.TrustScore != nil {
		e.TrustScore = *upd.TrustScore
	}
	e.TrustVotes += upd.TrustVotesDelta
	s.experts[id] = e
	return nil
}

func (s *Store) AdjustActiveIssues(ctx context.Context, id string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.experts[id]
	if !ok {
		return fault.Newf(fault.CodeNotFound, "expert %s not found", id)
	}
	e.ActiveIssues += delta
	if e.ActiveIssues < 0 {
		e.ActiveIssues = 0
	}
	s.experts[id] = e
	return nil
}

func (s *Store) InsertRating(ctx context.Context, rating models.Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rating.IssueID + "/" + rating.RaterID
	if _, exists := s.ratings[key]; exists {
		return fault.Newf(fault.CodeValidation, "issue %s already rated by %s", rating.IssueID, rating.RaterID)
	}
	s.ratings[key] = rating
	return nil
}

func (s *Store) HasRating(ctx context.Context, issueID, raterID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ratings[issueID+"/"+raterID]
	return ok, nil
}

func matchIssue(issue models.Issue, f models.IssueFilter) bool {
	if f.SubmittedBy != nil && issue.SubmittedBy != *f.SubmittedBy {
		return false
	}
	if f.AssignedExpert != nil {
		if issue.AssignedExpert == nil || *issue.AssignedExpert != *f.AssignedExpert {
			return false
		}
	}
	if f.Region != nil && issue.Region != *f.Region {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, issue.Status) {
		return false
	}
	return true
}

func matchExpert(e models.Expert, f models.ExpertFilter) bool {
	if f.Region != nil && e.Region != *f.Region {
		return false
	}
	if f.Verified != nil && e.Verified != *f.Verified {
		return false
	}
	if f.Available != nil && e.Available != *f.Available {
		return false
	}
	if slices.Contains(f.ExcludeIDs, e.ID) {
		return false
	}
	return true
}

func copyIssue(i models.Issue) models.Issue {
	out := i
	out.RejectedBy = slices.Clone(i.RejectedBy)
	out.SkippedBy = slices.Clone(i.SkippedBy)
	out.ReassignmentLog = slices.Clone(i.ReassignmentLog)
	out.AssignedExpert = copyPtr(i.AssignedExpert)
	out.ResolutionNotes = copyPtr(i.ResolutionNotes)
	out.ResolvedAt = copyPtr(i.ResolvedAt)
	out.ClosedAt = copyPtr(i.ClosedAt)
	return out
}

func copyExpert(e models.Expert) models.Expert {
	out := e
	out.Tags = slices.Clone(e.Tags)
	return out
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

