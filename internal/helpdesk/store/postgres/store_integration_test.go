//go:build integration

package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"

	"troubledesk/internal/helpdesk/models"
	pgstore "troubledesk/internal/helpdesk/store/postgres"
	"troubledesk/pkg/fault"
)

// PostgresStoreSuite runs against a real database. It is gated twice: the
// integration build tag, and DATABASE_URL, which must point at a disposable
// database (tables are truncated between tests).
type PostgresStoreSuite struct {
	suite.Suite
	pool  *pgxpool.Pool
	store *pgstore.Store
	ctx   context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	pool, err := pgxpool.New(s.ctx, os.Getenv("DATABASE_URL"))
	s.Require().NoError(err)
	s.Require().NoError(pgstore.Migrate(s.ctx, pool))
	s.pool = pool
	s.store = pgstore.New(pool)
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, `TRUNCATE issues, experts, ratings`)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) newIssue() models.Issue {
	return models.Issue{
		ID:          uuid.NewString(),
		Title:       "vpn down",
		Description: "drops every few minutes",
		Category:    "network",
		Urgency:     3,
		Status:      models.StatusPending,
		Region:      "north",
		SubmittedBy: "user-1",
		RejectedBy:  []string{},
		SkippedBy:   []string{},
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
		Version:     1,
	}
}

func (s *PostgresStoreSuite) seedExpert(id, region string, tags ...string) {
	_, err := s.pool.Exec(s.ctx, `
		INSERT INTO experts (id, region, verified, available, tags, created_at)
		VALUES ($1, $2, TRUE, TRUE, $3, NOW())`, id, region, tags)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestIssueRoundTrip() {
	issue := s.newIssue()
	s.Require().NoError(s.store.InsertIssue(s.ctx, issue))

	got, err := s.store.FindIssue(s.ctx, issue.ID)
	s.Require().NoError(err)
	s.Equal(issue.Title, got.Title)
	s.Equal(issue.Region, got.Region)
	s.Equal([]string{}, got.RejectedBy)
	s.Nil(got.AssignedExpert)
	s.Equal(int64(1), got.Version)
	s.True(issue.CreatedAt.Equal(got.CreatedAt))

	_, err = s.store.FindIssue(s.ctx, "missing")
	s.True(fault.HasCode(err, fault.CodeNotFound))
}

func (s *PostgresStoreSuite) TestUpdateIssue() {
	issue := s.newIssue()
	s.Require().NoError(s.store.InsertIssue(s.ctx, issue))

	s.Run("combined field update applies atomically", func() {
		status := models.StatusAssigned
		expert := "exp-a"
		entry := models.ReassignmentEntry{ExpertID: "exp-a", Timestamp: time.Now().UTC()}
		err := s.store.UpdateIssue(s.ctx, issue.ID, 1, models.IssueUpdate{
			Status:             &status,
			AssignedExpert:     &expert,
			AppendReassignment: &entry,
		})
		s.Require().NoError(err)

		got, err := s.store.FindIssue(s.ctx, issue.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusAssigned, got.Status)
		s.Equal("exp-a", *got.AssignedExpert)
		s.Require().Len(got.ReassignmentLog, 1)
		s.Equal("exp-a", got.ReassignmentLog[0].ExpertID)
		s.Equal(int64(2), got.Version)
	})

	s.Run("stale version is a conflict", func() {
		status := models.StatusPending
		err := s.store.UpdateIssue(s.ctx, issue.ID, 1, models.IssueUpdate{Status: &status})
		s.True(fault.HasCode(err, fault.CodeConflict))
	})

	s.Run("unknown issue is not found, not a conflict", func() {
		status := models.StatusPending
		err := s.store.UpdateIssue(s.ctx, "missing", 1, models.IssueUpdate{Status: &status})
		s.True(fault.HasCode(err, fault.CodeNotFound))
	})

	s.Run("clear wins over a stale assignment", func() {
		err := s.store.UpdateIssue(s.ctx, issue.ID, 2, models.IssueUpdate{ClearAssignedExpert: true})
		s.Require().NoError(err)

		got, err := s.store.FindIssue(s.ctx, issue.ID)
		s.Require().NoError(err)
		s.Nil(got.AssignedExpert)
	})

	s.Run("rejected-by append dedupes", func() {
		expert := "exp-a"
		s.Require().NoError(s.store.UpdateIssue(s.ctx, issue.ID, 3, models.IssueUpdate{AppendRejectedBy: &expert}))
		s.Require().NoError(s.store.UpdateIssue(s.ctx, issue.ID, 4, models.IssueUpdate{AppendRejectedBy: &expert}))

		got, err := s.store.FindIssue(s.ctx, issue.ID)
		s.Require().NoError(err)
		s.Equal([]string{"exp-a"}, got.RejectedBy)
	})

	s.Run("reassignment log keeps appending", func() {
		entry := models.ReassignmentEntry{ExpertID: "exp-b", Timestamp: time.Now().UTC()}
		s.Require().NoError(s.store.UpdateIssue(s.ctx, issue.ID, 5, models.IssueUpdate{AppendReassignment: &entry}))

		got, err := s.store.FindIssue(s.ctx, issue.ID)
		s.Require().NoError(err)
		s.Require().Len(got.ReassignmentLog, 2)
		s.Equal("exp-b", got.ReassignmentLog[1].ExpertID)
	})
}

func (s *PostgresStoreSuite) TestIssueFilters() {
	assigned := s.newIssue()
	expert := "exp-a"
	assigned.Status = models.StatusAssigned
	assigned.AssignedExpert = &expert
	s.Require().NoError(s.store.InsertIssue(s.ctx, assigned))

	pending := s.newIssue()
	pending.SubmittedBy = "user-2"
	pending.CreatedAt = assigned.CreatedAt.Add(time.Second)
	s.Require().NoError(s.store.InsertIssue(s.ctx, pending))

	s.Run("status set filter uses ANY", func() {
		issues, err := s.store.ListIssues(s.ctx, models.IssueFilter{
			Statuses: []models.Status{models.StatusAssigned, models.StatusInProgress},
		})
		s.Require().NoError(err)
		s.Require().Len(issues, 1)
		s.Equal(assigned.ID, issues[0].ID)
	})

	s.Run("assigned-expert and submitter filters", func() {
		issues, err := s.store.ListIssues(s.ctx, models.IssueFilter{AssignedExpert: &expert})
		s.Require().NoError(err)
		s.Len(issues, 1)

		submitter := "user-2"
		n, err := s.store.CountIssues(s.ctx, models.IssueFilter{SubmittedBy: &submitter})
		s.Require().NoError(err)
		s.Equal(1, n)
	})

	s.Run("region count feeds the balancer", func() {
		region := "north"
		n, err := s.store.CountIssues(s.ctx, models.IssueFilter{
			Region: &region, Statuses: models.ActiveStatuses,
		})
		s.Require().NoError(err)
		s.Equal(2, n)
	})

	s.Run("delete removes the row", func() {
		s.Require().NoError(s.store.DeleteIssue(s.ctx, pending.ID))
		s.True(fault.HasCode(s.store.DeleteIssue(s.ctx, pending.ID), fault.CodeNotFound))
	})
}

func (s *PostgresStoreSuite) TestExperts() {
	s.seedExpert("exp-a", "north", "vpn", "dns")
	s.seedExpert("exp-b", "south")

	s.Run("exclusion filter uses ALL", func() {
		truth := true
		pool, err := s.store.ListExperts(s.ctx, models.ExpertFilter{
			Verified: &truth, Available: &truth, ExcludeIDs: []string{"exp-a"},
		})
		s.Require().NoError(err)
		s.Require().Len(pool, 1)
		s.Equal("exp-b", pool[0].ID)
		s.Empty(pool[0].Tags)
	})

	s.Run("tags round-trip as arrays", func() {
		e, err := s.store.FindExpert(s.ctx, "exp-a")
		s.Require().NoError(err)
		s.Equal([]string{"vpn", "dns"}, e.Tags)
	})

	s.Run("counter clamps at zero in SQL", func() {
		s.Require().NoError(s.store.AdjustActiveIssues(s.ctx, "exp-a", 2))
		s.Require().NoError(s.store.AdjustActiveIssues(s.ctx, "exp-a", -5))

		e, err := s.store.FindExpert(s.ctx, "exp-a")
		s.Require().NoError(err)
		s.Zero(e.ActiveIssues)
	})

	s.Run("update applies only set fields", func() {
		trust := 0.73
		err := s.store.UpdateExpert(s.ctx, "exp-a", models.ExpertUpdate{
			TrustScore: &trust, TrustVotesDelta: 1,
		})
		s.Require().NoError(err)

		e, err := s.store.FindExpert(s.ctx, "exp-a")
		s.Require().NoError(err)
		s.InDelta(0.73, e.TrustScore, 1e-9)
		s.Equal(2, e.TrustVotes, "seed default 1 plus the delta")
		s.True(e.Verified, "untouched fields keep their values")
	})

	s.Run("missing expert is not found", func() {
		s.True(fault.HasCode(s.store.AdjustActiveIssues(s.ctx, "missing", 1), fault.CodeNotFound))
		verified := true
		s.True(fault.HasCode(s.store.UpdateExpert(s.ctx, "missing", models.ExpertUpdate{Verified: &verified}), fault.CodeNotFound))
	})
}

func (s *PostgresStoreSuite) TestRatings() {
	rating := models.Rating{
		ID: uuid.NewString(), IssueID: "issue-1", ExpertID: "exp-a",
		RaterID: "user-1", Score: 4, CreatedAt: time.Now().UTC(),
	}
	s.Require().NoError(s.store.InsertRating(s.ctx, rating))

	s.Run("unique constraint maps to a validation error", func() {
		dup := rating
		dup.ID = uuid.NewString()
		err := s.store.InsertRating(s.ctx, dup)
		s.True(fault.HasCode(err, fault.CodeValidation))
	})

	s.Run("has-rating reflects the row", func() {
		ok, err := s.store.HasRating(s.ctx, "issue-1", "user-1")
		s.Require().NoError(err)
		s.True(ok)

		ok, err = s.store.HasRating(s.ctx, "issue-1", "user-2")
		s.Require().NoError(err)
		s.False(ok)
	})
}
