package matching

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"troubledesk/internal/helpdesk/models"
)

type SelectorSuite struct {
	suite.Suite
	ctx context.Context
}

func TestSelectorSuite(t *testing.T) {
	suite.Run(t, new(SelectorSuite))
}

func (s *SelectorSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *SelectorSuite) issue(region, title string) models.Issue {
	return models.Issue{ID: "issue-1", Title: title, Region: region}
}

func expert(id, region string, tags ...string) models.Expert {
	return models.Expert{
		ID:        id,
		Region:    region,
		Verified:  true,
		Available: true,
		Tags:      tags,
	}
}

func (s *SelectorSuite) TestNewSelector() {
	s.Run("default weights are valid", func() {
		sel, err := NewSelector()
		s.Require().NoError(err)
		s.NotNil(sel)
	})

	s.Run("rejects weights that do not sum to one", func() {
		_, err := NewSelector(WithWeights(Weights{Skill: 1, Trust: 1}))
		s.Require().Error(err)
	})
}

func (s *SelectorSuite) TestSelect() {
	sel, err := NewSelector()
	s.Require().NoError(err)

	s.Run("empty pool yields no candidate", func() {
		_, ok := sel.Select(s.ctx, s.issue("north", "vpn down"), nil)
		s.False(ok)
	})

	s.Run("prefers matching skills within the region", func() {
		pool := []models.Expert{
			expert("exp-generalist", "north", "printer"),
			expert("exp-network", "north", "vpn", "down"),
		}
		id, ok := sel.Select(s.ctx, s.issue("north", "vpn down"), pool)
		s.Require().True(ok)
		s.Equal("exp-network", id)
	})

	s.Run("same-region candidate wins over remote specialist", func() {
		pool := []models.Expert{
			expert("exp-local", "north", "printer"),
			expert("exp-remote", "south", "vpn", "down"),
		}
		id, ok := sel.Select(s.ctx, s.issue("north", "vpn down"), pool)
		s.Require().True(ok)
		s.Equal("exp-local", id)
	})

	s.Run("falls back to remote pool when region has nobody", func() {
		pool := []models.Expert{
			expert("exp-remote", "south", "vpn"),
		}
		id, ok := sel.Select(s.ctx, s.issue("north", "vpn down"), pool)
		s.Require().True(ok)
		s.Equal("exp-remote", id)
	})

	s.Run("cross-region disabled keeps issue unassigned", func() {
		local, err := NewSelector(WithCrossRegion(false))
		s.Require().NoError(err)

		pool := []models.Expert{expert("exp-remote", "south", "vpn")}
		_, ok := local.Select(s.ctx, s.issue("north", "vpn down"), pool)
		s.False(ok)
	})

	s.Run("exact ties resolve to the lowest expert id", func() {
		pool := []models.Expert{
			expert("exp-b", "north"),
			expert("exp-a", "north"),
		}
		id, ok := sel.Select(s.ctx, s.issue("north", "anything"), pool)
		s.Require().True(ok)
		s.Equal("exp-a", id)
	})

	s.Run("trusted idle specialist dominates loaded generalist", func() {
		generalist := expert("exp-a", "north")
		generalist.TrustScore = 0.5
		generalist.ActiveIssues = 5
		// Higher id, so winning on score and not on the tie-break.
		specialist := expert("exp-z", "north", "vpn", "down")
		specialist.TrustScore = 0.9

		id, ok := sel.Select(s.ctx, s.issue("north", "vpn down"), []models.Expert{generalist, specialist})
		s.Require().True(ok)
		s.Equal("exp-z", id)
	})

	s.Run("higher trust breaks otherwise equal candidates", func() {
		low := expert("exp-a", "north", "vpn")
		low.TrustScore = 0.2
		high := expert("exp-z", "north", "vpn")
		high.TrustScore = 0.9

		id, ok := sel.Select(s.ctx, s.issue("north", "vpn"), []models.Expert{low, high})
		s.Require().True(ok)
		s.Equal("exp-z", id)
	})

	s.Run("lower load breaks otherwise equal candidates", func() {
		busy := expert("exp-a", "north", "vpn")
		busy.ActiveIssues = 4
		idle := expert("exp-z", "north", "vpn")

		id, ok := sel.Select(s.ctx, s.issue("north", "vpn"), []models.Expert{busy, idle})
		s.Require().True(ok)
		s.Equal("exp-z", id)
	})
}

// stubEmbedder returns canned vectors keyed by input text.
type stubEmbedder struct {
	vectors map[string][]float64
	err     error
}

func (e *stubEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vectors[text], nil
}

func (s *SelectorSuite) TestSemanticScoring() {
	s.Run("embedder similarity shifts the winner", func() {
		emb := &stubEmbedder{vectors: map[string][]float64{
			"slow database queries": {1, 0},
			"postgres tuning":       {1, 0},
			"frontend css":          {0, 1},
		}}
		sel, err := NewSelector(WithEmbedder(emb))
		s.Require().NoError(err)

		pool := []models.Expert{
			expert("exp-css", "north", "frontend css"),
			expert("exp-db", "north", "postgres tuning"),
		}
		id, ok := sel.Select(s.ctx, s.issue("north", "slow database queries"), pool)
		s.Require().True(ok)
		s.Equal("exp-db", id)
	})

	s.Run("embedder failure degrades to zero without erroring", func() {
		sel, err := NewSelector(WithEmbedder(&stubEmbedder{err: errors.New("embedding service down")}))
		s.Require().NoError(err)

		pool := []models.Expert{expert("exp-a", "north", "vpn")}
		id, ok := sel.Select(s.ctx, s.issue("north", "vpn down"), pool)
		s.Require().True(ok)
		s.Equal("exp-a", id)
	})
}

func TestCosine(t *testing.T) {
	if got := Cosine([]float64{1, 0}, []float64{1, 0}); got < 0.999 {
		t.Fatalf("identical vectors: got %v", got)
	}
	if got := Cosine([]float64{1, 0}, []float64{0, 1}); got != 0 {
		t.Fatalf("orthogonal vectors: got %v", got)
	}
	if got := Cosine([]float64{1, 2}, []float64{1}); got != 0 {
		t.Fatalf("length mismatch: got %v", got)
	}
	if got := Cosine([]float64{0, 0}, []float64{1, 1}); got != 0 {
		t.Fatalf("zero vector: got %v", got)
	}
}
