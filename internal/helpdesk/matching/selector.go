package matching

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"

	"troubledesk/internal/helpdesk/models"
	"troubledesk/internal/helpdesk/ports"
	"troubledesk/pkg/fault"
)

// Selector picks the best-fitting expert for an issue out of a transient
// candidate pool. It prefers same-region candidates and falls back to the
// whole pool so a qualified remote expert beats leaving the issue
// unassigned.
type Selector struct {
	weights     Weights
	crossRegion bool
	embedder    ports.Embedder
	logger      *slog.Logger
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithWeights overrides the default scoring weights.
func WithWeights(w Weights) SelectorOption {
	return func(s *Selector) { s.weights = w }
}

// WithCrossRegion toggles the global fallback pass.
func WithCrossRegion(enabled bool) SelectorOption {
	return func(s *Selector) { s.crossRegion = enabled }
}

// WithEmbedder supplies the semantic-similarity collaborator. Without one
// the semantic sub-score is zero.
func WithEmbedder(e ports.Embedder) SelectorOption {
	return func(s *Selector) { s.embedder = e }
}

// WithSelectorLogger attaches a logger for per-candidate score traces.
func WithSelectorLogger(logger *slog.Logger) SelectorOption {
	return func(s *Selector) { s.logger = logger }
}

// NewSelector builds a Selector with default weights and cross-region
// fallback enabled.
func NewSelector(opts ...SelectorOption) (*Selector, error) {
	s := &Selector{
		weights:     DefaultWeights(),
		crossRegion: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.weights.Validate(); err != nil {
		return nil, fault.Wrap(err, fault.CodeValidation, "selector weights")
	}
	return s, nil
}

// Select returns the id of the highest-scoring candidate, or ok=false when
// the pool yields no candidate at either stage.
//
// Candidates are sorted by id before scoring and ties keep the earlier
// leader, so the lowest-id expert wins exact score ties regardless of the
// order the store returned them in.
func (s *Selector) Select(ctx context.Context, issue models.Issue, pool []models.Expert) (string, bool) {
	if len(pool) == 0 {
		return "", false
	}

	candidates := make([]models.Expert, len(pool))
	copy(candidates, pool)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	issueTokens := Tokenize(issue.Text())

	regional := candidates[:0:0]
	for _, e := range candidates {
		if e.Region == issue.Region {
			regional = append(regional, e)
		}
	}

	if id, ok := s.best(ctx, issue, issueTokens, regional, "regional"); ok {
		return id, true
	}
	if !s.crossRegion {
		return "", false
	}
	// Same-region experts are rescored here on purpose; the global pass is
	// a fresh contest over the entire pool.
	return s.best(ctx, issue, issueTokens, candidates, "cross_region")
}

func (s *Selector) best(ctx context.Context, issue models.Issue, issueTokens map[string]struct{}, pool []models.Expert, stage string) (string, bool) {
	bestID := ""
	bestScore := -1.0
	for _, e := range pool {
		parts := scoreExpert(issueTokens, e, s.semantic(ctx, issue, e))
		score := parts.total(s.weights)
		if s.logger != nil {
			s.logger.DebugContext(ctx, "scored candidate",
				"issue_id", issue.ID,
				"expert_id", e.ID,
				"stage", stage,
				"skill", parts.Skill,
				"availability", parts.Availability,
				"trust", parts.Trust,
				"inverse_load", parts.InverseLoad,
				"semantic", parts.Semantic,
				"score", score,
			)
		}
		if score > bestScore {
			bestScore = score
			bestID = e.ID
		}
	}
	if bestID == "" {
		return "", false
	}
	return bestID, true
}

// semantic computes the embedding cosine between the issue text and the
// expert's joined tags. No tags, no embedder, or an embedder failure all
// degrade to zero so selection stays deterministic and never errors.
func (s *Selector) semantic(ctx context.Context, issue models.Issue, e models.Expert) float64 {
	if s.embedder == nil || len(e.Tags) == 0 {
		return 0
	}
	iv, err := s.embedder.Embed(ctx, issue.Text())
	if err != nil {
		s.logDegrade(ctx, issue.ID, e.ID, err)
		return 0
	}
	tv, err := s.embedder.Embed(ctx, strings.Join(e.Tags, " "))
	if err != nil {
		s.logDegrade(ctx, issue.ID, e.ID, err)
		return 0
	}
	return Cosine(iv, tv)
}

func (s *Selector) logDegrade(ctx context.Context, issueID, expertID string, err error) {
	if s.logger != nil {
		s.logger.DebugContext(ctx, "embedding unavailable, semantic score degraded to 0",
			"issue_id", issueID, "expert_id", expertID, "error", err)
	}
}

// Cosine returns the cosine similarity of two vectors, in [-1, 1]. Length
// mismatch or a zero vector yields 0.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
