// Package matching implements the expert-assignment heuristics: the
// weighted multi-factor fitness score, the regional-then-global candidate
// selector, and the region load balancer.
package matching

import (
	"math"
	"strings"

	"troubledesk/internal/helpdesk/models"
	"troubledesk/pkg/fault"
)

// Weights control the contribution of each sub-score. They must sum to 1.
type Weights struct {
	Skill        float64
	Availability float64
	Trust        float64
	InverseLoad  float64
	Semantic     float64
}

// DefaultWeights are the fixed production weights.
func DefaultWeights() Weights {
	return Weights{
		Skill:        0.3,
		Availability: 0.2,
		Trust:        0.2,
		InverseLoad:  0.1,
		Semantic:     0.2,
	}
}

// Validate checks that the weights sum to 1 within floating-point slack.
func (w Weights) Validate() error {
	sum := w.Skill + w.Availability + w.Trust + w.InverseLoad + w.Semantic
	if math.Abs(sum-1.0) > 1e-9 {
		return fault.Newf(fault.CodeValidation, "weights must sum to 1.0, got %v", sum)
	}
	return nil
}

// scoreParts is the per-factor breakdown of one candidate's fitness.
type scoreParts struct {
	Skill        float64
	Availability float64
	Trust        float64
	InverseLoad  float64
	Semantic     float64
}

func (p scoreParts) total(w Weights) float64 {
	return w.Skill*p.Skill +
		w.Availability*p.Availability +
		w.Trust*p.Trust +
		w.InverseLoad*p.InverseLoad +
		w.Semantic*p.Semantic
}

// Tokenize lowercases text, strips everything but letters, digits and
// spaces, and returns the resulting token set.
func Tokenize(text string) map[string]struct{} {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		}
	}
	tokens := make(map[string]struct{})
	for _, tok := range strings.Fields(b.String()) {
		tokens[tok] = struct{}{}
	}
	return tokens
}

// NormalizeTags lowercases and trims a tag list into a set. Comma-joined
// single entries are split, matching how profiles store free-text tags.
func NormalizeTags(tags []string) map[string]struct{} {
	if len(tags) == 1 && strings.Contains(tags[0], ",") {
		tags = strings.Split(tags[0], ",")
	}
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

// Jaccard returns |a∩b| / |a∪b|, or 0 when either set is empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// SkillMatch is the Jaccard similarity between the issue's token set and
// the expert's normalized tag set.
func SkillMatch(issueText string, tags []string) float64 {
	return Jaccard(Tokenize(issueText), NormalizeTags(tags))
}

// scoreExpert computes the deterministic sub-scores for one candidate.
// The semantic part is supplied by the caller since it needs the embedder.
func scoreExpert(issueTokens map[string]struct{}, e models.Expert, semantic float64) scoreParts {
	parts := scoreParts{
		Skill:    Jaccard(issueTokens, NormalizeTags(e.Tags)),
		Trust:    e.TrustScore,
		Semantic: semantic,
	}
	if e.Available {
		parts.Availability = 1
	}
	active := e.ActiveIssues
	if active < 0 {
		active = 0
	}
	parts.InverseLoad = 1 / float64(active+1)
	return parts
}
