package matching

import (
	"context"
	"log/slog"

	"troubledesk/internal/helpdesk/models"
	"troubledesk/pkg/fault"
)

// Region score weights: available verified experts add capacity, open
// issues consume it.
const (
	regionExpertWeight = 2.0
	regionIssuePenalty = 1.0
)

// RegionCounter is the slice of the repository the balancer needs.
type RegionCounter interface {
	CountExperts(ctx context.Context, filter models.ExpertFilter) (int, error)
	CountIssues(ctx context.Context, filter models.IssueFilter) (int, error)
}

// RegionBalancer picks the least-loaded region. It is consulted only when
// the submitter's home region has no qualified local expert.
type RegionBalancer struct {
	counter RegionCounter
	regions []string
	logger  *slog.Logger
}

// NewRegionBalancer builds a balancer over the configured region list.
func NewRegionBalancer(counter RegionCounter, regions []string, logger *slog.Logger) (*RegionBalancer, error) {
	if counter == nil {
		return nil, fault.New(fault.CodeValidation, "region counter is required")
	}
	if len(regions) == 0 {
		return nil, fault.New(fault.CodeValidation, "at least one region is required")
	}
	return &RegionBalancer{counter: counter, regions: regions, logger: logger}, nil
}

// BestRegion scores every configured region as
// 2*availableVerifiedExperts - 1*activeIssues and returns the maximum.
// Ties keep the region listed first in configuration.
func (b *RegionBalancer) BestRegion(ctx context.Context) (string, error) {
	truth := true
	best := ""
	bestScore := 0.0

	for _, region := range b.regions {
		experts, err := b.counter.CountExperts(ctx, models.ExpertFilter{
			Region:    &region,
			Verified:  &truth,
			Available: &truth,
		})
		if err != nil {
			return "", fault.Wrap(err, fault.CodeInternal, "count experts for region score")
		}
		issues, err := b.counter.CountIssues(ctx, models.IssueFilter{
			Region:   &region,
			Statuses: models.ActiveStatuses,
		})
		if err != nil {
			return "", fault.Wrap(err, fault.CodeInternal, "count issues for region score")
		}

		score := regionExpertWeight*float64(experts) - regionIssuePenalty*float64(issues)
		if b.logger != nil {
			b.logger.DebugContext(ctx, "region scored",
				"region", region, "experts", experts, "issues", issues, "score", score)
		}
		if best == "" || score > bestScore {
			best = region
			bestScore = score
		}
	}
	return best, nil
}
