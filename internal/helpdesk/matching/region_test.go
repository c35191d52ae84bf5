package matching

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"troubledesk/internal/helpdesk/models"
	"troubledesk/pkg/fault"
)

// stubCounter serves canned per-region counts.
type stubCounter struct {
	experts map[string]int
	issues  map[string]int
	err     error
}

func (c *stubCounter) CountExperts(_ context.Context, f models.ExpertFilter) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	return c.experts[*f.Region], nil
}

func (c *stubCounter) CountIssues(_ context.Context, f models.IssueFilter) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	return c.issues[*f.Region], nil
}

func TestNewRegionBalancer(t *testing.T) {
	_, err := NewRegionBalancer(nil, []string{"north"}, nil)
	require.Error(t, err)

	_, err = NewRegionBalancer(&stubCounter{}, nil, nil)
	require.Error(t, err)
	assert.True(t, fault.HasCode(err, fault.CodeValidation))
}

func TestBestRegion(t *testing.T) {
	regions := []string{"north", "south", "east", "west"}

	t.Run("capacity minus load picks the winner", func(t *testing.T) {
		counter := &stubCounter{
			experts: map[string]int{"north": 1, "south": 3, "east": 2, "west": 0},
			issues:  map[string]int{"north": 0, "south": 4, "east": 1, "west": 0},
		}
		// north=2, south=2, east=3, west=0.
		b, err := NewRegionBalancer(counter, regions, nil)
		require.NoError(t, err)

		best, err := b.BestRegion(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "east", best)
	})

	t.Run("ties keep the first configured region", func(t *testing.T) {
		counter := &stubCounter{
			experts: map[string]int{"north": 2, "south": 2},
			issues:  map[string]int{"north": 1, "south": 1},
		}
		b, err := NewRegionBalancer(counter, []string{"north", "south"}, nil)
		require.NoError(t, err)

		best, err := b.BestRegion(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "north", best)
	})

	t.Run("all-negative scores still return a region", func(t *testing.T) {
		counter := &stubCounter{
			experts: map[string]int{},
			issues:  map[string]int{"north": 5, "south": 2},
		}
		b, err := NewRegionBalancer(counter, []string{"north", "south"}, nil)
		require.NoError(t, err)

		best, err := b.BestRegion(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "south", best)
	})

	t.Run("store failure surfaces as internal", func(t *testing.T) {
		b, err := NewRegionBalancer(&stubCounter{err: errors.New("boom")}, regions, nil)
		require.NoError(t, err)

		_, err = b.BestRegion(context.Background())
		require.Error(t, err)
		assert.True(t, fault.HasCode(err, fault.CodeInternal))
	})
}
