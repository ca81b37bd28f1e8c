package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan(t *testing.T) {
	tests := []struct {
		name       string
		duration   float64
		target     float64
		max        int
		wantCount  int
		wantLength float64
	}{
		{"short audio", 30, 60, 30, 1, 60},
		{"exact multiple keeps trailing slice", 120, 60, 30, 3, 60},
		{"fractional", 125.5, 60, 30, 3, 60},
		{"inflated even division", 3600, 60, 30, 30, 120},
		{"inflated small", 100, 5, 10, 10, 10},
		{"inflated few segments", 600, 60, 3, 3, 200},
		{"inflated with ceiling", 1801, 60, 30, 30, 61},
		{"boundary is not inflated", 1800, 60, 30, 30, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Plan(tt.duration, tt.target, tt.max)
			require.Len(t, plan, tt.wantCount)
			assert.Equal(t, tt.wantLength, SegmentLength(plan))
			for i, s := range plan {
				assert.Equal(t, i, s.Index)
				assert.Equal(t, float64(i)*tt.wantLength, s.Start, "segments are contiguous")
			}
			last := plan[len(plan)-1]
			assert.GreaterOrEqual(t, last.Start+last.Length, tt.duration, "plan covers the whole duration")
		})
	}
}

func TestPlan_InclusiveBoundary(t *testing.T) {
	exclusive := Plan(1800, 60, 30)
	inclusive := PlanWith(1800, 60, 30, Options{Inclusive: true})

	assert.Len(t, exclusive, 30)
	assert.Equal(t, 60.0, SegmentLength(exclusive))

	assert.Len(t, inclusive, 30)
	assert.Equal(t, 60.0, SegmentLength(inclusive), "ceil(1800/30) is still 60")

	// Below the limit both variants agree.
	assert.Equal(t, Plan(1799, 60, 30), PlanWith(1799, 60, 30, Options{Inclusive: true}))

	// A non-integer target shows the difference.
	assert.Equal(t, 2.5, SegmentLength(Plan(10, 2.5, 4)))
	assert.Equal(t, 3.0, SegmentLength(PlanWith(10, 2.5, 4, Options{Inclusive: true})))
}

func TestPlan_NeverExceedsMaxSegments(t *testing.T) {
	for _, opts := range []Options{{}, {Inclusive: true}} {
		for _, max := range []int{1, 2, 3, 7, 10, 30, 48} {
			for _, target := range []float64{1, 2.5, 5, 30, 60} {
				for _, duration := range []float64{0.5, 1, 9.99, 10, 59, 60, 61, 100, 125.5, 599, 600, 1800, 1801, 3600, 7201.3} {
					plan := PlanWith(duration, target, max, opts)
					require.NotEmpty(t, plan)
					assert.LessOrEqual(t, len(plan), max, "d=%v target=%v max=%d inclusive=%v", duration, target, max, opts.Inclusive)
					last := plan[len(plan)-1]
					assert.GreaterOrEqual(t, last.Start+last.Length, duration, "d=%v target=%v max=%d", duration, target, max)
				}
			}
		}
	}
}

func TestPlan_InvalidInput(t *testing.T) {
	assert.Nil(t, Plan(0, 60, 30))
	assert.Nil(t, Plan(-5, 60, 30))
	assert.Nil(t, Plan(100, 0, 30))
	assert.Nil(t, Plan(100, 60, 0))
	assert.Equal(t, 0.0, SegmentLength(nil))
}
