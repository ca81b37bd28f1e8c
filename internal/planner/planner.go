// Package planner cuts an audio duration into fixed-length segments.
package planner

import (
	"math"
)

// Segment is one slice of the source audio, in seconds.
type Segment struct {
	Index  int
	Start  float64
	Length float64
}

// Options tweaks the planning rule.
type Options struct {
	// Inclusive inflates the segment length when duration >= target*max
	// instead of only when it is strictly greater.
	Inclusive bool
}

// Plan splits duration into segments of targetLength seconds. When that would
// need more than maxSegments segments, the length is inflated to
// ceil(duration/maxSegments). The count never exceeds maxSegments: when the
// duration divides evenly the empty trailing slice is dropped. Boundaries are
// contiguous; the last segment may run past the end of the audio, which the
// transcoder tolerates. Non-positive inputs yield nil.
func Plan(duration, targetLength float64, maxSegments int) []Segment {
	return PlanWith(duration, targetLength, maxSegments, Options{})
}

// PlanWith is Plan with explicit options.
func PlanWith(duration, targetLength float64, maxSegments int, opts Options) []Segment {
	if duration <= 0 || targetLength <= 0 || maxSegments <= 0 {
		return nil
	}

	length := targetLength
	limit := targetLength * float64(maxSegments)
	if duration > limit || (opts.Inclusive && duration == limit) {
		length = math.Ceil(duration / float64(maxSegments))
	}

	count := int(math.Floor(duration/length)) + 1
	if count > maxSegments {
		// maxSegments*length >= duration here, so coverage is kept
		count = maxSegments
	}
	segments := make([]Segment, count)
	for i := range segments {
		segments[i] = Segment{Index: i, Start: float64(i) * length, Length: length}
	}
	return segments
}

// SegmentLength returns the effective length used by a plan, or 0 for an empty plan.
func SegmentLength(plan []Segment) float64 {
	if len(plan) == 0 {
		return 0
	}
	return plan[0].Length
}
