package models

import (
	"math"
	"time"
)

const (
	// SegmentProgressBase is where segment work starts on the 0-100 scale.
	SegmentProgressBase = 20
	// SegmentProgressSpan is the share of the scale covered by all segments together.
	SegmentProgressSpan = 80
	// CounterProgressCap bounds counter-driven progress; only the combiner goes past it.
	CounterProgressCap = 95
	// MaxActiveProgress is the highest value a non-terminal job may show.
	MaxActiveProgress = 99
)

// ProgressUpdate is a proposed change to a job's Progress.
// A nil Text leaves the stored snapshot alone. An empty Status means processing.
type ProgressUpdate struct {
	Progress int
	Text     *string
	Status   JobStatus
	Error    string
	Result   *Result
}

// SegmentCount is a proposed change to the segment counters. Delta > 0 adds to the
// stored completed count; otherwise Completed is taken as an absolute (possibly fractional) value.
type SegmentCount struct {
	Total     int
	Delta     int
	Completed float64
}

// ApplyProgress merges upd into cur and reports whether anything beyond the
// liveness timestamp changed. Terminal records never change. Terminal updates
// always apply. Otherwise progress only moves up, and an update at the same
// progress may still refresh the transcript text.
func ApplyProgress(cur Progress, upd ProgressUpdate, now time.Time) (Progress, bool) {
	if cur.Status.Terminal() {
		return cur, false
	}

	next := cur
	next.UpdatedAt = now

	if upd.Status.Terminal() {
		next.Status = upd.Status
		next.Progress = 100
		next.Error = upd.Error
		if upd.Text != nil {
			next.CurrentText = *upd.Text
		}
		return next, true
	}

	status := upd.Status
	if status == "" {
		status = JobStatusProcessing
	}
	changed := false
	if status.rank() > cur.Status.rank() {
		next.Status = status
		changed = true
	}

	p := upd.Progress
	if p > MaxActiveProgress {
		p = MaxActiveProgress
	}
	switch {
	case p > cur.Progress:
		next.Progress = p
		if upd.Text != nil {
			next.CurrentText = *upd.Text
		}
		changed = true
	case p == cur.Progress && upd.Text != nil && *upd.Text != cur.CurrentText:
		next.CurrentText = *upd.Text
		changed = true
	}
	return next, changed
}

// CounterProgress maps completed/total segments onto 20..95.
func CounterProgress(completed float64, total int) int {
	if total <= 0 {
		return SegmentProgressBase
	}
	if completed < 0 {
		completed = 0
	}
	p := SegmentProgressBase + int(math.Floor(completed/float64(total)*SegmentProgressSpan))
	if p > CounterProgressCap {
		p = CounterProgressCap
	}
	return p
}

// ApplySegmentCount updates the segment counters and derives progress from them.
// The stored completed count never decreases.
func ApplySegmentCount(cur Progress, c SegmentCount, text *string, now time.Time) (Progress, bool) {
	if cur.Status.Terminal() || c.Total <= 0 {
		return cur, false
	}

	completed := c.Completed
	if c.Delta > 0 {
		completed = float64(cur.CompletedSegments + c.Delta)
	}
	if completed > float64(c.Total) {
		completed = float64(c.Total)
	}

	next := cur
	countersChanged := next.TotalSegments != c.Total
	next.TotalSegments = c.Total
	if n := int(math.Floor(completed)); n > next.CompletedSegments {
		next.CompletedSegments = n
		countersChanged = true
	}

	next, changed := ApplyProgress(next, ProgressUpdate{Progress: CounterProgress(completed, c.Total), Text: text}, now)
	return next, changed || countersChanged
}
