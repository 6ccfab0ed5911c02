// Package timeline holds the pure run-length algorithms over a single
// resource's availability intervals. Nothing here locks or touches storage;
// callers load a timeline, transform it and write it back.
package timeline

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"availtrack/internal/models"
)

// Apply merges one observation into a resource timeline and returns the new
// timeline. changed is false when the observation is already reflected.
// The input slice is never modified.
func Apply(intervals []models.Interval, resourceID string, ts time.Time, typ models.AvailabilityType) ([]models.Interval, bool) {
	seeded := false
	out := clone(intervals)
	if len(out) == 0 {
		out = []models.Interval{{ResourceID: resourceID, Type: models.Unknown, Start: models.Epoch}}
		seeded = true
	}

	idx := locate(out, ts)
	if idx < 0 {
		// Older than anything retained: fill back to the earliest interval.
		first := out[0]
		if first.Type == typ {
			out[0].Start = ts
		} else {
			out = append([]models.Interval{{ResourceID: resourceID, Type: typ, Start: ts, End: first.Start}}, out...)
		}
		return out, true
	}

	current := out[idx]
	if current.Type == typ {
		return out, seeded
	}

	switch {
	case ts.Equal(current.Start):
		out[idx].Type = typ
	case current.Open():
		out[idx].End = ts
		out = append(out, models.Interval{ResourceID: resourceID, Type: typ, Start: ts})
	default:
		out[idx].End = ts
		piece := models.Interval{ResourceID: resourceID, Type: typ, Start: ts, End: current.End}
		out = append(out[:idx+1], append([]models.Interval{piece}, out[idx+1:]...)...)
	}
	return coalesce(out), true
}

// Repair restores the timeline invariants: sorted by start, one interval per
// start instant (the later entry wins), every end aligned with the next start,
// only the last interval open and no equal-type neighbours.
func Repair(intervals []models.Interval) ([]models.Interval, bool) {
	if len(intervals) == 0 {
		return nil, false
	}
	out := clone(intervals)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})

	deduped := out[:0]
	for _, iv := range out {
		if n := len(deduped); n > 0 && deduped[n-1].Start.Equal(iv.Start) {
			deduped[n-1] = iv
			continue
		}
		deduped = append(deduped, iv)
	}
	out = deduped

	for i := range out {
		if i == len(out)-1 {
			out[i].End = time.Time{}
			continue
		}
		out[i].End = out[i+1].Start
	}
	out = coalesce(out)
	return out, !Equal(intervals, out)
}

// TypeAt returns the state in effect at ts. Instants before the earliest
// retained interval are UNKNOWN.
func TypeAt(intervals []models.Interval, ts time.Time) models.AvailabilityType {
	idx := locate(intervals, ts)
	if idx < 0 {
		return models.Unknown
	}
	return intervals[idx].Type
}

// Current returns the open interval, if any.
func Current(intervals []models.Interval) (models.Interval, bool) {
	if len(intervals) == 0 {
		return models.Interval{}, false
	}
	last := intervals[len(intervals)-1]
	return last, last.Open()
}

// Clip returns the intervals intersecting [start, end), cut to those bounds.
// When history begins after start, a surrogate UNKNOWN interval covers the gap.
func Clip(intervals []models.Interval, resourceID string, start, end time.Time) []models.Interval {
	if !end.After(start) {
		return nil
	}
	out := make([]models.Interval, 0, len(intervals)+1)
	for _, iv := range intervals {
		if !iv.Start.Before(end) {
			break
		}
		if !iv.Open() && !iv.End.After(start) {
			continue
		}
		clipped := iv
		if clipped.Start.Before(start) {
			clipped.Start = start
		}
		if clipped.Open() || clipped.End.After(end) {
			clipped.End = end
		}
		out = append(out, clipped)
	}

	if len(out) == 0 || out[0].Start.After(start) {
		gapEnd := end
		if len(out) > 0 {
			gapEnd = out[0].Start
		}
		surrogate := models.Interval{ResourceID: resourceID, Type: models.Unknown, Start: start, End: gapEnd}
		out = append([]models.Interval{surrogate}, out...)
	}
	return out
}

// PurgeClosed drops closed intervals that started at or before olderThan.
// The last interval always survives.
func PurgeClosed(intervals []models.Interval, olderThan time.Time) ([]models.Interval, int) {
	if len(intervals) == 0 {
		return nil, 0
	}
	kept := make([]models.Interval, 0, len(intervals))
	deleted := 0
	for i, iv := range intervals {
		if i < len(intervals)-1 && !iv.Open() && !iv.Start.After(olderThan) {
			deleted++
			continue
		}
		kept = append(kept, iv)
	}
	return kept, deleted
}

// Validate checks every timeline invariant and reports the first violation.
func Validate(intervals []models.Interval) error {
	if len(intervals) == 0 {
		return nil
	}
	var errs []error
	for i, iv := range intervals {
		last := i == len(intervals)-1
		switch {
		case last && !iv.Open():
			errs = append(errs, fmt.Errorf("last interval %s is closed", iv))
		case !last && iv.Open():
			errs = append(errs, fmt.Errorf("interval %d %s is open but not last", i, iv))
		}
		if last {
			continue
		}
		next := intervals[i+1]
		if !iv.Open() && !iv.End.Equal(next.Start) {
			errs = append(errs, fmt.Errorf("gap or overlap between %s and %s", iv, next))
		}
		if !next.Start.After(iv.Start) {
			errs = append(errs, fmt.Errorf("intervals %s and %s out of order", iv, next))
		}
		if iv.Type == next.Type {
			errs = append(errs, fmt.Errorf("adjacent intervals %s and %s share a type", iv, next))
		}
	}
	return errors.Join(errs...)
}

// Equal compares two timelines instant-wise.
func Equal(a, b []models.Interval) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Type != b[i].Type || !a[i].Start.Equal(b[i].Start) || !a[i].End.Equal(b[i].End) {
			return false
		}
	}
	return true
}

// locate returns the index of the last interval starting at or before ts,
// or -1 when ts precedes the whole timeline.
func locate(intervals []models.Interval, ts time.Time) int {
	return sort.Search(len(intervals), func(i int) bool {
		return intervals[i].Start.After(ts)
	}) - 1
}

func coalesce(intervals []models.Interval) []models.Interval {
	if len(intervals) < 2 {
		return intervals
	}
	out := intervals[:1]
	for _, iv := range intervals[1:] {
		prev := &out[len(out)-1]
		if prev.Type == iv.Type {
			prev.End = iv.End
			continue
		}
		out = append(out, iv)
	}
	return out
}

func clone(intervals []models.Interval) []models.Interval {
	if len(intervals) == 0 {
		return nil
	}
	out := make([]models.Interval, len(intervals))
	copy(out, intervals)
	return out
}
