package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"availtrack/internal/metrics"
	"availtrack/internal/models"
	"availtrack/internal/storage"
	"availtrack/internal/timeline"
)

const (
	// DefaultTimelinePoints controls how many buckets a sample returns when unspecified.
	DefaultTimelinePoints = 80
	// MaxTimelinePoints caps the bucket count of a single sample.
	MaxTimelinePoints = 10000
)

// ErrInvalidRange is returned when a query window is empty or inverted.
var ErrInvalidRange = errors.New("query end must be after start")

// Reader is the read side of a timeline store.
type Reader interface {
	IntervalsInRange(ctx context.Context, resourceID string, start, end time.Time) ([]models.Interval, error)
}

// Querier answers range and bucketed queries over stored timelines.
type Querier struct {
	store Reader
	now   func() time.Time
}

// NewQuerier creates a query layer over store. now defaults to the wall clock.
func NewQuerier(store Reader, now func() time.Time) *Querier {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Querier{store: store, now: now}
}

var _ Reader = (storage.Store)(nil)

// GetIntervals returns the intervals intersecting [start, end) clipped to the
// window, with a leading UNKNOWN surrogate when history starts later.
func (q *Querier) GetIntervals(ctx context.Context, resourceID string, start, end time.Time) ([]models.Interval, error) {
	if !end.After(start) {
		return nil, ErrInvalidRange
	}
	intervals, err := q.store.IntervalsInRange(ctx, resourceID, start, end)
	if err != nil {
		return nil, fmt.Errorf("load intervals for %s: %w", resourceID, err)
	}
	return timeline.Clip(intervals, resourceID, start, end), nil
}

// RetainedIntervals is GetIntervals for callers that must tell "no history in
// range" apart from UNKNOWN: it returns nil when nothing retained intersects
// [start, end).
func (q *Querier) RetainedIntervals(ctx context.Context, resourceID string, start, end time.Time) ([]models.Interval, error) {
	if !end.After(start) {
		return nil, ErrInvalidRange
	}
	intervals, err := q.store.IntervalsInRange(ctx, resourceID, start, end)
	if err != nil {
		return nil, fmt.Errorf("load intervals for %s: %w", resourceID, err)
	}
	if len(intervals) == 0 {
		return nil, nil
	}
	return timeline.Clip(intervals, resourceID, start, end), nil
}

// Sample splits [start, end] into numPoints equal buckets and resolves each
// to one state. With preferCurrent and a window reaching now, the final
// bucket reports the resource's current state.
func (q *Querier) Sample(ctx context.Context, resourceID string, start, end time.Time, numPoints int, preferCurrent bool) ([]models.AvailabilityPoint, error) {
	if !end.After(start) {
		return nil, ErrInvalidRange
	}
	if numPoints <= 0 {
		numPoints = DefaultTimelinePoints
	}
	if numPoints > MaxTimelinePoints {
		numPoints = MaxTimelinePoints
	}

	now := q.now()
	fetchEnd := end
	if preferCurrent && !now.Before(fetchEnd) {
		// Reach the interval in effect at now even when the window ends there.
		fetchEnd = now.Add(time.Nanosecond)
	}
	raw, err := q.store.IntervalsInRange(ctx, resourceID, start, fetchEnd)
	if err != nil {
		return nil, fmt.Errorf("load intervals for %s: %w", resourceID, err)
	}
	fragments := timeline.Clip(raw, resourceID, start, end)
	points := buildTimeline(fragments, start, end, numPoints)

	if preferCurrent && !end.Before(now) && len(points) > 0 {
		current := timeline.TypeAt(raw, now)
		points[len(points)-1].Type = current
		points[len(points)-1].Known = current != models.Unknown
	}
	return points, nil
}

// Uptime summarises how the resource spent [start, end).
func (q *Querier) Uptime(ctx context.Context, resourceID string, start, end time.Time) (metrics.ResourceUptime, error) {
	intervals, err := q.GetIntervals(ctx, resourceID, start, end)
	if err != nil {
		return metrics.ResourceUptime{}, err
	}
	return metrics.ComputeUptime(resourceID, intervals, start, end), nil
}

func buildTimeline(fragments []models.Interval, start, end time.Time, points int) []models.AvailabilityPoint {
	output := make([]models.AvailabilityPoint, 0, points)
	bucketDuration := end.Sub(start) / time.Duration(points)

	cursor := 0
	for i := 0; i < points; i++ {
		bucketStart := start.Add(time.Duration(i) * bucketDuration)
		bucketEnd := bucketStart.Add(bucketDuration)
		if i == points-1 {
			bucketEnd = end
		}
		bucketFragments, nextCursor := collectBucketFragments(fragments, bucketStart, bucketEnd, cursor)
		cursor = nextCursor
		typ := evaluateBucket(bucketFragments)
		output = append(output, models.AvailabilityPoint{
			Type:  typ,
			Known: typ != models.Unknown,
			Start: bucketStart,
			End:   bucketEnd,
		})
	}
	return output
}

// collectBucketFragments returns the fragments overlapping [start, end).
// A zero-width bucket collects the fragment containing its instant.
// cursor skips fragments that ended before the bucket.
func collectBucketFragments(fragments []models.Interval, start, end time.Time, cursor int) ([]models.Interval, int) {
	total := len(fragments)
	i := cursor
	for i < total && !fragments[i].End.After(start) {
		i++
	}
	var chunk []models.Interval
	for j := i; j < total; j++ {
		fragment := fragments[j]
		if end.After(start) && !fragment.Start.Before(end) {
			break
		}
		if !end.After(start) && fragment.Start.After(start) {
			break
		}
		chunk = append(chunk, fragment)
	}
	return chunk, i
}

// evaluateBucket resolves one bucket: UNKNOWN anywhere wins, then
// DOWN > DISABLED > UP. An empty bucket is UNKNOWN.
func evaluateBucket(fragments []models.Interval) models.AvailabilityType {
	if len(fragments) == 0 {
		return models.Unknown
	}
	var (
		hasUnknown  bool
		hasDown     bool
		hasDisabled bool
		hasUp       bool
	)
	for _, fragment := range fragments {
		switch fragment.Type {
		case models.Unknown:
			hasUnknown = true
		case models.Down:
			hasDown = true
		case models.Disabled:
			hasDisabled = true
		case models.Up:
			hasUp = true
		}
	}

	switch {
	case hasUnknown:
		return models.Unknown
	case hasDown:
		return models.Down
	case hasDisabled:
		return models.Disabled
	case hasUp:
		return models.Up
	default:
		return models.Unknown
	}
}
