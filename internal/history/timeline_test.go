package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"availtrack/internal/models"
	"availtrack/internal/storage"
	"availtrack/internal/timeline"
)

func ms(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// seed builds a timeline from (start, type) change points through the merge algorithm.
func seed(t *testing.T, store *storage.MemoryStore, id string, changes ...any) {
	t.Helper()
	var tl []models.Interval
	for i := 0; i < len(changes); i += 2 {
		tl, _ = timeline.Apply(tl, id, ms(changes[i].(int64)), changes[i+1].(models.AvailabilityType))
	}
	require.NoError(t, timeline.Validate(tl))
	require.NoError(t, store.Replace(context.Background(), id, tl))
}

func types(points []models.AvailabilityPoint) []models.AvailabilityType {
	out := make([]models.AvailabilityType, 0, len(points))
	for _, p := range points {
		out = append(out, p.Type)
	}
	return out
}

func contaminationFixture(t *testing.T) *Querier {
	store := storage.NewMemoryStore()
	seed(t, store, "r",
		int64(0), models.Unknown,
		int64(60000), models.Up,
		int64(70000), models.Disabled,
		int64(75000), models.Up,
	)
	return NewQuerier(store, func() time.Time { return ms(1_000_000) })
}

func TestSampleUnknownContaminatesBucket(t *testing.T) {
	q := contaminationFixture(t)
	ctx := context.Background()

	points, err := q.Sample(ctx, "r", ms(65000), ms(75000), 1, false)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, models.Disabled, points[0].Type)
	assert.True(t, points[0].Known)

	points, err = q.Sample(ctx, "r", ms(55000), ms(65000), 1, false)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, models.Unknown, points[0].Type)
	assert.False(t, points[0].Known)
}

func TestSampleBuckets(t *testing.T) {
	q := contaminationFixture(t)
	points, err := q.Sample(context.Background(), "r", ms(50000), ms(90000), 4, false)
	require.NoError(t, err)
	assert.Equal(t, []models.AvailabilityType{models.Unknown, models.Up, models.Disabled, models.Up}, types(points))
	assert.Equal(t, ms(50000), points[0].Start)
	assert.Equal(t, ms(90000), points[3].End)
}

func TestSampleSeverityOrder(t *testing.T) {
	store := storage.NewMemoryStore()
	seed(t, store, "r",
		int64(0), models.Up,
		int64(1000), models.Down,
		int64(2000), models.Disabled,
		int64(3000), models.Up,
	)
	q := NewQuerier(store, nil)
	ctx := context.Background()

	points, err := q.Sample(ctx, "r", ms(500), ms(2500), 1, false)
	require.NoError(t, err)
	assert.Equal(t, models.Down, points[0].Type)

	points, err = q.Sample(ctx, "r", ms(2500), ms(3500), 1, false)
	require.NoError(t, err)
	assert.Equal(t, models.Disabled, points[0].Type)

	points, err = q.Sample(ctx, "r", ms(3500), ms(4500), 1, false)
	require.NoError(t, err)
	assert.Equal(t, models.Up, points[0].Type)
}

func TestSampleEmptyHistoryIsUnknown(t *testing.T) {
	q := NewQuerier(storage.NewMemoryStore(), nil)
	points, err := q.Sample(context.Background(), "none", ms(0), ms(1000), 5, false)
	require.NoError(t, err)
	require.Len(t, points, 5)
	for _, p := range points {
		assert.Equal(t, models.Unknown, p.Type)
		assert.False(t, p.Known)
	}
}

func TestSamplePreferCurrent(t *testing.T) {
	store := storage.NewMemoryStore()
	seed(t, store, "r",
		int64(0), models.Up,
		int64(9000), models.Unknown,
		int64(9500), models.Down,
	)
	now := ms(9800)
	q := NewQuerier(store, func() time.Time { return now })
	ctx := context.Background()

	points, err := q.Sample(ctx, "r", ms(0), ms(10000), 10, false)
	require.NoError(t, err)
	assert.Equal(t, models.Unknown, points[9].Type)

	points, err = q.Sample(ctx, "r", ms(0), ms(10000), 10, true)
	require.NoError(t, err)
	assert.Equal(t, models.Down, points[9].Type)
	assert.True(t, points[9].Known)

	// A window that ends in the past resolves normally.
	points, err = q.Sample(ctx, "r", ms(0), ms(9600), 2, true)
	require.NoError(t, err)
	assert.Equal(t, models.Unknown, points[1].Type)
}

func TestSamplePreferCurrentIgnoresFutureTransitions(t *testing.T) {
	store := storage.NewMemoryStore()
	seed(t, store, "r",
		int64(0), models.Unknown,
		int64(1000), models.Up,
		int64(20000), models.Down,
	)
	q := NewQuerier(store, func() time.Time { return ms(5000) })

	// The open DOWN interval starts after the window; UP is in effect now.
	points, err := q.Sample(context.Background(), "r", ms(1000), ms(10000), 3, true)
	require.NoError(t, err)
	assert.Equal(t, []models.AvailabilityType{models.Up, models.Up, models.Up}, types(points))
	assert.True(t, points[2].Known)
}

func TestSampleDefaultsAndErrors(t *testing.T) {
	q := contaminationFixture(t)
	points, err := q.Sample(context.Background(), "r", ms(0), ms(80000), 0, false)
	require.NoError(t, err)
	assert.Len(t, points, DefaultTimelinePoints)

	_, err = q.Sample(context.Background(), "r", ms(10), ms(10), 3, false)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestGetIntervalsAfterPurgeAddsSurrogate(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Replace(ctx, "r", []models.Interval{
		{ResourceID: "r", Type: models.Down, Start: ms(5000), End: ms(8000)},
		{ResourceID: "r", Type: models.Up, Start: ms(8000)},
	}))
	q := NewQuerier(store, nil)

	got, err := q.GetIntervals(ctx, "r", ms(1000), ms(9000))
	require.NoError(t, err)
	assert.Equal(t, []models.Interval{
		{ResourceID: "r", Type: models.Unknown, Start: ms(1000), End: ms(5000)},
		{ResourceID: "r", Type: models.Down, Start: ms(5000), End: ms(8000)},
		{ResourceID: "r", Type: models.Up, Start: ms(8000), End: ms(9000)},
	}, got)

	_, err = q.GetIntervals(ctx, "r", ms(9000), ms(1000))
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestRetainedIntervals(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Replace(ctx, "r", []models.Interval{
		{ResourceID: "r", Type: models.Up, Start: ms(5000)},
	}))
	q := NewQuerier(store, nil)

	got, err := q.RetainedIntervals(ctx, "never", ms(0), ms(10000))
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = q.RetainedIntervals(ctx, "r", ms(0), ms(10000))
	require.NoError(t, err)
	assert.Equal(t, []models.AvailabilityType{models.Unknown, models.Up}, typesOfIntervals(got))

	_, err = q.RetainedIntervals(ctx, "r", ms(10), ms(10))
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func typesOfIntervals(intervals []models.Interval) []models.AvailabilityType {
	out := make([]models.AvailabilityType, 0, len(intervals))
	for _, iv := range intervals {
		out = append(out, iv.Type)
	}
	return out
}

func TestGetIntervalsRoundTrip(t *testing.T) {
	store := storage.NewMemoryStore()
	seed(t, store, "r",
		int64(0), models.Unknown,
		int64(1000), models.Up,
		int64(4000), models.Down,
		int64(6000), models.Up,
	)
	ctx := context.Background()
	before, err := store.Intervals(ctx, "r")
	require.NoError(t, err)

	got, err := NewQuerier(store, nil).GetIntervals(ctx, "r", ms(2000), ms(7000))
	require.NoError(t, err)
	tl := before
	for _, iv := range got {
		var changed bool
		tl, changed = timeline.Apply(tl, "r", iv.Start, iv.Type)
		assert.False(t, changed, "re-merging %s must be a no-op", iv)
	}
	assert.Equal(t, before, tl)
}

func TestUptime(t *testing.T) {
	q := contaminationFixture(t)
	summary, err := q.Uptime(context.Background(), "r", ms(60000), ms(80000))
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, summary.Up)
	assert.Equal(t, 5*time.Second, summary.Disabled)
	assert.Equal(t, 100.0, summary.UptimePercent)
}
