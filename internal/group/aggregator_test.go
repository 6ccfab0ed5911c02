package group

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"availtrack/internal/history"
	"availtrack/internal/inventory"
	"availtrack/internal/models"
	"availtrack/internal/storage"
	"availtrack/internal/timeline"
)

func ms(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

type change struct {
	at  int64
	typ models.AvailabilityType
}

func newAggregator(t *testing.T, timelines map[string][]change) (*Aggregator, *inventory.Registry) {
	t.Helper()
	store := storage.NewMemoryStore()
	for id, changes := range timelines {
		var tl []models.Interval
		for _, c := range changes {
			tl, _ = timeline.Apply(tl, id, ms(c.at), c.typ)
		}
		require.NoError(t, store.Replace(context.Background(), id, tl))
	}
	reg := inventory.NewRegistry()
	return NewAggregator(history.NewQuerier(store, nil), reg), reg
}

func TestGroupIntervalsMixedStates(t *testing.T) {
	agg, reg := newAggregator(t, map[string][]change{
		"r1": {{10000, models.Down}, {20000, models.Up}},
		"r2": {{10000, models.Down}, {20000, models.Up}},
		"r3": {{10000, models.Down}, {30000, models.Up}, {40000, models.Disabled}, {50000, models.Up}},
	})
	reg.DefineGroup(inventory.Group{ID: "g", Resources: []string{"r1", "r2", "r3"}})

	got, err := agg.GroupIntervalsByID(context.Background(), "g", ms(10000), ms(50000))
	require.NoError(t, err)
	assert.Equal(t, []models.GroupInterval{
		{GroupID: "g", Type: models.GroupDown, Start: ms(10000), End: ms(20000)},
		{GroupID: "g", Type: models.GroupWarn, Start: ms(20000), End: ms(30000)},
		{GroupID: "g", Type: models.GroupUp, Start: ms(30000), End: ms(40000)},
		{GroupID: "g", Type: models.GroupDisabled, Start: ms(40000), End: ms(50000)},
	}, got)
}

func TestGroupIntervalsCoalescesAndSkipsMembersWithoutHistory(t *testing.T) {
	agg, _ := newAggregator(t, map[string][]change{
		"r1": {{0, models.Up}, {5000, models.Down}, {6000, models.Up}},
		"r2": {{0, models.Up}},
	})
	expected := []models.GroupInterval{
		{Type: models.GroupUp, Start: ms(1000), End: ms(5000)},
		{Type: models.GroupWarn, Start: ms(5000), End: ms(6000)},
		{Type: models.GroupUp, Start: ms(6000), End: ms(9000)},
	}

	got, err := agg.GroupIntervals(context.Background(), []string{"r1", "r2"}, ms(1000), ms(9000))
	require.NoError(t, err)
	assert.Equal(t, expected, got)

	got, err = agg.GroupIntervals(context.Background(), []string{"r1", "r2", "never"}, ms(1000), ms(9000))
	require.NoError(t, err)
	assert.Equal(t, expected, got)
}

func TestGroupIntervalsNoHistoryInRangeIsEmpty(t *testing.T) {
	agg, reg := newAggregator(t, nil)
	reg.DefineGroup(inventory.Group{ID: "g", Resources: []string{"never", "ghost"}})

	got, err := agg.GroupIntervalsByID(context.Background(), "g", ms(0), ms(100))
	require.NoError(t, err)
	assert.Equal(t, []models.GroupInterval{{GroupID: "g", Type: models.GroupEmpty, Start: ms(0), End: ms(100)}}, got)
}

func TestGroupIntervalsEmptyAndUnknownGroup(t *testing.T) {
	agg, reg := newAggregator(t, nil)
	reg.DefineGroup(inventory.Group{ID: "empty"})

	got, err := agg.GroupIntervalsByID(context.Background(), "empty", ms(0), ms(100))
	require.NoError(t, err)
	assert.Equal(t, []models.GroupInterval{{GroupID: "empty", Type: models.GroupEmpty, Start: ms(0), End: ms(100)}}, got)

	_, err = agg.GroupIntervalsByID(context.Background(), "nope", ms(0), ms(100))
	assert.ErrorIs(t, err, ErrUnknownGroup)
}

func TestResolve(t *testing.T) {
	set := func(types ...models.AvailabilityType) map[models.AvailabilityType]struct{} {
		out := make(map[models.AvailabilityType]struct{})
		for _, typ := range types {
			out[typ] = struct{}{}
		}
		return out
	}
	tests := []struct {
		name     string
		present  map[models.AvailabilityType]struct{}
		expected models.GroupAvailabilityType
	}{
		{"empty", set(), models.GroupEmpty},
		{"all up", set(models.Up), models.GroupUp},
		{"all down", set(models.Down), models.GroupDown},
		{"all disabled", set(models.Disabled), models.GroupDisabled},
		{"all unknown", set(models.Unknown), models.GroupWarn},
		{"up and down", set(models.Up, models.Down), models.GroupWarn},
		{"down and disabled", set(models.Down, models.Disabled), models.GroupWarn},
		{"up and disabled", set(models.Up, models.Disabled), models.GroupDisabled},
		{"unknown and disabled", set(models.Unknown, models.Disabled), models.GroupDisabled},
		{"up and unknown", set(models.Up, models.Unknown), models.GroupWarn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Resolve(tt.present))
		})
	}
}
