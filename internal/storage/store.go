package storage

import (
	"context"
	"time"

	"availtrack/internal/models"
)

// Store persists per-resource availability timelines.
//
// Replace must be atomic per resource: a concurrent reader observes either
// the previous or the new timeline. Callers serialise writers per resource.
type Store interface {
	Intervals(ctx context.Context, resourceID string) ([]models.Interval, error)
	IntervalsInRange(ctx context.Context, resourceID string, start, end time.Time) ([]models.Interval, error)
	Replace(ctx context.Context, resourceID string, intervals []models.Interval) error
	ResourceIDs(ctx context.Context) ([]string, error)
	Close() error
}

func intersects(iv models.Interval, start, end time.Time) bool {
	if !iv.Start.Before(end) {
		return false
	}
	return iv.Open() || iv.End.After(start)
}
