// Package group rolls member resource timelines up into one group timeline.
package group

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"availtrack/internal/models"
)

// ErrUnknownGroup is returned for a group id the inventory does not know.
var ErrUnknownGroup = errors.New("unknown group")

const fetchConcurrency = 16

// IntervalSource returns clipped, gap-free intervals for one resource, or
// nil when the resource has no retained history in the window.
type IntervalSource interface {
	RetainedIntervals(ctx context.Context, resourceID string, start, end time.Time) ([]models.Interval, error)
}

// Membership resolves group ids to their member resources.
type Membership interface {
	GroupMembers(groupID string) ([]string, bool)
}

// Aggregator computes group availability timelines.
type Aggregator struct {
	source  IntervalSource
	members Membership
}

// NewAggregator creates an aggregator over a query layer and group inventory.
func NewAggregator(source IntervalSource, members Membership) *Aggregator {
	return &Aggregator{source: source, members: members}
}

// GroupIntervalsByID resolves the group's members and aggregates them.
func (a *Aggregator) GroupIntervalsByID(ctx context.Context, groupID string, start, end time.Time) ([]models.GroupInterval, error) {
	ids, ok := a.members.GroupMembers(groupID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	out, err := a.GroupIntervals(ctx, ids, start, end)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].GroupID = groupID
	}
	return out, nil
}

// GroupIntervals merges the members' timelines over [start, end) into
// maximal spans of one group availability type. Members without history in
// the window do not take part; if none has any, the group is EMPTY.
func (a *Aggregator) GroupIntervals(ctx context.Context, resourceIDs []string, start, end time.Time) ([]models.GroupInterval, error) {
	if !end.After(start) {
		return nil, nil
	}
	if len(resourceIDs) == 0 {
		return []models.GroupInterval{{Type: models.GroupEmpty, Start: start, End: end}}, nil
	}

	timelines := make([][]models.Interval, len(resourceIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, id := range resourceIDs {
		g.Go(func() error {
			intervals, err := a.source.RetainedIntervals(gctx, id, start, end)
			if err != nil {
				return fmt.Errorf("member %s: %w", id, err)
			}
			timelines[i] = intervals
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	bounds := boundaries(timelines, start, end)
	cursors := make([]int, len(timelines))
	var out []models.GroupInterval
	for b := 0; b+1 < len(bounds); b++ {
		subStart, subEnd := bounds[b], bounds[b+1]
		present := make(map[models.AvailabilityType]struct{}, 4)
		for m, tl := range timelines {
			for cursors[m] < len(tl) && !tl[cursors[m]].End.After(subStart) {
				cursors[m]++
			}
			if cursors[m] < len(tl) && tl[cursors[m]].Start.Before(subEnd) {
				present[tl[cursors[m]].Type] = struct{}{}
			}
		}
		typ := Resolve(present)
		if n := len(out); n > 0 && out[n-1].Type == typ {
			out[n-1].End = subEnd
			continue
		}
		out = append(out, models.GroupInterval{Type: typ, Start: subStart, End: subEnd})
	}
	return out, nil
}

// Resolve maps the set of member states active in one span to a group state.
//
//	no members          EMPTY
//	uniform UP          UP
//	uniform DOWN        DOWN
//	uniform DISABLED    DISABLED
//	uniform UNKNOWN     WARN
//	mix with DOWN       WARN
//	mix with DISABLED   DISABLED
//	any other mix       WARN
func Resolve(present map[models.AvailabilityType]struct{}) models.GroupAvailabilityType {
	if len(present) == 0 {
		return models.GroupEmpty
	}
	if len(present) == 1 {
		for typ := range present {
			switch typ {
			case models.Up:
				return models.GroupUp
			case models.Down:
				return models.GroupDown
			case models.Disabled:
				return models.GroupDisabled
			default:
				return models.GroupWarn
			}
		}
	}
	if _, ok := present[models.Down]; ok {
		return models.GroupWarn
	}
	if _, ok := present[models.Disabled]; ok {
		return models.GroupDisabled
	}
	return models.GroupWarn
}

func boundaries(timelines [][]models.Interval, start, end time.Time) []time.Time {
	seen := map[int64]time.Time{start.UnixNano(): start, end.UnixNano(): end}
	for _, tl := range timelines {
		for _, iv := range tl {
			if iv.Start.After(start) && iv.Start.Before(end) {
				seen[iv.Start.UnixNano()] = iv.Start
			}
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, ts := range seen {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Before(out[j])
	})
	return out
}
