package metrics

import (
	"math"
	"time"

	"availtrack/internal/models"
)

// ResourceUptime summarises how a resource spent a time window.
type ResourceUptime struct {
	ResourceID    string        `json:"resource_id"`
	Start         time.Time     `json:"start"`
	End           time.Time     `json:"end"`
	UptimePercent float64       `json:"uptime_percent"`
	Up            time.Duration `json:"up_ns"`
	Down          time.Duration `json:"down_ns"`
	Disabled      time.Duration `json:"disabled_ns"`
	Unknown       time.Duration `json:"unknown_ns"`
	Failures      int           `json:"failures"`
	LastState     string        `json:"last_state,omitempty"`
}

// ComputeUptime accumulates per-state durations over clipped intervals.
// Uptime is the share of UP time among the time the resource was known and
// not administratively disabled. Failures counts transitions into DOWN.
func ComputeUptime(resourceID string, intervals []models.Interval, start, end time.Time) ResourceUptime {
	result := ResourceUptime{ResourceID: resourceID, Start: start, End: end}
	var previous *models.Interval
	for i := range intervals {
		iv := intervals[i]
		spanEnd := iv.End
		if iv.Open() || spanEnd.After(end) {
			spanEnd = end
		}
		spanStart := iv.Start
		if spanStart.Before(start) {
			spanStart = start
		}
		span := spanEnd.Sub(spanStart)
		if span < 0 {
			span = 0
		}

		switch iv.Type {
		case models.Up:
			result.Up += span
		case models.Down:
			result.Down += span
			if previous != nil && previous.Type != models.Down && !iv.Start.Before(start) {
				result.Failures++
			}
		case models.Disabled:
			result.Disabled += span
		default:
			result.Unknown += span
		}
		previous = &intervals[i]
	}

	if tracked := result.Up + result.Down; tracked > 0 {
		result.UptimePercent = round2(float64(result.Up) / float64(tracked) * 100)
	}
	if len(intervals) > 0 {
		result.LastState = intervals[len(intervals)-1].Type.String()
	}
	return result
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
