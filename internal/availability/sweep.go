package availability

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"availtrack/internal/metrics"
	"availtrack/internal/models"
	"availtrack/internal/timeline"
)

// SweepResult lists what one liveness sweep did.
type SweepResult struct {
	SweptAt    time.Time `json:"swept_at"`
	Suspects   []string  `json:"suspects"`
	Backfilled []string  `json:"backfilled"`
}

// CheckForSuspectAgents finds agents whose last heartbeat is older than the
// suspect threshold and records a DOWN transition at now for each of their
// resources that has history and is neither DOWN nor DISABLED already.
func (s *Service) CheckForSuspectAgents(ctx context.Context) (SweepResult, error) {
	now := s.now()
	cutoff := now.Add(-s.suspectThreshold)
	result := SweepResult{SweptAt: now}

	for _, agent := range s.inventory.Agents() {
		if agent.LastHeartbeat.IsZero() || agent.Backfilled || !agent.LastHeartbeat.Before(cutoff) {
			continue
		}
		result.Suspects = append(result.Suspects, agent.Name)
		log := s.log.With(zap.String("agent", agent.Name), zap.Time("last_heartbeat", agent.LastHeartbeat))
		log.Info("agent is suspect, backfilling its resources")

		for _, resourceID := range s.inventory.ResourcesForAgent(agent.Name) {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			changed, err := s.backfill(ctx, resourceID, now)
			if err != nil {
				return result, err
			}
			if changed {
				result.Backfilled = append(result.Backfilled, resourceID)
				metrics.BackfillsTotal.Inc()
			}
		}
		s.inventory.MarkBackfilled(agent.Name)
	}

	metrics.SuspectAgents.Set(float64(len(result.Suspects)))
	return result, nil
}

func (s *Service) backfill(ctx context.Context, resourceID string, now time.Time) (bool, error) {
	now = models.TruncateMillis(now)
	changed, _, err := s.update(ctx, resourceID, func(intervals []models.Interval) ([]models.Interval, bool) {
		current, ok := timeline.Current(intervals)
		if !ok || current.Type == models.Down || current.Type == models.Disabled || now.Before(current.Start) {
			return intervals, false
		}
		return timeline.Apply(intervals, resourceID, now, models.Down)
	})
	if err != nil {
		return false, fmt.Errorf("backfill %s: %w", resourceID, err)
	}
	return changed, nil
}
