// Package availability merges agent reports into per-resource timelines,
// purges old history and backfills DOWN for agents that went silent.
package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"availtrack/internal/metrics"
	"availtrack/internal/models"
	"availtrack/internal/storage"
	"availtrack/internal/timeline"
)

const (
	// DefaultSuspectThreshold is how long an agent may skip heartbeats before backfill.
	DefaultSuspectThreshold = 5 * time.Minute
	defaultMergeWorkers     = 8
)

var (
	ErrUnknownResource      = errors.New("unknown or stale resource")
	ErrDisabledTransition   = errors.New("transition into or out of DISABLED requires an enablement report")
	ErrBeforeEpoch          = errors.New("timestamp precedes the timeline epoch")
	ErrDuplicateObservation = errors.New("resource already observed in this report")
)

// Inventory is the subset of the resource inventory the merge engine needs.
type Inventory interface {
	ResourceExists(resourceID string) bool
	ResourcesForAgent(agent string) []string
	Agents() []models.Agent
	RecordReport(agent string, t time.Time)
	MarkBackfilled(agent string)
}

// Options tunes a Service. Zero values fall back to defaults.
type Options struct {
	SuspectThreshold time.Duration
	MergeWorkers     int
	Now              func() time.Time
	Logger           *zap.Logger
}

// Service is the merge engine over a timeline store.
type Service struct {
	store            storage.Store
	inventory        Inventory
	locks            *keyedMutex
	now              func() time.Time
	log              *zap.Logger
	suspectThreshold time.Duration
	workers          int
}

// New wires a merge engine.
func New(store storage.Store, inventory Inventory, opts Options) *Service {
	if opts.SuspectThreshold <= 0 {
		opts.SuspectThreshold = DefaultSuspectThreshold
	}
	if opts.MergeWorkers <= 0 {
		opts.MergeWorkers = defaultMergeWorkers
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		store:            store,
		inventory:        inventory,
		locks:            newKeyedMutex(),
		now:              opts.Now,
		log:              opts.Logger,
		suspectThreshold: opts.SuspectThreshold,
		workers:          opts.MergeWorkers,
	}
}

type entryOutcome struct {
	changed    bool
	repaired   bool
	reason     error
	diagnostic *models.Diagnostic
}

// MergeAvailabilityReport applies every observation of a report. Stale
// resources and illegal transitions are skipped with a diagnostic; only a
// storage failure aborts the report.
func (s *Service) MergeAvailabilityReport(ctx context.Context, report models.Report) (models.MergeResult, error) {
	started := time.Now()
	defer func() {
		metrics.MergeDurationSeconds.Observe(time.Since(started).Seconds())
	}()

	result := models.MergeResult{ReportID: uuid.NewString(), Agent: report.Agent}
	log := s.log.With(zap.String("report_id", result.ReportID), zap.String("agent", report.Agent))
	if report.Agent != "" {
		s.inventory.RecordReport(report.Agent, s.now())
	}
	kind := "monitoring"
	if report.Enablement {
		kind = "enablement"
	}
	metrics.ReportsTotal.WithLabelValues(kind).Inc()

	outcomes := make([]entryOutcome, len(report.Observations))
	seen := make(map[string]struct{}, len(report.Observations))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, obs := range report.Observations {
		if _, dup := seen[obs.ResourceID]; dup {
			outcomes[i] = rejected(obs, ErrDuplicateObservation)
			continue
		}
		seen[obs.ResourceID] = struct{}{}
		g.Go(func() error {
			outcome, err := s.mergeObservation(gctx, obs, report.Enablement)
			outcomes[i] = outcome
			return err
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("report merge failed", zap.Error(err))
		return result, err
	}

	for i, outcome := range outcomes {
		switch {
		case outcome.diagnostic != nil:
			result.Skipped = append(result.Skipped, *outcome.diagnostic)
			outcomeLabel := metrics.OutcomeRejected
			if errors.Is(outcome.reason, ErrUnknownResource) {
				outcomeLabel = metrics.OutcomeStale
			}
			metrics.ObservationsTotal.WithLabelValues(outcomeLabel).Inc()
			log.Warn("observation skipped",
				zap.String("resource_id", outcome.diagnostic.ResourceID),
				zap.String("reason", outcome.diagnostic.Reason))
		case outcome.changed:
			result.Applied++
			metrics.ObservationsTotal.WithLabelValues(metrics.OutcomeApplied).Inc()
		default:
			result.Unchanged++
			metrics.ObservationsTotal.WithLabelValues(metrics.OutcomeUnchanged).Inc()
		}
		if outcome.repaired {
			result.Repaired = append(result.Repaired, report.Observations[i].ResourceID)
		}
	}

	log.Debug("report merged",
		zap.Int("applied", result.Applied),
		zap.Int("unchanged", result.Unchanged),
		zap.Int("skipped", len(result.Skipped)))
	return result, nil
}

// Merge applies a single monitoring observation. Rejections are returned as
// errors wrapping the matching sentinel rather than as diagnostics.
func (s *Service) Merge(ctx context.Context, resourceID string, ts time.Time, typ models.AvailabilityType) (bool, error) {
	outcome, err := s.mergeObservation(ctx, models.Observation{ResourceID: resourceID, Timestamp: ts, Type: typ}, false)
	if err != nil {
		return false, err
	}
	if outcome.reason != nil {
		return false, fmt.Errorf("merge %s: %w", resourceID, outcome.reason)
	}
	return outcome.changed, nil
}

func (s *Service) mergeObservation(ctx context.Context, obs models.Observation, enablement bool) (entryOutcome, error) {
	switch {
	case !s.inventory.ResourceExists(obs.ResourceID):
		return rejected(obs, ErrUnknownResource), nil
	case obs.Type == models.Disabled && !enablement:
		return rejected(obs, ErrDisabledTransition), nil
	case obs.Timestamp.Before(models.Epoch):
		return rejected(obs, ErrBeforeEpoch), nil
	}
	obs.Timestamp = models.TruncateMillis(obs.Timestamp)

	var reason error
	changed, repaired, err := s.update(ctx, obs.ResourceID, func(intervals []models.Interval) ([]models.Interval, bool) {
		if !enablement && len(intervals) > 0 && timeline.TypeAt(intervals, obs.Timestamp) == models.Disabled {
			reason = ErrDisabledTransition
			return intervals, false
		}
		return timeline.Apply(intervals, obs.ResourceID, obs.Timestamp, obs.Type)
	})
	if err != nil {
		return entryOutcome{}, err
	}
	outcome := entryOutcome{changed: changed, repaired: repaired}
	if reason != nil {
		outcome = rejected(obs, reason)
		outcome.repaired = repaired
	}
	return outcome, nil
}

// update runs mutate over the repaired timeline of resourceID while holding
// its lock, and persists the result when mutate or the repair changed it.
func (s *Service) update(ctx context.Context, resourceID string, mutate func([]models.Interval) ([]models.Interval, bool)) (changed, repaired bool, err error) {
	unlock := s.locks.Lock(resourceID)
	defer unlock()

	intervals, repaired, err := s.loadRepairedLocked(ctx, resourceID)
	if err != nil {
		return false, false, err
	}
	next, changed := mutate(intervals)
	if changed || repaired {
		if err := s.store.Replace(ctx, resourceID, next); err != nil {
			return false, repaired, fmt.Errorf("store timeline for %s: %w", resourceID, err)
		}
	}
	return changed, repaired, nil
}

// loadRepairedLocked reads a timeline and heals it in memory. The caller
// holds the resource lock and persists the repaired form.
func (s *Service) loadRepairedLocked(ctx context.Context, resourceID string) ([]models.Interval, bool, error) {
	intervals, err := s.store.Intervals(ctx, resourceID)
	if err != nil {
		return nil, false, fmt.Errorf("load timeline for %s: %w", resourceID, err)
	}
	repaired, changed := timeline.Repair(intervals)
	if changed {
		metrics.TimelineRepairsTotal.Inc()
		s.log.Warn("repaired corrupted timeline",
			zap.String("resource_id", resourceID),
			zap.Int("stored_intervals", len(intervals)),
			zap.Int("repaired_intervals", len(repaired)),
			zap.NamedError("violation", timeline.Validate(intervals)))
	}
	return repaired, changed, nil
}

// CurrentInterval returns the resource's open interval. ok is false when the
// resource has no history yet.
func (s *Service) CurrentInterval(ctx context.Context, resourceID string) (models.Interval, bool, error) {
	intervals, err := s.store.Intervals(ctx, resourceID)
	if err != nil {
		return models.Interval{}, false, fmt.Errorf("load timeline for %s: %w", resourceID, err)
	}
	intervals, _ = timeline.Repair(intervals)
	current, ok := timeline.Current(intervals)
	return current, ok, nil
}

// CurrentType returns the resource's current state, UNKNOWN without history.
func (s *Service) CurrentType(ctx context.Context, resourceID string) (models.AvailabilityType, error) {
	current, ok, err := s.CurrentInterval(ctx, resourceID)
	if err != nil || !ok {
		return models.Unknown, err
	}
	return current.Type, nil
}

// Purge deletes closed intervals that started at or before olderThan. Each
// resource is re-read under its lock so a concurrent merge can never lose
// its only open interval. Returns the number of deleted intervals.
func (s *Service) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	ids, err := s.store.ResourceIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list resources for purge: %w", err)
	}

	total := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		deleted, err := s.purgeResource(ctx, id, olderThan)
		if err != nil {
			return total, err
		}
		total += deleted
	}
	metrics.PurgedIntervalsTotal.Add(float64(total))
	s.log.Info("purge complete", zap.Time("older_than", olderThan), zap.Int("deleted", total))
	return total, nil
}

func (s *Service) purgeResource(ctx context.Context, resourceID string, olderThan time.Time) (int, error) {
	unlock := s.locks.Lock(resourceID)
	defer unlock()

	intervals, err := s.store.Intervals(ctx, resourceID)
	if err != nil {
		return 0, fmt.Errorf("load timeline for %s: %w", resourceID, err)
	}
	kept, deleted := timeline.PurgeClosed(intervals, olderThan)
	if deleted == 0 {
		return 0, nil
	}
	if err := s.store.Replace(ctx, resourceID, kept); err != nil {
		return 0, fmt.Errorf("store purged timeline for %s: %w", resourceID, err)
	}
	return deleted, nil
}

func rejected(obs models.Observation, reason error) entryOutcome {
	return entryOutcome{reason: reason, diagnostic: &models.Diagnostic{
		ResourceID: obs.ResourceID,
		Timestamp:  obs.Timestamp,
		Reason:     reason.Error(),
	}}
}
