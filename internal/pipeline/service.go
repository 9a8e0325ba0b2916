package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/robfig/cron/v3"

	"github.com/couchcryptid/crisis-funding-etl/internal/domain"
	"github.com/couchcryptid/crisis-funding-etl/internal/observability"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Publisher pushes a completed snapshot downstream.
type Publisher interface {
	Publish(ctx context.Context, snap *domain.Snapshot) error
}

// SnapshotBuilder produces a complete snapshot per call.
type SnapshotBuilder interface {
	Aggregate(ctx context.Context) (*domain.Snapshot, error)
}

// Service owns the current snapshot and refreshes it on a schedule.
type Service struct {
	builder   SnapshotBuilder
	publisher Publisher
	schedule  string
	logger    *slog.Logger
	metrics   *observability.Metrics

	mu      sync.Mutex
	current atomic.Pointer[domain.Snapshot]
}

// NewService creates a Service. A nil publisher disables publishing; an empty
// schedule disables periodic refreshes.
func NewService(b SnapshotBuilder, p Publisher, schedule string, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		builder:   b,
		publisher: p,
		schedule:  schedule,
		logger:    logger,
		metrics:   metrics,
	}
}

// Snapshot returns the most recent complete snapshot, or nil before the first run.
func (s *Service) Snapshot() *domain.Snapshot {
	return s.current.Load()
}

// CheckReadiness returns nil once a snapshot has been published.
func (s *Service) CheckReadiness(_ context.Context) error {
	if s.current.Load() == nil {
		return errors.New("no snapshot has been aggregated yet")
	}
	return nil
}

// Refresh runs one aggregation and swaps the result in. Runs are serialised;
// a failed run leaves the previous snapshot in place.
func (s *Service) Refresh(ctx context.Context) (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	snap, err := s.builder.Aggregate(ctx)
	if err != nil {
		s.metrics.AggregationRuns.WithLabelValues("failure").Inc()
		return nil, err
	}
	s.metrics.AggregationRuns.WithLabelValues("success").Inc()
	s.metrics.AggregationDuration.Observe(time.Since(start).Seconds())

	s.current.Store(snap)
	s.recordSnapshot(snap)

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, snap); err != nil {
			s.metrics.PublishErrors.Inc()
			s.logger.Error("snapshot publish failed", "snapshot_id", snap.ID, "error", err)
		} else {
			s.metrics.RecordsPublished.Add(float64(snap.Totals.Records))
		}
	}
	return snap, nil
}

func (s *Service) recordSnapshot(snap *domain.Snapshot) {
	s.metrics.SnapshotRecords.Set(float64(snap.Totals.Records))
	s.metrics.SnapshotCountries.Set(float64(snap.Totals.Countries))
	s.metrics.SnapshotCrises.Set(float64(snap.Totals.Crises))
	s.metrics.SnapshotTimestamp.Set(float64(snap.GeneratedAt.Unix()))
	for _, m := range snap.Detection {
		s.metrics.CohortSize.WithLabelValues(m.Metric).Set(float64(m.CohortSize))
		s.metrics.Anomalies.WithLabelValues(m.Metric, string(domain.AnomalyCritical)).Set(float64(m.Critical))
		s.metrics.Anomalies.WithLabelValues(m.Metric, string(domain.AnomalyWarning)).Set(float64(m.Warning))
	}
}

// Run performs the initial aggregation, retrying with exponential backoff,
// then refreshes on the configured schedule until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("service started", "schedule", s.schedule)

	if !s.initialRefresh(ctx) {
		s.logger.Info("service stopping", "reason", ctx.Err())
		return nil
	}
	if s.schedule == "" {
		<-ctx.Done()
		s.logger.Info("service stopping", "reason", ctx.Err())
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})))
	if _, err := c.AddFunc(s.schedule, func() { s.scheduledRefresh(ctx) }); err != nil {
		return err
	}
	c.Start()

	<-ctx.Done()
	s.logger.Info("service stopping", "reason", ctx.Err())
	<-c.Stop().Done()
	return nil
}

// initialRefresh retries until a snapshot exists. Returns false if the
// context was cancelled first.
func (s *Service) initialRefresh(ctx context.Context) bool {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return false
		}
		_, err := s.Refresh(ctx)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		s.logger.Error("initial aggregation failed", "error", err, "retry_in", backoff)
		if !retry.SleepWithContext(ctx, backoff) {
			return false
		}
		backoff = retry.NextBackoff(backoff, maxBackoff)
	}
}

func (s *Service) scheduledRefresh(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduled aggregation failed, keeping previous snapshot", "error", err)
	}
}

// cronLogger adapts slog to the cron scheduler's logging interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
