// Package jobs runs periodic database maintenance.
package jobs

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"chatforum/internal/logging"
	"chatforum/internal/metrics"
)

// Store is the part of db.Store the jobs need.
type Store interface {
	DeleteExpiredSessions(ctx context.Context) (int64, error)
	ReconcileLikeCounts(ctx context.Context) (int64, error)
}

type Scheduler struct {
	scheduler *gocron.Scheduler
	store     Store
	timeout   time.Duration
}

func New(store Store) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{scheduler: s, store: store, timeout: time.Minute}
}

// Start schedules both jobs; a zero interval leaves that job off.
func (s *Scheduler) Start(sessionPrune, likeReconcile time.Duration) error {
	if sessionPrune > 0 {
		if _, err := s.scheduler.Every(sessionPrune).Do(s.run, "session_prune", s.PruneSessions); err != nil {
			return err
		}
	}
	if likeReconcile > 0 {
		if _, err := s.scheduler.Every(likeReconcile).Do(s.run, "like_reconcile", s.ReconcileLikes); err != nil {
			return err
		}
	}
	s.scheduler.StartAsync()
	return nil
}

func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

func (s *Scheduler) run(name string, job func(context.Context) (int64, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := job(ctx)
	if err != nil {
		metrics.JobRuns.WithLabelValues(name, "error").Inc()
		logging.Error().Err(err).Str("job", name).Msg("job failed")
		return
	}
	metrics.JobRuns.WithLabelValues(name, "ok").Inc()
	if n > 0 {
		logging.Info().Str("job", name).Int64("rows", n).Msg("job done")
	}
}

// PruneSessions deletes expired sessions.
func (s *Scheduler) PruneSessions(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredSessions(ctx)
}

// ReconcileLikes resets like counters that no longer match the likes table.
func (s *Scheduler) ReconcileLikes(ctx context.Context) (int64, error) {
	return s.store.ReconcileLikeCounts(ctx)
}
