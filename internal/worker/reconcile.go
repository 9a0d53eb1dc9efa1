package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/banana-evolution/tapboard/internal/config"
	"github.com/banana-evolution/tapboard/internal/domain"
	"github.com/banana-evolution/tapboard/internal/period"
	"github.com/banana-evolution/tapboard/internal/postgres"
	"github.com/banana-evolution/tapboard/internal/redis"
)

// ReconcileWorker periodically rebuilds the Redis board mirrors from
// PostgreSQL. Postgres is authoritative; the mirrors only serve reads, so a
// rebuild repairs any drift from dropped best-effort increments or a Redis
// restart.
type ReconcileWorker struct {
	mirror   *redis.BoardMirror
	postgres *postgres.Repository
	config   *config.ReconcileConfig
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewReconcileWorker creates a new reconcile worker
func NewReconcileWorker(
	mirror *redis.BoardMirror,
	postgres *postgres.Repository,
	cfg *config.ReconcileConfig,
	logger *slog.Logger,
) *ReconcileWorker {
	return &ReconcileWorker{
		mirror:   mirror,
		postgres: postgres,
		config:   cfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background reconcile process
func (w *ReconcileWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("reconcile worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background reconcile process
func (w *ReconcileWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("reconcile worker stopped")
	return nil
}

// run is the main worker loop
func (w *ReconcileWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.reconcileAll(ctx)
		}
	}
}

// reconcileAll rebuilds the mirrors for every currently live board. Past
// windows are read-only history and are never touched again.
func (w *ReconcileWorker) reconcileAll(ctx context.Context) {
	w.logger.Info("starting reconcile cycle")
	startTime := time.Now()

	keys := period.Keys(time.Now())
	reconciledCount := 0
	errorCount := 0

	for _, periodType := range domain.PeriodTypes {
		if err := w.ReconcileBoard(ctx, periodType, keys.For(periodType)); err != nil {
			w.logger.Error("failed to reconcile board",
				"period_type", periodType,
				"period_key", keys.For(periodType),
				"error", err,
			)
			errorCount++
		} else {
			reconciledCount++
		}
	}

	duration := time.Since(startTime)
	w.logger.Info("reconcile cycle completed",
		"duration", duration,
		"reconciled", reconciledCount,
		"errors", errorCount,
	)
}

// ReconcileBoard rebuilds one board mirror from PostgreSQL.
func (w *ReconcileWorker) ReconcileBoard(ctx context.Context, periodType domain.PeriodType, periodKey string) error {
	w.logger.Debug("reconciling board", "period_type", periodType, "period_key", periodKey)

	entries, err := w.postgres.AllEntries(ctx, periodType, periodKey)
	if err != nil {
		return err
	}

	if err := w.mirror.ReplaceBoard(ctx, periodType, periodKey, entries); err != nil {
		return err
	}

	w.logger.Debug("reconciled board",
		"period_type", periodType,
		"period_key", periodKey,
		"player_count", len(entries),
	)

	return nil
}

// IsRunning returns whether the worker is currently running
func (w *ReconcileWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single reconcile cycle (useful at startup, before the
// mirror serves its first read)
func (w *ReconcileWorker) RunOnce(ctx context.Context) {
	w.reconcileAll(ctx)
}
