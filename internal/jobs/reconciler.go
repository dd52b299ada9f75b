// Package jobs runs background maintenance for the scoring service.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/matchday/backend/internal/scoring"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

const reconcileJobName = "reconcile-match-scores"

var errMissingReconciler = errors.New("jobs: score reconciler required")

// ScoreReconciler recomputes stored scores from their point logs.
type ScoreReconciler interface {
	ReconcileScores(ctx context.Context) (scoring.ReconcileReport, error)
}

// ReconcilerConfig describes the reconciliation job. A zero Interval disables it.
type ReconcilerConfig struct {
	Reconciler ScoreReconciler
	Interval   time.Duration
	Logger     *zap.Logger
}

// Reconciler periodically repairs score drift on a gocron scheduler.
type Reconciler struct {
	reconciler ScoreReconciler
	interval   time.Duration
	logger     *zap.Logger
}

func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Reconciler == nil {
		return nil, errMissingReconciler
	}
	if cfg.Interval < 0 {
		return nil, errors.New("jobs: reconcile interval must not be negative")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{reconciler: cfg.Reconciler, interval: cfg.Interval, logger: logger}, nil
}

// Run schedules the job and blocks until ctx is done, then waits for a running
// pass to finish.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.interval == 0 {
		r.logger.Info("score reconciliation disabled")
		<-ctx.Done()
		return nil
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() {
			_, _ = r.RunOnce(ctx)
		}),
		gocron.WithName(reconcileJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return err
	}

	scheduler.Start()
	r.logger.Info("score reconciliation scheduled", zap.Duration("interval", r.interval))

	<-ctx.Done()
	if err := scheduler.Shutdown(); err != nil {
		r.logger.Warn("score reconciliation scheduler shutdown failed", zap.Error(err))
		return err
	}
	return nil
}

// RunOnce performs a single reconciliation pass.
func (r *Reconciler) RunOnce(ctx context.Context) (scoring.ReconcileReport, error) {
	if ctx.Err() != nil {
		return scoring.ReconcileReport{}, ctx.Err()
	}
	started := time.Now()
	report, err := r.reconciler.ReconcileScores(ctx)
	if err != nil {
		r.logger.Error("score reconciliation failed", zap.Error(err))
		return report, err
	}
	r.logger.Debug("score reconciliation completed",
		zap.Int("checked", report.Checked),
		zap.Int("repaired", report.Repaired),
		zap.Int("failed", report.Failed),
		zap.Duration("elapsed", time.Since(started)))
	return report, nil
}
