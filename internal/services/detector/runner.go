package detector

import (
	"context"
	"errors"
	"fmt"
	"time"

	config "github.com/NordCoder/Cronus/internal/config/detector"
	"github.com/NordCoder/Cronus/internal/domain/feature"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// runLockKey is the advisory lock id shared by all detector processes.
const runLockKey int64 = 0x62726b6e // "brkn"

var ErrRunLocked = errors.New("another detector run holds the lock")

// RunLocker provides cross-process single flight for runs.
type RunLocker interface {
	TryRunLock(ctx context.Context, key int64) (release func(), ok bool, err error)
}

var (
	mRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "detector_runs_total", Help: "Detector runs by result",
	}, []string{"result"})
	mFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detector_candidates_fetched_total", Help: "Failing monitor environments fetched",
	})
	mDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detector_detections_total", Help: "Broken detections recorded",
	})
	mSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "detector_skipped_total", Help: "Monitor environments skipped by verdict",
	}, []string{"verdict"})
	mErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detector_errors_total", Help: "Per-environment evaluation errors",
	})
	mRunDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "detector_run_duration_seconds", Help: "Detector run duration",
		Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
	})
)

type Runner struct {
	Log  *zap.Logger
	UC   *Usecase
	Gate feature.Gate
	Lock RunLocker
	Cfg  *config.DetectorCfg

	schedule cron.Schedule
	now      func() time.Time
}

func New(log *zap.Logger, uc *Usecase, gate feature.Gate, cfg *config.DetectorCfg) (*Runner, error) {
	sched, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", cfg.Schedule, err)
	}
	return &Runner{
		Log:      log,
		UC:       uc,
		Gate:     gate,
		Cfg:      cfg,
		schedule: sched,
		now:      time.Now,
	}, nil
}

// WithLock enables single flight across processes.
func (r *Runner) WithLock(l RunLocker) *Runner {
	r.Lock = l
	return r
}

// RunOnce performs one detection pass under the configured run timeout.
func (r *Runner) RunOnce(ctx context.Context) error {
	if r.Cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Cfg.RunTimeout)
		defer cancel()
	}

	if r.Lock != nil {
		release, ok, err := r.Lock.TryRunLock(ctx, runLockKey)
		if err != nil {
			mRuns.WithLabelValues("error").Inc()
			return fmt.Errorf("run lock: %w", err)
		}
		if !ok {
			mRuns.WithLabelValues("locked").Inc()
			return ErrRunLocked
		}
		defer release()
	}

	start := time.Now()
	stats, err := r.UC.Run(ctx, r.Gate)
	mRunDur.Observe(time.Since(start).Seconds())

	if stats != nil {
		mFetched.Add(float64(stats.Fetched))
		mDetected.Add(float64(stats.Detected))
		mErr.Add(float64(stats.Errors))
		for v, n := range stats.Skipped {
			mSkipped.WithLabelValues(string(v)).Add(float64(n))
		}
		r.Log.Info("detector run finished",
			zap.Int("fetched", stats.Fetched),
			zap.Int("detected", stats.Detected),
			zap.Int("errors", stats.Errors),
			zap.Any("skipped", stats.Skipped),
			zap.Duration("took", time.Since(start)),
		)
	}
	if err != nil {
		mRuns.WithLabelValues("error").Inc()
		return err
	}
	mRuns.WithLabelValues("ok").Inc()
	return nil
}

func (r *Runner) tick(ctx context.Context) {
	err := r.RunOnce(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrRunLocked):
		r.Log.Info("detector run skipped, lock held elsewhere")
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
	default:
		r.Log.Warn("detector run error", zap.Error(err))
	}
}

// Run triggers RunOnce on every schedule activation until ctx is done. Runs
// never overlap within a process; an activation missed during a long run is
// skipped rather than queued.
func (r *Runner) Run(ctx context.Context) error {
	if r.Cfg.RunOnStart {
		r.tick(ctx)
	}

	for {
		next := r.schedule.Next(r.now())
		timer := time.NewTimer(time.Until(next))
		r.Log.Debug("next detector run", zap.Time("at", next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			r.tick(ctx)
		}
	}
}
