package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/NordCoder/Cronus/internal/domain/outbox"
	"github.com/NordCoder/Cronus/internal/obs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Config struct {
	Enable        bool          `mapstructure:"enable"`
	Workers       int           `mapstructure:"workers"`
	BatchSize     int           `mapstructure:"batch_size"`
	WaitTime      time.Duration `mapstructure:"wait_time"`
	InProgressTTL time.Duration `mapstructure:"in_progress_ttl"`
}

type Runner struct {
	log      *zap.Logger
	repo     outbox.Repository
	dispatch outbox.GlobalHandler
	cfg      Config

	mPicked    prometheus.Counter
	mOk        prometheus.Counter
	mErr       prometheus.Counter
	mTickDur   prometheus.Histogram
	mBatchSize prometheus.Gauge
}

func NewOutboxRunner(log *zap.Logger, repo outbox.Repository, dispatch outbox.GlobalHandler, cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.WaitTime <= 0 {
		cfg.WaitTime = time.Second
	}
	if cfg.InProgressTTL <= 0 {
		cfg.InProgressTTL = time.Minute
	}
	return &Runner{
		log: log, repo: repo, dispatch: dispatch, cfg: cfg,
		mPicked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "outbox_picked_total", Help: "Messages picked into processing.",
		}),
		mOk: promauto.NewCounter(prometheus.CounterOpts{
			Name: "outbox_processed_ok_total", Help: "Messages processed successfully.",
		}),
		mErr: promauto.NewCounter(prometheus.CounterOpts{
			Name: "outbox_processed_err_total", Help: "Handler errors.",
		}),
		mTickDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "outbox_tick_duration_seconds", Help: "Tick duration.",
			Buckets: prometheus.DefBuckets,
		}),
		mBatchSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_last_batch_size", Help: "Size of last picked batch.",
		}),
	}
}

// Run starts the workers and blocks until ctx is done and all of them exit.
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go r.worker(ctx, &wg)
	}
	wg.Wait()
	return ctx.Err()
}

func (r *Runner) worker(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	r.log.Info("outbox worker started", zap.Duration("wait", r.cfg.WaitTime))

	ticker := time.NewTicker(r.cfg.WaitTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox worker stop")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// tick picks one batch, dispatches every message and marks the delivered ones.
// Failed messages stay IN_PROGRESS and are picked again after InProgressTTL.
func (r *Runner) tick(ctx context.Context) {
	t0 := time.Now()
	tr := otel.Tracer("outbox.runner")
	prop := otel.GetTextMapPropagator()

	ctxSpan, span := tr.Start(ctx, "outbox.tick")
	defer span.End()
	span.SetAttributes(
		attribute.Int("batch.limit", r.cfg.BatchSize),
		attribute.String("in_progress_ttl", r.cfg.InProgressTTL.String()),
	)

	messages, err := r.repo.PickBatch(ctxSpan, r.cfg.BatchSize, r.cfg.InProgressTTL)
	if err != nil {
		span.RecordError(err)
		r.mErr.Inc()
		obs.WithTrace(ctxSpan, r.log).Error("outbox pick error", zap.Error(err))
		return
	}
	r.mPicked.Add(float64(len(messages)))
	r.mBatchSize.Set(float64(len(messages)))

	okKeys := make([]string, 0, len(messages))
	for _, m := range messages {
		parent := prop.Extract(ctx, propagation.MapCarrier{
			"traceparent": m.Traceparent,
			"tracestate":  m.Tracestate,
			"baggage":     m.Baggage,
		})

		msgCtx, msgSpan := tr.Start(parent, "outbox.dispatch",
			trace.WithAttributes(
				attribute.String("outbox.key", m.IdempotencyKey),
				attribute.String("outbox.kind", m.Kind.String()),
			),
		)

		handler, herr := r.dispatch(m.Kind)
		if herr != nil {
			msgSpan.RecordError(herr)
			r.mErr.Inc()
			obs.WithTrace(msgCtx, r.log).Error("no handler for kind",
				zap.Int("kind", int(m.Kind)), zap.Error(herr))
			msgSpan.End()
			continue
		}

		if err := handler(msgCtx, m.Data); err != nil {
			msgSpan.RecordError(err)
			r.mErr.Inc()
			obs.WithTrace(msgCtx, r.log).Error("handler error",
				zap.String("key", m.IdempotencyKey), zap.Error(err))
			msgSpan.End()
			continue
		}

		msgSpan.End()
		okKeys = append(okKeys, m.IdempotencyKey)
		r.mOk.Inc()
	}

	if err := r.repo.MarkSuccess(ctxSpan, okKeys); err != nil {
		span.RecordError(err)
		r.mErr.Inc()
		obs.WithTrace(ctxSpan, r.log).Error("mark success error", zap.Error(err))
	}
	r.mTickDur.Observe(time.Since(t0).Seconds())
}
