package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Backoff interface {
	Next(attempt int) time.Duration
}

// ExpoJitter doubles Base per attempt up to Max and spreads it by ±Jitter.
type ExpoJitter struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

func (b ExpoJitter) Next(attempt int) time.Duration {
	d := float64(b.Base) * math.Pow(2, float64(max(attempt, 0)))
	if b.Max > 0 {
		d = math.Min(d, float64(b.Max))
	}
	if b.Jitter > 0 {
		d *= 1 + (rand.Float64()*2-1)*b.Jitter
	}
	return time.Duration(d)
}

type Policy struct {
	Name      string
	Attempts  int
	Backoff   Backoff
	Retryable func(error) bool
	OnAttempt func(attempt int, err error)
	OnExhaust func(lastErr error)
}

func (p Policy) name() string {
	if p.Name == "" {
		return "default"
	}
	return p.Name
}

func (p Policy) attempts() int { return max(p.Attempts, 1) }

func (p Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

func (p Policy) wait(attempt int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff.Next(attempt)
}

var (
	retryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_attempts_total",
		Help: "Total retry attempts (including final).",
	}, []string{"name"})
	retryExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_exhausted_total",
		Help: "Operations that gave up: attempts exhausted or error not retryable.",
	}, []string{"name"})
	retryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "retry_duration_seconds",
		Help:    "Total time spent inside retry.Do (success or fail).",
		Buckets: prometheus.DefBuckets,
	}, []string{"name"})
)

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx is done.
func Do(ctx context.Context, fn func() error, p Policy) error {
	name := p.name()
	defer func(start time.Time) {
		retryLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}(time.Now())

	span := trace.SpanFromContext(ctx)
	last := p.attempts() - 1
	for i := 0; ; i++ {
		err := fn()
		retryAttempts.WithLabelValues(name).Inc()
		if err == nil {
			return nil
		}
		if p.OnAttempt != nil {
			p.OnAttempt(i, err)
		}
		span.AddEvent("retry.attempt", trace.WithAttributes(
			attribute.String("retry.name", name),
			attribute.Int("retry.attempt", i+1),
		))

		if i == last || !p.retryable(err) {
			retryExhausted.WithLabelValues(name).Inc()
			if p.OnExhaust != nil {
				p.OnExhaust(err)
			}
			return err
		}

		t := time.NewTimer(p.wait(i))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
