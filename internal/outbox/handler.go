package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Cronus/internal/domain/kafka"
	"github.com/NordCoder/Cronus/internal/domain/outbox"
	"github.com/NordCoder/Cronus/internal/obs/retry"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var (
	outboxHandlerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outbox_handler_latency_seconds",
		Help:    "Latency of outbox handlers including retries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	outboxHandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_handler_errors_total",
		Help: "Errors in outbox handlers (after retries).",
	}, []string{"kind"})
)

// BrokenDetectedMessage builds the outbox key and payload for a detection.
// The key is derived from the detection id, so re-enqueueing is a no-op.
func BrokenDetectedMessage(ev kafka.BrokenDetected) (string, []byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", nil, fmt.Errorf("marshal broken-detected payload: %w", err)
	}
	return fmt.Sprintf("broken:%d", ev.DetectionID), data, nil
}

func instrument(kind outbox.Kind, h outbox.KindHandler, pol retry.Policy) outbox.KindHandler {
	tr := otel.Tracer("outbox.handler")
	if pol.Name == "" {
		pol.Name = "outbox_" + kind.String()
	}
	return func(ctx context.Context, data []byte) error {
		ctx, span := tr.Start(ctx, "outbox.handle "+kind.String())
		defer span.End()

		start := time.Now()
		err := retry.Do(ctx, func() error { return h(ctx, data) }, pol)
		outboxHandlerLatency.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			outboxHandlerErrors.WithLabelValues(kind.String()).Inc()
		}
		return err
	}
}

func MakeGlobalOutboxHandler(pub kafka.MonitorEvents, pol retry.Policy) outbox.GlobalHandler {
	return func(kind outbox.Kind) (outbox.KindHandler, error) {
		switch kind {
		case outbox.KindBrokenDetected:
			base := func(ctx context.Context, data []byte) error {
				var ev kafka.BrokenDetected
				if err := json.Unmarshal(data, &ev); err != nil {
					return fmt.Errorf("unmarshal broken-detected payload: %w", err)
				}
				return pub.PublishBrokenDetected(ctx, ev)
			}
			return instrument(kind, base, pol), nil
		default:
			return nil, fmt.Errorf("unsupported outbox kind: %d", kind)
		}
	}
}
