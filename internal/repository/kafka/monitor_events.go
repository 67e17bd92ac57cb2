package kafka

import (
	"context"
	"fmt"

	"github.com/NordCoder/Cronus/internal/domain/kafka"
	"github.com/goccy/go-json"
)

type MonitorEventsKafka struct {
	p *Producer
}

func NewMonitorEventsKafka(p *Producer) *MonitorEventsKafka { return &MonitorEventsKafka{p: p} }

var _ kafka.MonitorEvents = (*MonitorEventsKafka)(nil)

// PublishBrokenDetected keys by monitor environment so events of one
// environment stay ordered within a partition.
func (e *MonitorEventsKafka) PublishBrokenDetected(ctx context.Context, ev kafka.BrokenDetected) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal broken-detected: %w", err)
	}
	return e.p.Publish(ctx, KeyFromInt64(ev.MonitorEnvID), value)
}
