package main

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/NordCoder/Cronus/internal/obs"
	kafkaRepo "github.com/NordCoder/Cronus/internal/repository/kafka"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	brokers := pflag.StringSlice("brokers", []string{"kafka:9092"}, "kafka bootstrap brokers")
	topics := pflag.StringSlice("topics", []string{"cronus.monitors.broken"}, "topics to create")
	partitions := pflag.Int("partitions", 1, "partitions per topic")
	rf := pflag.Int("replication-factor", 1, "replication factor")
	timeout := pflag.Duration("timeout", 60*time.Second, "overall timeout")
	pflag.Parse()

	l, err := obs.NewLogger(obs.LogConfig{Level: "info", App: "cronus-kafka-init"})
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	for _, t := range *topics {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		spec := kafkaRepo.TopicSpec{Name: t, NumPartitions: *partitions, ReplicationFactor: *rf, MaxWait: 30 * time.Second}
		if err := kafkaRepo.EnsureTopic(ctx, *brokers, spec, l); err != nil {
			l.Fatal("ensure topic", zap.String("topic", t), zap.Error(err))
		}
		l.Info("topic ready", zap.String("topic", t))
	}
	l.Info("kafka-init ok")
}
