package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/NordCoder/Cronus/internal/config/detector"
	"github.com/NordCoder/Cronus/internal/domain/feature"
	featuregate "github.com/NordCoder/Cronus/internal/feature"
	"github.com/NordCoder/Cronus/internal/obs"
	"github.com/NordCoder/Cronus/internal/obs/retry"
	"github.com/NordCoder/Cronus/internal/outbox"
	kafkaRepo "github.com/NordCoder/Cronus/internal/repository/kafka"
	pg "github.com/NordCoder/Cronus/internal/repository/postgres"
	"github.com/NordCoder/Cronus/internal/services/detector"
	"github.com/NordCoder/Cronus/internal/services/detector/repo"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfgPath := pflag.StringP("config", "c", "", "path to detector YAML config")
	once := pflag.Bool("once", false, "run a single detection pass and exit")
	pflag.Parse()

	// init
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	// logger
	l, err := obs.NewLogger(cfg.AsLoggerConfig())
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()
	zap.ReplaceGlobals(l)
	l.Info("starting detector",
		zap.String("schedule", cfg.Detector.Schedule),
		zap.Bool("once", *once),
		zap.Bool("outbox", cfg.Outbox.Enable),
		zap.String("features", cfg.Features.Source),
	)

	// otel
	otelCloser, err := obs.SetupOTel(ctx, cfg.OTEL.AsOTELConfig())
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	// db
	db, err := pg.NewDB(ctx, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// wiring
	monitorRepo := pg.NewMonitorRepo(db)
	checkinRepo := pg.NewCheckInRepo(db)
	incidentRepo := pg.NewIncidentRepo(db)
	outboxRepo := pg.NewOutboxRepo(db)
	tx := pg.NewTransactor(db, l)

	gate, err := featuregate.New(cfg.Features, pg.NewFeatureRepo(db), feature.BrokenMonitorDetection)
	if err != nil {
		l.Fatal("feature gate", zap.Error(err))
	}

	deps := detector.Deps{
		Candidates: repo.Candidates{R: monitorRepo},
		CheckIns:   repo.CheckIns{R: checkinRepo},
		Incidents:  repo.Incidents{R: incidentRepo},
		Tx:         tx,
	}
	if cfg.Outbox.Enable {
		deps.Outbox = repo.Outbox{R: outboxRepo}
	}
	uc := detector.NewUC(l, deps, detector.Thresholds{
		MinDuration: cfg.Detector.MinBrokenDuration,
		MinCheckIns: cfg.Detector.MinConsecutiveFailures,
	}, cfg.Detector.BatchLimit, cfg.Detector.Workers)

	runner, err := detector.New(l, uc, gate, &cfg.Detector)
	if err != nil {
		l.Fatal("detector init", zap.Error(err))
	}
	if cfg.Detector.SingleFlight {
		runner.WithLock(db)
	}

	if cfg.Outbox.Enable {
		spec := kafkaRepo.TopicSpec{
			Name:              cfg.Kafka.Topic,
			NumPartitions:     cfg.Kafka.Partitions,
			ReplicationFactor: cfg.Kafka.ReplicationFactor,
			MaxWait:           30 * time.Second,
		}
		if err := kafkaRepo.EnsureTopic(ctx, cfg.Kafka.Brokers, spec, l); err != nil {
			l.Fatal("ensure topic", zap.Error(err))
		}
	}

	if *once {
		if err := runner.RunOnce(ctx); err != nil {
			l.Fatal("detector run", zap.Error(err))
		}
		return
	}

	// run metrics server
	ms := obs.BootstrapMetricsServer(cfg.Detector.MetricsAddr, db.Ping, l)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })

	if cfg.Outbox.Enable {
		prod := kafkaRepo.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic).WithLogger(l)
		defer func() { _ = prod.Close() }()

		dispatch := outbox.MakeGlobalOutboxHandler(
			kafkaRepo.NewMonitorEventsKafka(prod),
			retry.DefaultPublishPolicy("kafka_broken_detected", l),
		)
		ob := outbox.NewOutboxRunner(l, outboxRepo, dispatch, cfg.Outbox)
		g.Go(func() error { return ob.Run(gctx) })
	}

	l.Info("detector started")

	// loop
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		l.Error("runner error", zap.Error(err))
	}

	// graceful shutdown
	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
