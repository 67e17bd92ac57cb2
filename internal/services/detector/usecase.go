package detector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/NordCoder/Cronus/internal/domain"
	"github.com/NordCoder/Cronus/internal/domain/feature"
	"github.com/NordCoder/Cronus/internal/domain/incident"
	"github.com/NordCoder/Cronus/internal/domain/kafka"
	"github.com/NordCoder/Cronus/internal/domain/monitor"
	"github.com/NordCoder/Cronus/internal/domain/outbox"
	featuregate "github.com/NordCoder/Cronus/internal/feature"
	"github.com/NordCoder/Cronus/internal/obs"
	intoutbox "github.com/NordCoder/Cronus/internal/outbox"
	"github.com/NordCoder/Cronus/internal/services/detector/repo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Transactor runs fn in one database transaction carried by the context.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type noTx struct{}

func (noTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type Usecase struct {
	Log        *zap.Logger
	Candidates repo.Candidates
	CheckIns   repo.CheckIns
	Incidents  repo.Incidents
	Outbox     repo.Outbox
	Tx         Transactor
	Clock      Clock
	Thresholds Thresholds
	BatchLimit int
	Workers    int
}

type Deps struct {
	Candidates repo.Candidates
	CheckIns   repo.CheckIns
	Incidents  repo.Incidents
	Outbox     repo.Outbox
	Tx         Transactor
	Clock      Clock
}

func NewUC(log *zap.Logger, deps Deps, th Thresholds, batchLimit, workers int) *Usecase {
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Tx == nil {
		deps.Tx = noTx{}
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if batchLimit <= 0 {
		batchLimit = 1000
	}
	if workers <= 0 {
		workers = 1
	}
	return &Usecase{
		Log:        log,
		Candidates: deps.Candidates,
		CheckIns:   deps.CheckIns,
		Incidents:  deps.Incidents,
		Outbox:     deps.Outbox,
		Tx:         deps.Tx,
		Clock:      deps.Clock,
		Thresholds: th.normalized(),
		BatchLimit: batchLimit,
		Workers:    workers,
	}
}

// Stats summarizes one run.
type Stats struct {
	Fetched  int
	Detected int
	Errors   int
	Skipped  map[Verdict]int

	mu sync.Mutex
}

func (s *Stats) add(v Verdict, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err != nil:
		s.Errors++
	case v == VerdictBroken:
		s.Detected++
	default:
		if s.Skipped == nil {
			s.Skipped = make(map[Verdict]int)
		}
		s.Skipped[v]++
	}
}

// Run evaluates every failing environment of every active monitor once and
// records a detection for each broken one. Failures on single environments are
// logged and counted; only a failure to list candidates aborts the run.
// A nil gate disables detection for every organization.
func (u *Usecase) Run(ctx context.Context, gate feature.Gate) (*Stats, error) {
	if gate == nil {
		gate = featuregate.NewStatic(false)
	}
	gate = featuregate.Memoize(gate)

	tr := otel.Tracer("detector.uc")
	ctx, span := tr.Start(ctx, "detector.run",
		trace.WithAttributes(
			attribute.Int("batch.limit", u.BatchLimit),
			attribute.Int("workers", u.Workers),
		),
	)
	defer span.End()

	now := u.Clock.Now().UTC()
	stats := &Stats{}

	var after int64
	for {
		page, err := u.Candidates.FindFailingActive(ctx, after, u.BatchLimit)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "list candidates")
			return stats, fmt.Errorf("list candidates: %w", err)
		}
		stats.Fetched += len(page)

		var g errgroup.Group
		g.SetLimit(u.Workers)
		for _, c := range page {
			g.Go(func() error {
				v, err := u.evaluate(ctx, gate, c, now)
				stats.add(v, err)
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if len(page) < u.BatchLimit {
			break
		}
		after = page[len(page)-1].Environment.ID
	}

	span.SetAttributes(
		attribute.Int("run.fetched", stats.Fetched),
		attribute.Int("run.detected", stats.Detected),
		attribute.Int("run.errors", stats.Errors),
	)
	return stats, nil
}

func (u *Usecase) evaluate(ctx context.Context, gate feature.Gate, c monitor.Candidate, now time.Time) (Verdict, error) {
	ctx, span := otel.Tracer("detector.uc").Start(ctx, "detector.evaluate",
		trace.WithAttributes(
			attribute.Int64("monitor.id", c.Monitor.ID),
			attribute.Int64("monitor_environment.id", c.Environment.ID),
			attribute.Int64("organization.id", c.Monitor.OrganizationID),
		),
	)
	defer span.End()

	log := obs.WithTrace(ctx, u.Log,
		zap.Int64("monitor_id", c.Monitor.ID),
		zap.Int64("monitor_environment_id", c.Environment.ID),
	)

	v, err := u.decide(ctx, log, gate, c, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "evaluate")
		log.Warn("evaluate monitor environment", zap.Error(err))
		return v, err
	}
	span.SetAttributes(attribute.String("verdict", string(v)))
	if v == VerdictBroken {
		log.Info("monitor environment detected as broken")
	} else {
		log.Debug("monitor environment skipped", zap.String("verdict", string(v)))
	}
	return v, nil
}

func (u *Usecase) decide(ctx context.Context, log *zap.Logger, gate feature.Gate, c monitor.Candidate, now time.Time) (Verdict, error) {
	enabled, err := gate.IsEnabled(ctx, c.Monitor.OrganizationID)
	if err != nil {
		// fail closed
		log.Warn("feature gate unavailable", zap.Int64("organization_id", c.Monitor.OrganizationID), zap.Error(err))
		return VerdictFeatureDisabled, nil
	}
	if !enabled {
		return VerdictFeatureDisabled, nil
	}
	if !Eligible(c) {
		return VerdictIneligible, nil
	}

	inc, err := u.Incidents.OpenForEnvironment(ctx, c.Environment.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return VerdictNoIncident, nil
	}
	if err != nil {
		return "", fmt.Errorf("open incident: %w", err)
	}
	if !oldEnough(now, inc, u.Thresholds) {
		return VerdictTooRecent, nil
	}

	recent, err := u.CheckIns.Recent(ctx, c.Environment.ID, u.Thresholds.MinCheckIns)
	if err != nil {
		return "", fmt.Errorf("recent checkins: %w", err)
	}
	if v := Decide(now, inc, recent, u.Thresholds); v != VerdictBroken {
		return v, nil
	}

	exists, err := u.Incidents.HasDetection(ctx, inc.ID)
	if err != nil {
		return "", fmt.Errorf("has detection: %w", err)
	}
	if exists {
		return VerdictAlreadyDetected, nil
	}

	created, err := u.record(ctx, c, inc, now)
	if err != nil {
		return "", err
	}
	if !created {
		return VerdictAlreadyDetected, nil
	}
	return VerdictBroken, nil
}

// record inserts the detection and, when enabled, its outbox event in one
// transaction. created is false when a concurrent run got there first.
func (u *Usecase) record(ctx context.Context, c monitor.Candidate, inc *incident.Incident, now time.Time) (bool, error) {
	var created bool
	err := u.Tx.WithTx(ctx, func(txCtx context.Context) error {
		d := &incident.BrokenDetection{MonitorIncidentID: inc.ID, DetectionTimestamp: now}
		ok, err := u.Incidents.CreateDetection(txCtx, d)
		if err != nil {
			return fmt.Errorf("create detection: %w", err)
		}
		created = ok
		if !ok || !u.Outbox.Enabled() {
			return nil
		}

		key, data, err := intoutbox.BrokenDetectedMessage(kafka.BrokenDetected{
			DetectionID:        d.ID,
			IncidentID:         inc.ID,
			MonitorID:          c.Monitor.ID,
			MonitorEnvID:       c.Environment.ID,
			OrganizationID:     c.Monitor.OrganizationID,
			ProjectID:          c.Monitor.ProjectID,
			IncidentStartedAt:  inc.StartingTimestamp,
			DetectionTimestamp: now,
		})
		if err != nil {
			return err
		}
		if err := u.Outbox.Enqueue(txCtx, key, outbox.KindBrokenDetected, data); err != nil {
			return fmt.Errorf("enqueue broken-detected: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}
