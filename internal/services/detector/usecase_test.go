package detector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/NordCoder/Cronus/internal/domain/checkin"
	"github.com/NordCoder/Cronus/internal/domain/incident"
	"github.com/NordCoder/Cronus/internal/domain/kafka"
	"github.com/NordCoder/Cronus/internal/domain/monitor"
	"github.com/NordCoder/Cronus/internal/domain/outbox"
	featuregate "github.com/NordCoder/Cronus/internal/feature"
	"github.com/NordCoder/Cronus/internal/services/detector/repo"
	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const testOrg int64 = 1

type envSeed struct {
	org        int64
	monitor    monitor.Status
	env        monitor.EnvStatus
	incidentAt time.Duration // incident age; zero means no incident
	statuses   []checkin.Status
}

func brokenSeed() envSeed {
	return envSeed{
		org:        testOrg,
		monitor:    monitor.StatusActive,
		env:        monitor.EnvStatusError,
		incidentAt: 14 * 24 * time.Hour,
		statuses:   []checkin.Status{checkin.StatusError, checkin.StatusError, checkin.StatusError, checkin.StatusError},
	}
}

// seed creates a monitor, an environment, its check-ins (statuses newest first)
// and an open incident. It returns the environment and incident ids.
func seed(t *testing.T, s *memStore, sp envSeed) (envID, incID int64) {
	t.Helper()
	ctx := context.Background()

	m := &monitor.Monitor{
		OrganizationID: sp.org,
		ProjectID:      10,
		Name:           "nightly",
		Slug:           "nightly",
		Status:         sp.monitor,
		Config:         monitor.ScheduleConfig{Type: monitor.ScheduleCrontab, Crontab: "0 0 * * *"},
	}
	require.NoError(t, s.Create(ctx, m))
	env := &monitor.Environment{MonitorID: m.ID, Environment: "production", Status: sp.env}
	require.NoError(t, s.CreateEnvironment(ctx, env))

	for i, st := range sp.statuses {
		require.NoError(t, s.Insert(ctx, &checkin.CheckIn{
			MonitorID:            m.ID,
			MonitorEnvironmentID: env.ID,
			ProjectID:            m.ProjectID,
			Status:               st,
			DateAdded:            testNow.Add(-time.Duration(i+1) * time.Hour),
		}))
	}
	if sp.incidentAt > 0 {
		inc := &incident.Incident{
			MonitorID:            m.ID,
			MonitorEnvironmentID: env.ID,
			StartingTimestamp:    testNow.Add(-sp.incidentAt),
			GroupHash:            incident.NewGroupHash(),
		}
		require.NoError(t, s.Open(ctx, inc))
		incID = inc.ID
	}
	return env.ID, incID
}

func newTestUC(s *memStore, batch, workers int) *Usecase {
	return NewUC(zap.NewNop(), Deps{
		Candidates: repo.Candidates{R: s},
		CheckIns:   repo.CheckIns{R: s},
		Incidents:  repo.Incidents{R: s},
		Outbox:     repo.Outbox{R: s},
		Tx:         memTx{s: s},
		Clock:      fixedClock{t: testNow},
	}, DefaultThresholds(), batch, workers)
}

func enabled() featuregate.Static { return featuregate.NewStatic(false, testOrg) }

func TestRunDetectsBrokenEnvironmentOnce(t *testing.T) {
	s := newMemStore()
	envID, incID := seed(t, s, brokenSeed())
	uc := newTestUC(s, 100, 4)

	stats, err := uc.Run(context.Background(), enabled())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Fetched)
	assert.Equal(t, 1, stats.Detected)
	assert.Zero(t, stats.Errors)

	d, ok := s.detectionFor(incID)
	require.True(t, ok)
	assert.Equal(t, testNow, d.DetectionTimestamp)
	assert.Nil(t, d.UserNotifiedAt)

	require.Len(t, s.outbox, 1)
	msg := s.outbox[0]
	assert.Equal(t, outbox.KindBrokenDetected, msg.Kind)
	var ev kafka.BrokenDetected
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, d.ID, ev.DetectionID)
	assert.Equal(t, incID, ev.IncidentID)
	assert.Equal(t, envID, ev.MonitorEnvID)
	assert.Equal(t, testOrg, ev.OrganizationID)

	stats, err = uc.Run(context.Background(), enabled())
	require.NoError(t, err)
	assert.Zero(t, stats.Detected)
	assert.Equal(t, 1, stats.Skipped[VerdictAlreadyDetected])
	assert.Equal(t, 1, s.detectionCount())
	assert.Len(t, s.outbox, 1)
}

func TestRunDurationThreshold(t *testing.T) {
	tests := []struct {
		name string
		age  time.Duration
		want int
	}{
		{"one second short", MinBrokenDuration - time.Second, 0},
		{"exactly twelve days", MinBrokenDuration, 1},
		{"ten days", 10 * 24 * time.Hour, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newMemStore()
			sp := brokenSeed()
			sp.incidentAt = tt.age
			seed(t, s, sp)

			stats, err := newTestUC(s, 100, 1).Run(context.Background(), enabled())
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.detectionCount())
			if tt.want == 0 {
				assert.Equal(t, 1, stats.Skipped[VerdictTooRecent])
			}
		})
	}
}

func TestRunCheckInWindow(t *testing.T) {
	E, OK := checkin.StatusError, checkin.StatusOK
	tests := []struct {
		name     string
		statuses []checkin.Status
		verdict  Verdict
	}{
		{"only two failing", []checkin.Status{E, E}, VerdictInsufficientCheckIns},
		{"three failing", []checkin.Status{E, E, E}, VerdictInsufficientCheckIns},
		{"newest ok", []checkin.Status{OK, E, E, E}, VerdictRecovering},
		{"ok in window", []checkin.Status{E, E, OK, E, E}, VerdictRecovering},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newMemStore()
			sp := brokenSeed()
			sp.statuses = tt.statuses
			seed(t, s, sp)

			stats, err := newTestUC(s, 100, 1).Run(context.Background(), enabled())
			require.NoError(t, err)
			assert.Zero(t, s.detectionCount())
			assert.Equal(t, 1, stats.Skipped[tt.verdict])
		})
	}
}

func TestRunFeatureGate(t *testing.T) {
	s := newMemStore()
	seed(t, s, brokenSeed())
	other := brokenSeed()
	other.org = 2
	_, otherInc := seed(t, s, other)

	stats, err := newTestUC(s, 100, 2).Run(context.Background(), featuregate.NewStatic(false, 2))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Detected)
	assert.Equal(t, 1, stats.Skipped[VerdictFeatureDisabled])
	_, ok := s.detectionFor(otherInc)
	assert.True(t, ok)

	s = newMemStore()
	seed(t, s, brokenSeed())
	stats, err = newTestUC(s, 100, 1).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, s.detectionCount())
	assert.Equal(t, 1, stats.Skipped[VerdictFeatureDisabled])
}

func TestRunGateErrorFailsClosed(t *testing.T) {
	s := newMemStore()
	seed(t, s, brokenSeed())
	seed(t, s, brokenSeed())
	gate := &failingGate{}

	stats, err := newTestUC(s, 100, 1).Run(context.Background(), gate)
	require.NoError(t, err)
	assert.Zero(t, s.detectionCount())
	assert.Zero(t, stats.Errors)
	assert.Equal(t, 2, stats.Skipped[VerdictFeatureDisabled])
	assert.EqualValues(t, 1, gate.calls.Load(), "gate answers are memoized per run")
}

func TestRunSkipsIneligible(t *testing.T) {
	tests := []struct {
		name    string
		monitor monitor.Status
		env     monitor.EnvStatus
	}{
		{"disabled monitor", monitor.StatusDisabled, monitor.EnvStatusError},
		{"pending deletion", monitor.StatusPendingDeletion, monitor.EnvStatusError},
		{"deletion in progress", monitor.StatusDeletionInProgress, monitor.EnvStatusError},
		{"environment ok", monitor.StatusActive, monitor.EnvStatusOK},
		{"environment muted", monitor.StatusActive, monitor.EnvStatusMuted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newMemStore()
			sp := brokenSeed()
			sp.monitor = tt.monitor
			sp.env = tt.env
			seed(t, s, sp)

			stats, err := newTestUC(s, 100, 1).Run(context.Background(), enabled())
			require.NoError(t, err)
			assert.Zero(t, s.detectionCount())
			assert.Equal(t, 1, stats.Skipped[VerdictIneligible])
		})
	}
}

func TestRunWithoutOpenIncident(t *testing.T) {
	s := newMemStore()
	sp := brokenSeed()
	sp.incidentAt = 0
	seed(t, s, sp)

	resolved := brokenSeed()
	_, incID := seed(t, s, resolved)
	at := testNow.Add(-time.Hour)
	require.NoError(t, s.Resolve(context.Background(), &incident.Incident{ID: incID, ResolvingTimestamp: &at}))

	stats, err := newTestUC(s, 100, 1).Run(context.Background(), enabled())
	require.NoError(t, err)
	assert.Zero(t, s.detectionCount())
	assert.Equal(t, 2, stats.Skipped[VerdictNoIncident])
}

func TestRunItemErrorDoesNotAbort(t *testing.T) {
	s := newMemStore()
	badEnv, _ := seed(t, s, brokenSeed())
	_, goodInc := seed(t, s, brokenSeed())
	s.recentErr[badEnv] = errBoom

	stats, err := newTestUC(s, 100, 1).Run(context.Background(), enabled())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, stats.Detected)
	_, ok := s.detectionFor(goodInc)
	assert.True(t, ok)
}

func TestRunListErrorAborts(t *testing.T) {
	s := newMemStore()
	seed(t, s, brokenSeed())
	s.listErr = errBoom

	_, err := newTestUC(s, 100, 1).Run(context.Background(), enabled())
	require.ErrorIs(t, err, errBoom)
	assert.Zero(t, s.detectionCount())
}

func TestRunPagesThroughCandidates(t *testing.T) {
	s := newMemStore()
	for i := 0; i < 5; i++ {
		seed(t, s, brokenSeed())
	}

	stats, err := newTestUC(s, 2, 3).Run(context.Background(), enabled())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Fetched)
	assert.Equal(t, 5, stats.Detected)
	assert.Equal(t, 5, s.detectionCount())
}

func TestConcurrentRunsRecordOnce(t *testing.T) {
	s := newMemStore()
	_, incID := seed(t, s, brokenSeed())
	// every run passes the existence check, only the insert decides
	s.hideDetection = true

	const runs = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		detected int
		already  int
	)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats, err := NewUC(zap.NewNop(), Deps{
				Candidates: repo.Candidates{R: s},
				CheckIns:   repo.CheckIns{R: s},
				Incidents:  repo.Incidents{R: s},
				Clock:      fixedClock{t: testNow},
			}, DefaultThresholds(), 100, 1).Run(context.Background(), enabled())
			assert.NoError(t, err)
			mu.Lock()
			detected += stats.Detected
			already += stats.Skipped[VerdictAlreadyDetected]
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, detected)
	assert.Equal(t, runs-1, already)
	assert.Equal(t, 1, s.detectionCount())
	_, ok := s.detectionFor(incID)
	assert.True(t, ok)
}

func TestRunOutboxFailureRollsBackDetection(t *testing.T) {
	s := newMemStore()
	seed(t, s, brokenSeed())
	s.enqueueErr = errBoom
	uc := newTestUC(s, 100, 1)

	stats, err := uc.Run(context.Background(), enabled())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)
	assert.Zero(t, s.detectionCount())

	s.enqueueErr = nil
	stats, err = uc.Run(context.Background(), enabled())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Detected)
	assert.Len(t, s.outbox, 1)
}

func TestRunWithoutOutbox(t *testing.T) {
	s := newMemStore()
	seed(t, s, brokenSeed())
	uc := NewUC(nil, Deps{
		Candidates: repo.Candidates{R: s},
		CheckIns:   repo.CheckIns{R: s},
		Incidents:  repo.Incidents{R: s},
		Clock:      fixedClock{t: testNow},
	}, Thresholds{}, 0, 0)

	stats, err := uc.Run(context.Background(), enabled())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Detected)
	assert.Empty(t, s.outbox)
}

func TestRunLeavesMonitorStateUntouched(t *testing.T) {
	s := newMemStore()
	envID, incID := seed(t, s, brokenSeed())
	m, err := s.GetByID(context.Background(), s.envs[envID].MonitorID)
	require.NoError(t, err)
	envBefore := *s.envs[envID]
	incBefore := *s.incidents[incID]

	_, err = newTestUC(s, 100, 1).Run(context.Background(), enabled())
	require.NoError(t, err)

	mAfter, err := s.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(m, mAfter); diff != "" {
		t.Errorf("monitor changed (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(envBefore, *s.envs[envID]); diff != "" {
		t.Errorf("environment changed (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(incBefore, *s.incidents[incID]); diff != "" {
		t.Errorf("incident changed (-before +after):\n%s", diff)
	}
}
