package detector

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NordCoder/Cronus/internal/domain"
	"github.com/NordCoder/Cronus/internal/domain/checkin"
	"github.com/NordCoder/Cronus/internal/domain/incident"
	"github.com/NordCoder/Cronus/internal/domain/monitor"
	"github.com/NordCoder/Cronus/internal/domain/outbox"
)

var errBoom = errors.New("boom")

// memStore backs every repository the detector reads from. Candidate listing
// returns every environment, so the in-process eligibility checks do the filtering.
type memStore struct {
	mu sync.Mutex

	nextID     int64
	monitors   map[int64]*monitor.Monitor
	envs       map[int64]*monitor.Environment
	checkins   []checkin.CheckIn
	incidents  map[int64]*incident.Incident
	detections map[int64]incident.BrokenDetection // by incident id
	outbox     []outbox.Message

	listErr       error
	recentErr     map[int64]error
	hideDetection bool
	enqueueErr    error
}

func newMemStore() *memStore {
	return &memStore{
		monitors:   map[int64]*monitor.Monitor{},
		envs:       map[int64]*monitor.Environment{},
		incidents:  map[int64]*incident.Incident{},
		detections: map[int64]incident.BrokenDetection{},
		recentErr:  map[int64]error{},
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) Create(_ context.Context, m *monitor.Monitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.id()
	cp := *m
	s.monitors[m.ID] = &cp
	return nil
}

func (s *memStore) GetByID(_ context.Context, id int64) (*monitor.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) UpdateStatus(_ context.Context, id int64, status monitor.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[id]
	if !ok {
		return domain.ErrNotFound
	}
	m.Status = status
	return nil
}

func (s *memStore) CreateEnvironment(_ context.Context, env *monitor.Environment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	env.ID = s.id()
	cp := *env
	s.envs[env.ID] = &cp
	return nil
}

func (s *memStore) FindFailingActiveMonitorEnvironments(_ context.Context, q monitor.CandidateQuery) ([]monitor.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	ids := make([]int64, 0, len(s.envs))
	for id := range s.envs {
		if id > q.AfterEnvID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > q.Limit {
		ids = ids[:q.Limit]
	}
	out := make([]monitor.Candidate, 0, len(ids))
	for _, id := range ids {
		env := s.envs[id]
		out = append(out, monitor.Candidate{Monitor: *s.monitors[env.MonitorID], Environment: *env})
	}
	return out, nil
}

func (s *memStore) Insert(_ context.Context, c *checkin.CheckIn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.id()
	s.checkins = append(s.checkins, *c)
	return nil
}

func (s *memStore) Recent(_ context.Context, envID int64, limit int) ([]checkin.CheckIn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.recentErr[envID]; err != nil {
		return nil, err
	}
	var out []checkin.CheckIn
	for _, c := range s.checkins {
		if c.MonitorEnvironmentID == envID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DateAdded.Equal(out[j].DateAdded) {
			return out[i].ID > out[j].ID
		}
		return out[i].DateAdded.After(out[j].DateAdded)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) Open(_ context.Context, inc *incident.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.incidents {
		if o.MonitorEnvironmentID == inc.MonitorEnvironmentID && o.Open() {
			return domain.ErrConflict
		}
	}
	inc.ID = s.id()
	cp := *inc
	s.incidents[inc.ID] = &cp
	return nil
}

func (s *memStore) Resolve(_ context.Context, inc *incident.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.incidents[inc.ID]
	if !ok {
		return domain.ErrNotFound
	}
	o.ResolvingCheckinID = inc.ResolvingCheckinID
	o.ResolvingTimestamp = inc.ResolvingTimestamp
	return nil
}

func (s *memStore) OpenForEnvironment(_ context.Context, envID int64) (*incident.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.incidents {
		if o.MonitorEnvironmentID == envID && o.Open() {
			cp := *o
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) HasDetection(_ context.Context, incidentID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hideDetection {
		return false, nil
	}
	_, ok := s.detections[incidentID]
	return ok, nil
}

func (s *memStore) CreateDetection(_ context.Context, d *incident.BrokenDetection) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.detections[d.MonitorIncidentID]; ok {
		return false, nil
	}
	d.ID = s.id()
	s.detections[d.MonitorIncidentID] = *d
	return true, nil
}

func (s *memStore) ListDetections(_ context.Context, limit int) ([]incident.DetectionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []incident.DetectionView
	for incID, d := range s.detections {
		inc := s.incidents[incID]
		env := s.envs[inc.MonitorEnvironmentID]
		m := s.monitors[inc.MonitorID]
		out = append(out, incident.DetectionView{
			Detection:      d,
			Incident:       *inc,
			MonitorID:      m.ID,
			MonitorSlug:    m.Slug,
			OrganizationID: m.OrganizationID,
			Environment:    env.Environment,
		})
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) Enqueue(_ context.Context, key string, kind outbox.Kind, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enqueueErr != nil {
		return s.enqueueErr
	}
	s.outbox = append(s.outbox, outbox.Message{IdempotencyKey: key, Kind: kind, Data: data, Status: outbox.StatusCreated})
	return nil
}

func (s *memStore) PickBatch(context.Context, int, time.Duration) ([]outbox.Message, error) {
	return nil, nil
}

func (s *memStore) MarkSuccess(context.Context, []string) error { return nil }

func (s *memStore) detectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.detections)
}

func (s *memStore) detectionFor(incidentID int64) (incident.BrokenDetection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.detections[incidentID]
	return d, ok
}

// memTx rolls back detections and outbox rows written by a failed fn. Only
// correct with a single worker.
type memTx struct{ s *memStore }

func (t memTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.s.mu.Lock()
	dets := make(map[int64]incident.BrokenDetection, len(t.s.detections))
	for k, v := range t.s.detections {
		dets[k] = v
	}
	box := append([]outbox.Message(nil), t.s.outbox...)
	t.s.mu.Unlock()

	if err := fn(ctx); err != nil {
		t.s.mu.Lock()
		t.s.detections = dets
		t.s.outbox = box
		t.s.mu.Unlock()
		return err
	}
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// failingGate errors for every organization.
type failingGate struct{ calls atomic.Int64 }

func (g *failingGate) IsEnabled(context.Context, int64) (bool, error) {
	g.calls.Add(1)
	return false, errBoom
}
