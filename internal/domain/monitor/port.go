package monitor

import "context"

type Repo interface {
	Create(ctx context.Context, m *Monitor) error
	GetByID(ctx context.Context, id int64) (*Monitor, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	CreateEnvironment(ctx context.Context, env *Environment) error
	FindFailingActiveMonitorEnvironments(ctx context.Context, q CandidateQuery) ([]Candidate, error)
}
