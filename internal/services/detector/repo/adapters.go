package repo

import (
	"context"

	"github.com/NordCoder/Cronus/internal/domain/checkin"
	"github.com/NordCoder/Cronus/internal/domain/incident"
	"github.com/NordCoder/Cronus/internal/domain/monitor"
	"github.com/NordCoder/Cronus/internal/domain/outbox"
)

type Candidates struct{ R monitor.Repo }
type CheckIns struct{ R checkin.Repo }
type Incidents struct{ R incident.Repo }
type Outbox struct{ R outbox.Repository }

func (a Candidates) FindFailingActive(ctx context.Context, afterEnvID int64, limit int) ([]monitor.Candidate, error) {
	return a.R.FindFailingActiveMonitorEnvironments(ctx, monitor.CandidateQuery{AfterEnvID: afterEnvID, Limit: limit})
}

func (a CheckIns) Recent(ctx context.Context, monitorEnvironmentID int64, limit int) ([]checkin.CheckIn, error) {
	return a.R.Recent(ctx, monitorEnvironmentID, limit)
}

func (a Incidents) OpenForEnvironment(ctx context.Context, monitorEnvironmentID int64) (*incident.Incident, error) {
	return a.R.OpenForEnvironment(ctx, monitorEnvironmentID)
}

func (a Incidents) HasDetection(ctx context.Context, incidentID int64) (bool, error) {
	return a.R.HasDetection(ctx, incidentID)
}

func (a Incidents) CreateDetection(ctx context.Context, d *incident.BrokenDetection) (bool, error) {
	return a.R.CreateDetection(ctx, d)
}

// Enabled is false for the zero adapter, i.e. when the outbox hand-off is switched off.
func (a Outbox) Enabled() bool { return a.R != nil }

func (a Outbox) Enqueue(ctx context.Context, key string, kind outbox.Kind, data []byte) error {
	return a.R.Enqueue(ctx, key, kind, data)
}
