package incident

import "context"

type Repo interface {
	// Open starts a new incident. Fails with domain.ErrConflict if the
	// environment already has an open one.
	Open(ctx context.Context, inc *Incident) error
	Resolve(ctx context.Context, inc *Incident) error
	OpenForEnvironment(ctx context.Context, monitorEnvironmentID int64) (*Incident, error)

	HasDetection(ctx context.Context, incidentID int64) (bool, error)
	// CreateDetection reports created=false when a detection already references the incident.
	CreateDetection(ctx context.Context, d *BrokenDetection) (created bool, err error)
	ListDetections(ctx context.Context, limit int) ([]DetectionView, error)
}

// DetectionView is a detection joined with its incident and monitor, for listings.
type DetectionView struct {
	Detection      BrokenDetection
	Incident       Incident
	MonitorID      int64
	MonitorSlug    string
	OrganizationID int64
	Environment    string
}
