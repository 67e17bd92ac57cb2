package feature

import "context"

// BrokenMonitorDetection gates the broken monitor environment detector.
const BrokenMonitorDetection = "organizations:crons-broken-monitor-detection"

// Gate answers whether a capability is enabled for an organization.
type Gate interface {
	IsEnabled(ctx context.Context, organizationID int64) (bool, error)
}

type Repo interface {
	IsEnabled(ctx context.Context, organizationID int64, flag string) (bool, error)
	Set(ctx context.Context, organizationID int64, flag string, enabled bool) error
}
