package kafka

import (
	"context"
	"time"
)

type BrokenDetected struct {
	DetectionID        int64     `json:"detection_id"`
	IncidentID         int64     `json:"incident_id"`
	MonitorID          int64     `json:"monitor_id"`
	MonitorEnvID       int64     `json:"monitor_environment_id"`
	OrganizationID     int64     `json:"organization_id"`
	ProjectID          int64     `json:"project_id"`
	IncidentStartedAt  time.Time `json:"incident_started_at"`
	DetectionTimestamp time.Time `json:"detection_timestamp"`
}

type MonitorEvents interface {
	PublishBrokenDetected(ctx context.Context, ev BrokenDetected) error
}
