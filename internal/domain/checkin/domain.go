package checkin

import "time"

type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusOK         Status = "OK"
	StatusError      Status = "ERROR"
	StatusMissed     Status = "MISSED"
	StatusTimeout    Status = "TIMEOUT"
	StatusUnknown    Status = "UNKNOWN"
)

// IsFailure reports whether a check-in with this status counts towards a failing streak.
func (s Status) IsFailure() bool {
	switch s {
	case StatusError, StatusMissed, StatusTimeout:
		return true
	}
	return false
}

type CheckIn struct {
	ID                   int64     `json:"id"`
	MonitorID            int64     `json:"monitor_id"`
	MonitorEnvironmentID int64     `json:"monitor_environment_id"`
	ProjectID            int64     `json:"project_id"`
	Status               Status    `json:"status"`
	DateAdded            time.Time `json:"date_added"`
	Duration             *int64    `json:"duration"` // ms
}
