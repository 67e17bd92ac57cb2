package monitor

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Status is the lifecycle status of a monitor, set by user configuration.
type Status string

const (
	StatusActive             Status = "ACTIVE"
	StatusDisabled           Status = "DISABLED"
	StatusPendingDeletion    Status = "PENDING_DELETION"
	StatusDeletionInProgress Status = "DELETION_IN_PROGRESS"
)

// EnvStatus is the run status of a monitor in one environment, driven by check-in processing.
type EnvStatus string

const (
	EnvStatusActive        EnvStatus = "ACTIVE"
	EnvStatusOK            EnvStatus = "OK"
	EnvStatusError         EnvStatus = "ERROR"
	EnvStatusMissedCheckIn EnvStatus = "MISSED_CHECKIN"
	EnvStatusTimeout       EnvStatus = "TIMEOUT"
	EnvStatusMuted         EnvStatus = "MUTED"
)

// FailingEnvStatuses are the environment statuses meaning "currently failing".
var FailingEnvStatuses = []EnvStatus{EnvStatusError, EnvStatusMissedCheckIn, EnvStatusTimeout}

func (s EnvStatus) IsFailing() bool {
	for _, f := range FailingEnvStatuses {
		if s == f {
			return true
		}
	}
	return false
}

type ScheduleType string

const (
	ScheduleInterval ScheduleType = "INTERVAL"
	ScheduleCrontab  ScheduleType = "CRONTAB"
)

type ScheduleConfig struct {
	Type                  ScheduleType `json:"schedule_type"`
	Crontab               string       `json:"crontab,omitempty"`
	IntervalValue         int          `json:"interval_value,omitempty"`
	IntervalUnit          string       `json:"interval_unit,omitempty"`
	CheckinMargin         *int         `json:"checkin_margin,omitempty"`
	MaxRuntime            *int         `json:"max_runtime,omitempty"`
	FailureIssueThreshold int          `json:"failure_issue_threshold,omitempty"`
	RecoveryThreshold     int          `json:"recovery_threshold,omitempty"`
	Timezone              string       `json:"timezone,omitempty"`
}

var intervalUnits = map[string]time.Duration{
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
}

// Next returns the expected time of the check-in following last.
func (c ScheduleConfig) Next(last time.Time) (time.Time, error) {
	switch c.Type {
	case ScheduleInterval:
		unit, ok := intervalUnits[c.IntervalUnit]
		if !ok || c.IntervalValue <= 0 {
			return time.Time{}, fmt.Errorf("invalid interval %d %q", c.IntervalValue, c.IntervalUnit)
		}
		return last.Add(time.Duration(c.IntervalValue) * unit), nil
	case ScheduleCrontab:
		sched, err := cron.ParseStandard(c.Crontab)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse crontab %q: %w", c.Crontab, err)
		}
		loc := time.UTC
		if c.Timezone != "" {
			if loc, err = time.LoadLocation(c.Timezone); err != nil {
				return time.Time{}, fmt.Errorf("load timezone: %w", err)
			}
		}
		return sched.Next(last.In(loc)), nil
	default:
		return time.Time{}, fmt.Errorf("unknown schedule type %q", c.Type)
	}
}

type Monitor struct {
	ID             int64          `json:"id"`
	OrganizationID int64          `json:"organization_id"`
	ProjectID      int64          `json:"project_id"`
	Name           string         `json:"name"`
	Slug           string         `json:"slug"`
	Status         Status         `json:"status"`
	Config         ScheduleConfig `json:"config"`
	CreatedAt      time.Time      `json:"created_at"`
}

type Environment struct {
	ID          int64      `json:"id"`
	MonitorID   int64      `json:"monitor_id"`
	Environment string     `json:"environment"`
	Status      EnvStatus  `json:"status"`
	LastCheckin *time.Time `json:"last_checkin"`
	NextCheckin *time.Time `json:"next_checkin"`
	DateAdded   time.Time  `json:"date_added"`
}

// Candidate is a monitor-environment together with the owning monitor.
type Candidate struct {
	Monitor     Monitor
	Environment Environment
}

// CandidateQuery pages through candidates by environment id.
type CandidateQuery struct {
	AfterEnvID int64
	Limit      int
}
