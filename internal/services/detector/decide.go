package detector

import (
	"time"

	"github.com/NordCoder/Cronus/internal/domain/checkin"
	"github.com/NordCoder/Cronus/internal/domain/incident"
	"github.com/NordCoder/Cronus/internal/domain/monitor"
)

const (
	// MinBrokenDuration is how long an incident must have been open before the
	// environment can be declared broken.
	MinBrokenDuration = 12 * 24 * time.Hour
	// MinConsecutiveFailures is how many of the newest check-ins must all be failures.
	MinConsecutiveFailures = 4
)

// Thresholds are inclusive lower bounds.
type Thresholds struct {
	MinDuration time.Duration
	MinCheckIns int
}

func DefaultThresholds() Thresholds {
	return Thresholds{MinDuration: MinBrokenDuration, MinCheckIns: MinConsecutiveFailures}
}

func (t Thresholds) normalized() Thresholds {
	if t.MinDuration <= 0 {
		t.MinDuration = MinBrokenDuration
	}
	if t.MinCheckIns <= 0 {
		t.MinCheckIns = MinConsecutiveFailures
	}
	return t
}

// Verdict is the outcome of evaluating one monitor environment.
type Verdict string

const (
	VerdictBroken               Verdict = "broken"
	VerdictTooRecent            Verdict = "too_recent"
	VerdictInsufficientCheckIns Verdict = "insufficient_checkins"
	VerdictRecovering           Verdict = "recovering"
	VerdictAlreadyDetected      Verdict = "already_detected"
	VerdictFeatureDisabled      Verdict = "feature_disabled"
	VerdictIneligible           Verdict = "ineligible"
	VerdictNoIncident           Verdict = "no_incident"
)

// Eligible reports whether a candidate may be evaluated at all: the monitor is
// active and the environment is currently failing.
func Eligible(c monitor.Candidate) bool {
	return c.Monitor.Status == monitor.StatusActive && c.Environment.Status.IsFailing()
}

func oldEnough(now time.Time, inc *incident.Incident, th Thresholds) bool {
	return inc.Age(now) >= th.MinDuration
}

// Decide classifies an open incident given the newest check-ins of its
// environment (newest first). Only the first th.MinCheckIns entries are looked at.
func Decide(now time.Time, inc *incident.Incident, recent []checkin.CheckIn, th Thresholds) Verdict {
	th = th.normalized()

	if !oldEnough(now, inc, th) {
		return VerdictTooRecent
	}
	if len(recent) < th.MinCheckIns {
		return VerdictInsufficientCheckIns
	}
	for _, c := range recent[:th.MinCheckIns] {
		if !c.Status.IsFailure() {
			return VerdictRecovering
		}
	}
	return VerdictBroken
}
