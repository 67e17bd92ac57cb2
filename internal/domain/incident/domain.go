package incident

import (
	"crypto/md5"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

type Incident struct {
	ID                   int64      `json:"id"`
	MonitorID            int64      `json:"monitor_id"`
	MonitorEnvironmentID int64      `json:"monitor_environment_id"`
	StartingCheckinID    *int64     `json:"starting_checkin_id"`
	StartingTimestamp    time.Time  `json:"starting_timestamp"`
	ResolvingCheckinID   *int64     `json:"resolving_checkin_id"`
	ResolvingTimestamp   *time.Time `json:"resolving_timestamp"`
	GroupHash            string     `json:"grouphash"`
	DateAdded            time.Time  `json:"date_added"`
}

func (i *Incident) Open() bool { return i.ResolvingTimestamp == nil }

// Age is how long the incident has been failing as of now.
func (i *Incident) Age(now time.Time) time.Duration { return now.Sub(i.StartingTimestamp) }

type BrokenDetection struct {
	ID                 int64      `json:"id"`
	MonitorIncidentID  int64      `json:"monitor_incident_id"`
	DetectionTimestamp time.Time  `json:"detection_timestamp"`
	UserNotifiedAt     *time.Time `json:"user_notified_timestamp"`
}

// NewGroupHash returns a fresh grouphash identifying an incident for aggregation.
func NewGroupHash() string {
	return HashFromValues(uuid.NewString())
}

// HashFromValues is the hex md5 of the concatenated values.
func HashFromValues(values ...string) string {
	h := md5.New()
	for _, v := range values {
		h.Write([]byte(v))
	}
	return hex.EncodeToString(h.Sum(nil))
}
