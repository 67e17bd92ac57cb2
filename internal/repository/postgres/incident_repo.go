package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/NordCoder/Cronus/internal/domain/incident"
	"github.com/jackc/pgx/v5"
)

var _ incident.Repo = (*IncidentRepoImpl)(nil)

type IncidentRepoImpl struct{ db *DB }

func NewIncidentRepo(db *DB) *IncidentRepoImpl { return &IncidentRepoImpl{db: db} }

const (
	qIncidentInsert = `
INSERT INTO monitor_incidents (monitor_id, monitor_environment_id, starting_checkin_id, starting_timestamp, grouphash)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, date_added;
`
	qIncidentResolve = `
UPDATE monitor_incidents
SET resolving_checkin_id = $2, resolving_timestamp = $3
WHERE id = $1 AND resolving_timestamp IS NULL;
`
	qIncidentOpenForEnv = `
SELECT id, monitor_id, monitor_environment_id, starting_checkin_id, starting_timestamp,
       resolving_checkin_id, resolving_timestamp, grouphash, date_added
FROM monitor_incidents
WHERE monitor_environment_id = $1 AND resolving_timestamp IS NULL
ORDER BY starting_timestamp DESC
LIMIT 1;
`
	qDetectionExists = `
SELECT EXISTS (SELECT 1 FROM monitor_env_broken_detections WHERE monitor_incident_id = $1);
`
	// The unique key on monitor_incident_id is the idempotency guard; a
	// conflicting insert returns no row.
	qDetectionInsert = `
INSERT INTO monitor_env_broken_detections (monitor_incident_id, detection_timestamp)
VALUES ($1, $2)
ON CONFLICT (monitor_incident_id) DO NOTHING
RETURNING id;
`
	qDetectionsList = `
SELECT d.id, d.monitor_incident_id, d.detection_timestamp, d.user_notified_timestamp,
       i.id, i.monitor_id, i.monitor_environment_id, i.starting_checkin_id, i.starting_timestamp,
       i.resolving_checkin_id, i.resolving_timestamp, i.grouphash, i.date_added,
       m.id, m.slug, m.organization_id, e.environment
FROM monitor_env_broken_detections d
JOIN monitor_incidents i ON i.id = d.monitor_incident_id
JOIN monitor_environments e ON e.id = i.monitor_environment_id
JOIN monitors m ON m.id = i.monitor_id
ORDER BY d.detection_timestamp DESC, d.id DESC
LIMIT $1;
`
)

func (r *IncidentRepoImpl) Open(ctx context.Context, inc *incident.Incident) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if inc.GroupHash == "" {
		inc.GroupHash = incident.NewGroupHash()
	}
	eq := r.db.execQueryer(ctx)
	if err := eq.QueryRow(ctx, qIncidentInsert,
		inc.MonitorID,
		inc.MonitorEnvironmentID,
		inc.StartingCheckinID,
		inc.StartingTimestamp,
		inc.GroupHash,
	).Scan(&inc.ID, &inc.DateAdded); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

func (r *IncidentRepoImpl) Resolve(ctx context.Context, inc *incident.Incident) error {
	if inc.ResolvingTimestamp == nil {
		return errors.New("resolve incident: resolving timestamp is required")
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qIncidentResolve, inc.ID, inc.ResolvingCheckinID, *inc.ResolvingTimestamp)
	if err != nil {
		return fmt.Errorf("resolve incident: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *IncidentRepoImpl) OpenForEnvironment(ctx context.Context, monitorEnvironmentID int64) (*incident.Incident, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var inc incident.Incident
	if err := r.db.Pool.QueryRow(ctx, qIncidentOpenForEnv, monitorEnvironmentID).Scan(
		&inc.ID,
		&inc.MonitorID,
		&inc.MonitorEnvironmentID,
		&inc.StartingCheckinID,
		&inc.StartingTimestamp,
		&inc.ResolvingCheckinID,
		&inc.ResolvingTimestamp,
		&inc.GroupHash,
		&inc.DateAdded,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}
	return &inc, nil
}

func (r *IncidentRepoImpl) HasDetection(ctx context.Context, incidentID int64) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var exists bool
	if err := r.db.execQueryer(ctx).QueryRow(ctx, qDetectionExists, incidentID).Scan(&exists); err != nil {
		return false, fmt.Errorf("detection exists: %w", err)
	}
	return exists, nil
}

func (r *IncidentRepoImpl) CreateDetection(ctx context.Context, d *incident.BrokenDetection) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	err := r.db.execQueryer(ctx).QueryRow(ctx, qDetectionInsert, d.MonitorIncidentID, d.DetectionTimestamp).Scan(&d.ID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pgx.ErrNoRows), isUniqueViolation(err):
		return false, nil
	default:
		return false, fmt.Errorf("insert detection: %w", err)
	}
}

func (r *IncidentRepoImpl) ListDetections(ctx context.Context, limit int) ([]incident.DetectionView, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qDetectionsList, limit)
	if err != nil {
		return nil, fmt.Errorf("query detections: %w", err)
	}
	defer rows.Close()

	out := make([]incident.DetectionView, 0, limit)
	for rows.Next() {
		var (
			v   incident.DetectionView
			d   = &v.Detection
			inc = &v.Incident
		)
		if err := rows.Scan(
			&d.ID, &d.MonitorIncidentID, &d.DetectionTimestamp, &d.UserNotifiedAt,
			&inc.ID, &inc.MonitorID, &inc.MonitorEnvironmentID, &inc.StartingCheckinID, &inc.StartingTimestamp,
			&inc.ResolvingCheckinID, &inc.ResolvingTimestamp, &inc.GroupHash, &inc.DateAdded,
			&v.MonitorID, &v.MonitorSlug, &v.OrganizationID, &v.Environment,
		); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
