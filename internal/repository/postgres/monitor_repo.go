package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/NordCoder/Cronus/internal/domain/monitor"
	"github.com/jackc/pgx/v5"
)

var _ monitor.Repo = (*MonitorRepoImpl)(nil)

type MonitorRepoImpl struct {
	db *DB
}

func NewMonitorRepo(db *DB) *MonitorRepoImpl { return &MonitorRepoImpl{db: db} }

const (
	qMonitorInsert = `
INSERT INTO monitors (organization_id, project_id, name, slug, status, config)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at;
`

	qMonitorByID = `
SELECT id, organization_id, project_id, name, slug, status, config, created_at
FROM monitors
WHERE id = $1;
`

	qMonitorSetStatus = `UPDATE monitors SET status = $2 WHERE id = $1;`

	qEnvInsert = `
INSERT INTO monitor_environments (monitor_id, environment, status, last_checkin, next_checkin)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, date_added;
`

	// Environments of active monitors that are failing and have an open incident.
	qFailingActiveEnvs = `
SELECT m.id, m.organization_id, m.project_id, m.name, m.slug, m.status, m.config, m.created_at,
       e.id, e.monitor_id, e.environment, e.status, e.last_checkin, e.next_checkin, e.date_added
FROM monitor_environments e
JOIN monitors m ON m.id = e.monitor_id
WHERE m.status = 'ACTIVE'
  AND e.status = ANY($1)
  AND e.id > $2
  AND EXISTS (
      SELECT 1 FROM monitor_incidents i
      WHERE i.monitor_environment_id = e.id AND i.resolving_timestamp IS NULL
  )
ORDER BY e.id
LIMIT $3;
`
)

func scanMonitor(row pgx.Row, m *monitor.Monitor) error {
	if err := row.Scan(
		&m.ID,
		&m.OrganizationID,
		&m.ProjectID,
		&m.Name,
		&m.Slug,
		&m.Status,
		&m.Config,
		&m.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan monitor: %w", err)
	}
	return nil
}

func (r *MonitorRepoImpl) Create(ctx context.Context, m *monitor.Monitor) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if m.Status == "" {
		m.Status = monitor.StatusActive
	}
	eq := r.db.execQueryer(ctx)
	if err := eq.QueryRow(ctx, qMonitorInsert,
		m.OrganizationID, m.ProjectID, m.Name, m.Slug, m.Status, m.Config,
	).Scan(&m.ID, &m.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert monitor: %w", err)
	}
	return nil
}

func (r *MonitorRepoImpl) GetByID(ctx context.Context, id int64) (*monitor.Monitor, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var m monitor.Monitor
	if err := scanMonitor(r.db.Pool.QueryRow(ctx, qMonitorByID, id), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MonitorRepoImpl) UpdateStatus(ctx context.Context, id int64, status monitor.Status) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qMonitorSetStatus, id, status)
	if err != nil {
		return fmt.Errorf("update monitor status: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MonitorRepoImpl) CreateEnvironment(ctx context.Context, env *monitor.Environment) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if env.Status == "" {
		env.Status = monitor.EnvStatusActive
	}
	eq := r.db.execQueryer(ctx)
	if err := eq.QueryRow(ctx, qEnvInsert,
		env.MonitorID, env.Environment, env.Status, env.LastCheckin, env.NextCheckin,
	).Scan(&env.ID, &env.DateAdded); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert monitor environment: %w", err)
	}
	return nil
}

func (r *MonitorRepoImpl) FindFailingActiveMonitorEnvironments(ctx context.Context, q monitor.CandidateQuery) ([]monitor.Candidate, error) {
	if q.Limit <= 0 {
		q.Limit = 1000
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	statuses := make([]string, 0, len(monitor.FailingEnvStatuses))
	for _, s := range monitor.FailingEnvStatuses {
		statuses = append(statuses, string(s))
	}

	rows, err := r.db.Pool.Query(ctx, qFailingActiveEnvs, statuses, q.AfterEnvID, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("query failing environments: %w", err)
	}
	defer rows.Close()

	out := make([]monitor.Candidate, 0, q.Limit)
	for rows.Next() {
		var (
			c monitor.Candidate
			m = &c.Monitor
			e = &c.Environment
		)
		if err := rows.Scan(
			&m.ID, &m.OrganizationID, &m.ProjectID, &m.Name, &m.Slug, &m.Status, &m.Config, &m.CreatedAt,
			&e.ID, &e.MonitorID, &e.Environment, &e.Status, &e.LastCheckin, &e.NextCheckin, &e.DateAdded,
		); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
