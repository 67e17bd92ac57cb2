package postgres

import (
	"context"
	"fmt"

	"github.com/NordCoder/Cronus/internal/domain/checkin"
)

var _ checkin.Repo = (*CheckInRepoImpl)(nil)

type CheckInRepoImpl struct{ db *DB }

func NewCheckInRepo(db *DB) *CheckInRepoImpl { return &CheckInRepoImpl{db: db} }

const (
	qCheckInInsert = `
INSERT INTO monitor_checkins (monitor_id, monitor_environment_id, project_id, status, date_added, duration_ms)
VALUES ($1, $2, $3, $4, COALESCE($5, now()), $6)
RETURNING id, date_added;
`
	qCheckInsRecent = `
SELECT id, monitor_id, monitor_environment_id, project_id, status, date_added, duration_ms
FROM monitor_checkins
WHERE monitor_environment_id = $1
ORDER BY date_added DESC, id DESC
LIMIT $2;
`
)

func (r *CheckInRepoImpl) Insert(ctx context.Context, c *checkin.CheckIn) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	if err := eq.QueryRow(ctx, qCheckInInsert,
		c.MonitorID,
		c.MonitorEnvironmentID,
		c.ProjectID,
		c.Status,
		nullTime(c.DateAdded),
		c.Duration,
	).Scan(&c.ID, &c.DateAdded); err != nil {
		return fmt.Errorf("insert checkin: %w", err)
	}
	return nil
}

func (r *CheckInRepoImpl) Recent(ctx context.Context, monitorEnvironmentID int64, limit int) ([]checkin.CheckIn, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qCheckInsRecent, monitorEnvironmentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query checkins: %w", err)
	}
	defer rows.Close()

	out := make([]checkin.CheckIn, 0, limit)
	for rows.Next() {
		var c checkin.CheckIn
		if err := rows.Scan(&c.ID, &c.MonitorID, &c.MonitorEnvironmentID, &c.ProjectID, &c.Status, &c.DateAdded, &c.Duration); err != nil {
			return nil, fmt.Errorf("scan checkin: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
