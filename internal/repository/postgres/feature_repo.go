package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/NordCoder/Cronus/internal/domain/feature"
	"github.com/jackc/pgx/v5"
)

var _ feature.Repo = (*FeatureRepoImpl)(nil)

type FeatureRepoImpl struct{ db *DB }

func NewFeatureRepo(db *DB) *FeatureRepoImpl { return &FeatureRepoImpl{db: db} }

const (
	qFeatureGet = `
SELECT enabled FROM organization_features
WHERE organization_id = $1 AND feature = $2;
`
	qFeatureUpsert = `
INSERT INTO organization_features (organization_id, feature, enabled)
VALUES ($1, $2, $3)
ON CONFLICT (organization_id, feature) DO UPDATE
SET enabled = excluded.enabled, updated_at = now();
`
)

// IsEnabled treats an organization without a row as disabled.
func (r *FeatureRepoImpl) IsEnabled(ctx context.Context, organizationID int64, flag string) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var enabled bool
	if err := r.db.Pool.QueryRow(ctx, qFeatureGet, organizationID, flag).Scan(&enabled); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("feature lookup: %w", err)
	}
	return enabled, nil
}

func (r *FeatureRepoImpl) Set(ctx context.Context, organizationID int64, flag string, enabled bool) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.execQueryer(ctx).Exec(ctx, qFeatureUpsert, organizationID, flag, enabled); err != nil {
		return fmt.Errorf("feature upsert: %w", err)
	}
	return nil
}
