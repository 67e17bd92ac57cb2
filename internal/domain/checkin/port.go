package checkin

import "context"

type Repo interface {
	Insert(ctx context.Context, c *CheckIn) error
	// Recent returns at most limit check-ins of the environment, newest first.
	Recent(ctx context.Context, monitorEnvironmentID int64, limit int) ([]CheckIn, error)
}
