package commitment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists commitments. Period evaluation runs under the
// optimistic concurrency check so two schedulers cannot close the same
// period twice.
type Repository interface {
	Save(ctx context.Context, c *UsageCommitment) error
	SaveWithVersion(ctx context.Context, c *UsageCommitment) error
	FindByID(ctx context.Context, id uuid.UUID) (*UsageCommitment, error)
	FindActiveByClient(ctx context.Context, tenantID, clientID uuid.UUID) ([]*UsageCommitment, error)

	// FindDueForEvaluation retrieves commitments whose evaluation date has
	// passed, for the period-close scheduler
	FindDueForEvaluation(ctx context.Context, asOf time.Time, limit int) ([]*UsageCommitment, error)
}
