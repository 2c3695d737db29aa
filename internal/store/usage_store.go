package store

import (
	"context"

	"github.com/tslm9/logostamp/internal/domain"
)

// UsageStore persists per-batch accounting records. Sessions themselves are
// transient; batch logs are the only durable output of the service.
type UsageStore interface {
	CreateBatchLog(ctx context.Context, entry domain.BatchLog) error
}
