// internal/domain/notification/repository.go
package notification

import "context"

// Repository stores run summaries for operators.
type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	ListRecentRuns(ctx context.Context, limit int) ([]*Run, error)
}
