// Package store persists runs, reports, imported tariff rates, and the dead
// letter queue. Two backends implement the same interface: SQLite for the
// single-binary default and Postgres for shared deployments.
package store

import (
	"context"
	"time"

	"github.com/freightwise/logistics-cli/internal/model"
	"github.com/freightwise/logistics-cli/internal/resilience"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	State     model.RunState `json:"state,omitempty"`
	InquiryID string         `json:"inquiry_id,omitempty"`
	Limit     int            `json:"limit,omitempty"`
	Offset    int            `json:"offset,omitempty"`
}

// Store defines the persistence interface for the orchestrator.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	UpdateRunState(ctx context.Context, runID string, state model.RunState) error
	CompleteRun(ctx context.Context, runID string, report *model.Report) error
	FailRun(ctx context.Context, runID string, reason string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Imported tariff rates
	ImportTariffRates(ctx context.Context, route string, rates []model.TariffRate) (int, error)
	GetTariffRates(ctx context.Context, route string) ([]model.TariffRate, error)

	// Dead letter queue
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
