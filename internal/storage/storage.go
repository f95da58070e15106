// Package storage persists submission runs, price alerts and gas
// reports for post-hoc auditing. The engine runs without it; every
// consumer takes its slice of this interface through an optional field.
package storage

import (
	"context"
	"time"

	"github.com/verdigrid/retroledger/pkg/types"
)

// Storage is the persistence surface for engine history.
type Storage interface {
	// SaveRun persists a finished submission run with its per-batch
	// outcomes. Satisfies submitter.RunStore.
	SaveRun(ctx context.Context, run *types.BatchRunResult, startedAt, finishedAt time.Time) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) (*PaginatedRuns, error)

	// SaveAlert persists a volatility alert. Satisfies monitor.AlertSink.
	SaveAlert(ctx context.Context, alert *types.PriceAlert) error
	ListAlerts(ctx context.Context, limit, offset int) (*PaginatedAlerts, error)

	// SaveReport archives a generated gas report. Satisfies
	// analytics.ReportStore.
	SaveReport(ctx context.Context, report *types.GasReport) error
	ListReports(ctx context.Context, limit int) ([]types.GasReport, error)

	Close() error
}
