package storage

import (
	"time"

	"github.com/verdigrid/retroledger/pkg/types"
)

// Run is a persisted submission run with its per-batch outcomes.
// JSON tags use camelCase to match the public API types.
type Run struct {
	ID           string              `json:"id"`
	StartedAt    time.Time           `json:"startedAt"`
	FinishedAt   time.Time           `json:"finishedAt"`
	Total        int                 `json:"total"`
	Confirmed    int                 `json:"confirmed"`
	Success      bool                `json:"success"`
	Status       types.RunStatus     `json:"status"`
	ErrorMessage string              `json:"errorMessage,omitempty"`
	Batches      []types.BatchResult `json:"batches,omitempty"`
}

// PaginatedRuns is a page of runs, newest first. Batches are loaded
// through GetRun, not here.
type PaginatedRuns struct {
	Runs   []Run `json:"runs"`
	Total  int   `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// PaginatedAlerts is a page of volatility alerts, newest first.
type PaginatedAlerts struct {
	Alerts []types.PriceAlert `json:"alerts"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}
