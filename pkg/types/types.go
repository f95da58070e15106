// Package types contains public API types for the retrofit ledger engine.
// These types form the external interface and must remain backwards-compatible.
package types

import "time"

// VerificationRequest describes one retrofit verification to submit on-chain.
type VerificationRequest struct {
	RetrofitID   string   `json:"retrofitId"`
	PropertyRef  string   `json:"propertyRef"`
	EnergyRef    string   `json:"energyRef"`
	RatingBefore uint8    `json:"ratingBefore"`
	RatingAfter  uint8    `json:"ratingAfter"`
	WorkTypes    []string `json:"workTypes,omitempty"`
}

// BatchStatus represents the terminal state of one submitted chunk.
type BatchStatus string

const (
	// BatchConfirmed means the chunk transaction was mined with a success receipt.
	BatchConfirmed BatchStatus = "confirmed"
	// BatchFailed means the chunk was rejected before or during mining.
	BatchFailed BatchStatus = "failed"
	// BatchIndeterminate means the transaction was broadcast but no receipt
	// arrived within the confirmation window. The chain state is unknown and
	// must be re-queried before retrying any of the chunk's records.
	BatchIndeterminate BatchStatus = "indeterminate"
)

// BatchResult records the outcome of one submitted chunk.
type BatchResult struct {
	BatchIndex        int         `json:"batchIndex"`
	Size              int         `json:"size"`
	TxHash            string      `json:"txHash,omitempty"`
	BlockNumber       uint64      `json:"blockNumber,omitempty"`
	GasUsed           uint64      `json:"gasUsed,omitempty"`
	EffectiveGasPrice uint64      `json:"effectiveGasPrice,omitempty"`
	Status            BatchStatus `json:"status"`
	Error             string      `json:"error,omitempty"`
}

// BatchRunResult is the aggregate outcome of one submission run.
// Batches holds one entry per attempted chunk, in submission order.
// Chunks after the first failure are never attempted and have no entry.
type BatchRunResult struct {
	RunID        string        `json:"runId"`
	Total        int           `json:"total"`
	Batches      []BatchResult `json:"batches"`
	Success      bool          `json:"success"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
}

// Confirmed returns the number of records that landed in confirmed chunks.
func (r *BatchRunResult) Confirmed() int {
	n := 0
	for _, b := range r.Batches {
		if b.Status == BatchConfirmed {
			n += b.Size
		}
	}
	return n
}

// GasReport summarizes gas consumption over a trailing block window.
type GasReport struct {
	Days           int       `json:"days"`
	FromBlock      uint64    `json:"fromBlock"`
	ToBlock        uint64    `json:"toBlock"`
	TotalTx        uint64    `json:"totalTx"`
	SkippedTx      uint64    `json:"skippedTx,omitempty"`
	TotalGas       uint64    `json:"totalGas"`
	TotalCostWei   string    `json:"totalCostWei"`
	AvgGas         uint64    `json:"avgGas"`
	AvgCostWei     string    `json:"avgCostWei"`
	RecordsWritten uint64    `json:"recordsWritten"`
	GeneratedAt    time.Time `json:"generatedAt"`
}

// AlertDirection indicates which way a gas price moved.
type AlertDirection string

const (
	AlertUp   AlertDirection = "up"
	AlertDown AlertDirection = "down"
)

// PriceAlert is emitted when the observed gas price moves past the
// configured threshold between two monitor samples.
type PriceAlert struct {
	PreviousWei uint64         `json:"previousWei"`
	CurrentWei  uint64         `json:"currentWei"`
	ChangePct   uint64         `json:"changePct"`
	Direction   AlertDirection `json:"direction"`
	ObservedAt  time.Time      `json:"observedAt"`
}

// RunStatus represents the lifecycle state of a persisted submission run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)
