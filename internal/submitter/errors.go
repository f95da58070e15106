package submitter

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ValidationError reports a malformed request. The run is rejected
// before any network call and no state changes anywhere.
type ValidationError struct {
	Index      int
	RetrofitID string
	Err        error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("request %d (%s): %v", e.Index, e.RetrofitID, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// EstimationError reports that the gas budget for a chunk could not be
// computed. Nothing was broadcast for the chunk and the run aborts.
// When the node rejected the estimate with a ledger revert, Err wraps
// the matching ledger sentinel.
type EstimationError struct {
	BatchIndex int
	Err        error
}

func (e *EstimationError) Error() string {
	return fmt.Sprintf("estimate batch %d: %v", e.BatchIndex, e.Err)
}

func (e *EstimationError) Unwrap() error { return e.Err }

// SubmissionError reports a chunk write the node or ledger rejected,
// either at broadcast or by mining it with a failed receipt. The run
// aborts; later chunks are never attempted.
type SubmissionError struct {
	BatchIndex int
	TxHash     common.Hash
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.TxHash == (common.Hash{}) {
		return fmt.Sprintf("submit batch %d: %v", e.BatchIndex, e.Err)
	}
	return fmt.Sprintf("submit batch %d (tx %s): %v", e.BatchIndex, e.TxHash.Hex(), e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ConfirmationTimeoutError reports an indeterminate chunk: the
// transaction was broadcast but no receipt arrived inside the
// confirmation window. The write may still land, so callers must
// re-query ledger state (FilterSubmitted) instead of blindly
// resubmitting.
type ConfirmationTimeoutError struct {
	BatchIndex int
	TxHash     common.Hash
	Err        error
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("batch %d (tx %s) unconfirmed: %v", e.BatchIndex, e.TxHash.Hex(), e.Err)
}

func (e *ConfirmationTimeoutError) Unwrap() error { return e.Err }
