package ledger

import "github.com/ethereum/go-ethereum/common"

// RetrofitVerifiedEvent is emitted once per successful single-record write.
type RetrofitVerifiedEvent struct {
	RetrofitID string
	Verifier   common.Address
	Timestamp  uint64
}

// BatchVerificationEvent summarizes one successful batch write. Batches
// emit a single summary event instead of one event per record to bound
// log volume.
type BatchVerificationEvent struct {
	Count     uint64
	Verifier  common.Address
	Timestamp uint64
}

// Sink receives events emitted by successful ledger writes. Calls are
// made synchronously while the write lock is held, so implementations
// must not call back into the ledger.
type Sink interface {
	RetrofitVerified(ev RetrofitVerifiedEvent)
	BatchVerification(ev BatchVerificationEvent)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) RetrofitVerified(RetrofitVerifiedEvent)   {}
func (NopSink) BatchVerification(BatchVerificationEvent) {}
