// Package metrics records submission, pricing and alerting telemetry.
// The Prometheus recorder feeds the ops endpoint in cmd/retroledger;
// NopRecorder keeps metrics optional for library use and tests.
package metrics

import "time"

// Batch status label values.
const (
	StatusConfirmed     = "confirmed"
	StatusFailed        = "failed"
	StatusIndeterminate = "indeterminate"
)

// Recorder receives domain telemetry from the estimator, the
// submitter and the volatility monitor.
type Recorder interface {
	// ObserveGasPrice records a fresh price sample and the source it
	// came from (oracle, node or default).
	ObserveGasPrice(priceWei uint64, source string)

	// RecordBatch records one finished batch by status label.
	RecordBatch(status string, size int, gasUsed uint64)

	// ObserveConfirmation records how long one batch took to confirm.
	ObserveConfirmation(d time.Duration)

	// RecordRun records one finished submission run.
	RecordRun(success bool, batches int)

	// RecordAlert records one volatility alert by direction.
	RecordAlert(direction string)
}

// NopRecorder discards all telemetry.
type NopRecorder struct{}

func (NopRecorder) ObserveGasPrice(uint64, string)    {}
func (NopRecorder) RecordBatch(string, int, uint64)   {}
func (NopRecorder) ObserveConfirmation(time.Duration) {}
func (NopRecorder) RecordRun(bool, int)               {}
func (NopRecorder) RecordAlert(string)                {}
