package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrConfirmationTimeout marks an indeterminate outcome: the transaction
// was broadcast but no receipt arrived inside the wait window. The chain
// may still mine it, so callers must re-query ledger state instead of
// blindly retrying.
var ErrConfirmationTimeout = errors.New("confirmation timed out")

// Default polling cadence for receipt checks.
const (
	DefaultPollInterval    = 500 * time.Millisecond
	DefaultMaxPollInterval = 5 * time.Second
)

// WaiterConfig configures a ConfirmationWaiter.
type WaiterConfig struct {
	Backend Backend

	// Heads, when set, wakes the waiter on new-head pushes so receipts
	// are re-checked as soon as a block lands instead of on the next
	// poll tick. Polling continues regardless as a fallback.
	Heads *HeadWatcher

	PollInterval    time.Duration
	MaxPollInterval time.Duration
	Logger          *slog.Logger
}

// ConfirmationWaiter awaits transaction receipts with capped backoff.
type ConfirmationWaiter struct {
	backend         Backend
	heads           *HeadWatcher
	pollInterval    time.Duration
	maxPollInterval time.Duration
	logger          *slog.Logger
}

// NewConfirmationWaiter creates a waiter over cfg.Backend.
func NewConfirmationWaiter(cfg WaiterConfig) *ConfirmationWaiter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxPollInterval <= 0 {
		cfg.MaxPollInterval = DefaultMaxPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfirmationWaiter{
		backend:         cfg.Backend,
		heads:           cfg.Heads,
		pollInterval:    cfg.PollInterval,
		maxPollInterval: cfg.MaxPollInterval,
		logger:          logger,
	}
}

// Wait blocks until txHash has a receipt, the timeout elapses, or ctx is
// cancelled. A timeout returns ErrConfirmationTimeout; transient receipt
// query errors are logged and retried until the window closes.
func (w *ConfirmationWaiter) Wait(ctx context.Context, txHash common.Hash, timeout time.Duration) (*Receipt, error) {
	deadline := time.Now().Add(timeout)
	backoff := w.pollInterval

	var wake <-chan struct{}
	if w.heads != nil {
		ch, cancel := w.heads.Subscribe()
		defer cancel()
		wake = ch
	}

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("no receipt for %s after %s: %w", txHash.Hex(), timeout, ErrConfirmationTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
			// New head landed, re-check immediately.
		case <-time.After(min(backoff, remaining)):
			backoff = min(backoff*2, w.maxPollInterval)
		}

		receipt, err := w.backend.TransactionReceipt(ctx, txHash)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			w.logger.Debug("receipt query failed, retrying",
				slog.String("txHash", txHash.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if receipt != nil {
			return receipt, nil
		}
	}
}
