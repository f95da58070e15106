// Package submitter turns lists of verification requests into ordered
// on-ledger batch writes. Chunks are submitted strictly sequentially:
// chunk n+1 is only built after chunk n's receipt is recorded, because
// same-account writes are ordered by nonce and concurrent submission
// would race on it. A run fails fast on the first chunk error but the
// partial per-batch results are always returned.
package submitter

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/verdigrid/retroledger/internal/account"
	"github.com/verdigrid/retroledger/internal/chain"
	"github.com/verdigrid/retroledger/internal/ledger"
	"github.com/verdigrid/retroledger/internal/metrics"
	"github.com/verdigrid/retroledger/internal/registry"
	"github.com/verdigrid/retroledger/pkg/types"
)

const (
	// DefaultBatchSize is the operational chunk size. It is a tuning
	// knob, distinct from the ledger's hard cap of
	// ledger.MaxBatchRecords per call.
	DefaultBatchSize = 10

	// DefaultGasMarginPct is the safety margin added to raw gas
	// estimates. Under-provisioned calls revert and still burn fee up
	// to the limit, so the margin errs high.
	DefaultGasMarginPct = 20

	// DefaultConfirmTimeout bounds the per-chunk receipt wait.
	DefaultConfirmTimeout = 60 * time.Second
)

// PriceSource supplies the buffered gas price for a chunk.
// gasprice.Estimator satisfies it.
type PriceSource interface {
	EstimatePrice(ctx context.Context) uint64
}

// Confirmer awaits a transaction receipt. chain.ConfirmationWaiter
// satisfies it.
type Confirmer interface {
	Wait(ctx context.Context, txHash common.Hash, timeout time.Duration) (*chain.Receipt, error)
}

// RunStore persists finished runs. A nil store disables persistence.
type RunStore interface {
	SaveRun(ctx context.Context, run *types.BatchRunResult, startedAt, finishedAt time.Time) error
}

// Config configures a Submitter.
type Config struct {
	Backend  chain.Backend
	Registry *registry.Client
	Account  *account.Account
	Prices   PriceSource
	Waiter   Confirmer
	ChainID  *big.Int

	BatchSize      int
	GasMarginPct   int
	ConfirmTimeout time.Duration

	Store   RunStore
	Metrics metrics.Recorder
	Logger  *slog.Logger
	Now     func() time.Time
}

// Submitter writes verification requests to the ledger in batches.
type Submitter struct {
	backend  chain.Backend
	registry *registry.Client
	account  *account.Account
	prices   PriceSource
	waiter   Confirmer
	signer   ethtypes.Signer

	batchSize      int
	gasMarginPct   int
	confirmTimeout time.Duration

	store   RunStore
	metrics metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Submitter from cfg.
func New(cfg Config) (*Submitter, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry client is required")
	}
	if cfg.Account == nil {
		return nil, fmt.Errorf("account is required")
	}
	if cfg.Prices == nil {
		return nil, fmt.Errorf("price source is required")
	}
	if cfg.Waiter == nil {
		return nil, fmt.Errorf("confirmation waiter is required")
	}
	if cfg.ChainID == nil {
		return nil, fmt.Errorf("chain id is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > ledger.MaxBatchRecords {
		return nil, fmt.Errorf("batch size %d exceeds ledger record cap %d", cfg.BatchSize, ledger.MaxBatchRecords)
	}
	if cfg.GasMarginPct <= 0 {
		cfg.GasMarginPct = DefaultGasMarginPct
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Submitter{
		backend:        cfg.Backend,
		registry:       cfg.Registry,
		account:        cfg.Account,
		prices:         cfg.Prices,
		waiter:         cfg.Waiter,
		signer:         ethtypes.LatestSignerForChainID(cfg.ChainID),
		batchSize:      cfg.BatchSize,
		gasMarginPct:   cfg.GasMarginPct,
		confirmTimeout: cfg.ConfirmTimeout,
		store:          cfg.Store,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		now:            cfg.Now,
	}, nil
}

// SubmitAll validates requests, partitions them into chunks of at most
// the configured batch size and submits the chunks in order. The
// returned result is never nil: on an aborted run it carries the
// outcomes of every attempted chunk alongside the error, so callers
// can see exactly how far the run got.
//
// Abort semantics by error type: *ValidationError means nothing was
// sent; *EstimationError and *SubmissionError mean the failing chunk
// did not land; *ConfirmationTimeoutError means the failing chunk's
// outcome is unknown and ledger state must be re-checked before any
// resubmission.
func (s *Submitter) SubmitAll(ctx context.Context, requests []types.VerificationRequest) (*types.BatchRunResult, error) {
	startedAt := s.now()
	run := &types.BatchRunResult{
		RunID: fmt.Sprintf("run-%d", startedAt.UnixNano()),
		Total: len(requests),
	}

	if len(requests) == 0 {
		run.Success = true
		return run, nil
	}

	// Reject the whole run before any network call if a single
	// request is malformed. The rules are the ledger's own, run
	// client-side, so a rejected run costs nothing.
	for i, req := range requests {
		if err := ledger.CurrentLogic().Validate(toSubmission(req)); err != nil {
			run.ErrorMessage = err.Error()
			return run, &ValidationError{Index: i, RetrofitID: req.RetrofitID, Err: err}
		}
	}

	chunks := partition(requests, s.batchSize)
	s.logger.Info("submission run starting",
		slog.String("run_id", run.RunID),
		slog.Int("requests", len(requests)),
		slog.Int("batches", len(chunks)),
		slog.Int("batch_size", s.batchSize),
	)

	for i, chunk := range chunks {
		// Cancellation is honored only between chunks: a chunk that
		// starts always runs to a terminal status, so no write is
		// abandoned mid-flight with an ambiguous outcome. Each step
		// inside the chunk is bounded by its own timeout.
		if err := ctx.Err(); err != nil {
			run.ErrorMessage = fmt.Sprintf("run cancelled before batch %d: %v", i, err)
			s.finish(ctx, run, startedAt)
			return run, err
		}

		br, err := s.submitChunk(context.WithoutCancel(ctx), i, chunk)
		run.Batches = append(run.Batches, br)
		if err != nil {
			run.ErrorMessage = err.Error()
			s.finish(ctx, run, startedAt)
			return run, err
		}
	}

	run.Success = true
	s.finish(ctx, run, startedAt)
	s.logger.Info("submission run complete",
		slog.String("run_id", run.RunID),
		slog.Int("confirmed", run.Confirmed()),
	)
	return run, nil
}

// submitChunk drives one chunk to a terminal status. The returned
// BatchResult is always populated, also on error.
func (s *Submitter) submitChunk(ctx context.Context, index int, chunk []types.VerificationRequest) (types.BatchResult, error) {
	br := types.BatchResult{
		BatchIndex: index,
		Size:       len(chunk),
		Status:     types.BatchFailed,
	}

	calldata, err := s.registry.BatchVerifyCalldata(chunk)
	if err != nil {
		br.Error = err.Error()
		s.metrics.RecordBatch(metrics.StatusFailed, br.Size, 0)
		return br, &SubmissionError{BatchIndex: index, Err: err}
	}

	to := s.registry.Address()
	msg := chain.CallMsg{
		From: s.account.Address,
		To:   &to,
		Data: calldata,
	}

	rawGas, err := s.backend.EstimateGas(ctx, msg)
	if err != nil {
		err = registry.MapRevert(err)
		br.Error = err.Error()
		s.metrics.RecordBatch(metrics.StatusFailed, br.Size, 0)
		return br, &EstimationError{BatchIndex: index, Err: err}
	}
	gasLimit := rawGas + rawGas*uint64(s.gasMarginPct)/100

	price := s.prices.EstimatePrice(ctx)

	n := s.account.ReserveNonce()
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    n.Value(),
		GasPrice: new(big.Int).SetUint64(price),
		Gas:      gasLimit,
		To:       &to,
		Data:     calldata,
	})

	signed, err := ethtypes.SignTx(tx, s.signer, s.account.PrivateKey)
	if err != nil {
		n.Rollback()
		br.Error = err.Error()
		s.metrics.RecordBatch(metrics.StatusFailed, br.Size, 0)
		return br, &SubmissionError{BatchIndex: index, Err: fmt.Errorf("sign: %w", err)}
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		n.Rollback()
		br.Error = err.Error()
		s.metrics.RecordBatch(metrics.StatusFailed, br.Size, 0)
		return br, &SubmissionError{BatchIndex: index, Err: fmt.Errorf("encode: %w", err)}
	}

	if err := s.backend.SendTransaction(ctx, raw); err != nil {
		n.Rollback()
		err = registry.MapRevert(err)
		br.Error = err.Error()
		s.metrics.RecordBatch(metrics.StatusFailed, br.Size, 0)
		return br, &SubmissionError{BatchIndex: index, Err: err}
	}
	n.Commit()

	txHash := signed.Hash()
	br.TxHash = txHash.Hex()
	s.logger.Info("batch submitted",
		slog.Int("batch_index", index),
		slog.Int("size", len(chunk)),
		slog.String("tx", txHash.Hex()),
		slog.Uint64("nonce", n.Value()),
		slog.Uint64("gas_limit", gasLimit),
		slog.Uint64("gas_price_wei", price),
	)

	sentAt := s.now()
	receipt, err := s.waiter.Wait(ctx, txHash, s.confirmTimeout)
	if err != nil {
		br.Status = types.BatchIndeterminate
		br.Error = err.Error()
		s.metrics.RecordBatch(metrics.StatusIndeterminate, br.Size, 0)
		s.logger.Warn("batch unconfirmed inside window",
			slog.Int("batch_index", index),
			slog.String("tx", txHash.Hex()),
			slog.Duration("timeout", s.confirmTimeout),
		)
		return br, &ConfirmationTimeoutError{BatchIndex: index, TxHash: txHash, Err: err}
	}
	s.metrics.ObserveConfirmation(s.now().Sub(sentAt))

	br.BlockNumber = receipt.BlockNumber
	br.GasUsed = receipt.GasUsed
	br.EffectiveGasPrice = receipt.EffectiveGasPrice

	if receipt.Status != chain.ReceiptStatusSuccessful {
		br.Error = "transaction reverted on ledger"
		s.metrics.RecordBatch(metrics.StatusFailed, br.Size, receipt.GasUsed)
		return br, &SubmissionError{
			BatchIndex: index,
			TxHash:     txHash,
			Err:        fmt.Errorf("transaction reverted in block %d", receipt.BlockNumber),
		}
	}

	br.Status = types.BatchConfirmed
	s.metrics.RecordBatch(metrics.StatusConfirmed, br.Size, receipt.GasUsed)
	s.logger.Info("batch confirmed",
		slog.Int("batch_index", index),
		slog.String("tx", txHash.Hex()),
		slog.Uint64("block", receipt.BlockNumber),
		slog.Uint64("gas_used", receipt.GasUsed),
	)
	return br, nil
}

// FilterSubmitted returns the requests whose retrofit IDs are not yet
// recorded on the ledger. After an indeterminate outcome this is how a
// caller re-checks state before resubmitting: entries that landed are
// dropped, the rest are safe to submit again. Resubmitting a landed
// record would merely overwrite it with itself (writes are
// last-write-wins per ID), so the filter saves fees rather than
// guarding correctness.
func (s *Submitter) FilterSubmitted(ctx context.Context, requests []types.VerificationRequest) ([]types.VerificationRequest, error) {
	remaining := make([]types.VerificationRequest, 0, len(requests))
	for _, req := range requests {
		exists, err := s.registry.HasRetrofit(ctx, req.RetrofitID)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", req.RetrofitID, err)
		}
		if !exists {
			remaining = append(remaining, req)
		}
	}
	return remaining, nil
}

// finish records run metrics and persists the outcome. Persistence is
// detached from ctx so a cancelled run still leaves an audit row.
func (s *Submitter) finish(ctx context.Context, run *types.BatchRunResult, startedAt time.Time) {
	s.metrics.RecordRun(run.Success, len(run.Batches))
	if s.store == nil {
		return
	}
	if err := s.store.SaveRun(context.WithoutCancel(ctx), run, startedAt, s.now()); err != nil {
		s.logger.Warn("failed to persist run",
			slog.String("run_id", run.RunID),
			slog.String("error", err.Error()),
		)
	}
}

func partition(requests []types.VerificationRequest, size int) [][]types.VerificationRequest {
	var chunks [][]types.VerificationRequest
	for start := 0; start < len(requests); start += size {
		end := min(start+size, len(requests))
		chunks = append(chunks, requests[start:end])
	}
	return chunks
}

func toSubmission(req types.VerificationRequest) ledger.Submission {
	return ledger.Submission{
		RetrofitID:   req.RetrofitID,
		PropertyRef:  req.PropertyRef,
		EnergyRef:    req.EnergyRef,
		RatingBefore: req.RatingBefore,
		RatingAfter:  req.RatingAfter,
		WorkTypes:    req.WorkTypes,
	}
}
