// Package analytics answers what verification cost over a trailing
// window by replaying ledger events and their receipts. Reports are
// advisory: a receipt that cannot be fetched is skipped and counted,
// never fatal, so a report reflects best effort over the window.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/verdigrid/retroledger/internal/chain"
	"github.com/verdigrid/retroledger/internal/registry"
	"github.com/verdigrid/retroledger/pkg/types"
)

// DefaultBlocksPerDay assumes 12 second blocks.
const DefaultBlocksPerDay = 7200

// ReportStore persists generated reports. A nil store disables
// persistence.
type ReportStore interface {
	SaveReport(ctx context.Context, report *types.GasReport) error
}

// Config configures an Analytics reader.
type Config struct {
	Backend  chain.Backend
	Registry *registry.Client

	// BlocksPerDay converts the requested day window into blocks.
	// Defaults to DefaultBlocksPerDay.
	BlocksPerDay uint64

	Store  ReportStore
	Logger *slog.Logger
	Now    func() time.Time
}

// Analytics replays ledger events into gas cost reports.
type Analytics struct {
	backend      chain.Backend
	registry     *registry.Client
	blocksPerDay uint64
	store        ReportStore
	logger       *slog.Logger
	now          func() time.Time
}

// New creates an Analytics reader from cfg.
func New(cfg Config) (*Analytics, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry client is required")
	}
	if cfg.BlocksPerDay == 0 {
		cfg.BlocksPerDay = DefaultBlocksPerDay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Analytics{
		backend:      cfg.Backend,
		registry:     cfg.Registry,
		blocksPerDay: cfg.BlocksPerDay,
		store:        cfg.Store,
		logger:       cfg.Logger,
		now:          cfg.Now,
	}, nil
}

// Report aggregates verification gas usage over the trailing days.
// The window is blocksPerDay*days blocks ending at the latest block;
// on a young chain it is clamped to genesis.
func (a *Analytics) Report(ctx context.Context, days int) (*types.GasReport, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d", days)
	}

	toBlock, err := a.backend.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest block: %w", err)
	}
	window := a.blocksPerDay * uint64(days)
	fromBlock := uint64(0)
	if toBlock > window {
		fromBlock = toBlock - window
	}

	verifieds, err := a.registry.FilterRetrofitVerified(ctx, fromBlock, toBlock)
	if err != nil {
		return nil, fmt.Errorf("filter verification events: %w", err)
	}
	batches, err := a.registry.FilterBatchVerification(ctx, fromBlock, toBlock)
	if err != nil {
		return nil, fmt.Errorf("filter batch events: %w", err)
	}

	report := &types.GasReport{
		Days:        days,
		FromBlock:   fromBlock,
		ToBlock:     toBlock,
		GeneratedAt: a.now(),
	}

	// One transaction can carry at most one summary event, but the two
	// filters are independent queries, so hashes are deduplicated
	// before receipts are fetched.
	seen := make(map[common.Hash]struct{})
	var txHashes []common.Hash
	addTx := func(h common.Hash) {
		if _, ok := seen[h]; ok {
			return
		}
		seen[h] = struct{}{}
		txHashes = append(txHashes, h)
	}
	for _, ev := range verifieds {
		addTx(ev.Raw.TxHash)
		report.RecordsWritten++
	}
	for _, ev := range batches {
		addTx(ev.Raw.TxHash)
		report.RecordsWritten += ev.Count
	}

	totalCost := new(big.Int)
	var totalGas uint64

	if len(txHashes) > 0 {
		receipts, err := a.backend.TransactionReceipts(ctx, txHashes)
		if err != nil {
			return nil, fmt.Errorf("fetch %d receipts: %w", len(txHashes), err)
		}
		for i, receipt := range receipts {
			if receipt == nil {
				report.SkippedTx++
				a.logger.Warn("receipt unavailable, skipping transaction",
					slog.String("tx", txHashes[i].Hex()),
				)
				continue
			}
			report.TotalTx++
			totalGas += receipt.GasUsed
			cost := new(big.Int).Mul(
				new(big.Int).SetUint64(receipt.GasUsed),
				new(big.Int).SetUint64(receipt.EffectiveGasPrice),
			)
			totalCost.Add(totalCost, cost)
		}
	}

	report.TotalGas = totalGas
	report.TotalCostWei = totalCost.String()
	if report.TotalTx > 0 {
		report.AvgGas = totalGas / report.TotalTx
		report.AvgCostWei = new(big.Int).Div(totalCost, new(big.Int).SetUint64(report.TotalTx)).String()
	} else {
		report.AvgCostWei = "0"
	}

	a.logger.Info("gas report generated",
		slog.Int("days", days),
		slog.Uint64("from_block", fromBlock),
		slog.Uint64("to_block", toBlock),
		slog.Uint64("total_tx", report.TotalTx),
		slog.Uint64("skipped_tx", report.SkippedTx),
		slog.Uint64("total_gas", report.TotalGas),
		slog.String("total_cost_wei", report.TotalCostWei),
	)

	if a.store != nil {
		if err := a.store.SaveReport(ctx, report); err != nil {
			a.logger.Warn("failed to persist gas report",
				slog.String("error", err.Error()),
			)
		}
	}
	return report, nil
}
