// Package integration exercises the full submission pipeline in one
// process: an HTTP oracle stub feeds the gas estimator, the submitter
// writes batches to the simulated node, runs land in SQLite and the
// Prometheus recorder observes everything. No external stack required.
package integration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/verdigrid/retroledger/internal/account"
	"github.com/verdigrid/retroledger/internal/analytics"
	"github.com/verdigrid/retroledger/internal/chain"
	"github.com/verdigrid/retroledger/internal/gasprice"
	"github.com/verdigrid/retroledger/internal/metrics"
	"github.com/verdigrid/retroledger/internal/monitor"
	"github.com/verdigrid/retroledger/internal/oracle"
	"github.com/verdigrid/retroledger/internal/registry"
	"github.com/verdigrid/retroledger/internal/simnode"
	"github.com/verdigrid/retroledger/internal/storage"
	"github.com/verdigrid/retroledger/internal/submitter"
	"github.com/verdigrid/retroledger/pkg/types"
)

const gwei = 1_000_000_000

// env is a fully wired engine over the simulated node.
type env struct {
	node     *simnode.Node
	acct     *account.Account
	client   *registry.Client
	prices   *gasprice.Estimator
	sub      *submitter.Submitter
	store    storage.Storage
	prom     *prometheus.Registry
	logger   *slog.Logger
}

// newEnv wires the whole stack. oracleURL may be empty, in which case
// the node's own estimate leads.
func newEnv(t *testing.T, oracleURL string) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	acct, err := account.NewAccountFromHex(account.DevPrivateKeys[0])
	if err != nil {
		t.Fatalf("load dev account: %v", err)
	}

	node, err := simnode.New(simnode.Config{
		Owner:     acct.Address,
		Verifiers: []common.Address{acct.Address},
		GasPrice:  40 * gwei,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("start node: %v", err)
	}
	if err := acct.Resync(context.Background(), node); err != nil {
		t.Fatalf("sync nonce: %v", err)
	}

	client, err := registry.NewClient(registry.ClientConfig{
		Caller:  node,
		Address: node.Registry(),
		From:    acct.Address,
	})
	if err != nil {
		t.Fatalf("registry client: %v", err)
	}

	sq, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "retroledger.db"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { sq.Close() })

	promReg := prometheus.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(promReg)

	estCfg := gasprice.Config{
		Node:          node,
		CacheTTL:      time.Nanosecond, // every estimate refreshes
		BufferPct:     10,
		MinPrice:      5 * gwei,
		MaxPrice:      150 * gwei,
		FallbackPrice: 30 * gwei,
		Metrics:       recorder,
		Logger:        logger,
	}
	if oracleURL != "" {
		estCfg.Oracle = oracle.NewClient(oracle.Config{URL: oracleURL, Logger: logger})
	}
	prices := gasprice.New(estCfg)

	waiter := chain.NewConfirmationWaiter(chain.WaiterConfig{
		Backend:      node,
		PollInterval: 2 * time.Millisecond,
		Logger:       logger,
	})
	sub, err := submitter.New(submitter.Config{
		Backend:        node,
		Registry:       client,
		Account:        acct,
		Prices:         prices,
		Waiter:         waiter,
		ChainID:        node.ChainID(),
		BatchSize:      10,
		GasMarginPct:   20,
		ConfirmTimeout: 2 * time.Second,
		Store:          sq,
		Metrics:        recorder,
		Logger:         logger,
	})
	if err != nil {
		t.Fatalf("create submitter: %v", err)
	}

	return &env{
		node:     node,
		acct:     acct,
		client:   client,
		prices:   prices,
		sub:      sub,
		store:    sq,
		prom:     promReg,
		logger:   logger,
	}
}

func newOracleServer(t *testing.T, proposedGwei string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"1","message":"OK","result":{"ProposeGasPrice":%q}}`, proposedGwei)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func sampleRequests(n int) []types.VerificationRequest {
	out := make([]types.VerificationRequest, n)
	for i := range out {
		out[i] = types.VerificationRequest{
			RetrofitID:   fmt.Sprintf("RF-%03d", i),
			PropertyRef:  fmt.Sprintf("UPRN-1000%03d", i),
			EnergyRef:    fmt.Sprintf("EPC-77%03d", i),
			RatingBefore: 2,
			RatingAfter:  5,
			WorkTypes:    []string{"loft_insulation"},
		}
	}
	return out
}

func TestSubmissionFlow(t *testing.T) {
	oracleSrv := newOracleServer(t, "40")
	e := newEnv(t, oracleSrv.URL)
	ctx := context.Background()

	requests := sampleRequests(25)
	run, err := e.sub.SubmitAll(ctx, requests)
	if err != nil {
		t.Fatalf("SubmitAll: %v", err)
	}
	if !run.Success {
		t.Fatalf("run not successful: %s", run.ErrorMessage)
	}
	wantSizes := []int{10, 10, 5}
	if len(run.Batches) != len(wantSizes) {
		t.Fatalf("got %d batches, want %d", len(run.Batches), len(wantSizes))
	}
	for i, br := range run.Batches {
		if br.Size != wantSizes[i] {
			t.Errorf("batch %d size = %d, want %d", i, br.Size, wantSizes[i])
		}
		if br.Status != types.BatchConfirmed {
			t.Errorf("batch %d status = %q, want confirmed", i, br.Status)
		}
		// Oracle 40 gwei + 10% buffer.
		if br.EffectiveGasPrice != 44*gwei {
			t.Errorf("batch %d effective price = %d, want %d", i, br.EffectiveGasPrice, 44*gwei)
		}
	}

	// Every record must be readable back from the ledger.
	total, err := e.client.TotalRecords(ctx)
	if err != nil {
		t.Fatalf("TotalRecords: %v", err)
	}
	if total != 25 {
		t.Errorf("TotalRecords = %d, want 25", total)
	}
	rec, err := e.client.GetRetrofit(ctx, "RF-013")
	if err != nil {
		t.Fatalf("GetRetrofit: %v", err)
	}
	if rec.Verifier != e.acct.Address {
		t.Errorf("verifier = %s, want %s", rec.Verifier.Hex(), e.acct.Address.Hex())
	}

	// The run must be in SQLite with its batches.
	stored, err := e.store.GetRun(ctx, run.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.Status != types.RunCompleted {
		t.Errorf("stored status = %q, want completed", stored.Status)
	}
	if stored.Confirmed != 25 {
		t.Errorf("stored confirmed = %d, want 25", stored.Confirmed)
	}
	if len(stored.Batches) != 3 {
		t.Errorf("stored batches = %d, want 3", len(stored.Batches))
	}

	// The recorder must have seen the run.
	families, err := e.prom.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	seen := map[string]bool{}
	for _, f := range families {
		seen[f.GetName()] = true
	}
	for _, name := range []string{
		"retroledger_gas_price_wei",
		"retroledger_batches_total",
		"retroledger_records_submitted_total",
		"retroledger_runs_total",
	} {
		if !seen[name] {
			t.Errorf("metric family %s not exported", name)
		}
	}
}

func TestSubmissionFailFastAndRetry(t *testing.T) {
	e := newEnv(t, "")
	ctx := context.Background()
	requests := sampleRequests(25)

	e.node.FailNextSend(errors.New("insufficient funds for gas * price + value"))

	run, err := e.sub.SubmitAll(ctx, requests)
	var subErr *submitter.SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("SubmitAll error = %v, want *SubmissionError", err)
	}
	if run.Success {
		t.Error("run reported success after send failure")
	}
	// Fail-fast: chunks after the failed one are never attempted.
	if len(run.Batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(run.Batches))
	}
	if run.Batches[0].Status != types.BatchFailed {
		t.Errorf("batch status = %q, want failed", run.Batches[0].Status)
	}
	if total, _ := e.client.TotalRecords(ctx); total != 0 {
		t.Errorf("records landed despite failed send: %d", total)
	}

	// The nonce was rolled back, so an immediate retry must go through.
	run, err = e.sub.SubmitAll(ctx, requests)
	if err != nil {
		t.Fatalf("retry SubmitAll: %v", err)
	}
	if !run.Success || len(run.Batches) != 3 {
		t.Fatalf("retry: success=%v batches=%d, want success with 3 batches", run.Success, len(run.Batches))
	}

	// Both runs persisted, newest first.
	page, err := e.store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if page.Total != 2 {
		t.Errorf("persisted runs = %d, want 2", page.Total)
	}
}

func TestIndeterminateOutcomeAndRecheck(t *testing.T) {
	e := newEnv(t, "")
	ctx := context.Background()
	requests := sampleRequests(5)

	e.node.HoldReceipts()

	waiter := chain.NewConfirmationWaiter(chain.WaiterConfig{
		Backend:      e.node,
		PollInterval: 2 * time.Millisecond,
		Logger:       e.logger,
	})
	sub, err := submitter.New(submitter.Config{
		Backend:        e.node,
		Registry:       e.client,
		Account:        e.acct,
		Prices:         e.prices,
		Waiter:         waiter,
		ChainID:        e.node.ChainID(),
		BatchSize:      10,
		ConfirmTimeout: 50 * time.Millisecond,
		Store:          e.store,
		Logger:         e.logger,
	})
	if err != nil {
		t.Fatalf("create submitter: %v", err)
	}

	run, err := sub.SubmitAll(ctx, requests)
	var timeoutErr *submitter.ConfirmationTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("SubmitAll error = %v, want *ConfirmationTimeoutError", err)
	}
	if run.Batches[0].Status != types.BatchIndeterminate {
		t.Errorf("batch status = %q, want indeterminate", run.Batches[0].Status)
	}
	if run.Batches[0].TxHash == "" {
		t.Error("indeterminate batch lost its tx hash")
	}

	e.node.ReleaseReceipts()

	// The write actually landed, so the re-check must drop everything.
	remaining, err := sub.FilterSubmitted(ctx, requests)
	if err != nil {
		t.Fatalf("FilterSubmitted: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("FilterSubmitted left %d requests, want 0", len(remaining))
	}
}

func TestPausedLedgerAbortsBeforeSend(t *testing.T) {
	e := newEnv(t, "")
	ctx := context.Background()

	if err := e.node.Ledger().Pause(e.acct.Address); err != nil {
		t.Fatalf("pause ledger: %v", err)
	}

	run, err := e.sub.SubmitAll(ctx, sampleRequests(3))
	var estErr *submitter.EstimationError
	if !errors.As(err, &estErr) {
		t.Fatalf("SubmitAll error = %v, want *EstimationError", err)
	}
	if run.Success {
		t.Error("run reported success against a paused ledger")
	}

	if err := e.node.Ledger().Unpause(e.acct.Address); err != nil {
		t.Fatalf("unpause ledger: %v", err)
	}
	if _, err := e.sub.SubmitAll(ctx, sampleRequests(3)); err != nil {
		t.Fatalf("SubmitAll after unpause: %v", err)
	}
}

func TestGasReportOverSubmittedRuns(t *testing.T) {
	e := newEnv(t, "")
	ctx := context.Background()

	if _, err := e.sub.SubmitAll(ctx, sampleRequests(25)); err != nil {
		t.Fatalf("SubmitAll: %v", err)
	}

	reports, err := analytics.New(analytics.Config{
		Backend:      e.node,
		Registry:     e.client,
		BlocksPerDay: 1000, // window covers the whole sim chain
		Store:        e.store,
		Logger:       e.logger,
	})
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}

	report, err := reports.Report(ctx, 1)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if report.TotalTx != 3 {
		t.Errorf("TotalTx = %d, want 3", report.TotalTx)
	}
	if report.RecordsWritten != 25 {
		t.Errorf("RecordsWritten = %d, want 25", report.RecordsWritten)
	}
	if report.TotalGas == 0 {
		t.Error("TotalGas = 0, want > 0")
	}
	if report.TotalCostWei == "0" {
		t.Error("TotalCostWei = 0, want > 0")
	}

	// The report was also persisted.
	saved, err := e.store.ListReports(ctx, 5)
	if err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	if len(saved) != 1 {
		t.Fatalf("persisted reports = %d, want 1", len(saved))
	}
	if saved[0].TotalGas != report.TotalGas {
		t.Errorf("persisted TotalGas = %d, want %d", saved[0].TotalGas, report.TotalGas)
	}
}

func TestVolatilityAlertsLandInStorage(t *testing.T) {
	e := newEnv(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mon := monitor.New(monitor.Config{
		Prices:       e.prices,
		Interval:     5 * time.Millisecond,
		ThresholdPct: 20,
		Sink:         e.store,
		Logger:       e.logger,
	})
	go mon.Run(ctx)

	// Let the monitor establish a baseline, then jump the node price
	// by 50%, well past the threshold.
	time.Sleep(30 * time.Millisecond)
	e.node.SetGasPrice(60 * gwei)

	deadline := time.Now().Add(2 * time.Second)
	for {
		page, err := e.store.ListAlerts(ctx, 5, 0)
		if err != nil {
			t.Fatalf("ListAlerts: %v", err)
		}
		if page.Total > 0 {
			alert := page.Alerts[0]
			if alert.Direction != types.AlertUp {
				t.Errorf("direction = %q, want up", alert.Direction)
			}
			if alert.ChangePct < 20 {
				t.Errorf("change = %d%%, want >= 20%%", alert.ChangePct)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("no alert persisted within deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
