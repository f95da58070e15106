// Retroledger anchors building-retrofit verification records to an
// on-chain registry in gas-bounded batches.
//
// Modes:
//
//	-submit file.json   partition and submit requests, print the run result
//	-report N           replay ledger events into a gas report for N days
//	(default)           service mode: volatility monitor + ops HTTP listener
//
// -dev swaps the JSON-RPC backend for an in-process simulated node.
package main

import (
	"context"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/verdigrid/retroledger/internal/account"
	"github.com/verdigrid/retroledger/internal/analytics"
	"github.com/verdigrid/retroledger/internal/chain"
	"github.com/verdigrid/retroledger/internal/config"
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

// app holds the wired engine for the lifetime of the process.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	backend  chain.Backend
	registry *registry.Client
	acct     *account.Account
	chainID  *big.Int
	prices   *gasprice.Estimator
	heads    *chain.HeadWatcher
	store    storage.Storage
	recorder metrics.Recorder
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	promRegistry := prometheus.NewRegistry()

	a := &app{
		cfg:      cfg,
		logger:   logger,
		recorder: metrics.NewPrometheusRecorder(promRegistry),
	}
	if err := a.wireChain(); err != nil {
		return err
	}

	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()
	a.store = store
	logger.Info("opened database", "path", cfg.DatabasePath)

	estCfg := gasprice.Config{
		Node:          a.backend,
		CacheTTL:      cfg.CacheTTL,
		BufferPct:     cfg.PriceBufferPct,
		MinPrice:      cfg.MinPriceWei(),
		MaxPrice:      cfg.MaxPriceWei(),
		FallbackPrice: cfg.FallbackPriceWei(),
		Metrics:       a.recorder,
		Logger:        logger,
	}
	if cfg.OracleURL != "" {
		estCfg.Oracle = oracle.NewClient(oracle.Config{
			URL:     cfg.OracleURL,
			Timeout: cfg.OracleTimeout,
			Logger:  logger,
		})
	}
	a.prices = gasprice.New(estCfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case cfg.SubmitFile != "":
		return a.runSubmit(ctx)
	case cfg.ReportDays > 0:
		return a.runReport(ctx)
	default:
		return a.runService(ctx, promRegistry)
	}
}

// wireChain builds the backend, signing account and registry client.
// Dev mode hosts an in-process node seeded with the well-known dev key
// as both owner and verifier.
func (a *app) wireChain() error {
	cfg := a.cfg

	if cfg.DevMode {
		key := cfg.PrivateKey
		if key == "" {
			key = account.DevPrivateKeys[0]
		}
		acct, err := account.NewAccountFromHex(key)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}
		node, err := simnode.New(simnode.Config{
			Owner:     acct.Address,
			Verifiers: []common.Address{acct.Address},
			GasPrice:  cfg.FallbackPriceWei(),
			Logger:    a.logger,
		})
		if err != nil {
			return fmt.Errorf("start dev node: %w", err)
		}
		a.backend = node
		a.acct = acct
		a.chainID = node.ChainID()

		reg, err := registry.NewClient(registry.ClientConfig{
			Caller:  node,
			Address: node.Registry(),
			From:    acct.Address,
		})
		if err != nil {
			return fmt.Errorf("registry client: %w", err)
		}
		a.registry = reg
		a.logger.Info("dev mode: in-process node",
			"chainId", a.chainID, "registry", node.Registry().Hex(), "owner", acct.Address.Hex())
		return nil
	}

	if !common.IsHexAddress(cfg.RegistryAddress) {
		return fmt.Errorf("invalid registry address %q", cfg.RegistryAddress)
	}

	rpcCfg := chain.DefaultRPCConfig(cfg.RPCURL)
	rpcCfg.Logger = a.logger
	backend := chain.NewRPCBackend(rpcCfg)
	a.backend = backend
	a.chainID = big.NewInt(cfg.ChainID)

	if cfg.PrivateKey != "" {
		acct, err := account.NewAccountFromHex(cfg.PrivateKey)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}
		a.acct = acct
	}

	var from common.Address
	if a.acct != nil {
		from = a.acct.Address
	}
	reg, err := registry.NewClient(registry.ClientConfig{
		Caller:  backend,
		Address: common.HexToAddress(cfg.RegistryAddress),
		From:    from,
	})
	if err != nil {
		return fmt.Errorf("registry client: %w", err)
	}
	a.registry = reg

	if cfg.WSURL != "" {
		a.heads = chain.NewHeadWatcher(cfg.WSURL, a.logger)
	}
	return nil
}

func (a *app) newSubmitter(ctx context.Context) (*submitter.Submitter, error) {
	if a.acct == nil {
		return nil, fmt.Errorf("a private key is required for submission (set PRIVATE_KEY or -key)")
	}
	if err := a.acct.Resync(ctx, a.backend); err != nil {
		return nil, fmt.Errorf("sync nonce: %w", err)
	}

	waiter := chain.NewConfirmationWaiter(chain.WaiterConfig{
		Backend: a.backend,
		Heads:   a.heads,
		Logger:  a.logger,
	})
	return submitter.New(submitter.Config{
		Backend:        a.backend,
		Registry:       a.registry,
		Account:        a.acct,
		Prices:         a.prices,
		Waiter:         waiter,
		ChainID:        a.chainID,
		BatchSize:      a.cfg.BatchSize,
		GasMarginPct:   a.cfg.GasMarginPct,
		ConfirmTimeout: a.cfg.ConfirmTimeout,
		Store:          a.store,
		Metrics:        a.recorder,
		Logger:         a.logger,
	})
}

// runSubmit reads a JSON array of verification requests, submits it in
// batches and prints the run result to stdout. A failed or partial run
// exits non-zero so schedulers notice.
func (a *app) runSubmit(ctx context.Context) error {
	data, err := os.ReadFile(a.cfg.SubmitFile)
	if err != nil {
		return fmt.Errorf("read requests: %w", err)
	}
	var requests []types.VerificationRequest
	if err := stdjson.Unmarshal(data, &requests); err != nil {
		return fmt.Errorf("parse requests: %w", err)
	}
	a.logger.Info("loaded requests", "file", a.cfg.SubmitFile, "count", len(requests))

	if a.heads != nil {
		headsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go a.heads.Run(headsCtx)
	}

	sub, err := a.newSubmitter(ctx)
	if err != nil {
		return err
	}

	run, err := sub.SubmitAll(ctx, requests)
	if err != nil {
		return err
	}

	out, err := stdjson.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Println(string(out))

	if !run.Success {
		return fmt.Errorf("run %s: %d/%d records confirmed", run.RunID, run.Confirmed(), run.Total)
	}
	return nil
}

// runReport replays ledger events over the trailing window and prints
// the aggregate gas report to stdout.
func (a *app) runReport(ctx context.Context) error {
	reports, err := analytics.New(analytics.Config{
		Backend:      a.backend,
		Registry:     a.registry,
		BlocksPerDay: a.cfg.BlocksPerDay,
		Store:        a.store,
		Logger:       a.logger,
	})
	if err != nil {
		return err
	}

	report, err := reports.Report(ctx, a.cfg.ReportDays)
	if err != nil {
		return err
	}

	out, err := stdjson.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// runService runs the volatility monitor and the ops HTTP listener
// until interrupted.
func (a *app) runService(ctx context.Context, gatherer *prometheus.Registry) error {
	if a.heads != nil {
		go a.heads.Run(ctx)
	}

	mon := monitor.New(monitor.Config{
		Prices:       a.prices,
		Interval:     a.cfg.MonitorInterval,
		ThresholdPct: a.cfg.VolatilityThresholdPct,
		Sink:         a.store,
		Metrics:      a.recorder,
		Logger:       a.logger,
	})
	go mon.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if _, err := a.backend.BlockNumber(checkCtx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "chain unreachable: %v\n", err)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ready")
	})
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("ops listener started", "addr", a.cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("ops listener: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
