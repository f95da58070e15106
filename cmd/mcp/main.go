// Retroledger MCP server.
// Exposes read-only ledger and gas tools over MCP stdio transport.
// Configured via RPC_URL, REGISTRY_ADDRESS and optionally ORACLE_URL
// and DATABASE_PATH.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mark3labs/mcp-go/server"

	"github.com/verdigrid/retroledger/internal/analytics"
	"github.com/verdigrid/retroledger/internal/chain"
	"github.com/verdigrid/retroledger/internal/gasprice"
	mcptools "github.com/verdigrid/retroledger/internal/mcp"
	"github.com/verdigrid/retroledger/internal/oracle"
	"github.com/verdigrid/retroledger/internal/registry"
	"github.com/verdigrid/retroledger/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Stdout carries the MCP protocol; logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	rpcURL := os.Getenv("RPC_URL")
	if rpcURL == "" {
		rpcURL = "http://localhost:8545"
	}
	registryAddr := os.Getenv("REGISTRY_ADDRESS")
	if registryAddr == "" {
		return fmt.Errorf("REGISTRY_ADDRESS is required")
	}
	if !common.IsHexAddress(registryAddr) {
		return fmt.Errorf("invalid REGISTRY_ADDRESS %q", registryAddr)
	}

	rpcCfg := chain.DefaultRPCConfig(rpcURL)
	rpcCfg.Logger = logger
	backend := chain.NewRPCBackend(rpcCfg)

	reg, err := registry.NewClient(registry.ClientConfig{
		Caller:  backend,
		Address: common.HexToAddress(registryAddr),
	})
	if err != nil {
		return fmt.Errorf("registry client: %w", err)
	}

	estCfg := gasprice.Config{
		Node:   backend,
		Logger: logger,
	}
	if url := os.Getenv("ORACLE_URL"); url != "" {
		estCfg.Oracle = oracle.NewClient(oracle.Config{URL: url, Logger: logger})
	}
	estimator := gasprice.New(estCfg)

	var store storage.Storage
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		sq, err := storage.NewSQLiteStorage(dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer sq.Close()
		store = sq
	}

	reports, err := analytics.New(analytics.Config{
		Backend:  backend,
		Registry: reg,
		Store:    reportStore(store),
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("analytics: %w", err)
	}

	s := server.NewMCPServer(
		"retroledger",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	mcptools.RegisterTools(s, &mcptools.Service{
		Prices:   estimator,
		Registry: reg,
		Reports:  reports,
		Store:    store,
	})

	return server.ServeStdio(s)
}

// reportStore converts a possibly-nil Storage into the analytics
// store parameter without wrapping nil in a non-nil interface.
func reportStore(s storage.Storage) analytics.ReportStore {
	if s == nil {
		return nil
	}
	return s
}
