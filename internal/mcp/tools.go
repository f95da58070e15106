// Package mcp exposes read-only operational tools over MCP stdio:
// current gas price, ledger lookups, gas reports, run history and
// volatility alerts. Write paths stay with the engine; these tools
// only observe.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/verdigrid/retroledger/internal/analytics"
	"github.com/verdigrid/retroledger/internal/gasprice"
	"github.com/verdigrid/retroledger/internal/ledger"
	"github.com/verdigrid/retroledger/internal/registry"
	"github.com/verdigrid/retroledger/internal/storage"
)

// Service bundles the engine components the tools read from.
// Store is optional; history tools report unavailability without it.
type Service struct {
	Prices   *gasprice.Estimator
	Registry *registry.Client
	Reports  *analytics.Analytics
	Store    storage.Storage
}

// RegisterTools registers all retroledger tools on the MCP server.
func RegisterTools(s *server.MCPServer, svc *Service) {
	registerGasPrice(s, svc)
	registerLedgerStatus(s, svc)
	registerRecord(s, svc)
	registerListIDs(s, svc)
	registerGasReport(s, svc)
	registerRunHistory(s, svc)
	registerRunDetail(s, svc)
	registerAlerts(s, svc)
}

func registerGasPrice(s *server.MCPServer, svc *Service) {
	tool := gomcp.NewTool("retroledger_gas_price",
		gomcp.WithDescription("Get the current buffered gas price estimate, its source (oracle, node or default fallback) and the sample age."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		sample := svc.Prices.EstimateSample(ctx)
		return gomcp.NewToolResultText(joinLines(
			section("Gas Price"),
			kv("Price", formatGwei(sample.Price)),
			kv("Source", string(sample.Source)),
			kv("Sampled", sample.ObservedAt.UTC().Format(time.RFC3339)),
		)), nil
	})
}

func registerLedgerStatus(s *server.MCPServer, svc *Service) {
	tool := gomcp.NewTool("retroledger_ledger_status",
		gomcp.WithDescription("Get verification ledger status: contract version, pause state, total recorded retrofits and owner address."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		version, err := svc.Registry.Version(ctx)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Ledger unreachable: %v", err)), nil
		}
		paused, err := svc.Registry.Paused(ctx)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Failed to read pause state: %v", err)), nil
		}
		total, err := svc.Registry.TotalRecords(ctx)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Failed to read record count: %v", err)), nil
		}
		owner, err := svc.Registry.Owner(ctx)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Failed to read owner: %v", err)), nil
		}

		state := "active"
		if paused {
			state = "paused (writes disabled)"
		}
		return gomcp.NewToolResultText(joinLines(
			section("Ledger Status"),
			kv("Version", version),
			kv("State", state),
			kv("Records", formatNumber(total)),
			kv("Owner", owner.Hex()),
			kv("Contract", svc.Registry.Address().Hex()),
		)), nil
	})
}

func registerRecord(s *server.MCPServer, svc *Service) {
	tool := gomcp.NewTool("retroledger_record",
		gomcp.WithDescription("Look up one verification record by retrofit ID."),
		gomcp.WithString("retrofit_id",
			gomcp.Required(),
			gomcp.Description("The retrofit ID to look up"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("retrofit_id")
		if err != nil {
			return gomcp.NewToolResultError("retrofit_id is required"), nil
		}

		rec, err := svc.Registry.GetRetrofit(ctx, id)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				return gomcp.NewToolResultText(fmt.Sprintf("No record for retrofit %q.", id)), nil
			}
			return gomcp.NewToolResultError(fmt.Sprintf("Lookup failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRecord(rec)), nil
	})
}

func registerListIDs(s *server.MCPServer, svc *Service) {
	tool := gomcp.NewTool("retroledger_list_ids",
		gomcp.WithDescription("List recorded retrofit IDs in ledger index order, paginated."),
		gomcp.WithNumber("offset",
			gomcp.Description("Index offset (default 0)"),
		),
		gomcp.WithNumber("limit",
			gomcp.Description("Maximum IDs to return (default 20)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		offset := req.GetInt("offset", 0)
		limit := req.GetInt("limit", 20)
		if offset < 0 || limit <= 0 {
			return gomcp.NewToolResultError("offset must be >= 0 and limit > 0"), nil
		}

		ids, err := svc.Registry.ListIDs(ctx, uint64(offset), uint64(limit))
		if err != nil {
			if errors.Is(err, ledger.ErrOutOfBounds) {
				return gomcp.NewToolResultText(fmt.Sprintf("Offset %d is past the end of the index.", offset)), nil
			}
			return gomcp.NewToolResultError(fmt.Sprintf("List failed: %v", err)), nil
		}

		lines := []string{section(fmt.Sprintf("Retrofit IDs (%d-%d)", offset, offset+len(ids)-1))}
		for i, id := range ids {
			lines = append(lines, fmt.Sprintf("%d. %s", offset+i, id))
		}
		return gomcp.NewToolResultText(joinLines(lines...)), nil
	})
}

func registerGasReport(s *server.MCPServer, svc *Service) {
	tool := gomcp.NewTool("retroledger_gas_report",
		gomcp.WithDescription("Generate a gas usage report over the trailing N days by replaying ledger events and their receipts."),
		gomcp.WithNumber("days",
			gomcp.Required(),
			gomcp.Description("Trailing window in days (1-90)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		days := req.GetInt("days", 0)
		if days <= 0 || days > 90 {
			return gomcp.NewToolResultError("days must be between 1 and 90"), nil
		}

		report, err := svc.Reports.Report(ctx, days)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Report failed: %v", err)), nil
		}

		return gomcp.NewToolResultText(joinLines(
			section(fmt.Sprintf("Gas Report (last %d days)", report.Days)),
			kv("Blocks", fmt.Sprintf("%s - %s", formatNumber(report.FromBlock), formatNumber(report.ToBlock))),
			kv("Transactions", formatNumber(report.TotalTx)),
			kv("Skipped receipts", formatNumber(report.SkippedTx)),
			kv("Records written", formatNumber(report.RecordsWritten)),
			kv("Total gas", formatNumber(report.TotalGas)),
			kv("Total cost", report.TotalCostWei+" wei"),
			kv("Avg gas/tx", formatNumber(report.AvgGas)),
			kv("Avg cost/tx", report.AvgCostWei+" wei"),
		)), nil
	})
}

func registerRunHistory(s *server.MCPServer, svc *Service) {
	tool := gomcp.NewTool("retroledger_run_history",
		gomcp.WithDescription("List past submission runs, newest first."),
		gomcp.WithNumber("limit",
			gomcp.Description("Maximum runs to return (default 10)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Pagination offset (default 0)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if svc.Store == nil {
			return gomcp.NewToolResultError("Run history is unavailable: no database configured (set DATABASE_PATH)."), nil
		}
		limit := req.GetInt("limit", 10)
		offset := req.GetInt("offset", 0)
		if limit <= 0 || offset < 0 {
			return gomcp.NewToolResultError("limit must be > 0 and offset >= 0"), nil
		}

		page, err := svc.Store.ListRuns(ctx, limit, offset)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("History query failed: %v", err)), nil
		}
		if len(page.Runs) == 0 {
			return gomcp.NewToolResultText("No submission runs recorded."), nil
		}

		lines := []string{section(fmt.Sprintf("Submission Runs (%d total)", page.Total))}
		for _, run := range page.Runs {
			lines = append(lines, fmt.Sprintf("- %s  %s  %d/%d confirmed  %s",
				run.ID,
				run.StartedAt.UTC().Format("2006-01-02 15:04"),
				run.Confirmed, run.Total,
				run.Status,
			))
		}
		return gomcp.NewToolResultText(joinLines(lines...)), nil
	})
}

func registerRunDetail(s *server.MCPServer, svc *Service) {
	tool := gomcp.NewTool("retroledger_run_detail",
		gomcp.WithDescription("Get one submission run with its per-batch outcomes."),
		gomcp.WithString("run_id",
			gomcp.Required(),
			gomcp.Description("The run ID, e.g. run-1700000000000000000"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if svc.Store == nil {
			return gomcp.NewToolResultError("Run history is unavailable: no database configured (set DATABASE_PATH)."), nil
		}
		id, err := req.RequireString("run_id")
		if err != nil {
			return gomcp.NewToolResultError("run_id is required"), nil
		}

		run, err := svc.Store.GetRun(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrRunNotFound) {
				return gomcp.NewToolResultText(fmt.Sprintf("No run %q recorded.", id)), nil
			}
			return gomcp.NewToolResultError(fmt.Sprintf("Run query failed: %v", err)), nil
		}

		lines := []string{
			section("Run " + run.ID),
			kv("Started", run.StartedAt.UTC().Format(time.RFC3339)),
			kv("Finished", run.FinishedAt.UTC().Format(time.RFC3339)),
			kv("Requests", formatNumber(run.Total)),
			kv("Confirmed", formatNumber(run.Confirmed)),
			kv("Status", string(run.Status)),
		}
		if run.ErrorMessage != "" {
			lines = append(lines, kv("Error", run.ErrorMessage))
		}
		lines = append(lines, "", section("Batches"))
		for _, b := range run.Batches {
			line := fmt.Sprintf("%d. %s  size=%d", b.BatchIndex, b.Status, b.Size)
			if b.TxHash != "" {
				line += "  tx=" + b.TxHash
			}
			if b.BlockNumber > 0 {
				line += fmt.Sprintf("  block=%d gas=%s price=%s",
					b.BlockNumber, formatNumber(b.GasUsed), formatGwei(b.EffectiveGasPrice))
			}
			if b.Error != "" {
				line += "  error=" + b.Error
			}
			lines = append(lines, line)
		}
		return gomcp.NewToolResultText(joinLines(lines...)), nil
	})
}

func registerAlerts(s *server.MCPServer, svc *Service) {
	tool := gomcp.NewTool("retroledger_alerts",
		gomcp.WithDescription("List recent gas price volatility alerts, newest first."),
		gomcp.WithNumber("limit",
			gomcp.Description("Maximum alerts to return (default 10)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if svc.Store == nil {
			return gomcp.NewToolResultError("Alert history is unavailable: no database configured (set DATABASE_PATH)."), nil
		}
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			return gomcp.NewToolResultError("limit must be positive"), nil
		}

		page, err := svc.Store.ListAlerts(ctx, limit, 0)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Alert query failed: %v", err)), nil
		}
		if len(page.Alerts) == 0 {
			return gomcp.NewToolResultText("No volatility alerts recorded."), nil
		}

		lines := []string{section(fmt.Sprintf("Volatility Alerts (%d total)", page.Total))}
		for _, a := range page.Alerts {
			lines = append(lines, fmt.Sprintf("- %s  %s %d%%  %s -> %s",
				a.ObservedAt.UTC().Format("2006-01-02 15:04"),
				a.Direction, a.ChangePct,
				formatGwei(a.PreviousWei), formatGwei(a.CurrentWei),
			))
		}
		return gomcp.NewToolResultText(joinLines(lines...)), nil
	})
}

func formatRecord(rec registry.StoredRecord) string {
	lines := []string{
		section("Retrofit " + rec.RetrofitID),
		kv("Verifier", rec.Verifier.Hex()),
		kv("Verified at", time.Unix(int64(rec.Timestamp), 0).UTC().Format(time.RFC3339)),
		kv("Property ref", rec.PropertyRef),
		kv("Energy ref", rec.EnergyRef),
		kv("Rating", fmt.Sprintf("%d -> %d", rec.RatingBefore, rec.RatingAfter)),
		kv("Work types", strings.Join(rec.WorkTypes, ", ")),
	}
	return joinLines(lines...)
}
