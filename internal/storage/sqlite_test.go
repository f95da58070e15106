package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/verdigrid/retroledger/pkg/types"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "retroledger.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStorage() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(id string, success bool) *types.BatchRunResult {
	run := &types.BatchRunResult{
		RunID:   id,
		Total:   25,
		Success: success,
		Batches: []types.BatchResult{
			{
				BatchIndex:        0,
				Size:              10,
				TxHash:            "0xaaa1",
				BlockNumber:       101,
				GasUsed:           520_000,
				EffectiveGasPrice: 33_000_000_000,
				Status:            types.BatchConfirmed,
			},
			{
				BatchIndex:        1,
				Size:              10,
				TxHash:            "0xaaa2",
				BlockNumber:       102,
				GasUsed:           515_000,
				EffectiveGasPrice: 33_000_000_000,
				Status:            types.BatchConfirmed,
			},
		},
	}
	if !success {
		run.Batches[1].Status = types.BatchFailed
		run.Batches[1].BlockNumber = 0
		run.Batches[1].GasUsed = 0
		run.Batches[1].Error = "transaction reverted on ledger"
		run.ErrorMessage = "batch 1 submission failed"
	}
	return run
}

func TestSaveRunRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	startedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	finishedAt := startedAt.Add(90 * time.Second)
	run := sampleRun("run-1", true)

	if err := s.SaveRun(ctx, run, startedAt, finishedAt); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Total != 25 {
		t.Errorf("Total = %d, want 25", got.Total)
	}
	if got.Confirmed != 20 {
		t.Errorf("Confirmed = %d, want 20", got.Confirmed)
	}
	if !got.Success || got.Status != types.RunCompleted {
		t.Errorf("Success/Status = %v/%q, want true/%q", got.Success, got.Status, types.RunCompleted)
	}
	if len(got.Batches) != 2 {
		t.Fatalf("len(Batches) = %d, want 2", len(got.Batches))
	}
	b := got.Batches[1]
	if b.BatchIndex != 1 || b.TxHash != "0xaaa2" || b.BlockNumber != 102 {
		t.Errorf("batch 1 = %+v, want index 1 / 0xaaa2 / block 102", b)
	}
	if b.EffectiveGasPrice != 33_000_000_000 {
		t.Errorf("EffectiveGasPrice = %d, want 33 gwei", b.EffectiveGasPrice)
	}
	if !got.StartedAt.Equal(startedAt) || !got.FinishedAt.Equal(finishedAt) {
		t.Errorf("times = %v/%v, want %v/%v", got.StartedAt, got.FinishedAt, startedAt, finishedAt)
	}
}

func TestSaveRunFailedRun(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	run := sampleRun("run-err", false)
	if err := s.SaveRun(ctx, run, time.Now(), time.Now()); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	got, err := s.GetRun(ctx, "run-err")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Success || got.Status != types.RunFailed {
		t.Errorf("Success/Status = %v/%q, want false/%q", got.Success, got.Status, types.RunFailed)
	}
	if got.ErrorMessage != "batch 1 submission failed" {
		t.Errorf("ErrorMessage = %q, want persisted message", got.ErrorMessage)
	}
	if got.Batches[1].Status != types.BatchFailed {
		t.Errorf("batch 1 status = %q, want %q", got.Batches[1].Status, types.BatchFailed)
	}
	if got.Batches[1].Error != "transaction reverted on ledger" {
		t.Errorf("batch 1 error = %q, want revert reason", got.Batches[1].Error)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun() error = %v, want ErrRunNotFound", err)
	}
}

func TestListRunsPagination(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		run := sampleRun(fmt.Sprintf("run-%d", i), true)
		startedAt := base.Add(time.Duration(i) * time.Hour)
		if err := s.SaveRun(ctx, run, startedAt, startedAt.Add(time.Minute)); err != nil {
			t.Fatalf("SaveRun(run-%d) error = %v", i, err)
		}
	}

	page, err := s.ListRuns(ctx, 2, 1)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if page.Total != 5 {
		t.Errorf("Total = %d, want 5", page.Total)
	}
	if len(page.Runs) != 2 {
		t.Fatalf("len(Runs) = %d, want 2", len(page.Runs))
	}
	// Newest first: offset 1 skips run-4.
	if page.Runs[0].ID != "run-3" || page.Runs[1].ID != "run-2" {
		t.Errorf("page IDs = %q, %q, want run-3, run-2", page.Runs[0].ID, page.Runs[1].ID)
	}
	if len(page.Runs[0].Batches) != 0 {
		t.Errorf("list rows carry batches; GetRun owns batch loading")
	}
}

func TestAlertRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC)
	alerts := []types.PriceAlert{
		{PreviousWei: 30_000_000_000, CurrentWei: 40_000_000_000, ChangePct: 33, Direction: types.AlertUp, ObservedAt: base},
		{PreviousWei: 40_000_000_000, CurrentWei: 30_000_000_000, ChangePct: 25, Direction: types.AlertDown, ObservedAt: base.Add(5 * time.Minute)},
	}
	for i := range alerts {
		if err := s.SaveAlert(ctx, &alerts[i]); err != nil {
			t.Fatalf("SaveAlert(%d) error = %v", i, err)
		}
	}

	page, err := s.ListAlerts(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListAlerts() error = %v", err)
	}
	if page.Total != 2 || len(page.Alerts) != 2 {
		t.Fatalf("Total/len = %d/%d, want 2/2", page.Total, len(page.Alerts))
	}
	got := page.Alerts[0]
	if got.Direction != types.AlertDown || got.ChangePct != 25 {
		t.Errorf("newest alert = %+v, want the down move first", got)
	}
	if got.PreviousWei != 40_000_000_000 || got.CurrentWei != 30_000_000_000 {
		t.Errorf("alert prices = %d -> %d, want 40 -> 30 gwei", got.PreviousWei, got.CurrentWei)
	}
}

func TestReportRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	report := &types.GasReport{
		Days:           7,
		FromBlock:      49_600,
		ToBlock:        100_000,
		TotalTx:        12,
		SkippedTx:      1,
		TotalGas:       6_000_000,
		TotalCostWei:   "198000000000000000",
		AvgGas:         500_000,
		AvgCostWei:     "16500000000000000",
		RecordsWritten: 120,
		GeneratedAt:    time.Date(2026, 8, 3, 8, 0, 0, 0, time.UTC),
	}
	if err := s.SaveReport(ctx, report); err != nil {
		t.Fatalf("SaveReport() error = %v", err)
	}

	reports, err := s.ListReports(ctx, 5)
	if err != nil {
		t.Fatalf("ListReports() error = %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("len(reports) = %d, want 1", len(reports))
	}
	got := reports[0]
	if got.TotalCostWei != report.TotalCostWei || got.AvgCostWei != report.AvgCostWei {
		t.Errorf("cost strings = %q/%q, want %q/%q", got.TotalCostWei, got.AvgCostWei, report.TotalCostWei, report.AvgCostWei)
	}
	if got.TotalTx != 12 || got.SkippedTx != 1 || got.RecordsWritten != 120 {
		t.Errorf("counters = %d/%d/%d, want 12/1/120", got.TotalTx, got.SkippedTx, got.RecordsWritten)
	}
}

func TestNullString(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValid bool
	}{
		{name: "empty is null", input: "", wantValid: false},
		{name: "non-empty is valid", input: "0xabc", wantValid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nullString(tt.input)
			if got.Valid != tt.wantValid {
				t.Errorf("nullString(%q).Valid = %v, want %v", tt.input, got.Valid, tt.wantValid)
			}
			if got.Valid && got.String != tt.input {
				t.Errorf("nullString(%q).String = %q", tt.input, got.String)
			}
		})
	}
}
