package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/verdigrid/retroledger/pkg/types"
)

// ErrRunNotFound is returned by GetRun for an unknown run ID.
var ErrRunNotFound = sql.ErrNoRows

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (creating if needed) the database at dbPath.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL mode for concurrent reads while the submitter writes.
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_foreign_keys=ON", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		total INTEGER NOT NULL,
		confirmed INTEGER NOT NULL DEFAULT 0,
		success INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS run_batches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		batch_index INTEGER NOT NULL,
		size INTEGER NOT NULL,
		tx_hash TEXT,
		block_number INTEGER DEFAULT 0,
		gas_used INTEGER DEFAULT 0,
		effective_gas_price INTEGER DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_run_batches_run ON run_batches(run_id);

	CREATE TABLE IF NOT EXISTS price_alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		observed_at DATETIME NOT NULL,
		previous_wei INTEGER NOT NULL,
		current_wei INTEGER NOT NULL,
		change_pct INTEGER NOT NULL,
		direction TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_price_alerts_observed ON price_alerts(observed_at DESC);

	CREATE TABLE IF NOT EXISTS gas_reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		generated_at DATETIME NOT NULL,
		days INTEGER NOT NULL,
		from_block INTEGER NOT NULL,
		to_block INTEGER NOT NULL,
		total_tx INTEGER NOT NULL,
		skipped_tx INTEGER NOT NULL DEFAULT 0,
		total_gas INTEGER NOT NULL,
		total_cost_wei TEXT NOT NULL,
		avg_gas INTEGER NOT NULL,
		avg_cost_wei TEXT NOT NULL,
		records_written INTEGER NOT NULL DEFAULT 0
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SaveRun persists the run summary and all its batch results in one
// transaction, so a run row never exists without its batches.
func (s *SQLiteStorage) SaveRun(ctx context.Context, run *types.BatchRunResult, startedAt, finishedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	status := types.RunFailed
	if run.Success {
		status = types.RunCompleted
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, total, confirmed, success, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.RunID, startedAt, finishedAt, run.Total, run.Confirmed(),
		boolToInt(run.Success), string(status), nullString(run.ErrorMessage))
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_batches (run_id, batch_index, size, tx_hash, block_number, gas_used, effective_gas_price, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, b := range run.Batches {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, err := stmt.ExecContext(ctx, run.RunID, b.BatchIndex, b.Size,
			nullString(b.TxHash), b.BlockNumber, b.GasUsed, b.EffectiveGasPrice,
			string(b.Status), nullString(b.Error))
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetRun loads one run and its batch results.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, total, confirmed, success, status, error_message
		FROM runs WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_index, size, tx_hash, block_number, gas_used, effective_gas_price, status, error
		FROM run_batches
		WHERE run_id = ?
		ORDER BY batch_index
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var b types.BatchResult
		var txHash, batchErr sql.NullString
		var status string
		if err := rows.Scan(&b.BatchIndex, &b.Size, &txHash, &b.BlockNumber,
			&b.GasUsed, &b.EffectiveGasPrice, &status, &batchErr); err != nil {
			return nil, err
		}
		b.TxHash = txHash.String
		b.Error = batchErr.String
		b.Status = types.BatchStatus(status)
		run.Batches = append(run.Batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns a page of run summaries, newest first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit, offset int) (*PaginatedRuns, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, total, confirmed, success, status, error_message
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := &PaginatedRuns{Total: total, Limit: limit, Offset: offset}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		page.Runs = append(page.Runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return page, nil
}

// SaveAlert persists one volatility alert.
func (s *SQLiteStorage) SaveAlert(ctx context.Context, alert *types.PriceAlert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO price_alerts (observed_at, previous_wei, current_wei, change_pct, direction)
		VALUES (?, ?, ?, ?, ?)
	`, alert.ObservedAt, alert.PreviousWei, alert.CurrentWei, alert.ChangePct, string(alert.Direction))
	return err
}

// ListAlerts returns a page of alerts, newest first.
func (s *SQLiteStorage) ListAlerts(ctx context.Context, limit, offset int) (*PaginatedAlerts, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM price_alerts").Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT observed_at, previous_wei, current_wei, change_pct, direction
		FROM price_alerts
		ORDER BY observed_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := &PaginatedAlerts{Total: total, Limit: limit, Offset: offset}
	for rows.Next() {
		var a types.PriceAlert
		var direction string
		if err := rows.Scan(&a.ObservedAt, &a.PreviousWei, &a.CurrentWei, &a.ChangePct, &direction); err != nil {
			return nil, err
		}
		a.Direction = types.AlertDirection(direction)
		page.Alerts = append(page.Alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return page, nil
}

// SaveReport archives one gas report.
func (s *SQLiteStorage) SaveReport(ctx context.Context, report *types.GasReport) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gas_reports (generated_at, days, from_block, to_block, total_tx, skipped_tx,
			total_gas, total_cost_wei, avg_gas, avg_cost_wei, records_written)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, report.GeneratedAt, report.Days, report.FromBlock, report.ToBlock,
		report.TotalTx, report.SkippedTx, report.TotalGas, report.TotalCostWei,
		report.AvgGas, report.AvgCostWei, report.RecordsWritten)
	return err
}

// ListReports returns the most recent reports, newest first.
func (s *SQLiteStorage) ListReports(ctx context.Context, limit int) ([]types.GasReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT generated_at, days, from_block, to_block, total_tx, skipped_tx,
			total_gas, total_cost_wei, avg_gas, avg_cost_wei, records_written
		FROM gas_reports
		ORDER BY generated_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []types.GasReport
	for rows.Next() {
		var r types.GasReport
		if err := rows.Scan(&r.GeneratedAt, &r.Days, &r.FromBlock, &r.ToBlock,
			&r.TotalTx, &r.SkippedTx, &r.TotalGas, &r.TotalCostWei,
			&r.AvgGas, &r.AvgCostWei, &r.RecordsWritten); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reports, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var success int
	var status string
	var errorMsg sql.NullString

	err := row.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Total,
		&run.Confirmed, &success, &status, &errorMsg)
	if err != nil {
		return nil, err
	}

	run.Success = success == 1
	run.Status = types.RunStatus(status)
	run.ErrorMessage = errorMsg.String
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
