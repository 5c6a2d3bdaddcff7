package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// historyStore keeps every execution in SQLite.
type historyStore struct {
	db *sql.DB
}

func openHistory(path string) (*historyStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single connection; writes are serialized.
	db.SetMaxOpenConns(1)

	h := &historyStore{db: db}
	if err := h.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

func (h *historyStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		function TEXT NOT NULL,
		ts INTEGER NOT NULL,
		success INTEGER NOT NULL,
		execution_time REAL NOT NULL,
		memory_used INTEGER NOT NULL DEFAULT 0,
		result TEXT,
		error TEXT,
		error_type TEXT,
		args TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_executions_function_ts ON executions(function, ts);
	`
	if _, err := h.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create executions table: %w", err)
	}
	return nil
}

func (h *historyStore) insert(ctx context.Context, e Entry) error {
	args, err := json.Marshal(e.Args)
	if err != nil {
		return fmt.Errorf("failed to marshal args: %w", err)
	}
	success := 0
	if e.Success {
		success = 1
	}
	_, err = h.db.ExecContext(ctx, `
		INSERT INTO executions
			(id, function, ts, success, execution_time, memory_used, result, error, error_type, args)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ExecutionID, e.Function, e.Timestamp.UnixNano(), success,
		e.ExecutionTime, int64(e.MemoryUsed), e.Result, e.Error, e.ErrorType, string(args),
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution %s: %w", e.ExecutionID, err)
	}
	return nil
}

// recent returns up to limit executions of function, newest first.
func (h *historyStore) recent(ctx context.Context, function string, limit int) ([]Entry, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, function, ts, success, execution_time, memory_used, result, error, error_type, args
		FROM executions
		WHERE function = ?
		ORDER BY ts DESC, rowid DESC
		LIMIT ?`,
		function, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                       Entry
			ts, memory              int64
			success                 int
			result, errMsg, errType sql.NullString
			args                    sql.NullString
		)
		if err := rows.Scan(&e.ExecutionID, &e.Function, &ts, &success, &e.ExecutionTime, &memory, &result, &errMsg, &errType, &args); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		e.Success = success == 1
		e.MemoryUsed = uint64(memory)
		e.Result = result.String
		e.Error = errMsg.String
		e.ErrorType = errType.String
		if args.Valid && args.String != "" {
			_ = json.Unmarshal([]byte(args.String), &e.Args)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}
	return out, nil
}

// totals counts every execution of function ever recorded.
func (h *historyStore) totals(ctx context.Context, function string) (total, successful int, err error) {
	row := h.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(success), 0)
		FROM executions
		WHERE function = ?`, function)
	if err := row.Scan(&total, &successful); err != nil {
		return 0, 0, fmt.Errorf("failed to count executions: %w", err)
	}
	return total, successful, nil
}

func (h *historyStore) forget(ctx context.Context, function string) error {
	if _, err := h.db.ExecContext(ctx, `DELETE FROM executions WHERE function = ?`, function); err != nil {
		return fmt.Errorf("failed to delete executions of %s: %w", function, err)
	}
	return nil
}

func (h *historyStore) close() error {
	return h.db.Close()
}
