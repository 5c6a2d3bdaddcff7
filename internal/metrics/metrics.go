// Package metrics records executions, errors and creations of generated
// functions. Log files are JSON lines; execution history lives in SQLite.
package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"lux/internal/jsonstore"
	"lux/internal/logging"
)

// Window is the number of recent executions aggregated into a Snapshot.
const Window = 100

// Entry is one execution of a function.
type Entry struct {
	ExecutionID   string    `json:"execution_id"`
	Function      string    `json:"function"`
	Timestamp     time.Time `json:"timestamp"`
	Success       bool      `json:"success"`
	ExecutionTime float64   `json:"execution_time"`
	MemoryUsed    uint64    `json:"memory_used"`
	Result        string    `json:"result,omitempty"`
	Error         string    `json:"error,omitempty"`
	ErrorType     string    `json:"error_type,omitempty"`
	Args          []string  `json:"args,omitempty"`
}

// Snapshot aggregates a function's recent executions. TotalExecutions and
// SuccessfulExecutions count the whole history; every other field covers
// the last Window executions.
type Snapshot struct {
	Function             string     `json:"function"`
	TotalExecutions      int        `json:"total_executions"`
	SuccessfulExecutions int        `json:"successful_executions"`
	ErrorCount           int        `json:"error_count"`
	AverageExecutionTime float64    `json:"average_execution_time"`
	MinExecutionTime     float64    `json:"min_execution_time"`
	MaxExecutionTime     float64    `json:"max_execution_time"`
	AverageMemoryUsed    float64    `json:"average_memory_used"`
	LastExecution        *time.Time `json:"last_execution"`
	ExecutionHistory     []Entry    `json:"execution_history"`
}

// Manager owns the log writers and the history database.
type Manager struct {
	logsDir string
	history *historyStore
	now     func() time.Time

	mu      sync.Mutex
	writers map[string]*writer
}

type writer struct {
	log  *zap.Logger
	file *os.File
}

// New opens the history database at dbPath and prepares logsDir.
func New(logsDir, dbPath string) (*Manager, error) {
	for _, dir := range []string{logsDir, filepath.Join(logsDir, "functions", "errors"), filepath.Join(logsDir, "metrics")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	h, err := openHistory(dbPath)
	if err != nil {
		return nil, err
	}
	return &Manager{
		logsDir: logsDir,
		history: h,
		now:     time.Now,
		writers: make(map[string]*writer),
	}, nil
}

// writerFor returns the JSON-lines logger appending to rel under logsDir.
func (m *Manager) writerFor(rel string) (*zap.Logger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.writers[rel]; ok {
		return w.log, nil
	}
	path := filepath.Join(m.logsDir, rel)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		MessageKey:     "event",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(file), zapcore.DebugLevel)
	w := &writer{log: zap.New(core), file: file}
	m.writers[rel] = w
	return w.log, nil
}

func (m *Manager) write(event string, fields []zap.Field, files ...string) error {
	var firstErr error
	for _, rel := range files {
		log, err := m.writerFor(rel)
		if err != nil {
			logging.MetricsError("%v", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		log.Info(event, fields...)
	}
	return firstErr
}

// LogExecution appends e to executions.log and functions/<name>.log, stores
// it in the history database and refreshes metrics/<name>.json. A missing
// ExecutionID or Timestamp is filled in.
func (m *Manager) LogExecution(e Entry) (Snapshot, error) {
	if e.ExecutionID == "" {
		e.ExecutionID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = m.now()
	}

	fields := []zap.Field{
		zap.String("execution_id", e.ExecutionID),
		zap.String("function", e.Function),
		zap.Bool("success", e.Success),
		zap.Float64("execution_time", e.ExecutionTime),
		zap.Uint64("memory_used", e.MemoryUsed),
		zap.Strings("args", e.Args),
	}
	if e.Success {
		fields = append(fields, zap.String("result", e.Result))
	} else {
		fields = append(fields, zap.String("error", e.Error), zap.String("error_type", e.ErrorType))
	}
	if err := m.write("execution", fields, "executions.log", filepath.Join("functions", e.Function+".log")); err != nil {
		return Snapshot{}, err
	}

	ctx := context.Background()
	if err := m.history.insert(ctx, e); err != nil {
		logging.MetricsError("%v", err)
		return Snapshot{}, err
	}
	snap, err := m.Metrics(e.Function)
	if err != nil {
		return Snapshot{}, err
	}
	if err := jsonstore.Write(m.snapshotPath(e.Function), snap); err != nil {
		logging.MetricsError("failed to write metrics for %s: %v", e.Function, err)
		return snap, err
	}
	logging.Metrics("%s executed (success=%v, %.3fs)", e.Function, e.Success, e.ExecutionTime)
	return snap, nil
}

// LogError appends to errors.log and functions/errors/<name>_errors.log.
func (m *Manager) LogError(function string, err error, details map[string]interface{}) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	fields := []zap.Field{
		zap.String("function", function),
		zap.String("error", msg),
		zap.Any("context", details),
	}
	return m.write("error", fields, "errors.log", filepath.Join("functions", "errors", function+"_errors.log"))
}

// LogCreation appends a creation attempt to creations.log.
func (m *Manager) LogCreation(function, description string, success bool, details map[string]interface{}) error {
	fields := []zap.Field{
		zap.String("function", function),
		zap.String("description", description),
		zap.Bool("success", success),
		zap.Any("metadata", details),
	}
	return m.write("creation", fields, "creations.log")
}

// Metrics computes the snapshot of function from the history database.
func (m *Manager) Metrics(function string) (Snapshot, error) {
	ctx := context.Background()
	snap := Snapshot{Function: function, ExecutionHistory: []Entry{}}

	total, successful, err := m.history.totals(ctx, function)
	if err != nil {
		return snap, err
	}
	snap.TotalExecutions = total
	snap.SuccessfulExecutions = successful

	recent, err := m.history.recent(ctx, function, Window)
	if err != nil {
		return snap, err
	}
	if len(recent) == 0 {
		return snap, nil
	}

	last := recent[0].Timestamp
	snap.LastExecution = &last
	snap.MinExecutionTime = recent[0].ExecutionTime
	var sumTime, sumMem float64
	for _, e := range recent {
		if !e.Success {
			snap.ErrorCount++
		}
		sumTime += e.ExecutionTime
		sumMem += float64(e.MemoryUsed)
		if e.ExecutionTime < snap.MinExecutionTime {
			snap.MinExecutionTime = e.ExecutionTime
		}
		if e.ExecutionTime > snap.MaxExecutionTime {
			snap.MaxExecutionTime = e.ExecutionTime
		}
	}
	n := float64(len(recent))
	snap.AverageExecutionTime = sumTime / n
	snap.AverageMemoryUsed = sumMem / n

	// Oldest first, like an append-only log.
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	snap.ExecutionHistory = recent
	return snap, nil
}

// History returns up to limit executions of function, newest first.
func (m *Manager) History(function string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = Window
	}
	return m.history.recent(context.Background(), function, limit)
}

// Forget drops the history and metrics file of function. Log files are kept.
func (m *Manager) Forget(function string) error {
	if err := m.history.forget(context.Background(), function); err != nil {
		return err
	}
	if err := os.Remove(m.snapshotPath(function)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove metrics of %s: %w", function, err)
	}
	return nil
}

func (m *Manager) snapshotPath(function string) string {
	return filepath.Join(m.logsDir, "metrics", function+".json")
}

// Close flushes the log writers and closes the database.
func (m *Manager) Close() error {
	m.mu.Lock()
	for rel, w := range m.writers {
		_ = w.log.Sync()
		w.file.Close()
		delete(m.writers, rel)
	}
	m.mu.Unlock()
	return m.history.close()
}
