package metrics

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lux/internal/jsonstore"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	logs := filepath.Join(dir, "logs")
	m, err := New(logs, filepath.Join(logs, "metrics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, logs
}

func readLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]interface{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		out = append(out, line)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestLogExecutionWritesLogsAndHistory(t *testing.T) {
	m, logs := newTestManager(t)

	snap, err := m.LogExecution(Entry{
		Function:      "abrir_youtube",
		Success:       true,
		ExecutionTime: 0.25,
		MemoryUsed:    2048,
		Result:        "YouTube abierto",
		Args:          []string{"youtube"},
	})
	require.NoError(t, err)
	m.Close()

	for _, rel := range []string{"executions.log", filepath.Join("functions", "abrir_youtube.log")} {
		lines := readLines(t, filepath.Join(logs, rel))
		require.Len(t, lines, 1, rel)
		assert.Equal(t, "execution", lines[0]["event"])
		assert.Equal(t, "abrir_youtube", lines[0]["function"])
		assert.Equal(t, true, lines[0]["success"])
		assert.Equal(t, "YouTube abierto", lines[0]["result"])
		_, err := uuid.Parse(lines[0]["execution_id"].(string))
		assert.NoError(t, err)
	}

	assert.Equal(t, 1, snap.TotalExecutions)
	assert.Equal(t, 1, snap.SuccessfulExecutions)
	assert.Zero(t, snap.ErrorCount)
	require.Len(t, snap.ExecutionHistory, 1)
	assert.Equal(t, []string{"youtube"}, snap.ExecutionHistory[0].Args)

	var onDisk Snapshot
	found, err := jsonstore.Read(filepath.Join(logs, "metrics", "abrir_youtube.json"), &onDisk)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, onDisk.TotalExecutions)
}

func TestMetricsAggregates(t *testing.T) {
	m, _ := newTestManager(t)
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	runs := []struct {
		ok   bool
		secs float64
		mem  uint64
	}{
		{true, 1, 100},
		{false, 3, 300},
		{true, 2, 200},
	}
	for i, r := range runs {
		e := Entry{Function: "f", Timestamp: base.Add(time.Duration(i) * time.Minute), Success: r.ok, ExecutionTime: r.secs, MemoryUsed: r.mem}
		if !r.ok {
			e.Error = "boom"
			e.ErrorType = "runtime"
		}
		_, err := m.LogExecution(e)
		require.NoError(t, err)
	}

	snap, err := m.Metrics("f")
	require.NoError(t, err)
	assert.Equal(t, 3, snap.TotalExecutions)
	assert.Equal(t, 2, snap.SuccessfulExecutions)
	assert.Equal(t, 1, snap.ErrorCount)
	assert.InDelta(t, 2.0, snap.AverageExecutionTime, 1e-9)
	assert.InDelta(t, 1.0, snap.MinExecutionTime, 1e-9)
	assert.InDelta(t, 3.0, snap.MaxExecutionTime, 1e-9)
	assert.InDelta(t, 200.0, snap.AverageMemoryUsed, 1e-9)
	require.NotNil(t, snap.LastExecution)
	assert.True(t, snap.LastExecution.Equal(base.Add(2*time.Minute)))

	require.Len(t, snap.ExecutionHistory, 3)
	assert.Equal(t, "runtime", snap.ExecutionHistory[1].ErrorType)
	assert.True(t, snap.ExecutionHistory[0].Timestamp.Before(snap.ExecutionHistory[2].Timestamp))

	newest, err := m.History("f", 1)
	require.NoError(t, err)
	require.Len(t, newest, 1)
	assert.InDelta(t, 2.0, newest[0].ExecutionTime, 1e-9)
}

func TestMetricsWindow(t *testing.T) {
	m, _ := newTestManager(t)
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	// 10 slow failed runs fall out of the window once 100 fast ones follow.
	for i := 0; i < Window+10; i++ {
		secs, ok := 0.5, true
		if i < 10 {
			secs, ok = 100, false
		}
		_, err := m.LogExecution(Entry{Function: "f", Timestamp: base.Add(time.Duration(i) * time.Second), Success: ok, ExecutionTime: secs})
		require.NoError(t, err)
	}

	snap, err := m.Metrics("f")
	require.NoError(t, err)
	assert.Equal(t, Window+10, snap.TotalExecutions)
	assert.Equal(t, Window, snap.SuccessfulExecutions)
	assert.Zero(t, snap.ErrorCount, "errors outside the window are not counted")
	assert.Len(t, snap.ExecutionHistory, Window)
	assert.InDelta(t, 0.5, snap.MaxExecutionTime, 1e-9)

	_, err = m.LogExecution(Entry{Function: "f", Timestamp: base.Add(time.Hour), Success: false, ExecutionTime: 0.5})
	require.NoError(t, err)
	snap, err = m.Metrics("f")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.ErrorCount)
}

func TestMetricsUnknownFunction(t *testing.T) {
	m, _ := newTestManager(t)
	snap, err := m.Metrics("nadie")
	require.NoError(t, err)
	assert.Zero(t, snap.TotalExecutions)
	assert.Nil(t, snap.LastExecution)
	assert.Empty(t, snap.ExecutionHistory)
}

func TestLogErrorAndCreation(t *testing.T) {
	m, logs := newTestManager(t)

	require.NoError(t, m.LogError("f", errors.New("division by zero"), map[string]interface{}{"args": []string{"1", "0"}}))
	require.NoError(t, m.LogCreation("f", "divide numbers", false, map[string]interface{}{"stage": "security"}))
	m.Close()

	errs := readLines(t, filepath.Join(logs, "functions", "errors", "f_errors.log"))
	require.Len(t, errs, 1)
	assert.Equal(t, "division by zero", errs[0]["error"])
	assert.Len(t, readLines(t, filepath.Join(logs, "errors.log")), 1)

	created := readLines(t, filepath.Join(logs, "creations.log"))
	require.Len(t, created, 1)
	assert.Equal(t, "divide numbers", created[0]["description"])
	assert.Equal(t, false, created[0]["success"])
	assert.Equal(t, map[string]interface{}{"stage": "security"}, created[0]["metadata"])
}

func TestForget(t *testing.T) {
	m, logs := newTestManager(t)
	_, err := m.LogExecution(Entry{Function: "f", Success: true, ExecutionTime: 1})
	require.NoError(t, err)

	require.NoError(t, m.Forget("f"))
	snap, err := m.Metrics("f")
	require.NoError(t, err)
	assert.Zero(t, snap.TotalExecutions)
	_, err = os.Stat(filepath.Join(logs, "metrics", "f.json"))
	assert.True(t, os.IsNotExist(err))
}
