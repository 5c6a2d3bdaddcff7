// Package sandbox runs generated functions under a wall-clock timeout, in a
// throwaway working directory, either in-process through the yaegi
// interpreter or in a resource-limited child process.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"lux/internal/config"
	"lux/internal/logging"
)

// ErrorType classifies a failed run.
type ErrorType string

const (
	ErrorTimeout ErrorType = "timeout"
	ErrorRuntime ErrorType = "runtime"
	ErrorLoad    ErrorType = "load"
)

// Result is the outcome of one execution. Faults never propagate as panics
// or errors; they are reported here.
type Result struct {
	Success        bool          `json:"success"`
	Result         interface{}   `json:"result,omitempty"`
	Error          string        `json:"error,omitempty"`
	ErrorType      ErrorType     `json:"error_type,omitempty"`
	ExecutionTime  time.Duration `json:"execution_time"`
	MemoryUsed     uint64        `json:"memory_used"`
	LimitsEnforced bool          `json:"limits_enforced"`
}

// Config configures the executor.
type Config struct {
	Timeout      time.Duration
	Isolated     bool
	ChildCommand []string
	Limits       Limits
	GoPath       string
}

// Limits are the POSIX resource limits applied by the child process.
// Zero means unlimited.
type Limits struct {
	MemoryMB     int `json:"memory_mb,omitempty"`
	CPUSeconds   int `json:"cpu_seconds,omitempty"`
	MaxOpenFiles int `json:"max_open_files,omitempty"`
}

// ConfigFrom builds the executor config from the application config.
func ConfigFrom(cfg *config.Config, gopath string) Config {
	return Config{
		Timeout:      cfg.GetExecutionTimeout(),
		Isolated:     cfg.Execution.Isolated,
		ChildCommand: cfg.Execution.ChildCommand,
		Limits: Limits{
			MemoryMB:     cfg.Execution.MemoryLimitMB,
			CPUSeconds:   cfg.Execution.CPUSeconds,
			MaxOpenFiles: cfg.Execution.MaxOpenFiles,
		},
		GoPath: gopath,
	}
}

// Executor is the safe executor.
type Executor struct {
	config Config
	loader *Loader
}

// NewExecutor creates an executor.
func NewExecutor(cfg Config) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.GoPath != "" {
		if p, err := filepath.Abs(cfg.GoPath); err == nil {
			cfg.GoPath = p
		}
	}
	return &Executor{config: cfg, loader: &Loader{GoPath: cfg.GoPath}}
}

// Timeout returns the configured wall-clock timeout.
func (e *Executor) Timeout() time.Duration { return e.config.Timeout }

// WithTimeout returns a copy of the executor using d.
func (e *Executor) WithTimeout(d time.Duration) *Executor {
	cfg := e.config
	cfg.Timeout = d
	return &Executor{config: cfg, loader: e.loader}
}

// Run loads the function stored at path and executes it, in a child process
// when isolation is configured.
func (e *Executor) Run(ctx context.Context, path, name string, args ...string) Result {
	if e.config.Isolated {
		return e.runIsolated(ctx, path, name, args)
	}
	code, err := os.ReadFile(path)
	if err != nil {
		logging.SandboxWarn("load %s failed: %v", name, err)
		return Result{Error: fmt.Sprintf("failed to read function file: %v", err), ErrorType: ErrorLoad}
	}
	return e.RunSource(ctx, string(code), name, args...)
}

// RunSource executes code directly; the repair loop uses it for smoke runs.
// Interpretation happens inside the timed work directory, so package
// initializers are bounded like the call itself.
func (e *Executor) RunSource(ctx context.Context, code, name string, args ...string) Result {
	return e.execute(ctx, func() (Callable, error) {
		return e.loader.LoadSource(code, name)
	}, args)
}

// chdirMu guards the process working directory.
var chdirMu sync.Mutex

type outcome struct {
	value   interface{}
	err     error
	loadErr error
	panic   interface{}
}

// Execute runs fn on a worker goroutine in a fresh temp directory. On
// timeout the worker is abandoned and its directory is left behind.
func (e *Executor) Execute(ctx context.Context, fn Callable, args ...string) Result {
	return e.execute(ctx, func() (Callable, error) { return fn, nil }, args)
}

func (e *Executor) execute(ctx context.Context, load func() (Callable, error), args []string) Result {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	dir, err := os.MkdirTemp("", "lux-exec-*")
	if err != nil {
		return Result{Error: fmt.Sprintf("failed to create work dir: %v", err), ErrorType: ErrorRuntime}
	}

	chdirMu.Lock()
	prev, err := os.Getwd()
	if err == nil {
		err = os.Chdir(dir)
	}
	if err != nil {
		chdirMu.Unlock()
		os.RemoveAll(dir)
		return Result{Error: fmt.Sprintf("failed to enter work dir: %v", err), ErrorType: ErrorRuntime}
	}

	abandoned := false
	defer func() {
		if err := os.Chdir(prev); err != nil {
			logging.SandboxWarn("failed to restore working directory %s: %v", prev, err)
		}
		chdirMu.Unlock()
		if !abandoned {
			os.RemoveAll(dir)
		}
	}()

	var before runtime.MemStats
	runtime.ReadMemStats(&before)
	start := time.Now()

	done := make(chan outcome, 1)
	go func() {
		var o outcome
		defer func() {
			if r := recover(); r != nil {
				o.panic = r
			}
			done <- o
		}()
		fn, err := load()
		if err != nil {
			o.loadErr = err
			return
		}
		o.value, o.err = fn(args...)
	}()

	select {
	case o := <-done:
		elapsed := time.Since(start)
		var after runtime.MemStats
		runtime.ReadMemStats(&after)
		res := Result{ExecutionTime: elapsed, MemoryUsed: heapDelta(before, after)}

		switch {
		case o.loadErr != nil:
			logging.SandboxWarn("load failed: %v", o.loadErr)
			res.Error = o.loadErr.Error()
			res.ErrorType = ErrorLoad
		case o.panic != nil:
			res.Error = fmt.Sprintf("panic: %v", o.panic)
			res.ErrorType = ErrorRuntime
		case o.err != nil:
			res.Error = o.err.Error()
			res.ErrorType = ErrorRuntime
		default:
			res.Success = true
			res.Result = o.value
		}
		logging.SandboxDebug("run finished in %v success=%v", elapsed, res.Success)
		return res

	case <-ctx.Done():
		abandoned = true
		elapsed := time.Since(start)
		logging.SandboxWarn("execution abandoned after %v: %v", elapsed, ctx.Err())
		return Result{
			Error:         fmt.Sprintf("execution exceeded the time limit of %v", e.config.Timeout),
			ErrorType:     ErrorTimeout,
			ExecutionTime: elapsed,
		}
	}
}

func heapDelta(before, after runtime.MemStats) uint64 {
	if after.HeapAlloc > before.HeapAlloc {
		return after.HeapAlloc - before.HeapAlloc
	}
	return 0
}
