package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"lux/internal/logging"
)

// ChildCommandName is the hidden CLI command that serves RunChild.
const ChildCommandName = "sandbox-child"

// ChildRequest is written to the child's stdin.
type ChildRequest struct {
	Path   string   `json:"path"`
	Name   string   `json:"name"`
	Args   []string `json:"args"`
	GoPath string   `json:"gopath,omitempty"`
	Limits Limits   `json:"limits"`
}

// ChildResponse is read from the child's stdout.
type ChildResponse struct {
	Success        bool        `json:"success"`
	Result         interface{} `json:"result,omitempty"`
	Error          string      `json:"error,omitempty"`
	ErrorType      ErrorType   `json:"error_type,omitempty"`
	MemoryUsed     uint64      `json:"memory_used"`
	LimitsEnforced bool        `json:"limits_enforced"`
}

func (e *Executor) childCommand() ([]string, error) {
	if len(e.config.ChildCommand) > 0 {
		return e.config.ChildCommand, nil
	}
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate host binary: %w", err)
	}
	return []string{self, ChildCommandName}, nil
}

// runIsolated executes the function in a child process. A timeout kills it.
func (e *Executor) runIsolated(ctx context.Context, path, name string, args []string) Result {
	argv, err := e.childCommand()
	if err != nil {
		return Result{Error: err.Error(), ErrorType: ErrorRuntime}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return Result{Error: err.Error(), ErrorType: ErrorLoad}
	}
	gopath := e.config.GoPath
	if gopath != "" {
		if p, err := filepath.Abs(gopath); err == nil {
			gopath = p
		}
	}
	req, err := json.Marshal(ChildRequest{Path: abs, Name: name, Args: args, GoPath: gopath, Limits: e.config.Limits})
	if err != nil {
		return Result{Error: fmt.Sprintf("failed to encode request: %v", err), ErrorType: ErrorRuntime}
	}

	dir, err := os.MkdirTemp("", "lux-child-*")
	if err != nil {
		return Result{Error: fmt.Sprintf("failed to create work dir: %v", err), ErrorType: ErrorRuntime}
	}
	defer os.RemoveAll(dir)

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdin = bytes.NewReader(req)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		logging.SandboxWarn("child for %s killed after %v", name, elapsed)
		return Result{
			Error:         fmt.Sprintf("execution exceeded the time limit of %v", e.config.Timeout),
			ErrorType:     ErrorTimeout,
			ExecutionTime: elapsed,
		}
	}

	var resp ChildResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		msg := fmt.Sprintf("child process failed: %v", runErr)
		if runErr == nil {
			msg = fmt.Sprintf("invalid child response: %v", err)
		}
		if s := strings.TrimSpace(stderr.String()); s != "" {
			msg += ": " + s
		}
		return Result{Error: msg, ErrorType: ErrorRuntime, ExecutionTime: elapsed}
	}
	if !resp.LimitsEnforced {
		logging.SandboxWarn("resource limits not enforced for %s on %s; only the timeout applies", name, runtime.GOOS)
	}

	return Result{
		Success:        resp.Success,
		Result:         resp.Result,
		Error:          resp.Error,
		ErrorType:      resp.ErrorType,
		ExecutionTime:  elapsed,
		MemoryUsed:     resp.MemoryUsed,
		LimitsEnforced: resp.LimitsEnforced,
	}
}

// RunChild serves one request in the child process: apply limits, load the
// function, call it and write the response.
func RunChild(in io.Reader, out io.Writer) error {
	var req ChildRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("failed to decode request: %w", err)
	}

	resp := serveChild(req)
	return json.NewEncoder(out).Encode(resp)
}

func serveChild(req ChildRequest) (resp ChildResponse) {
	enforced, err := applyLimits(req.Limits)
	if err != nil {
		return ChildResponse{Error: fmt.Sprintf("failed to apply limits: %v", err), ErrorType: ErrorRuntime}
	}
	resp.LimitsEnforced = enforced

	loader := &Loader{GoPath: req.GoPath}
	fn, err := loader.LoadFunction(req.Path, req.Name)
	if err != nil {
		resp.Error = err.Error()
		resp.ErrorType = ErrorLoad
		return resp
	}

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	defer func() {
		if r := recover(); r != nil {
			resp.Success = false
			resp.Result = nil
			resp.Error = fmt.Sprintf("panic: %v", r)
			resp.ErrorType = ErrorRuntime
		}
		runtime.ReadMemStats(&after)
		resp.MemoryUsed = heapDelta(before, after)
	}()

	value, err := fn(req.Args...)
	if err != nil {
		resp.Error = err.Error()
		resp.ErrorType = ErrorRuntime
		return resp
	}
	resp.Success = true
	resp.Result = value
	return resp
}
