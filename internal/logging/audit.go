package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// AUDIT EVENT TYPES - Lifecycle gate decisions
// =============================================================================

// AuditEventType identifies a lifecycle event (maps to a Mangle predicate)
type AuditEventType string

const (
	// Creation pipeline -> function_lifecycle/4
	AuditFunctionProposed AuditEventType = "function_proposed"
	AuditFunctionCreated  AuditEventType = "function_created"
	AuditFunctionRejected AuditEventType = "function_rejected"
	AuditFunctionRemoved  AuditEventType = "function_removed"

	// Gates -> gate_decision/4
	AuditSecurityBlock   AuditEventType = "security_block"
	AuditPermissionDeny  AuditEventType = "permission_deny"
	AuditPermissionGrant AuditEventType = "permission_grant"
	AuditDependencyBlock AuditEventType = "dependency_block"

	// Execution -> function_exec/4
	AuditFunctionExecute AuditEventType = "function_execute"
	AuditFunctionTimeout AuditEventType = "function_timeout"
)

// AuditEvent is one JSON line of the audit trail
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"`
	EventType  AuditEventType         `json:"event"`
	RequestID  string                 `json:"req,omitempty"`
	Function   string                 `json:"function"`
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
	MangleFact string                 `json:"mangle"`
}

var (
	auditFile *os.File
	auditMu   sync.Mutex
)

// AuditLogger writes lifecycle events scoped to a request
type AuditLogger struct {
	requestID string
}

// InitAudit opens the audit trail in the logs directory
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil
	}

	configMu.RLock()
	dir := logsDir
	configMu.RUnlock()

	path := filepath.Join(dir, fmt.Sprintf("%s_audit.log", time.Now().Format("2006-01-02")))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns an audit logger without request scope
func Audit() *AuditLogger {
	return &AuditLogger{}
}

// AuditWithRequest returns an audit logger scoped to a request
func AuditWithRequest(requestID string) *AuditLogger {
	return &AuditLogger{requestID: requestID}
}

// Log writes an audit event
func (a *AuditLogger) Log(event AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile == nil {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.RequestID == "" {
		event.RequestID = a.requestID
	}
	event.MangleFact = generateMangleFact(event)

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.Write(append(data, '\n'))
	}
}

func generateMangleFact(e AuditEvent) string {
	switch e.EventType {
	case AuditSecurityBlock, AuditPermissionDeny, AuditPermissionGrant, AuditDependencyBlock:
		return fmt.Sprintf("gate_decision(%d, /%s, %q, %q).", e.Timestamp, e.EventType, e.Function, escapeString(e.Reason))
	case AuditFunctionExecute, AuditFunctionTimeout:
		return fmt.Sprintf("function_exec(%d, %q, %v, %d).", e.Timestamp, e.Function, e.Success, e.DurationMs)
	default:
		return fmt.Sprintf("function_lifecycle(%d, /%s, %q, %v).", e.Timestamp, e.EventType, e.Function, e.Success)
	}
}

func escapeString(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// Created records a successful creation
func (a *AuditLogger) Created(function string, durationMs int64) {
	a.Log(AuditEvent{EventType: AuditFunctionCreated, Function: function, Success: true, DurationMs: durationMs})
}

// Rejected records a creation rejected by a gate
func (a *AuditLogger) Rejected(eventType AuditEventType, function, reason string) {
	a.Log(AuditEvent{EventType: eventType, Function: function, Reason: reason})
	a.Log(AuditEvent{EventType: AuditFunctionRejected, Function: function, Reason: reason})
}

// Executed records a function execution
func (a *AuditLogger) Executed(function string, success, timedOut bool, durationMs int64) {
	eventType := AuditFunctionExecute
	if timedOut {
		eventType = AuditFunctionTimeout
	}
	a.Log(AuditEvent{EventType: eventType, Function: function, Success: success, DurationMs: durationMs})
}
