// Package errors provides the error taxonomy shared by the queue, workflow,
// gate and ledger packages, plus classification helpers.
//
// # Error Kinds
//
// Every failure surfaced by the core belongs to one kind:
//   - InvalidStateError: the entity is not in a status compatible with the operation
//   - NotFoundError: a referenced queue, item, workflow, step, gate or submission is missing
//   - CommandBlockedError: a verification command was rejected by the validator
//   - TransientError: a command or consumer failed in a way a retry may fix
//   - StorageError: a record could not be read or persisted
//
// ValidationError and TimeoutError cover malformed input and bounded waits.
//
// # Usage
//
//	err := errors.NewInvalidStateError("step", stepID, "COMPLETED", "IN_PROGRESS")
//
//	if errors.Is(err, errors.ErrInvalidState) { ... }
//
//	var blocked *errors.CommandBlockedError
//	if errors.As(err, &blocked) {
//	    fmt.Println(blocked.Rule)
//	}
//
//	switch errors.KindOf(err) {
//	case errors.KindNotFound:
//	    ...
//	}
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Kind classifies an error into the core taxonomy.
type Kind string

const (
	KindUnknown      Kind = "unknown"
	KindInvalidState Kind = "invalid_state"
	KindNotFound     Kind = "not_found"
	KindBlocked      Kind = "command_blocked"
	KindTransient    Kind = "transient"
	KindStorage      Kind = "storage"
	KindValidation   Kind = "validation"
	KindTimeout      Kind = "timeout"
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidState indicates an operation against an incompatible status.
	ErrInvalidState = New("invalid state")
	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = New("not found")
	// ErrCommandBlocked indicates a verification command failed validation.
	ErrCommandBlocked = New("command blocked")
	// ErrTransient indicates a failure that may succeed on retry.
	ErrTransient = New("transient failure")
	// ErrStorage indicates a record could not be read or written.
	ErrStorage = New("storage failure")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// CoreError is implemented by every error type in this package.
type CoreError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Kind returns the taxonomy bucket of this error.
	Kind() Kind

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the operation may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the message is safe to show an operator.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	kind       Kind
	severity   Severity
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Kind() Kind         { return e.kind }
func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) IsRetryable() bool  { return e.retryable }
func (e *baseError) IsUserFacing() bool { return e.userFacing }

// -----------------------------------------------------------------------------
// Taxonomy Errors
// -----------------------------------------------------------------------------

// InvalidStateError reports an operation attempted against an entity whose
// current status does not permit it, including re-applying a transition that
// already happened.
//
// Example:
//
//	err := errors.NewInvalidStateError("workflow", "mol_123", "ACTIVE", "ACTIVE")
//	fmt.Println(err) // "invalid state [workflow=mol_123]: cannot move from ACTIVE to ACTIVE"
type InvalidStateError struct {
	baseError
	Entity    string
	ID        string
	Current   string
	Attempted string
}

// NewInvalidStateError creates a new InvalidStateError.
func NewInvalidStateError(entity, id, current, attempted string) *InvalidStateError {
	return &InvalidStateError{
		baseError: baseError{
			message:    fmt.Sprintf("cannot move from %s to %s", current, attempted),
			kind:       KindInvalidState,
			severity:   SeverityWarning,
			userFacing: true,
		},
		Entity:    entity,
		ID:        id,
		Current:   current,
		Attempted: attempted,
	}
}

// WithReason replaces the default transition message.
func (e *InvalidStateError) WithReason(reason string) *InvalidStateError {
	e.message = reason
	return e
}

// Error returns the formatted error message.
func (e *InvalidStateError) Error() string {
	prefix := "invalid state"
	if e.Entity != "" {
		prefix = fmt.Sprintf("invalid state [%s=%s]", e.Entity, e.ID)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *InvalidStateError) Is(target error) bool {
	if _, ok := target.(*InvalidStateError); ok {
		return true
	}
	if target == ErrInvalidState {
		return true
	}
	return e.baseError.Is(target)
}

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("queue", "hook_abc")
//	fmt.Println(err) // "queue 'hook_abc' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			kind:       KindNotFound,
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	if target == ErrNotFound {
		return true
	}
	return e.baseError.Is(target)
}

// BlockRule names the validator rule a command violated.
type BlockRule string

const (
	// RuleEmpty rejects empty or whitespace-only commands.
	RuleEmpty BlockRule = "empty_command"
	// RuleDangerousPattern rejects shell metacharacters and constructs.
	RuleDangerousPattern BlockRule = "dangerous_pattern"
	// RuleNotAllowlisted rejects executables outside the allowlist.
	RuleNotAllowlisted BlockRule = "not_allowlisted"
	// RuleUnparseable rejects commands that cannot be tokenized.
	RuleUnparseable BlockRule = "unparseable"
	// RuleDangerousArgument rejects arguments that make an allowlisted
	// executable run other programs or modify files.
	RuleDangerousArgument BlockRule = "dangerous_argument"
)

// CommandBlockedError reports a verification command that was never run.
//
// Example:
//
//	err := errors.NewCommandBlockedError("curl http://x", errors.RuleNotAllowlisted, "executable \"curl\" is not allowlisted")
type CommandBlockedError struct {
	baseError
	Command string
	Rule    BlockRule
}

// NewCommandBlockedError creates a new CommandBlockedError.
func NewCommandBlockedError(command string, rule BlockRule, reason string) *CommandBlockedError {
	return &CommandBlockedError{
		baseError: baseError{
			message:    reason,
			kind:       KindBlocked,
			severity:   SeverityWarning,
			userFacing: true,
		},
		Command: command,
		Rule:    rule,
	}
}

// Reason returns the human-readable explanation.
func (e *CommandBlockedError) Reason() string { return e.message }

// Error returns the formatted error message.
func (e *CommandBlockedError) Error() string {
	return fmt.Sprintf("command blocked [rule=%s]: %s", e.Rule, e.message)
}

// Is checks if this error matches the target.
func (e *CommandBlockedError) Is(target error) bool {
	if _, ok := target.(*CommandBlockedError); ok {
		return true
	}
	return target == ErrCommandBlocked
}

// TransientError reports a failure the retry rules are expected to absorb:
// a verification command exiting non-zero, or a consumer reporting failure.
type TransientError struct {
	baseError
	Operation string
	ExitCode  int
}

// NewTransientError creates a new TransientError.
func NewTransientError(operation string, cause error) *TransientError {
	return &TransientError{
		baseError: baseError{
			message:    operation,
			cause:      cause,
			kind:       KindTransient,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		ExitCode:  -1,
	}
}

// WithExitCode records the process exit code.
func (e *TransientError) WithExitCode(code int) *TransientError {
	e.ExitCode = code
	return e
}

// Error returns the formatted error message.
func (e *TransientError) Error() string {
	prefix := "transient failure"
	if e.ExitCode >= 0 {
		prefix = fmt.Sprintf("transient failure [exit=%d]", e.ExitCode)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *TransientError) Is(target error) bool {
	if _, ok := target.(*TransientError); ok {
		return true
	}
	if target == ErrTransient {
		return true
	}
	return e.baseError.Is(target)
}

// StorageError reports an I/O failure reading or persisting a record. The
// triggering call must fail; the entity is left as it was before the call.
type StorageError struct {
	baseError
	Op     string
	Record string
	ID     string
}

// NewStorageError creates a new StorageError.
func NewStorageError(op, record, id string, cause error) *StorageError {
	return &StorageError{
		baseError: baseError{
			message:  op,
			cause:    cause,
			kind:     KindStorage,
			severity: SeverityError,
		},
		Op:     op,
		Record: record,
		ID:     id,
	}
}

// Error returns the formatted error message.
func (e *StorageError) Error() string {
	var parts []string
	if e.Record != "" {
		parts = append(parts, fmt.Sprintf("record=%s", e.Record))
	}
	if e.ID != "" {
		parts = append(parts, fmt.Sprintf("id=%s", e.ID))
	}
	prefix := "storage error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("storage error [%s]", strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Op, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Op)
}

// Is checks if this error matches the target.
func (e *StorageError) Is(target error) bool {
	if _, ok := target.(*StorageError); ok {
		return true
	}
	if target == ErrStorage {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// ValidationError represents invalid input.
//
// Example:
//
//	err := errors.NewValidationError("step depends on itself")
//	err = err.WithField("depends_on").WithValue("step_1")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			kind:       KindValidation,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if target == ErrInvalidInput {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("pytest tests/", 5*time.Minute)
//	fmt.Println(err) // "timeout error: pytest tests/ (timeout: 5m0s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			kind:       KindTimeout,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if target == ErrTimeout {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// KindOf returns the taxonomy bucket of err. Errors wrapping one of the
// package sentinels are classified by that sentinel.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var coreErr CoreError
	if As(err, &coreErr) {
		return coreErr.Kind()
	}
	switch {
	case Is(err, ErrInvalidState):
		return KindInvalidState
	case Is(err, ErrNotFound):
		return KindNotFound
	case Is(err, ErrCommandBlocked):
		return KindBlocked
	case Is(err, ErrTransient):
		return KindTransient
	case Is(err, ErrStorage):
		return KindStorage
	case Is(err, ErrInvalidInput):
		return KindValidation
	case Is(err, ErrTimeout):
		return KindTimeout
	}
	return KindUnknown
}

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var coreErr CoreError
	if As(err, &coreErr) {
		return coreErr.IsRetryable()
	}
	return Is(err, ErrTimeout) || Is(err, ErrTransient)
}

// IsUserFacing returns true if the error message is safe to display to an
// operator rather than only logging it.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var coreErr CoreError
	if As(err, &coreErr) {
		return coreErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement CoreError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var coreErr CoreError
	if As(err, &coreErr) {
		return coreErr.Severity()
	}
	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
// Unlike building a new error, this preserves the CoreError chain.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
