package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "gate.eval_workers")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidStoreBackends returns the record store backends
func ValidStoreBackends() []string {
	return []string{"file", "sqlite"}
}

// ValidLedgerBackends returns the ledger backends
func ValidLedgerBackends() []string {
	return []string{"jsonl", "sqlite"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, c.validateStore()...)
	errs = append(errs, c.validateQueue()...)
	errs = append(errs, c.validateGate()...)
	errs = append(errs, c.validateLedger()...)
	errs = append(errs, c.validateLogging()...)
	return errs
}

func oneOf(field, value string, valid []string) []ValidationError {
	if slices.Contains(valid, value) {
		return nil
	}
	return []ValidationError{{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(valid, ", ")),
	}}
}

func (c *Config) validateStore() []ValidationError {
	var errs []ValidationError
	if strings.TrimSpace(c.Store.Dir) == "" {
		errs = append(errs, ValidationError{Field: "store.dir", Value: c.Store.Dir, Message: "must not be empty"})
	}
	errs = append(errs, oneOf("store.backend", c.Store.Backend, ValidStoreBackends())...)
	if c.Store.Backend == "sqlite" && c.Store.SQLitePoolSize <= 0 {
		errs = append(errs, ValidationError{Field: "store.sqlite_pool_size", Value: c.Store.SQLitePoolSize, Message: "must be positive"})
	}
	return errs
}

func (c *Config) validateQueue() []ValidationError {
	var errs []ValidationError
	if c.Queue.DefaultMaxRetries < 0 {
		errs = append(errs, ValidationError{Field: "queue.default_max_retries", Value: c.Queue.DefaultMaxRetries, Message: "must be non-negative"})
	}
	if c.Queue.RetentionHours < 0 {
		errs = append(errs, ValidationError{Field: "queue.retention_hours", Value: c.Queue.RetentionHours, Message: "must be non-negative"})
	}
	if c.Queue.StaleClaimMinutes < 0 {
		errs = append(errs, ValidationError{Field: "queue.stale_claim_minutes", Value: c.Queue.StaleClaimMinutes, Message: "must be non-negative"})
	}
	return errs
}

func (c *Config) validateGate() []ValidationError {
	var errs []ValidationError
	if c.Gate.EvalWorkers <= 0 {
		errs = append(errs, ValidationError{Field: "gate.eval_workers", Value: c.Gate.EvalWorkers, Message: "must be positive"})
	}
	const maxWorkers = 64
	if c.Gate.EvalWorkers > maxWorkers {
		errs = append(errs, ValidationError{Field: "gate.eval_workers", Value: c.Gate.EvalWorkers, Message: fmt.Sprintf("exceeds maximum of %d", maxWorkers)})
	}
	if c.Gate.EvalQueueSize <= 0 {
		errs = append(errs, ValidationError{Field: "gate.eval_queue_size", Value: c.Gate.EvalQueueSize, Message: "must be positive"})
	}
	if c.Gate.CommandTimeoutSeconds <= 0 {
		errs = append(errs, ValidationError{Field: "gate.command_timeout_seconds", Value: c.Gate.CommandTimeoutSeconds, Message: "must be positive"})
	}
	if c.Gate.MaxOutputBytes <= 0 {
		errs = append(errs, ValidationError{Field: "gate.max_output_bytes", Value: c.Gate.MaxOutputBytes, Message: "must be positive"})
	}
	for i, cmd := range c.Gate.ExtraAllowedCommands {
		if strings.TrimSpace(cmd) == "" || strings.ContainsAny(cmd, "/ \t") {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("gate.extra_allowed_commands[%d]", i),
				Value:   cmd,
				Message: "must be a bare executable name",
			})
		}
	}
	return errs
}

func (c *Config) validateLedger() []ValidationError {
	return oneOf("ledger.backend", c.Ledger.Backend, ValidLedgerBackends())
}

func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB <= 0 {
		errs = append(errs, ValidationError{Field: "logging.max_size_mb", Value: c.Logging.MaxSizeMB, Message: "must be positive"})
	}
	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errs = append(errs, ValidationError{Field: "logging.max_size_mb", Value: c.Logging.MaxSizeMB, Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB)})
	}
	if c.Logging.MaxBackups < 0 {
		errs = append(errs, ValidationError{Field: "logging.max_backups", Value: c.Logging.MaxBackups, Message: "must be non-negative"})
	}
	return errs
}
