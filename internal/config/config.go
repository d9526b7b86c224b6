package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete hookline configuration
type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Gate     GateConfig     `mapstructure:"gate"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// StoreConfig controls where entity records live
type StoreConfig struct {
	// Dir is the root of the store (default: ".hookline").
	Dir string `mapstructure:"dir"`
	// Backend is "file" (one YAML document per record) or "sqlite".
	Backend string `mapstructure:"backend"`
	// SQLitePath overrides the database location; relative paths resolve
	// against Dir (default: "hookline.db").
	SQLitePath string `mapstructure:"sqlite_path"`
	// Watch invalidates cached records when their files change on disk.
	// Only meaningful for the file backend.
	Watch bool `mapstructure:"watch"`
	// SQLitePoolSize is the connection pool size for the sqlite backend.
	SQLitePoolSize int `mapstructure:"sqlite_pool_size"`
}

// QueueConfig controls work-queue behavior
type QueueConfig struct {
	// DefaultMaxRetries applies when an enqueue does not set max retries (default: 3)
	DefaultMaxRetries int `mapstructure:"default_max_retries"`
	// RetentionHours is how long terminal items are kept before pruning (default: 168)
	RetentionHours int `mapstructure:"retention_hours"`
	// StaleClaimMinutes is how long an item may sit CLAIMED before
	// release-stale returns it to the queue (default: 60, 0 disables)
	StaleClaimMinutes int `mapstructure:"stale_claim_minutes"`
}

// WorkflowConfig controls workflow engine behavior
type WorkflowConfig struct {
	// AutoComplete completes a workflow once every step is COMPLETED (default: true)
	AutoComplete bool `mapstructure:"auto_complete"`
	// FailOnStepFailure fails the workflow when any step fails (default: true)
	FailOnStepFailure bool `mapstructure:"fail_on_step_failure"`
	// AutoDispatch enqueues a work item on the step department's queue when
	// a step becomes eligible (default: true)
	AutoDispatch bool `mapstructure:"auto_dispatch"`
}

// GateConfig controls approval gate evaluation
type GateConfig struct {
	// EvalWorkers is the number of concurrent async evaluations (default: 4)
	EvalWorkers int `mapstructure:"eval_workers"`
	// EvalQueueSize bounds pending async evaluations (default: 64)
	EvalQueueSize int `mapstructure:"eval_queue_size"`
	// CommandTimeoutSeconds bounds each verification command (default: 300)
	CommandTimeoutSeconds int `mapstructure:"command_timeout_seconds"`
	// ExtraAllowedCommands extends the executable allowlist
	ExtraAllowedCommands []string `mapstructure:"extra_allowed_commands"`
	// MaxOutputBytes caps captured stdout and stderr per command (default: 65536)
	MaxOutputBytes int `mapstructure:"max_output_bytes"`
	// WorkDir is the directory verification commands run in (default: current directory)
	WorkDir string `mapstructure:"work_dir"`
}

// LedgerConfig controls the audit ledger backend
type LedgerConfig struct {
	// Backend is "jsonl" or "sqlite" (default: "jsonl")
	Backend string `mapstructure:"backend"`
	// Path overrides the ledger location; relative paths resolve against store.dir
	Path string `mapstructure:"path"`
	// Chain stamps each entry with a blake3 hash linking it to its predecessor (default: true)
	Chain bool `mapstructure:"chain"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether logs are written to store.dir (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated log files (default: false)
	Compress bool `mapstructure:"compress"`
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Dir:            ".hookline",
			Backend:        "file",
			SQLitePath:     "hookline.db",
			Watch:          true,
			SQLitePoolSize: 4,
		},
		Queue: QueueConfig{
			DefaultMaxRetries: 3,
			RetentionHours:    168,
			StaleClaimMinutes: 60,
		},
		Workflow: WorkflowConfig{
			AutoComplete:      true,
			FailOnStepFailure: true,
			AutoDispatch:      true,
		},
		Gate: GateConfig{
			EvalWorkers:           4,
			EvalQueueSize:         64,
			CommandTimeoutSeconds: 300,
			ExtraAllowedCommands:  []string{},
			MaxOutputBytes:        64 * 1024,
		},
		Ledger: LedgerConfig{
			Backend: "jsonl",
			Path:    "ledger.jsonl",
			Chain:   true,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Retention returns the queue retention window.
func (c *QueueConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// StaleClaim returns the stale-claim window; zero disables it.
func (c *QueueConfig) StaleClaim() time.Duration {
	return time.Duration(c.StaleClaimMinutes) * time.Minute
}

// CommandTimeout returns the per-command timeout.
func (c *GateConfig) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

// Resolve returns p unchanged when absolute, otherwise joined to the store dir.
func (c *StoreConfig) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("store.dir", defaults.Store.Dir)
	viper.SetDefault("store.backend", defaults.Store.Backend)
	viper.SetDefault("store.sqlite_path", defaults.Store.SQLitePath)
	viper.SetDefault("store.watch", defaults.Store.Watch)
	viper.SetDefault("store.sqlite_pool_size", defaults.Store.SQLitePoolSize)

	viper.SetDefault("queue.default_max_retries", defaults.Queue.DefaultMaxRetries)
	viper.SetDefault("queue.retention_hours", defaults.Queue.RetentionHours)
	viper.SetDefault("queue.stale_claim_minutes", defaults.Queue.StaleClaimMinutes)

	viper.SetDefault("workflow.auto_complete", defaults.Workflow.AutoComplete)
	viper.SetDefault("workflow.fail_on_step_failure", defaults.Workflow.FailOnStepFailure)
	viper.SetDefault("workflow.auto_dispatch", defaults.Workflow.AutoDispatch)

	viper.SetDefault("gate.eval_workers", defaults.Gate.EvalWorkers)
	viper.SetDefault("gate.eval_queue_size", defaults.Gate.EvalQueueSize)
	viper.SetDefault("gate.command_timeout_seconds", defaults.Gate.CommandTimeoutSeconds)
	viper.SetDefault("gate.extra_allowed_commands", defaults.Gate.ExtraAllowedCommands)
	viper.SetDefault("gate.max_output_bytes", defaults.Gate.MaxOutputBytes)
	viper.SetDefault("gate.work_dir", defaults.Gate.WorkDir)

	viper.SetDefault("ledger.backend", defaults.Ledger.Backend)
	viper.SetDefault("ledger.path", defaults.Ledger.Path)
	viper.SetDefault("ledger.chain", defaults.Ledger.Chain)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when
// the loaded values do not validate.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hookline")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hookline"
	}
	return filepath.Join(home, ".config", "hookline")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
