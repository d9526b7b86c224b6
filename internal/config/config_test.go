package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Store.Dir != ".hookline" {
		t.Errorf("Store.Dir = %q, want %q", cfg.Store.Dir, ".hookline")
	}
	if cfg.Store.Backend != "file" {
		t.Errorf("Store.Backend = %q, want %q", cfg.Store.Backend, "file")
	}
	if cfg.Queue.DefaultMaxRetries != 3 {
		t.Errorf("Queue.DefaultMaxRetries = %d, want 3", cfg.Queue.DefaultMaxRetries)
	}
	if !cfg.Workflow.AutoComplete || !cfg.Workflow.FailOnStepFailure || !cfg.Workflow.AutoDispatch {
		t.Errorf("Workflow defaults = %+v, want all enabled", cfg.Workflow)
	}
	if cfg.Gate.EvalWorkers != 4 {
		t.Errorf("Gate.EvalWorkers = %d, want 4", cfg.Gate.EvalWorkers)
	}
	if cfg.Ledger.Backend != "jsonl" || !cfg.Ledger.Chain {
		t.Errorf("Ledger = %+v, want jsonl with chain", cfg.Ledger)
	}
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Default().Validate() = %v, want none", errs)
	}
}

func TestDurations(t *testing.T) {
	cfg := Default()
	if got := cfg.Queue.Retention(); got != 168*time.Hour {
		t.Errorf("Retention() = %v, want 168h", got)
	}
	if got := cfg.Queue.StaleClaim(); got != time.Hour {
		t.Errorf("StaleClaim() = %v, want 1h", got)
	}
	if got := cfg.Gate.CommandTimeout(); got != 5*time.Minute {
		t.Errorf("CommandTimeout() = %v, want 5m", got)
	}
}

func TestStoreResolve(t *testing.T) {
	s := StoreConfig{Dir: "/var/hookline"}
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"ledger.jsonl", filepath.Join("/var/hookline", "ledger.jsonl")},
		{"/abs/ledger.db", "/abs/ledger.db"},
	}
	for _, tt := range tests {
		if got := s.Resolve(tt.in); got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty store dir", func(c *Config) { c.Store.Dir = " " }, "store.dir"},
		{"bad backend", func(c *Config) { c.Store.Backend = "redis" }, "store.backend"},
		{"sqlite pool", func(c *Config) { c.Store.Backend = "sqlite"; c.Store.SQLitePoolSize = 0 }, "store.sqlite_pool_size"},
		{"negative retries", func(c *Config) { c.Queue.DefaultMaxRetries = -1 }, "queue.default_max_retries"},
		{"zero workers", func(c *Config) { c.Gate.EvalWorkers = 0 }, "gate.eval_workers"},
		{"too many workers", func(c *Config) { c.Gate.EvalWorkers = 1000 }, "gate.eval_workers"},
		{"zero timeout", func(c *Config) { c.Gate.CommandTimeoutSeconds = 0 }, "gate.command_timeout_seconds"},
		{"path in allowlist", func(c *Config) { c.Gate.ExtraAllowedCommands = []string{"/usr/bin/curl"} }, "gate.extra_allowed_commands[0]"},
		{"ledger backend", func(c *Config) { c.Ledger.Backend = "kafka" }, "ledger.backend"},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"log size", func(c *Config) { c.Logging.MaxSizeMB = 0 }, "logging.max_size_mb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if len(errs) == 0 {
				t.Fatal("Validate() returned no errors")
			}
			if errs[0].Field != tt.field {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.field)
			}
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	if got := ValidationErrors(nil).Error(); got != "" {
		t.Errorf("empty Error() = %q, want empty", got)
	}
	one := ValidationErrors{{Field: "a", Value: 1, Message: "bad"}}
	if got := one.Error(); got != "a: bad (got: 1)" {
		t.Errorf("single Error() = %q", got)
	}
	two := append(one, ValidationError{Field: "b", Value: 2, Message: "worse"})
	if got := two.Error(); !strings.HasPrefix(got, "2 validation errors:") {
		t.Errorf("multi Error() = %q", got)
	}
}

func TestConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	if got := ConfigDir(); got != filepath.Join("/tmp/xdg", "hookline") {
		t.Errorf("ConfigDir() = %q", got)
	}
	if got := ConfigFile(); got != filepath.Join("/tmp/xdg", "hookline", "config.yaml") {
		t.Errorf("ConfigFile() = %q", got)
	}
}

func TestLoad(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Gate.MaxOutputBytes != 64*1024 {
		t.Errorf("Gate.MaxOutputBytes = %d, want 65536", cfg.Gate.MaxOutputBytes)
	}

	viper.Set("gate.eval_workers", 0)
	if _, err := Load(); err == nil {
		t.Error("Load() with invalid value should fail")
	}
	if got := Get(); got.Gate.EvalWorkers != 4 {
		t.Errorf("Get() fallback EvalWorkers = %d, want 4", got.Gate.EvalWorkers)
	}
}
