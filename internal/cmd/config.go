package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Iron-Ham/hookline/internal/config"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify hookline configuration",
	Long: `View or modify hookline configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  hookline config set store.backend sqlite
  hookline config set gate.eval_workers 8
  hookline config set gate.extra_allowed_commands swift,xcodebuild

Run 'hookline config show' to see every key.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/hookline/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	settings := viper.AllSettings()
	delete(settings, "config")

	if jsonOutput {
		return emit(cmd, settings, nil)
	}
	if viper.ConfigFileUsed() != "" {
		printf(cmd, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		printf(cmd, "# Config file: (none - using defaults)\n")
	}
	out, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	printf(cmd, "%s", out)
	return nil
}

// coerce converts value to the type of the key's default.
func coerce(key, value string) (any, error) {
	def := viper.Get(key)
	switch def.(type) {
	case bool:
		return cast.ToBoolE(value)
	case int:
		return cast.ToIntE(value)
	case float64:
		return cast.ToFloat64E(value)
	case []string, []any:
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return slices.DeleteFunc(parts, func(s string) bool { return s == "" }), nil
	default:
		return cast.ToStringE(value)
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := strings.ToLower(args[0])
	value := args[1]

	if key == "config" || !slices.Contains(viper.AllKeys(), key) {
		return fmt.Errorf("unknown configuration key: %s\nRun 'hookline config show' to see valid keys", key)
	}
	typedValue, err := coerce(key, value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	viper.Set(key, typedValue)
	if _, err := config.Load(); err != nil {
		return err
	}

	// Ensure config directory exists
	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = config.ConfigFile()
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	printf(cmd, "Set %s = %v\n", key, typedValue)
	printf(cmd, "Config saved to %s\n", configFile)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'hookline config set' to modify values", configFile)
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configContent := `# Hookline Configuration

# Where queues, workflows, gates and the ledger are stored
store:
  dir: .hookline
  # file: one YAML document per record; sqlite: a single database
  backend: file
  sqlite_path: hookline.db
  sqlite_pool_size: 4
  # Drop cached records when their files change on disk
  watch: true

queue:
  default_max_retries: 3
  # Completed and failed items older than this are pruned
  retention_hours: 168
  # Claims older than this are returned by release-stale (0 disables)
  stale_claim_minutes: 60

workflow:
  auto_complete: true
  fail_on_step_failure: true
  # Enqueue a work item on the step's department queue when it becomes available
  auto_dispatch: true

gate:
  eval_workers: 4
  eval_queue_size: 64
  command_timeout_seconds: 300
  max_output_bytes: 65536
  # Executables allowed in verification commands beyond the built-in list
  extra_allowed_commands: []

ledger:
  # jsonl or sqlite
  backend: jsonl
  path: ledger.jsonl
  # Link entries with a blake3 hash chain
  chain: true

logging:
  enabled: true
  level: info
  max_size_mb: 10
  max_backups: 3
  compress: false
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	printf(cmd, "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		printf(cmd, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		printf(cmd, "Default path: %s (not created)\n", configFile)
	}

	printf(cmd, "\nSearch paths:\n")
	printf(cmd, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	printf(cmd, "  2. ./config.yaml (current directory)\n")
	printf(cmd, "\nEnvironment variables: HOOKLINE_* (e.g., HOOKLINE_GATE_EVAL_WORKERS)\n")
	return nil
}
