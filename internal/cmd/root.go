package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Iron-Ham/hookline/internal/config"
	"github.com/Iron-Ham/hookline/internal/coordination"
	"github.com/Iron-Ham/hookline/internal/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "hookline",
	Short: "Work queues, workflows and approval gates for agent teams",
	Long: `Hookline coordinates a team of agents through shared work queues
(hooks), multi-step workflows (molecules) and approval gates, recording
every transition in an append-only ledger.

State lives under the store directory (default .hookline) and is safe to
share between concurrent hookline processes.`,
	SilenceUsage: true,
}

var jsonOutput bool

// Execute runs the root command
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	rootCmd.SilenceErrors = true
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		printError(rootCmd.ErrOrStderr(), err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/hookline/config.yaml)")
	rootCmd.PersistentFlags().StringP("dir", "d", "", "store directory (default .hookline)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("store.dir", rootCmd.PersistentFlags().Lookup("dir"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("HOOKLINE")
	// e.g., HOOKLINE_GATE_EVAL_WORKERS for gate.eval_workers
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// openHub loads the configuration and opens a hub over the store. The
// file watcher is left off since every command is short-lived.
func openHub() (*coordination.Hub, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	hub, err := coordination.Open(cfg, coordination.WithWatch(false))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open store %s", cfg.Store.Dir)
	}
	return hub, nil
}

// withHub opens a hub for the duration of fn.
func withHub(cmd *cobra.Command, fn func(ctx context.Context, hub *coordination.Hub) error) error {
	hub, err := openHub()
	if err != nil {
		return err
	}
	err = fn(cmd.Context(), hub)
	if cerr := hub.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// emit prints v as indented JSON when --json is set, otherwise calls text.
func emit(cmd *cobra.Command, v any, text func()) error {
	if !jsonOutput {
		text()
		return nil
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
