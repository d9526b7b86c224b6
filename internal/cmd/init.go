package cmd

import (
	"context"
	"path/filepath"

	"github.com/Iron-Ham/hookline/internal/coordination"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a hookline store",
	Long: `Initialize a hookline store in the store directory (default .hookline).
This creates the record directories and an empty ledger.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		cfg := hub.Config()
		dir, err := filepath.Abs(cfg.Store.Dir)
		if err != nil {
			dir = cfg.Store.Dir
		}
		printf(cmd, "hookline initialized\n")
		printf(cmd, "Store directory: %s (%s backend, %s ledger)\n", dir, cfg.Store.Backend, cfg.Ledger.Backend)
		return nil
	})
}
