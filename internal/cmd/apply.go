package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Iron-Ham/hookline/internal/config"
	"github.com/Iron-Ham/hookline/internal/coordination"
	"github.com/Iron-Ham/hookline/internal/definition"
	"github.com/Iron-Ham/hookline/internal/verify"
	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply <file-or-dir>...",
	Short: "Create gates and save templates from definition files",
	Long: `Load gate and workflow template definitions from YAML, JSON or JSONC
files and apply them. Gates whose id already exists are skipped; templates
are overwritten.

Directories are read non-recursively. Use --dry-run to validate only.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runApply,
}

var (
	applyDryRun bool
	applyActor  string
)

func init() {
	rootCmd.AddCommand(applyCmd)
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "Validate the definitions without applying them")
	applyCmd.Flags().StringVar(&applyActor, "as", "", "Agent applying the definitions")
}

// loadBundles reads every path into one bundle.
func loadBundles(paths []string) (*definition.Bundle, error) {
	merged := &definition.Bundle{}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		var b *definition.Bundle
		if info.IsDir() {
			b, err = definition.ReadDir(p)
		} else {
			b, err = definition.ReadFile(p)
		}
		if err != nil {
			return nil, err
		}
		merged.Gates = append(merged.Gates, b.Gates...)
		merged.Templates = append(merged.Templates, b.Templates...)
	}
	return merged, nil
}

func runApply(cmd *cobra.Command, args []string) error {
	b, err := loadBundles(args)
	if err != nil {
		return err
	}
	if applyDryRun {
		cfg := config.Get()
		issues := definition.Validate(b, verify.NewValidator(cfg.Gate.ExtraAllowedCommands...))
		if len(issues) > 0 {
			return fmt.Errorf("%d definition issues:\n  %s", len(issues), strings.Join(issues, "\n  "))
		}
		printf(cmd, "%d gates and %d templates are valid\n", len(b.Gates), len(b.Templates))
		return nil
	}
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		res, err := hub.Apply(ctx, b, applyActor)
		if err != nil {
			return err
		}
		return emit(cmd, res, func() {
			for _, id := range res.GatesCreated {
				printf(cmd, "created gate %s\n", id)
			}
			for _, id := range res.GatesSkipped {
				printf(cmd, "skipped gate %s (exists)\n", id)
			}
			for _, id := range res.Templates {
				printf(cmd, "saved template %s\n", id)
			}
		})
	})
}
