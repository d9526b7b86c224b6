package cmd

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/hookline/internal/config"
	"github.com/Iron-Ham/hookline/internal/verify"
	"github.com/spf13/cobra"
)

var validateCommandCmd = &cobra.Command{
	Use:   "validate-command <command>",
	Short: "Check a verification command against the allowlist",
	Long: `Check whether a gate verification command would be allowed to run.

The command is tokenized like a shell would, then checked for dangerous
patterns and against the executable allowlist (extended by
gate.extra_allowed_commands). Exits non-zero when the command is blocked.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidateCommand,
}

var validateListAllowed bool

func init() {
	rootCmd.AddCommand(validateCommandCmd)
	validateCommandCmd.Flags().BoolVar(&validateListAllowed, "list", false, "Also print the allowed executables")
}

func runValidateCommand(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	v := verify.NewValidator(cfg.Gate.ExtraAllowedCommands...)
	res := v.Validate(strings.Join(args, " "))

	if err := emit(cmd, res, func() {
		if res.Valid {
			printf(cmd, "allowed: %s\n", res.Command)
		} else {
			printf(cmd, "blocked (%s): %s\n", res.Rule, res.Reason)
		}
		if validateListAllowed {
			printf(cmd, "allowlist: %s\n", strings.Join(v.Allowed(), ", "))
		}
	}); err != nil {
		return err
	}
	if !res.Valid {
		return fmt.Errorf("command blocked: %w", res.Err())
	}
	return nil
}
