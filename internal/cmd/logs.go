package cmd

import (
	"fmt"
	"time"

	"github.com/Iron-Ham/hookline/internal/config"
	"github.com/Iron-Ham/hookline/internal/logging"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View hookline logs",
	Long: `View and filter the structured log written to the store directory.

Examples:
  # Show the last 50 lines
  hookline logs

  # Everything about one workflow in the last hour
  hookline logs --workflow wf_1739... --since 1h -n 0

  # Warnings and errors as JSON
  hookline logs --level warn --format json`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsTail     int
	logsLevel    string
	logsSince    time.Duration
	logsQueue    string
	logsWorkflow string
	logsGate     string
	logsAgent    string
	logsGrep     string
	logsFormat   string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of lines to show (0 for all)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().DurationVar(&logsSince, "since", 0, "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsQueue, "queue", "", "Only lines about this queue")
	logsCmd.Flags().StringVar(&logsWorkflow, "workflow", "", "Only lines about this workflow")
	logsCmd.Flags().StringVar(&logsGate, "gate", "", "Only lines about this gate")
	logsCmd.Flags().StringVar(&logsAgent, "agent", "", "Only lines about this agent")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Only lines whose message contains this text")
	logsCmd.Flags().StringVar(&logsFormat, "format", "text", "Output format (text/json)")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	entries, err := logging.ReadLogs(cfg.Store.Dir)
	if err != nil {
		return err
	}
	filter := logging.LogFilter{
		Level:           logsLevel,
		QueueID:         logsQueue,
		WorkflowID:      logsWorkflow,
		GateID:          logsGate,
		AgentID:         logsAgent,
		MessageContains: logsGrep,
	}
	if logsSince > 0 {
		filter.Since = time.Now().Add(-logsSince)
	}
	entries = logging.FilterLogs(entries, filter)
	if logsTail > 0 && len(entries) > logsTail {
		entries = entries[len(entries)-logsTail:]
	}
	if err := logging.WriteLogs(cmd.OutOrStdout(), entries, logsFormat); err != nil {
		return fmt.Errorf("failed to write logs: %w", err)
	}
	return nil
}
