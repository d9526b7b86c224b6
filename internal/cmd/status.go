package cmd

import (
	"context"

	"github.com/Iron-Ham/hookline/internal/coordination"
	"github.com/Iron-Ham/hookline/internal/hook"
	"github.com/Iron-Ham/hookline/internal/molecule"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize queues, active workflows and pending reviews",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusReport struct {
	Queues    []hook.Stats         `json:"queues"`
	Workflows []*molecule.Workflow `json:"workflows"`
	Pending   map[string]int       `json:"pending_reviews"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		report := statusReport{Pending: map[string]int{}}

		ids, err := hub.Queues().Queues(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			st, err := hub.Queues().Stats(ctx, id)
			if err != nil {
				return err
			}
			report.Queues = append(report.Queues, st)
		}

		report.Workflows, err = hub.Engine().List(ctx, molecule.StatusDraft, molecule.StatusActive)
		if err != nil {
			return err
		}

		gates, err := hub.Gates().List(ctx)
		if err != nil {
			return err
		}
		for _, g := range gates {
			subs, err := hub.Gates().PendingReview(ctx, g.ID)
			if err != nil {
				return err
			}
			if len(subs) > 0 {
				report.Pending[g.ID] = len(subs)
			}
		}

		return emit(cmd, report, func() {
			printf(cmd, "Queues: %d\n", len(report.Queues))
			for _, st := range report.Queues {
				printf(cmd, "  %-20s queued=%d claimed=%d in_progress=%d failed=%d\n",
					st.QueueID, st.Queued, st.Claimed, st.InProgress, st.Failed)
			}
			printf(cmd, "Open workflows: %d\n", len(report.Workflows))
			for _, wf := range report.Workflows {
				counts := wf.Counts()
				printf(cmd, "  %s  %-6s  %s  (%d/%d steps completed)\n",
					wf.ID, wf.Status, wf.Name, counts[molecule.StepCompleted], len(wf.Steps))
			}
			printf(cmd, "Gates with pending reviews: %d\n", len(report.Pending))
			for id, n := range report.Pending {
				printf(cmd, "  %s: %d\n", id, n)
			}
		})
	})
}
