package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/hookline/internal/coordination"
	"github.com/Iron-Ham/hookline/internal/handoff"
	"github.com/Iron-Ham/hookline/internal/hook"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	Aliases: []string{"hook"},
	Short:   "Work queue (hook) operations",
	Long: `Enqueue, claim and release work items on named queues.

Queues are created on first enqueue. Items are claimed in priority order
(critical, high, normal, low) and FIFO within a priority; a consumer only
claims items whose required capabilities it holds.`,
}

var queueEnqueueCmd = &cobra.Command{
	Use:   "enqueue <queue> <title>",
	Short: "Add a work item to a queue",
	Args:  cobra.ExactArgs(2),
	RunE:  runQueueEnqueue,
}

var queueClaimCmd = &cobra.Command{
	Use:   "claim <queue>",
	Short: "Claim the next eligible work item",
	Long: `Claim the highest-priority eligible item on a queue.

Prints nothing (and exits 0) when no item is eligible. With --brief the
claimed item is rendered as an assignment brief for the consumer.`,
	Args: cobra.ExactArgs(1),
	RunE: runQueueClaim,
}

var queueStartCmd = &cobra.Command{
	Use:   "start <queue> <item>",
	Short: "Mark a claimed item as in progress",
	Args:  cobra.ExactArgs(2),
	RunE:  runQueueStart,
}

var queueReleaseCmd = &cobra.Command{
	Use:   "release <queue> <item>",
	Short: "Release a claimed item as completed or failed",
	Long: `Release a claimed or in-progress item.

Without --failed the item completes. A failed item returns to the queue
until it has used its retries, then fails permanently.`,
	Args: cobra.ExactArgs(2),
	RunE: runQueueRelease,
}

var queueListCmd = &cobra.Command{
	Use:   "list [queue]",
	Short: "List queues, or the items of one queue",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runQueueList,
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats <queue>",
	Short: "Count a queue's items by status",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueStats,
}

var queuePruneCmd = &cobra.Command{
	Use:   "prune [queue]",
	Short: "Remove completed and failed items past retention",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runQueuePrune,
}

var queueReleaseStaleCmd = &cobra.Command{
	Use:   "release-stale [queue]",
	Short: "Return items claimed too long ago to their queue",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runQueueReleaseStale,
}

var (
	enqueueDescription  string
	enqueuePriority     string
	enqueueCapabilities []string
	enqueueMaxRetries   int
	enqueueBy           string

	claimConsumer     string
	claimCapabilities []string
	claimItem         string
	claimBrief        bool

	releaseFailed bool
	releaseResult string

	listStatuses []string
	pruneOlder   time.Duration
	staleAfter   time.Duration
)

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueEnqueueCmd, queueClaimCmd, queueStartCmd, queueReleaseCmd,
		queueListCmd, queueStatsCmd, queuePruneCmd, queueReleaseStaleCmd)

	queueEnqueueCmd.Flags().StringVar(&enqueueDescription, "description", "", "Item description")
	queueEnqueueCmd.Flags().StringVarP(&enqueuePriority, "priority", "p", "normal", "Priority (critical/high/normal/low)")
	queueEnqueueCmd.Flags().StringSliceVar(&enqueueCapabilities, "requires", nil, "Capabilities a consumer must hold")
	queueEnqueueCmd.Flags().IntVar(&enqueueMaxRetries, "max-retries", -1, "Retries before the item fails (default from config)")
	queueEnqueueCmd.Flags().StringVar(&enqueueBy, "by", "", "Agent enqueuing the item")

	queueClaimCmd.Flags().StringVar(&claimConsumer, "as", "", "Consumer id (required)")
	queueClaimCmd.Flags().StringSliceVar(&claimCapabilities, "capabilities", nil, "Capabilities held by the consumer (globs allowed)")
	queueClaimCmd.Flags().StringVar(&claimItem, "item", "", "Claim this item instead of the next one")
	queueClaimCmd.Flags().BoolVar(&claimBrief, "brief", false, "Print the claimed item as an assignment brief")
	_ = queueClaimCmd.MarkFlagRequired("as")

	queueStartCmd.Flags().StringVar(&claimConsumer, "as", "", "Consumer id (required)")
	_ = queueStartCmd.MarkFlagRequired("as")

	queueReleaseCmd.Flags().BoolVar(&releaseFailed, "failed", false, "Release as failed")
	queueReleaseCmd.Flags().StringVar(&releaseResult, "result", "", "Result or error message")

	queueListCmd.Flags().StringSliceVar(&listStatuses, "status", nil, "Only items with these statuses")
	queuePruneCmd.Flags().DurationVar(&pruneOlder, "older-than", 0, "Retention window (default from config)")
	queueReleaseStaleCmd.Flags().DurationVar(&staleAfter, "after", 0, "Claim age considered stale (default from config)")
}

func runQueueEnqueue(cmd *cobra.Command, args []string) error {
	priority, err := hook.ParsePriority(enqueuePriority)
	if err != nil {
		return err
	}
	req := hook.EnqueueRequest{
		Title:                args[1],
		Description:          enqueueDescription,
		Priority:             priority,
		RequiredCapabilities: enqueueCapabilities,
		EnqueuedBy:           enqueueBy,
	}
	if enqueueMaxRetries >= 0 {
		n := enqueueMaxRetries
		req.MaxRetries = &n
	}
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		item, err := hub.Queues().Enqueue(ctx, args[0], req)
		if err != nil {
			return err
		}
		return emit(cmd, item, func() {
			printf(cmd, "Enqueued %s on %s (priority %s)\n", item.ID, item.QueueID, item.Priority)
		})
	})
}

func runQueueClaim(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		item, err := hub.Queues().Claim(ctx, args[0], hook.ClaimRequest{
			ConsumerID:   claimConsumer,
			Capabilities: claimCapabilities,
			ItemID:       claimItem,
		})
		if err != nil {
			return err
		}
		if item == nil {
			if jsonOutput {
				return emit(cmd, nil, nil)
			}
			return nil
		}
		if claimBrief {
			a, err := handoff.Decode(item)
			if err != nil {
				return err
			}
			printf(cmd, "%s", handoff.Brief([]handoff.Assignment{a}))
			return nil
		}
		return emit(cmd, item, func() { printItem(cmd, item) })
	})
}

func runQueueStart(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		item, err := hub.Queues().Start(ctx, args[0], args[1], claimConsumer)
		if err != nil {
			return err
		}
		return emit(cmd, item, func() { printf(cmd, "%s is %s\n", item.ID, item.Status) })
	})
}

func runQueueRelease(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		ok, err := hub.Queues().Release(ctx, args[0], args[1], !releaseFailed, releaseResult)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("item %s is not claimed on %s", args[1], args[0])
		}
		item, err := hub.Queues().Get(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return emit(cmd, item, func() {
			printf(cmd, "%s is %s (retries %d/%d)\n", item.ID, item.Status, item.RetryCount, item.MaxRetries)
		})
	})
}

func runQueueList(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		if len(args) == 0 {
			ids, err := hub.Queues().Queues(ctx)
			if err != nil {
				return err
			}
			return emit(cmd, ids, func() {
				for _, id := range ids {
					printf(cmd, "%s\n", id)
				}
			})
		}
		statuses := make([]hook.Status, 0, len(listStatuses))
		for _, s := range listStatuses {
			statuses = append(statuses, hook.Status(strings.ToUpper(s)))
		}
		items, err := hub.Queues().List(ctx, args[0], statuses...)
		if err != nil {
			return err
		}
		return emit(cmd, items, func() {
			for _, item := range items {
				printItem(cmd, item)
			}
		})
	})
}

func runQueueStats(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		st, err := hub.Queues().Stats(ctx, args[0])
		if err != nil {
			return err
		}
		return emit(cmd, st, func() {
			printf(cmd, "Queue %s: %d items\n", st.QueueID, st.Total)
			printf(cmd, "  queued:      %d\n", st.Queued)
			printf(cmd, "  claimed:     %d\n", st.Claimed)
			printf(cmd, "  in progress: %d\n", st.InProgress)
			printf(cmd, "  completed:   %d\n", st.Completed)
			printf(cmd, "  failed:      %d\n", st.Failed)
		})
	})
}

// queueTargets returns the named queue, or every queue when none is named.
func queueTargets(ctx context.Context, hub *coordination.Hub, args []string) ([]string, error) {
	if len(args) == 1 {
		return args, nil
	}
	return hub.Queues().Queues(ctx)
}

func runQueuePrune(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		older := pruneOlder
		if older <= 0 {
			older = hub.Config().Queue.Retention()
		}
		queues, err := queueTargets(ctx, hub, args)
		if err != nil {
			return err
		}
		pruned := map[string][]string{}
		for _, q := range queues {
			ids, err := hub.Queues().Prune(ctx, q, older)
			if err != nil {
				return err
			}
			if len(ids) > 0 {
				pruned[q] = ids
			}
		}
		return emit(cmd, pruned, func() {
			for _, q := range queues {
				printf(cmd, "%s: pruned %d items\n", q, len(pruned[q]))
			}
		})
	})
}

func runQueueReleaseStale(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		after := staleAfter
		if after <= 0 {
			after = hub.Config().Queue.StaleClaim()
		}
		if after <= 0 {
			return fmt.Errorf("stale claim release is disabled (queue.stale_claim_minutes = 0)")
		}
		queues, err := queueTargets(ctx, hub, args)
		if err != nil {
			return err
		}
		cutoff := time.Now().Add(-after)
		released := map[string][]string{}
		for _, q := range queues {
			ids, err := hub.Queues().ReleaseStale(ctx, q, cutoff)
			if err != nil {
				return err
			}
			if len(ids) > 0 {
				released[q] = ids
			}
		}
		return emit(cmd, released, func() {
			for _, q := range queues {
				printf(cmd, "%s: released %d stale claims\n", q, len(released[q]))
			}
		})
	})
}

func printItem(cmd *cobra.Command, item *hook.WorkItem) {
	printf(cmd, "%s  %-11s  %-8s  %-10s  %s", item.ID, item.Status, item.Priority, item.Kind, item.Title)
	if item.AssignedTo != "" {
		printf(cmd, "  (%s)", item.AssignedTo)
	}
	printf(cmd, "\n")
}
