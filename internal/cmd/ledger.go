package cmd

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/hookline/internal/coordination"
	"github.com/Iron-Ham/hookline/internal/ledger"
	"github.com/spf13/cobra"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Query the audit ledger",
	Long: `Query the append-only ledger of every transition.

Entries link to the entry that caused them; "ledger trace" follows those
links back to the root cause.`,
}

var ledgerEntityCmd = &cobra.Command{
	Use:   "entity <type> <id>",
	Short: "Show entries about one entity in order",
	Long: `Show entries about one entity in creation order.

Types: queue, work_item, workflow, step, template, gate, submission.`,
	Args: cobra.ExactArgs(2),
	RunE: runLedgerEntity,
}

var ledgerAgentCmd = &cobra.Command{
	Use:   "agent <agent>",
	Short: "Show an agent's entries, most recent first",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerAgent,
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show <entry>",
	Short: "Show one entry and the entries it caused",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerShow,
}

var ledgerTraceCmd = &cobra.Command{
	Use:   "trace <entry>",
	Short: "Follow parent links from an entry to its root cause",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerTrace,
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check sequence numbers and the hash chain",
	Args:  cobra.NoArgs,
	RunE:  runLedgerVerify,
}

var ledgerLimit int

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerEntityCmd, ledgerAgentCmd, ledgerShowCmd, ledgerTraceCmd, ledgerVerifyCmd)
	ledgerAgentCmd.Flags().IntVarP(&ledgerLimit, "limit", "n", 50, "Maximum entries (0 for all)")
}

func runLedgerEntity(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		entries, err := hub.Ledger().EntriesForEntity(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return emit(cmd, entries, func() { printEntries(cmd, entries) })
	})
}

func runLedgerAgent(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		entries, err := hub.Ledger().EntriesForAgent(ctx, args[0], ledgerLimit)
		if err != nil {
			return err
		}
		return emit(cmd, entries, func() { printEntries(cmd, entries) })
	})
}

func runLedgerShow(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		e, err := hub.Ledger().Get(ctx, args[0])
		if err != nil {
			return err
		}
		children, err := hub.Ledger().Children(ctx, e.ID)
		if err != nil {
			return err
		}
		out := struct {
			Entry    *ledger.Entry  `json:"entry"`
			Children []ledger.Entry `json:"children"`
		}{e, children}
		return emit(cmd, out, func() {
			printEntry(cmd, e)
			if len(e.Data) > 0 {
				printf(cmd, "    data: %s\n", e.Data)
			}
			if e.ParentEntryID != "" {
				printf(cmd, "    parent: %s\n", e.ParentEntryID)
			}
			if len(children) > 0 {
				printf(cmd, "Caused:\n")
				printEntries(cmd, children)
			}
		})
	})
}

func runLedgerTrace(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		var chain []*ledger.Entry
		seen := map[string]bool{}
		for id := args[0]; id != ""; {
			if seen[id] {
				return fmt.Errorf("parent links loop at %s", id)
			}
			seen[id] = true
			e, err := hub.Ledger().Get(ctx, id)
			if err != nil {
				return err
			}
			chain = append(chain, e)
			id = e.ParentEntryID
		}
		return emit(cmd, chain, func() {
			for i, e := range chain {
				printf(cmd, "%*s", i*2, "")
				printEntry(cmd, e)
			}
		})
	})
}

func runLedgerVerify(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		report, err := hub.Ledger().Verify(ctx)
		if err != nil {
			return err
		}
		if perr := emit(cmd, report, func() {
			printf(cmd, "%d entries, %d chained\n", report.Entries, report.Chained)
			for _, b := range report.Breaks {
				printf(cmd, "  break at #%d %s: %s\n", b.Seq, b.ID, b.Reason)
			}
		}); perr != nil {
			return perr
		}
		if !report.OK() {
			return fmt.Errorf("ledger verification found %d breaks", len(report.Breaks))
		}
		return nil
	})
}

func printEntries(cmd *cobra.Command, entries []ledger.Entry) {
	for i := range entries {
		printEntry(cmd, &entries[i])
	}
}

func printEntry(cmd *cobra.Command, e *ledger.Entry) {
	printf(cmd, "%s  #%-5d %s  %-28s %s/%s  by %s",
		e.CreatedAt.Format("2006-01-02 15:04:05"), e.Seq, e.ID, e.Action, e.EntityType, e.EntityID, e.AgentID)
	if e.Message != "" {
		printf(cmd, "  %q", e.Message)
	}
	printf(cmd, "\n")
}
