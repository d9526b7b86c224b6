package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/hookline/internal/coordination"
	"github.com/Iron-Ham/hookline/internal/gate"
	"github.com/spf13/cobra"
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Approval gate operations",
	Long: `Create approval gates, submit work to them and review submissions.

A gate lists criteria. Criteria with a command are checked by running it
under the command allowlist; the rest are ticked by the submitter. The
gate's policy decides when a passing evaluation approves a submission
without review.`,
}

var gateCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an open gate",
	Long: `Create an open gate.

Criteria:
  --auto-check name=command  required criterion verified by running command
  --manual name              required criterion ticked by the submitter

Policies: disabled, auto_checks_only, strict, lenient (with --min-confidence).`,
	Args: cobra.ExactArgs(1),
	RunE: runGateCreate,
}

var gateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List gates",
	Args:  cobra.NoArgs,
	RunE:  runGateList,
}

var gateShowCmd = &cobra.Command{
	Use:   "show <gate>",
	Short: "Show a gate and its submissions",
	Args:  cobra.ExactArgs(1),
	RunE:  runGateShow,
}

var gateCloseCmd = &cobra.Command{
	Use:   "close <gate>",
	Short: "Close a gate to new submissions",
	Args:  cobra.ExactArgs(1),
	RunE:  runGateClose,
}

var gateSubmitCmd = &cobra.Command{
	Use:   "submit <gate>",
	Short: "Submit work to a gate",
	Args:  cobra.ExactArgs(1),
	RunE:  runGateSubmit,
}

var gateEvaluateCmd = &cobra.Command{
	Use:   "evaluate <gate> <submission>",
	Short: "Run a submission's auto-checks and apply the policy",
	Args:  cobra.ExactArgs(2),
	RunE:  runGateEvaluate,
}

var gateApproveCmd = &cobra.Command{
	Use:   "approve <gate> <submission>",
	Short: "Approve a pending submission",
	Args:  cobra.ExactArgs(2),
	RunE:  runGateApprove,
}

var gateRejectCmd = &cobra.Command{
	Use:   "reject <gate> <submission>",
	Short: "Reject a pending submission",
	Args:  cobra.ExactArgs(2),
	RunE:  runGateReject,
}

var gateWithdrawCmd = &cobra.Command{
	Use:   "withdraw <gate> <submission>",
	Short: "Withdraw a pending submission",
	Args:  cobra.ExactArgs(2),
	RunE:  runGateWithdraw,
}

var gateResubmitCmd = &cobra.Command{
	Use:   "resubmit <gate> <submission>",
	Short: "Submit again after a rejection or withdrawal",
	Args:  cobra.ExactArgs(2),
	RunE:  runGateResubmit,
}

var gatePendingCmd = &cobra.Command{
	Use:   "pending <gate>",
	Short: "List submissions awaiting review",
	Args:  cobra.ExactArgs(1),
	RunE:  runGatePending,
}

var (
	gateID          string
	gateDescription string
	gateOwner       string
	gateStage       string
	gatePolicy      string
	gateMinConf     float64
	gateTimeout     int
	gateAutoChecks  []string
	gateManual      []string

	gateActor   string
	gateSummary string
	gateChecks  []string
	gateNotes   string
	gateReasons []string
)

func init() {
	rootCmd.AddCommand(gateCmd)
	gateCmd.AddCommand(gateCreateCmd, gateListCmd, gateShowCmd, gateCloseCmd, gateSubmitCmd, gateEvaluateCmd,
		gateApproveCmd, gateRejectCmd, gateWithdrawCmd, gateResubmitCmd, gatePendingCmd)

	f := gateCreateCmd.Flags()
	f.StringVar(&gateID, "id", "", "Gate id (generated when empty)")
	f.StringVar(&gateDescription, "description", "", "Gate description")
	f.StringVar(&gateOwner, "owner", "", "Role that reviews submissions")
	f.StringVar(&gateStage, "stage", "", "Pipeline stage the gate guards")
	f.StringVar(&gatePolicy, "policy", "disabled", "Auto-approval policy")
	f.Float64Var(&gateMinConf, "min-confidence", 0.8, "Confidence threshold for the lenient policy")
	f.IntVar(&gateTimeout, "timeout", 0, "Seconds one evaluation may take (0 for no limit)")
	f.StringArrayVar(&gateAutoChecks, "auto-check", nil, "Auto-check criterion as name=command")
	f.StringSliceVar(&gateManual, "manual", nil, "Manual criterion names")

	for _, c := range []*cobra.Command{gateCreateCmd, gateCloseCmd, gateSubmitCmd, gateApproveCmd,
		gateRejectCmd, gateWithdrawCmd, gateResubmitCmd} {
		c.Flags().StringVar(&gateActor, "as", "", "Agent performing the action")
	}
	for _, c := range []*cobra.Command{gateSubmitCmd, gateResubmitCmd} {
		c.Flags().StringVar(&gateSummary, "summary", "", "Summary of the submitted work")
		c.Flags().StringSliceVar(&gateChecks, "check", nil, "Manual criteria that are satisfied")
	}
	gateApproveCmd.Flags().StringVar(&gateNotes, "notes", "", "Review notes")
	gateRejectCmd.Flags().StringVar(&gateNotes, "notes", "", "Review notes")
	gateRejectCmd.Flags().StringArrayVar(&gateReasons, "reason", nil, "Rejection reason (repeatable)")
}

// parseCriteria builds criteria from --auto-check and --manual values.
func parseCriteria(autoChecks, manual []string) ([]gate.Criterion, error) {
	criteria := make([]gate.Criterion, 0, len(autoChecks)+len(manual))
	for _, spec := range autoChecks {
		name, command, ok := strings.Cut(spec, "=")
		if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(command) == "" {
			return nil, fmt.Errorf("invalid --auto-check %q: want name=command", spec)
		}
		criteria = append(criteria, gate.Criterion{
			Name:      strings.TrimSpace(name),
			Required:  true,
			AutoCheck: true,
			Command:   strings.TrimSpace(command),
		})
	}
	for _, name := range manual {
		criteria = append(criteria, gate.Criterion{Name: name, Required: true})
	}
	return criteria, nil
}

func checklistFrom(names []string) map[string]bool {
	checklist := make(map[string]bool, len(names))
	for _, n := range names {
		checklist[n] = true
	}
	return checklist
}

func runGateCreate(cmd *cobra.Command, args []string) error {
	criteria, err := parseCriteria(gateAutoChecks, gateManual)
	if err != nil {
		return err
	}
	policy, err := gate.PolicyByName(gatePolicy, gateMinConf)
	if err != nil {
		return err
	}
	policy.TimeoutSeconds = gateTimeout
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		g, err := hub.Gates().Create(ctx, gate.Gate{
			ID:            gateID,
			Name:          args[0],
			Description:   gateDescription,
			OwnerRole:     gateOwner,
			PipelineStage: gateStage,
			Criteria:      criteria,
			Policy:        policy,
		}, gateActor)
		if err != nil {
			return err
		}
		return emit(cmd, g, func() {
			printf(cmd, "Created gate %s (%s) with %d criteria, policy %s\n", g.ID, g.Name, len(g.Criteria), g.Policy.Name)
		})
	})
}

func runGateList(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		gates, err := hub.Gates().List(ctx)
		if err != nil {
			return err
		}
		return emit(cmd, gates, func() {
			for _, g := range gates {
				printf(cmd, "%s  %-6s  %s  (%d submissions)\n", g.ID, g.Status, g.Name, len(g.Submissions))
			}
		})
	})
}

func runGateShow(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		g, err := hub.Gates().Get(ctx, args[0])
		if err != nil {
			return err
		}
		return emit(cmd, g, func() {
			printf(cmd, "Gate %s: %s [%s]\n", g.ID, g.Name, g.Status)
			if g.OwnerRole != "" {
				printf(cmd, "  owner: %s\n", g.OwnerRole)
			}
			if g.Policy != nil {
				printf(cmd, "  policy: %s\n", g.Policy.Name)
			}
			for _, c := range g.Criteria {
				kind := "manual"
				if c.AutoCheck && c.Command != "" {
					kind = "auto: " + c.Command
				}
				printf(cmd, "  - %s (%s)\n", c.Name, kind)
			}
			for _, s := range g.Submissions {
				printSubmission(cmd, s)
			}
		})
	})
}

func runGateClose(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		if err := hub.Gates().CloseGate(ctx, args[0], gateActor); err != nil {
			return err
		}
		printf(cmd, "Closed gate %s\n", args[0])
		return nil
	})
}

func runGateSubmit(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		sub, err := hub.Gates().Submit(ctx, args[0], gate.SubmitRequest{
			SubmittedBy: gateActor,
			Summary:     gateSummary,
			Checklist:   checklistFrom(gateChecks),
		})
		if err != nil {
			return err
		}
		return emit(cmd, sub, func() { printf(cmd, "Submitted %s to gate %s\n", sub.ID, sub.GateID) })
	})
}

func runGateEvaluate(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		res, err := hub.Gates().EvaluateSync(ctx, args[0], args[1])
		if res == nil && err != nil {
			return err
		}
		if perr := emit(cmd, res, func() { printEvaluation(cmd, res) }); perr != nil {
			return perr
		}
		return err
	})
}

func runGateApprove(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		sub, err := hub.Gates().Approve(ctx, args[0], args[1], gateActor, gateNotes)
		if err != nil {
			return err
		}
		return emit(cmd, sub, func() { printSubmission(cmd, sub) })
	})
}

func runGateReject(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		sub, err := hub.Gates().Reject(ctx, args[0], args[1], gateActor, gateReasons, gateNotes)
		if err != nil {
			return err
		}
		return emit(cmd, sub, func() { printSubmission(cmd, sub) })
	})
}

func runGateWithdraw(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		sub, err := hub.Gates().Withdraw(ctx, args[0], args[1], gateActor)
		if err != nil {
			return err
		}
		return emit(cmd, sub, func() { printSubmission(cmd, sub) })
	})
}

func runGateResubmit(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		sub, err := hub.Gates().Resubmit(ctx, args[0], args[1], gate.SubmitRequest{
			SubmittedBy: gateActor,
			Summary:     gateSummary,
			Checklist:   checklistFrom(gateChecks),
		})
		if err != nil {
			return err
		}
		return emit(cmd, sub, func() {
			printf(cmd, "Resubmitted %s as %s\n", args[1], sub.ID)
		})
	})
}

func runGatePending(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		subs, err := hub.Gates().PendingReview(ctx, args[0])
		if err != nil {
			return err
		}
		return emit(cmd, subs, func() {
			for _, s := range subs {
				printSubmission(cmd, s)
			}
		})
	})
}

func printSubmission(cmd *cobra.Command, s *gate.Submission) {
	printf(cmd, "  %s  %-9s  eval=%-11s  by %s", s.ID, s.Status, s.EvalStatus, s.SubmittedBy)
	if s.Evaluation != nil {
		printf(cmd, "  confidence=%.2f", s.Evaluation.Confidence)
	}
	if s.AutoApproved {
		printf(cmd, "  auto-approved")
	} else if s.Reviewer != "" {
		printf(cmd, "  reviewer=%s", s.Reviewer)
	}
	printf(cmd, "\n")
}

func printEvaluation(cmd *cobra.Command, res *gate.EvaluationResult) {
	for _, c := range res.Checks {
		mark := "PASS"
		switch {
		case c.Blocked:
			mark = "BLOCKED"
		case c.TimedOut:
			mark = "TIMEOUT"
		case !c.Passed:
			mark = "FAIL"
		}
		printf(cmd, "  [%s] %s: %s\n", mark, c.Criterion, c.Command)
		if c.Blocked {
			printf(cmd, "         %s\n", c.Reason)
		}
	}
	if len(res.MissingManual) > 0 {
		printf(cmd, "  missing manual: %s\n", strings.Join(res.MissingManual, ", "))
	}
	printf(cmd, "Confidence %.2f, auto-approve: %v\n", res.Confidence, res.CanAutoApprove)
	if res.Error != "" {
		printf(cmd, "Evaluation error: %s\n", res.Error)
	}
}
