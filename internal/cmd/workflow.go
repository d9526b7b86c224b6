package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/Iron-Ham/hookline/internal/coordination"
	"github.com/Iron-Ham/hookline/internal/gate"
	"github.com/Iron-Ham/hookline/internal/molecule"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var workflowCmd = &cobra.Command{
	Use:     "workflow",
	Aliases: []string{"molecule", "wf"},
	Short:   "Workflow (molecule) operations",
	Long: `Create and drive multi-step workflows.

A workflow is a DAG of steps. Steps become available once every step they
depend on is completed; gate steps complete only when their gate approves
a submission.`,
}

var workflowCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a DRAFT workflow from a steps file or a template",
	Long: `Create a DRAFT workflow.

Either --file names a YAML document with name, description and steps, or
--template instantiates a saved template.

Example steps file:
  name: launch
  steps:
    - key: research
      name: Research
      department: research
    - key: build
      name: Build
      depends_on: [research]
      is_gate: true
      gate_id: gate_build`,
	Args: cobra.NoArgs,
	RunE: runWorkflowCreate,
}

var workflowStartCmd = &cobra.Command{
	Use:   "start <workflow>",
	Short: "Activate a DRAFT workflow",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowStart,
}

var workflowShowCmd = &cobra.Command{
	Use:   "show <workflow>",
	Short: "Show a workflow and its steps",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowShow,
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflows",
	Args:  cobra.NoArgs,
	RunE:  runWorkflowList,
}

var workflowNextCmd = &cobra.Command{
	Use:   "next <workflow>",
	Short: "List steps that can start now",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowNext,
}

var workflowBlockingCmd = &cobra.Command{
	Use:   "blocking <workflow>",
	Short: "Show which dependencies hold back each pending step",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowBlocking,
}

var workflowCompleteCmd = &cobra.Command{
	Use:   "complete <workflow>",
	Short: "Complete an ACTIVE workflow whose steps are all finished",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowComplete,
}

var workflowFailCmd = &cobra.Command{
	Use:   "fail <workflow>",
	Short: "Fail a workflow",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowFail,
}

var workflowTemplatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List saved workflow templates",
	Args:  cobra.NoArgs,
	RunE:  runWorkflowTemplates,
}

var (
	wfFile        string
	wfTemplate    string
	wfName        string
	wfResponsible string
	wfAccountable string
	wfActor       string
	wfStatuses    []string
	wfReason      string
)

// workflowFile is the document accepted by workflow create --file.
type workflowFile struct {
	Name           string                   `yaml:"name"`
	Description    string                   `yaml:"description"`
	Steps          []molecule.StepSpec      `yaml:"steps"`
	Responsibility *molecule.Responsibility `yaml:"responsibility"`
}

func init() {
	rootCmd.AddCommand(workflowCmd)
	workflowCmd.AddCommand(workflowCreateCmd, workflowStartCmd, workflowShowCmd, workflowListCmd,
		workflowNextCmd, workflowBlockingCmd, workflowCompleteCmd, workflowFailCmd, workflowTemplatesCmd,
		stepCmd)

	workflowCreateCmd.Flags().StringVarP(&wfFile, "file", "f", "", "YAML file describing the workflow")
	workflowCreateCmd.Flags().StringVarP(&wfTemplate, "template", "t", "", "Template id to instantiate")
	workflowCreateCmd.Flags().StringVar(&wfName, "name", "", "Workflow name (overrides the file or template)")
	workflowCreateCmd.Flags().StringVar(&wfResponsible, "responsible", "", "Role doing the work")
	workflowCreateCmd.Flags().StringVar(&wfAccountable, "accountable", "", "Role receiving escalations")
	workflowCreateCmd.MarkFlagsMutuallyExclusive("file", "template")
	workflowCreateCmd.MarkFlagsOneRequired("file", "template")

	for _, c := range []*cobra.Command{workflowCreateCmd, workflowStartCmd, workflowCompleteCmd, workflowFailCmd} {
		c.Flags().StringVar(&wfActor, "by", "", "Agent performing the action")
	}
	workflowFailCmd.Flags().StringVar(&wfReason, "reason", "", "Why the workflow failed")
	workflowListCmd.Flags().StringSliceVar(&wfStatuses, "status", nil, "Only workflows with these statuses")
}

func responsibilityFlags(base *molecule.Responsibility) *molecule.Responsibility {
	if wfResponsible == "" && wfAccountable == "" {
		return base
	}
	r := molecule.Responsibility{}
	if base != nil {
		r = *base
	}
	if wfResponsible != "" {
		r.Responsible = wfResponsible
	}
	if wfAccountable != "" {
		r.Accountable = wfAccountable
	}
	return &r
}

func runWorkflowCreate(cmd *cobra.Command, args []string) error {
	var doc workflowFile
	if wfFile != "" {
		data, err := os.ReadFile(wfFile)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", wfFile, err)
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse %s: %w", wfFile, err)
		}
	}
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		var (
			wf  *molecule.Workflow
			err error
		)
		if wfTemplate != "" {
			wf, err = hub.Engine().Instantiate(ctx, wfTemplate, molecule.InstantiateRequest{
				Name:           wfName,
				Responsibility: responsibilityFlags(nil),
				CreatedBy:      wfActor,
			})
		} else {
			name := doc.Name
			if wfName != "" {
				name = wfName
			}
			req := molecule.CreateRequest{
				Name:        name,
				Description: doc.Description,
				Steps:       doc.Steps,
				CreatedBy:   wfActor,
			}
			if r := responsibilityFlags(doc.Responsibility); r != nil {
				req.Responsibility = *r
			}
			wf, err = hub.Engine().Create(ctx, req)
		}
		if err != nil {
			return err
		}
		return emit(cmd, wf, func() {
			printf(cmd, "Created workflow %s (%s) with %d steps\n", wf.ID, wf.Name, len(wf.Steps))
		})
	})
}

func runWorkflowStart(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		wf, err := hub.Engine().Start(ctx, args[0], wfActor)
		if err != nil {
			return err
		}
		return emit(cmd, wf, func() { printWorkflow(cmd, wf) })
	})
}

func runWorkflowShow(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		wf, err := hub.Engine().Get(ctx, args[0])
		if err != nil {
			return err
		}
		return emit(cmd, wf, func() { printWorkflow(cmd, wf) })
	})
}

func runWorkflowList(cmd *cobra.Command, args []string) error {
	statuses := make([]molecule.Status, 0, len(wfStatuses))
	for _, s := range wfStatuses {
		statuses = append(statuses, molecule.Status(strings.ToUpper(s)))
	}
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		wfs, err := hub.Engine().List(ctx, statuses...)
		if err != nil {
			return err
		}
		return emit(cmd, wfs, func() {
			for _, wf := range wfs {
				counts := wf.Counts()
				printf(cmd, "%s  %-9s  %s  (%d/%d steps completed)\n",
					wf.ID, wf.Status, wf.Name, counts[molecule.StepCompleted], len(wf.Steps))
			}
		})
	})
}

func runWorkflowNext(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		steps, err := hub.Engine().NextAvailableSteps(ctx, args[0])
		if err != nil {
			return err
		}
		return emit(cmd, steps, func() {
			if len(steps) == 0 {
				printf(cmd, "No steps available\n")
			}
			for _, s := range steps {
				printStep(cmd, s)
			}
		})
	})
}

func runWorkflowBlocking(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		blocking, err := hub.Engine().Blocking(ctx, args[0])
		if err != nil {
			return err
		}
		return emit(cmd, blocking, func() {
			ids := make([]string, 0, len(blocking))
			for id := range blocking {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				printf(cmd, "%s waits on %s\n", id, strings.Join(blocking[id], ", "))
			}
		})
	})
}

func runWorkflowComplete(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		wf, err := hub.Engine().Complete(ctx, args[0], wfActor)
		if err != nil {
			return err
		}
		return emit(cmd, wf, func() { printf(cmd, "%s is %s\n", wf.ID, wf.Status) })
	})
}

func runWorkflowFail(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		wf, err := hub.Engine().Fail(ctx, args[0], wfActor, wfReason)
		if err != nil {
			return err
		}
		return emit(cmd, wf, func() { printf(cmd, "%s is %s\n", wf.ID, wf.Status) })
	})
}

func runWorkflowTemplates(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		ts, err := hub.Engine().ListTemplates(ctx)
		if err != nil {
			return err
		}
		return emit(cmd, ts, func() {
			for _, t := range ts {
				printf(cmd, "%s  %s  (%d steps)\n", t.ID, t.Name, len(t.Steps))
			}
		})
	})
}

var stepCmd = &cobra.Command{
	Use:   "step",
	Short: "Step transitions",
}

var stepStartCmd = &cobra.Command{
	Use:   "start <workflow> <step>",
	Short: "Start a pending step whose dependencies are complete",
	Args:  cobra.ExactArgs(2),
	RunE:  runStepStart,
}

var stepDelegateCmd = &cobra.Command{
	Use:   "delegate <workflow> <step>",
	Short: "Hand a step to one or more delegates",
	Args:  cobra.ExactArgs(2),
	RunE:  runStepDelegate,
}

var stepCompleteCmd = &cobra.Command{
	Use:   "complete <workflow> <step>",
	Short: "Complete a non-gate step",
	Args:  cobra.ExactArgs(2),
	RunE:  runStepComplete,
}

var stepFailCmd = &cobra.Command{
	Use:   "fail <workflow> <step>",
	Short: "Fail a step",
	Args:  cobra.ExactArgs(2),
	RunE:  runStepFail,
}

var stepSubmitCmd = &cobra.Command{
	Use:   "submit <workflow> <step>",
	Short: "Submit a gate step's work to its gate",
	Long: `Submit the work of a gate step to the gate it is bound to.

Tick manual criteria with --check name. With --evaluate the submission is
evaluated immediately; if the gate policy approves it, the step completes.`,
	Args: cobra.ExactArgs(2),
	RunE: runStepSubmit,
}

var (
	stepActor     string
	stepResult    string
	stepError     string
	stepErrorType string
	stepDelegates []string
	stepQueue     string
	stepSummary   string
	stepChecks    []string
	stepEvaluate  bool
)

func init() {
	stepCmd.AddCommand(stepStartCmd, stepDelegateCmd, stepCompleteCmd, stepFailCmd, stepSubmitCmd)

	for _, c := range []*cobra.Command{stepStartCmd, stepDelegateCmd, stepCompleteCmd, stepFailCmd, stepSubmitCmd} {
		c.Flags().StringVar(&stepActor, "as", "", "Agent performing the action")
	}
	stepCompleteCmd.Flags().StringVar(&stepResult, "result", "", "Step result")
	stepFailCmd.Flags().StringVar(&stepError, "error", "", "Failure message")
	stepFailCmd.Flags().StringVar(&stepErrorType, "type", "", "Failure classification")
	stepDelegateCmd.Flags().StringSliceVar(&stepDelegates, "to", nil, "Delegate ids (required)")
	stepDelegateCmd.Flags().StringVar(&stepQueue, "queue", "", "Queue the delegated work sits on")
	_ = stepDelegateCmd.MarkFlagRequired("to")
	stepSubmitCmd.Flags().StringVar(&stepSummary, "summary", "", "Summary of the submitted work")
	stepSubmitCmd.Flags().StringSliceVar(&stepChecks, "check", nil, "Manual criteria that are satisfied")
	stepSubmitCmd.Flags().BoolVar(&stepEvaluate, "evaluate", false, "Evaluate the submission right away")
}

func runStepStart(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		wf, err := hub.Engine().StartStep(ctx, args[0], args[1], stepActor)
		if err != nil {
			return err
		}
		return emitStep(cmd, wf, args[1])
	})
}

func runStepDelegate(cmd *cobra.Command, args []string) error {
	delegations := make([]molecule.Delegation, 0, len(stepDelegates))
	for _, d := range stepDelegates {
		delegations = append(delegations, molecule.Delegation{DelegateID: d, QueueID: stepQueue})
	}
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		wf, err := hub.Engine().DelegateStep(ctx, args[0], args[1], delegations, stepActor)
		if err != nil {
			return err
		}
		return emitStep(cmd, wf, args[1])
	})
}

func runStepComplete(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		wf, err := hub.Engine().CompleteStep(ctx, args[0], args[1], stepActor, stepResult)
		if err != nil {
			return err
		}
		return emitStep(cmd, wf, args[1])
	})
}

func runStepFail(cmd *cobra.Command, args []string) error {
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		wf, err := hub.Engine().FailStep(ctx, args[0], args[1], molecule.StepFailure{
			Actor:     stepActor,
			Error:     stepError,
			ErrorType: stepErrorType,
		})
		if err != nil {
			return err
		}
		return emitStep(cmd, wf, args[1])
	})
}

func runStepSubmit(cmd *cobra.Command, args []string) error {
	checklist := make(map[string]bool, len(stepChecks))
	for _, c := range stepChecks {
		checklist[c] = true
	}
	return withHub(cmd, func(ctx context.Context, hub *coordination.Hub) error {
		sub, err := hub.SubmitStep(ctx, args[0], args[1], gate.SubmitRequest{
			SubmittedBy: stepActor,
			Summary:     stepSummary,
			Checklist:   checklist,
		})
		if err != nil {
			return err
		}
		if !stepEvaluate {
			return emit(cmd, sub, func() {
				printf(cmd, "Submitted %s to gate %s\n", sub.ID, sub.GateID)
			})
		}
		res, err := hub.Gates().EvaluateSync(ctx, sub.GateID, sub.ID)
		if err != nil {
			return err
		}
		return emit(cmd, res, func() {
			printf(cmd, "Submitted %s to gate %s\n", sub.ID, sub.GateID)
			printEvaluation(cmd, res)
		})
	})
}

func emitStep(cmd *cobra.Command, wf *molecule.Workflow, ref string) error {
	s := wf.Step(ref)
	if s == nil {
		return fmt.Errorf("step %s not found in %s", ref, wf.ID)
	}
	return emit(cmd, s, func() {
		printStep(cmd, s)
		printf(cmd, "Workflow %s is %s\n", wf.ID, wf.Status)
	})
}

func printWorkflow(cmd *cobra.Command, wf *molecule.Workflow) {
	printf(cmd, "Workflow %s: %s [%s]\n", wf.ID, wf.Name, wf.Status)
	if r := wf.Responsibility; r.Responsible != "" || r.Accountable != "" {
		printf(cmd, "  responsible: %s  accountable: %s\n", r.Responsible, r.Accountable)
	}
	if wf.Error != "" {
		printf(cmd, "  error: %s\n", wf.Error)
	}
	for _, id := range wf.TopologicalOrder() {
		printf(cmd, "  ")
		printStep(cmd, wf.Step(id))
	}
}

func printStep(cmd *cobra.Command, s *molecule.Step) {
	name := s.Name
	if s.Key != "" {
		name = s.Key + " (" + s.Name + ")"
	}
	printf(cmd, "%s  %-11s  %s", s.ID, s.Status, name)
	if s.IsGate {
		printf(cmd, "  gate=%s", s.GateID)
	}
	if s.AssignedTo != "" {
		printf(cmd, "  assigned=%s", s.AssignedTo)
	}
	printf(cmd, "\n")
}
