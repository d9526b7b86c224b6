package molecule

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/Iron-Ham/hookline/internal/errors"
	"github.com/Iron-Ham/hookline/internal/event"
	"github.com/Iron-Ham/hookline/internal/ident"
	"github.com/Iron-Ham/hookline/internal/ledger"
	"github.com/Iron-Ham/hookline/internal/store"
)

// Create validates the step graph and persists a new DRAFT workflow.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*Workflow, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.NewValidationError("workflow name is required").WithField("name")
	}
	now := e.clock.Now()
	steps, err := buildSteps(req.Steps, now)
	if err != nil {
		return nil, err
	}
	wf := &Workflow{
		ID:             ident.NewAt(ident.Workflow, now),
		Name:           req.Name,
		Description:    req.Description,
		Status:         StatusDraft,
		Steps:          steps,
		Responsibility: req.Responsibility,
		TemplateID:     req.TemplateID,
		CreatedBy:      req.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx := &txn{ctx: ctx, engine: e, wf: wf}
	actor := req.CreatedBy
	if actor == "" {
		actor = SystemActor
	}
	data := map[string]any{"name": wf.Name, "step_count": len(steps)}
	if wf.TemplateID != "" {
		data["template_id"] = wf.TemplateID
	}
	if err := tx.record(actor, ActionWorkflowCreated, ledger.EntityWorkflow, wf.ID, "workflow created: "+wf.Name, data); err != nil {
		return nil, err
	}
	if err := store.PutRecord(ctx, e.store, store.WorkflowsActive, wf.ID, wf); err != nil {
		e.abort(ctx, tx.entries, err)
		return nil, err
	}
	e.logger.WithWorkflow(wf.ID).Info("workflow created", "name", wf.Name, "steps", len(steps))
	return wf, nil
}

// Start moves a DRAFT workflow to ACTIVE. Steps without dependencies
// become eligible immediately.
func (e *Engine) Start(ctx context.Context, id, actor string) (*Workflow, error) {
	return e.mutate(ctx, id, func(tx *txn) error {
		if tx.wf.Status != StatusDraft {
			return errors.NewInvalidStateError("workflow", id, string(tx.wf.Status), string(StatusActive))
		}
		return tx.setWorkflowStatus(StatusActive, actorOr(actor), ActionWorkflowStarted, "workflow started")
	})
}

// Complete finishes an ACTIVE workflow whose steps are all terminal.
func (e *Engine) Complete(ctx context.Context, id, actor string) (*Workflow, error) {
	return e.mutate(ctx, id, func(tx *txn) error {
		wf := tx.wf
		if wf.Status != StatusActive {
			return errors.NewInvalidStateError("workflow", id, string(wf.Status), string(StatusCompleted))
		}
		var open []string
		for _, s := range wf.Steps {
			if !s.Status.IsTerminal() {
				open = append(open, s.Name)
			}
		}
		if len(open) > 0 {
			return errors.NewInvalidStateError("workflow", id, string(wf.Status), string(StatusCompleted)).
				WithReason("steps still open: " + strings.Join(open, ", "))
		}
		if err := tx.setWorkflowStatus(StatusCompleted, actorOr(actor), ActionWorkflowCompleted, "workflow completed"); err != nil {
			return err
		}
		tx.publish(event.NewWorkflowCompletedEvent(wf.ID, wf.Name))
		return nil
	})
}

// Fail terminates an ACTIVE workflow.
func (e *Engine) Fail(ctx context.Context, id, actor, reason string) (*Workflow, error) {
	return e.mutate(ctx, id, func(tx *txn) error {
		return failWorkflow(tx, actorOr(actor), reason)
	})
}

func failWorkflow(tx *txn, actor, reason string) error {
	wf := tx.wf
	if wf.Status != StatusActive {
		return errors.NewInvalidStateError("workflow", wf.ID, string(wf.Status), string(StatusFailed))
	}
	wf.Error = reason
	if err := tx.setWorkflowStatus(StatusFailed, actor, ActionWorkflowFailed, "workflow failed: "+reason); err != nil {
		return err
	}
	tx.publish(event.NewWorkflowFailedEvent(wf.ID, wf.Name, reason, wf.Responsibility.Accountable))
	return nil
}

func actorOr(actor string) string {
	if actor == "" {
		return SystemActor
	}
	return actor
}

// stepFor resolves ref on an ACTIVE workflow.
func stepFor(wf *Workflow, ref string) (*Step, error) {
	if wf.Status != StatusActive {
		return nil, errors.NewInvalidStateError("workflow", wf.ID, string(wf.Status), string(StatusActive)).
			WithReason(fmt.Sprintf("workflow is %s, steps change only while ACTIVE", wf.Status))
	}
	s := wf.Step(ref)
	if s == nil {
		return nil, errors.NewNotFoundError("step", ref)
	}
	return s, nil
}

func stepStateError(s *Step, to StepStatus) *errors.InvalidStateError {
	return errors.NewInvalidStateError("step", s.ID, string(s.Status), string(to))
}

// requireDeps rejects entering an active status before dependencies complete.
func requireDeps(wf *Workflow, s *Step, to StepStatus) error {
	if ok, open := wf.depsCompleted(s); !ok {
		return stepStateError(s, to).WithReason("dependencies not completed: " + strings.Join(open, ", "))
	}
	return nil
}

// StartStep moves a PENDING step to IN_PROGRESS.
func (e *Engine) StartStep(ctx context.Context, workflowID, stepRef, assignee string) (*Workflow, error) {
	return e.mutate(ctx, workflowID, func(tx *txn) error {
		s, err := stepFor(tx.wf, stepRef)
		if err != nil {
			return err
		}
		if s.Status != StepPending {
			return stepStateError(s, StepInProgress)
		}
		if err := requireDeps(tx.wf, s, StepInProgress); err != nil {
			return err
		}
		now := e.clock.Now()
		s.Status = StepInProgress
		s.AssignedTo = assignee
		s.StartedAt = &now
		tx.wf.UpdatedAt = now
		return tx.recordStep(actorOr(assignee), ActionStepStarted, s, "step started: "+s.Name,
			map[string]any{"assigned_to": assignee})
	})
}

// DelegateStep hands a PENDING or IN_PROGRESS step to one or more
// delegates. The step stays open until completed or failed.
func (e *Engine) DelegateStep(ctx context.Context, workflowID, stepRef string, delegations []Delegation, delegatedBy string) (*Workflow, error) {
	if len(delegations) == 0 {
		return nil, errors.NewValidationError("at least one delegation is required").WithField("delegations")
	}
	for i, d := range delegations {
		if strings.TrimSpace(d.DelegateID) == "" {
			return nil, errors.NewValidationError("delegate id is required").WithField(fmt.Sprintf("delegations[%d].delegate_id", i))
		}
	}
	return e.mutate(ctx, workflowID, func(tx *txn) error {
		s, err := stepFor(tx.wf, stepRef)
		if err != nil {
			return err
		}
		if !canTransitionStep(s.Status, StepDelegated) {
			return stepStateError(s, StepDelegated)
		}
		if err := requireDeps(tx.wf, s, StepDelegated); err != nil {
			return err
		}
		now := e.clock.Now()
		delegates := make([]string, 0, len(delegations))
		for _, d := range delegations {
			if d.DelegatedAt.IsZero() {
				d.DelegatedAt = now
			}
			s.Delegations = append(s.Delegations, d)
			delegates = append(delegates, d.DelegateID)
		}
		if s.StartedAt == nil {
			s.StartedAt = &now
		}
		if s.AssignedTo == "" {
			s.AssignedTo = delegatedBy
		}
		s.Status = StepDelegated
		tx.wf.UpdatedAt = now
		return tx.recordStep(actorOr(delegatedBy), ActionStepDelegated, s,
			fmt.Sprintf("step %s delegated to %s", s.Name, strings.Join(delegates, ", ")),
			map[string]any{"delegations": delegations})
	})
}

// CompleteStep completes an IN_PROGRESS or DELEGATED step. Gate steps
// complete only through CompleteGateStep.
func (e *Engine) CompleteStep(ctx context.Context, workflowID, stepRef, actor, result string) (*Workflow, error) {
	return e.mutate(ctx, workflowID, func(tx *txn) error {
		s, err := stepFor(tx.wf, stepRef)
		if err != nil {
			return err
		}
		if s.IsGate {
			return stepStateError(s, StepCompleted).WithReason("gate step completes only through gate approval")
		}
		if s.Status != StepInProgress && s.Status != StepDelegated {
			return stepStateError(s, StepCompleted)
		}
		return completeStep(tx, s, actorOr(actor), result, map[string]any{})
	})
}

// CompleteGateStep completes a gate step on the strength of an approved
// submission. The step may still be PENDING when its dependencies are met.
func (e *Engine) CompleteGateStep(ctx context.Context, workflowID, stepRef string, approval GateApproval) (*Workflow, error) {
	return e.mutate(ctx, workflowID, func(tx *txn) error {
		s, err := stepFor(tx.wf, stepRef)
		if err != nil {
			return err
		}
		if !s.IsGate {
			return stepStateError(s, StepCompleted).WithReason("step is not gate-bound")
		}
		if s.GateID != "" && approval.GateID != "" && s.GateID != approval.GateID {
			return errors.NewValidationError(fmt.Sprintf("step is bound to gate %s, not %s", s.GateID, approval.GateID)).WithField("gate_id")
		}
		if s.GateID == "" && approval.GateID == "" {
			return stepStateError(s, StepCompleted).WithReason("no gate named for gate step")
		}
		if !canTransitionStep(s.Status, StepCompleted) {
			return stepStateError(s, StepCompleted)
		}
		if err := requireDeps(tx.wf, s, StepCompleted); err != nil {
			return err
		}
		if err := e.checkApproval(tx, s, approval); err != nil {
			return err
		}
		s.SubmissionID = approval.SubmissionID
		s.AutoApproved = approval.AutoApproved
		tx.parent = approval.LedgerEntryID
		return completeStep(tx, s, actorOr(approval.Reviewer), "approved by gate "+approval.GateID, map[string]any{
			"gate_id":       approval.GateID,
			"submission_id": approval.SubmissionID,
			"auto_approved": approval.AutoApproved,
		})
	})
}

// checkApproval confirms approval points at a ledger approval of a
// submission for this step of this workflow.
func (e *Engine) checkApproval(tx *txn, s *Step, approval GateApproval) error {
	reject := func(reason string) error {
		return stepStateError(s, StepCompleted).WithReason(reason)
	}
	if approval.LedgerEntryID == "" || approval.SubmissionID == "" {
		return reject("gate step completes only against a recorded approval")
	}
	entry, err := e.ledger.Get(tx.ctx, approval.LedgerEntryID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return reject("approval entry " + approval.LedgerEntryID + " not found")
		}
		return err
	}
	if entry.Action != ledger.ActionSubmissionApproved && entry.Action != ledger.ActionSubmissionAutoApproved {
		return reject(fmt.Sprintf("entry %s is %s, not an approval", entry.ID, entry.Action))
	}
	if entry.EntityType != ledger.EntitySubmission || entry.EntityID != approval.SubmissionID {
		return reject(fmt.Sprintf("entry %s does not approve submission %s", entry.ID, approval.SubmissionID))
	}
	var data struct {
		GateID     string `json:"gate_id"`
		WorkflowID string `json:"workflow_id"`
		StepID     string `json:"step_id"`
	}
	if err := entry.DecodeData(&data); err != nil {
		return reject(fmt.Sprintf("entry %s has unreadable data: %v", entry.ID, err))
	}
	if data.WorkflowID != tx.wf.ID || data.StepID != s.ID {
		return reject(fmt.Sprintf("entry %s approves %s/%s, not this step", entry.ID, data.WorkflowID, data.StepID))
	}
	gateID := s.GateID
	if gateID == "" {
		gateID = approval.GateID
	}
	if data.GateID != gateID {
		return reject(fmt.Sprintf("entry %s is from gate %s, not %s", entry.ID, data.GateID, gateID))
	}
	return nil
}

func completeStep(tx *txn, s *Step, actor, result string, data map[string]any) error {
	now := tx.engine.clock.Now()
	s.Status = StepCompleted
	s.Result = result
	s.CompletedBy = actor
	s.CompletedAt = &now
	if s.StartedAt == nil {
		s.StartedAt = &now
	}
	tx.wf.UpdatedAt = now
	data["result"] = result
	if err := tx.recordStep(actor, ActionStepCompleted, s, "step completed: "+s.Name, data); err != nil {
		return err
	}
	tx.publish(event.NewStepCompletedEvent(tx.wf.ID, s.ID, s.IsGate))
	return nil
}

// FailStep fails a non-terminal step. With fail-on-step-failure enabled
// the workflow fails with it.
func (e *Engine) FailStep(ctx context.Context, workflowID, stepRef string, f StepFailure) (*Workflow, error) {
	return e.mutate(ctx, workflowID, func(tx *txn) error {
		s, err := stepFor(tx.wf, stepRef)
		if err != nil {
			return err
		}
		if !canTransitionStep(s.Status, StepFailed) {
			return stepStateError(s, StepFailed)
		}
		now := e.clock.Now()
		actor := actorOr(f.Actor)
		s.Status = StepFailed
		s.Error = f.Error
		s.ErrorType = f.ErrorType
		s.ErrorContext = f.Context
		s.CompletedAt = &now
		tx.wf.UpdatedAt = now
		if err := tx.recordStep(actor, ActionStepFailed, s, "step failed: "+s.Name, map[string]any{
			"error":      f.Error,
			"error_type": f.ErrorType,
		}); err != nil {
			return err
		}
		tx.publish(event.NewStepFailedEvent(tx.wf.ID, s.ID, s.Department, s.AssignedTo, f.Error, f.ErrorType))
		if e.failOnStepFailure {
			return failWorkflow(tx, SystemActor, fmt.Sprintf("step %s failed: %s", s.Name, f.Error))
		}
		return nil
	})
}

// NextAvailableSteps returns PENDING steps whose dependencies are all
// COMPLETED. Only ACTIVE workflows have available steps.
func (e *Engine) NextAvailableSteps(ctx context.Context, workflowID string) ([]*Step, error) {
	wf, _, err := e.locate(ctx, workflowID, true)
	if err != nil {
		return nil, err
	}
	if wf.Status != StatusActive {
		return []*Step{}, nil
	}
	steps := wf.available()
	if steps == nil {
		steps = []*Step{}
	}
	return steps, nil
}

// Blocking returns, for each PENDING step that is not yet available, the
// dependency ids still open.
func (e *Engine) Blocking(ctx context.Context, workflowID string) (map[string][]string, error) {
	wf, err := e.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string)
	for _, s := range wf.Steps {
		if s.Status != StepPending {
			continue
		}
		if ok, open := wf.depsCompleted(s); !ok {
			out[s.ID] = slices.Clone(open)
		}
	}
	return out, nil
}
