package coordination

import (
	"fmt"

	"github.com/Iron-Ham/hookline/internal/errors"
	"github.com/Iron-Ham/hookline/internal/event"
	"github.com/Iron-Ham/hookline/internal/gate"
	"github.com/Iron-Ham/hookline/internal/handoff"
	"github.com/Iron-Ham/hookline/internal/hook"
	"github.com/Iron-Ham/hookline/internal/ledger"
	"github.com/Iron-Ham/hookline/internal/molecule"
)

// ErrorTypeRetriesExhausted marks steps failed because their work item
// ran out of retries.
const ErrorTypeRetriesExhausted = "retries_exhausted"

func (h *Hub) subscribe() {
	h.subscriptions = append(h.subscriptions,
		h.bus.Subscribe(event.TypeSubmissionReviewed, h.onSubmissionReviewed),
		h.bus.Subscribe(event.TypeSubmissionEvaluated, h.onSubmissionEvaluated),
		h.bus.Subscribe(event.TypeItemFailed, h.onItemFailed),
		h.bus.Subscribe(event.TypeStepFailed, h.onStepFailed),
	)
}

// onSubmissionReviewed completes the gate-bound step of an approved
// submission, chaining the step entry to the approval entry.
func (h *Hub) onSubmissionReviewed(e event.Event) {
	ev, ok := e.(event.SubmissionReviewedEvent)
	if !ok || !ev.Approved || ev.WorkflowID == "" || ev.StepID == "" {
		return
	}
	logger := h.logger.WithWorkflow(ev.WorkflowID).WithGate(ev.GateID)
	_, err := h.engine.CompleteGateStep(handlerContext(), ev.WorkflowID, ev.StepID, molecule.GateApproval{
		GateID:        ev.GateID,
		SubmissionID:  ev.SubmissionID,
		Reviewer:      ev.Reviewer,
		AutoApproved:  ev.AutoApproved,
		LedgerEntryID: ev.LedgerEntryID,
	})
	if err != nil {
		logger.Error("failed to complete gate step", "step_id", ev.StepID, "submission_id", ev.SubmissionID, "error", err)
		return
	}
	logger.Info("gate step completed", "step_id", ev.StepID, "submission_id", ev.SubmissionID, "auto_approved", ev.AutoApproved)
}

// onSubmissionEvaluated asks the gate owner to review a submission the
// policy did not approve.
func (h *Hub) onSubmissionEvaluated(e event.Event) {
	ev, ok := e.(event.SubmissionEvaluatedEvent)
	if !ok || ev.CanAutoApprove {
		return
	}
	ctx := handlerContext()
	g, err := h.gates.Get(ctx, ev.GateID)
	if err != nil {
		h.logger.WithGate(ev.GateID).Error("failed to load gate for review routing", "error", err)
		return
	}
	if g.OwnerRole == "" {
		return
	}
	sub := g.Submission(ev.SubmissionID)
	if sub == nil || sub.Status != gate.SubmissionPending {
		return
	}
	var missing []string
	if sub.Evaluation != nil {
		missing = sub.Evaluation.MissingManual
	}
	item, err := h.queues.Enqueue(ctx, g.OwnerRole, handoff.NewReviewRequest(handoff.ReviewRequest{
		GateID:        g.ID,
		GateName:      g.Name,
		SubmissionID:  sub.ID,
		WorkflowID:    sub.WorkflowID,
		StepID:        sub.StepID,
		SubmittedBy:   sub.SubmittedBy,
		Confidence:    ev.Confidence,
		MissingManual: missing,
		ParentEntryID: sub.LastEntryID,
	}))
	if err != nil {
		h.logger.WithGate(g.ID).Error("failed to enqueue review", "submission_id", sub.ID, "error", err)
		return
	}
	h.logger.WithGate(g.ID).WithQueue(g.OwnerRole).Info("review requested", "submission_id", sub.ID, "item_id", item.ID)
}

// onItemFailed fails the workflow step behind a step item that ran out of
// retries.
func (h *Hub) onItemFailed(e event.Event) {
	ev, ok := e.(event.ItemFailedEvent)
	if !ok || ev.WorkflowID == "" || ev.StepID == "" {
		return
	}
	ctx := handlerContext()
	item, err := h.queues.Get(ctx, ev.QueueID, ev.ItemID)
	if err != nil || item.Kind != hook.KindStep {
		return
	}
	_, err = h.engine.FailStep(ctx, ev.WorkflowID, ev.StepID, molecule.StepFailure{
		Actor:     ev.AssignedTo,
		Error:     ev.Error,
		ErrorType: ErrorTypeRetriesExhausted,
		Context:   map[string]any{"queue_id": ev.QueueID, "item_id": ev.ItemID, "retry_count": ev.RetryCount},
	})
	if err != nil && !errors.Is(err, errors.ErrInvalidState) {
		h.logger.WithWorkflow(ev.WorkflowID).Error("failed to fail step after retries", "step_id", ev.StepID, "error", err)
	}
}

// onStepFailed escalates a failed step to the accountable role's queue.
func (h *Hub) onStepFailed(e event.Event) {
	ev, ok := e.(event.StepFailedEvent)
	if !ok {
		return
	}
	ctx := handlerContext()
	wf, err := h.engine.Get(ctx, ev.WorkflowID)
	if err != nil {
		h.logger.WithWorkflow(ev.WorkflowID).Error("failed to load workflow for escalation", "error", err)
		return
	}
	target := wf.Responsibility.Accountable
	if target == "" {
		target = wf.Responsibility.Responsible
	}
	if target == "" {
		h.logger.WithWorkflow(wf.ID).Warn("step failed with nobody accountable", "step_id", ev.StepID)
		return
	}
	item, err := h.queues.Enqueue(ctx, target, handoff.NewEscalationRequest(handoff.EscalationRequest{
		Source:        ledger.EntityStep,
		SourceID:      ev.StepID,
		WorkflowID:    wf.ID,
		StepID:        ev.StepID,
		Reason:        escalationReason(ev),
		FailedBy:      ev.AssignedTo,
		ParentEntryID: wf.LastEntryID,
	}))
	if err != nil {
		h.logger.WithWorkflow(wf.ID).Error("failed to enqueue escalation", "step_id", ev.StepID, "error", err)
		return
	}
	h.logger.WithWorkflow(wf.ID).WithQueue(target).Warn("step failure escalated", "step_id", ev.StepID, "item_id", item.ID)
}

func escalationReason(ev event.StepFailedEvent) string {
	if ev.ErrorType == "" {
		return ev.Error
	}
	return fmt.Sprintf("%s: %s", ev.ErrorType, ev.Error)
}
