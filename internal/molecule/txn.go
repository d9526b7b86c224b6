package molecule

import (
	"context"
	"slices"

	"github.com/Iron-Ham/hookline/internal/errors"
	"github.com/Iron-Ham/hookline/internal/event"
	"github.com/Iron-Ham/hookline/internal/handoff"
	"github.com/Iron-Ham/hookline/internal/hook"
	"github.com/Iron-Ham/hookline/internal/ledger"
	"github.com/Iron-Ham/hookline/internal/store"
)

// txn is one locked read-modify-write of a workflow.
type txn struct {
	ctx     context.Context
	engine  *Engine
	wf      *Workflow
	entries []*ledger.Entry
	events  []event.Event
	// parent overrides the chain parent of the next recorded entry.
	parent string
}

func (tx *txn) record(agent, action, entityType, entityID, msg string, data map[string]any) error {
	parent := tx.wf.LastEntryID
	if tx.parent != "" {
		parent = tx.parent
		tx.parent = ""
	}
	if data == nil {
		data = map[string]any{}
	}
	data["workflow_id"] = tx.wf.ID
	e, err := tx.engine.ledger.Record(tx.ctx, ledger.RecordRequest{
		AgentID:       agent,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Data:          data,
		Message:       msg,
		ParentEntryID: parent,
	})
	if err != nil {
		return err
	}
	tx.wf.LastEntryID = e.ID
	tx.entries = append(tx.entries, e)
	return nil
}

func (tx *txn) recordStep(agent, action string, s *Step, msg string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	data["step_name"] = s.Name
	return tx.record(agent, action, ledger.EntityStep, s.ID, msg, data)
}

func (tx *txn) publish(ev event.Event) { tx.events = append(tx.events, ev) }

// setWorkflowStatus applies a workflow-level transition and records it.
func (tx *txn) setWorkflowStatus(to Status, agent, action, msg string) error {
	wf := tx.wf
	if !canTransitionWorkflow(wf.Status, to) {
		return errors.NewInvalidStateError("workflow", wf.ID, string(wf.Status), string(to))
	}
	now := tx.engine.clock.Now()
	wf.Status = to
	switch to {
	case StatusActive:
		wf.StartedAt = &now
	case StatusCompleted, StatusFailed:
		wf.CompletedAt = &now
	}
	wf.UpdatedAt = now
	return tx.record(agent, action, ledger.EntityWorkflow, wf.ID, msg, map[string]any{"status": string(to)})
}

func availableIDs(wf *Workflow) []string {
	if wf.Status != StatusActive {
		return nil
	}
	var ids []string
	for _, s := range wf.available() {
		ids = append(ids, s.ID)
	}
	return ids
}

// mutate loads the workflow fresh under its lock, applies fn, runs the
// auto-complete rule, persists, and dispatches steps that fn made
// eligible. Events are published after the lock is released.
func (e *Engine) mutate(ctx context.Context, id string, fn func(tx *txn) error) (*Workflow, error) {
	if err := validWorkflowID(id); err != nil {
		return nil, err
	}
	release, err := e.locks.Acquire(lockScope, id)
	if err != nil {
		return nil, errors.NewStorageError("lock workflow", string(store.WorkflowsActive), id, err)
	}
	var events []event.Event
	wf, err := func() (*Workflow, error) {
		defer release()

		wf, kind, err := e.locate(ctx, id, true)
		if err != nil {
			return nil, err
		}
		before := availableIDs(wf)
		tx := &txn{ctx: ctx, engine: e, wf: wf}

		if err := fn(tx); err != nil {
			e.abort(ctx, tx.entries, err)
			return nil, err
		}
		if wf.Status == StatusActive && e.autoComplete && wf.allCompleted() {
			if err := tx.setWorkflowStatus(StatusCompleted, SystemActor, ActionWorkflowCompleted, "all steps completed"); err != nil {
				e.abort(ctx, tx.entries, err)
				return nil, err
			}
			tx.publish(event.NewWorkflowCompletedEvent(wf.ID, wf.Name))
		}

		if err := e.persist(ctx, wf, kind); err != nil {
			e.abort(ctx, tx.entries, err)
			return nil, err
		}

		var unblocked []*Step
		for _, sid := range availableIDs(wf) {
			if !slices.Contains(before, sid) {
				unblocked = append(unblocked, wf.byID(sid))
			}
		}
		if e.dispatch(ctx, wf, unblocked) {
			if err := e.persist(ctx, wf, store.WorkflowsActive); err != nil {
				e.logger.WithWorkflow(wf.ID).Error("failed to persist dispatched work item ids", "error", err)
			}
		}
		for _, s := range unblocked {
			tx.publish(event.NewStepUnblockedEvent(wf.ID, s.ID, s.Name, s.Department, s.IsGate, s.GateID, s.WorkItemID))
		}
		events = tx.events
		return wf, nil
	}()
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		e.bus.Publish(ev)
	}
	return wf, nil
}

// persist writes wf to the collection matching its status, moving it out
// of the active collection once it is terminal.
func (e *Engine) persist(ctx context.Context, wf *Workflow, from store.Kind) error {
	if wf.Status.IsTerminal() && from == store.WorkflowsActive {
		return store.Move(ctx, e.store, store.WorkflowsActive, store.WorkflowsCompleted, wf.ID, wf)
	}
	return store.PutRecord(ctx, e.store, from, wf.ID, wf)
}

// abort appends a compensating entry for each entry recorded by a
// transition that did not persist.
func (e *Engine) abort(ctx context.Context, entries []*ledger.Entry, cause error) {
	for _, entry := range entries {
		_, err := e.ledger.Record(ctx, ledger.RecordRequest{
			AgentID:       SystemActor,
			Action:        ActionAborted,
			EntityType:    entry.EntityType,
			EntityID:      entry.EntityID,
			Message:       "transition not persisted: " + cause.Error(),
			ParentEntryID: entry.ID,
		})
		if err != nil {
			e.logger.Error("failed to record aborted transition", "entry_id", entry.ID, "error", err)
		}
	}
}

// dispatch enqueues a step work item for each eligible step that names a
// department and has none yet. It reports whether any step changed.
func (e *Engine) dispatch(ctx context.Context, wf *Workflow, steps []*Step) bool {
	if e.dispatcher == nil {
		return false
	}
	changed := false
	for _, s := range steps {
		if s.Department == "" || s.WorkItemID != "" {
			continue
		}
		item, err := e.dispatcher.Enqueue(ctx, s.Department, hook.EnqueueRequest{
			Title:                s.Name,
			Description:          s.Description,
			Kind:                 hook.KindStep,
			WorkflowID:           wf.ID,
			StepID:               s.ID,
			Priority:             hook.PriorityNormal,
			RequiredCapabilities: s.RequiredCapabilities,
			Context: map[string]any{
				handoff.KeyWorkflowName: wf.Name,
				handoff.KeyDepartment:   s.Department,
				handoff.KeyIsGate:       s.IsGate,
				handoff.KeyGateID:       s.GateID,
			},
			EnqueuedBy:    SystemActor,
			ParentEntryID: wf.LastEntryID,
		})
		if err != nil {
			e.logger.WithWorkflow(wf.ID).Error("failed to dispatch step", "step_id", s.ID, "queue_id", s.Department, "error", err)
			continue
		}
		s.WorkItemID = item.ID
		changed = true
		e.logger.WithWorkflow(wf.ID).WithQueue(s.Department).Info("step dispatched", "step_id", s.ID, "item_id", item.ID)
	}
	return changed
}
