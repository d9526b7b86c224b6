package coordination

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/hookline/internal/definition"
	"github.com/Iron-Ham/hookline/internal/errors"
	"github.com/Iron-Ham/hookline/internal/gate"
	"github.com/Iron-Ham/hookline/internal/molecule"
	"github.com/Iron-Ham/hookline/internal/verify"
)

// SubmitStep submits the work of a gate-bound step to its gate. The
// submission's first ledger entry is chained to the workflow's latest
// entry.
func (h *Hub) SubmitStep(ctx context.Context, workflowID, stepRef string, req gate.SubmitRequest) (*gate.Submission, error) {
	wf, err := h.engine.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	s := wf.Step(stepRef)
	if s == nil {
		return nil, errors.NewNotFoundError("step", stepRef)
	}
	if !s.IsGate || s.GateID == "" {
		return nil, errors.NewValidationError(fmt.Sprintf("step %q is not bound to a gate", s.Name)).WithField("step_id").WithValue(s.ID)
	}
	if wf.Status != molecule.StatusActive {
		return nil, errors.NewInvalidStateError("workflow", wf.ID, string(wf.Status), string(molecule.StatusActive)).
			WithReason("only active workflows accept gate submissions")
	}
	req.WorkflowID = wf.ID
	req.StepID = s.ID
	if req.SubmittedBy == "" {
		req.SubmittedBy = s.AssignedTo
	}
	if req.ParentEntryID == "" {
		req.ParentEntryID = wf.LastEntryID
	}
	return h.gates.Submit(ctx, s.GateID, req)
}

// ApplyResult lists what Apply did.
type ApplyResult struct {
	GatesCreated []string
	GatesSkipped []string
	Templates    []string
}

// Apply creates the bundle's gates and saves its templates. Gates whose
// id already exists are left untouched; templates are overwritten. The
// bundle is validated first with the configured command allowlist.
func (h *Hub) Apply(ctx context.Context, b *definition.Bundle, actor string) (*ApplyResult, error) {
	validator := verify.NewValidator(h.cfg.Gate.ExtraAllowedCommands...)
	if issues := definition.Validate(b, validator); len(issues) > 0 {
		return nil, errors.NewValidationError(fmt.Sprintf("%d definition issues: %s", len(issues), issues[0])).WithField("definition")
	}
	res := &ApplyResult{}
	for _, def := range b.Gates {
		if def.ID != "" {
			if _, err := h.gates.Get(ctx, def.ID); err == nil {
				res.GatesSkipped = append(res.GatesSkipped, def.ID)
				continue
			} else if !errors.Is(err, errors.ErrNotFound) {
				return res, err
			}
		}
		g, err := def.Gate()
		if err != nil {
			return res, err
		}
		created, err := h.gates.Create(ctx, g, actor)
		if err != nil {
			return res, err
		}
		res.GatesCreated = append(res.GatesCreated, created.ID)
	}
	for _, t := range b.Templates {
		saved, err := h.engine.SaveTemplate(ctx, t, actor)
		if err != nil {
			return res, err
		}
		res.Templates = append(res.Templates, saved.ID)
	}
	h.logger.Info("definitions applied",
		"gates_created", len(res.GatesCreated),
		"gates_skipped", len(res.GatesSkipped),
		"templates", len(res.Templates))
	return res, nil
}
