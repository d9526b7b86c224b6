package molecule

import (
	"context"
	"strings"

	"github.com/Iron-Ham/hookline/internal/errors"
	"github.com/Iron-Ham/hookline/internal/ident"
	"github.com/Iron-Ham/hookline/internal/ledger"
	"github.com/Iron-Ham/hookline/internal/store"
)

// SaveTemplate validates and stores a reusable workflow definition. A
// template without an ID gets one.
func (e *Engine) SaveTemplate(ctx context.Context, t Template, actor string) (*Template, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, errors.NewValidationError("template name is required").WithField("name")
	}
	now := e.clock.Now()
	if _, err := buildSteps(t.Steps, now); err != nil {
		return nil, err
	}
	if t.ID == "" {
		t.ID = ident.NewAt(ident.Template, now)
	} else if err := validWorkflowID(t.ID); err != nil {
		return nil, err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}

	entry, err := e.ledger.Record(ctx, ledger.RecordRequest{
		AgentID:    actorOr(actor),
		Action:     ActionTemplateSaved,
		EntityType: ledger.EntityTemplate,
		EntityID:   t.ID,
		Data:       map[string]any{"name": t.Name, "step_count": len(t.Steps)},
		Message:    "template saved: " + t.Name,
	})
	if err != nil {
		return nil, err
	}
	if err := store.PutRecord(ctx, e.store, store.WorkflowTemplates, t.ID, &t); err != nil {
		e.abort(ctx, []*ledger.Entry{entry}, err)
		return nil, err
	}
	e.logger.Info("workflow template saved", "template_id", t.ID, "name", t.Name)
	return &t, nil
}

// GetTemplate returns a stored template.
func (e *Engine) GetTemplate(ctx context.Context, id string) (*Template, error) {
	if err := validWorkflowID(id); err != nil {
		return nil, err
	}
	var t Template
	if err := store.GetRecord(ctx, e.store, store.WorkflowTemplates, id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTemplates returns every stored template.
func (e *Engine) ListTemplates(ctx context.Context) ([]*Template, error) {
	ids, err := e.store.List(ctx, store.WorkflowTemplates)
	if err != nil {
		return nil, err
	}
	out := make([]*Template, 0, len(ids))
	for _, id := range ids {
		t, err := e.GetTemplate(ctx, id)
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Instantiate creates a DRAFT workflow from a template. Empty request
// fields fall back to the template's values.
func (e *Engine) Instantiate(ctx context.Context, templateID string, req InstantiateRequest) (*Workflow, error) {
	t, err := e.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	name := req.Name
	if name == "" {
		name = t.Name
	}
	desc := req.Description
	if desc == "" {
		desc = t.Description
	}
	resp := t.Responsibility
	if req.Responsibility != nil {
		resp = *req.Responsibility
	}
	return e.Create(ctx, CreateRequest{
		Name:           name,
		Description:    desc,
		Steps:          t.Steps,
		Responsibility: resp,
		CreatedBy:      req.CreatedBy,
		TemplateID:     t.ID,
	})
}
