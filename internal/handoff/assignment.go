package handoff

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/hookline/internal/errors"
	"github.com/Iron-Ham/hookline/internal/hook"
)

// Context keys carried on work items.
const (
	KeyWorkflowName = "workflow_name"
	KeyDepartment   = "department"
	KeyIsGate       = "is_gate"
	KeyGateID       = "gate_id"
	KeySubmissionID = "submission_id"
	KeySubmittedBy  = "submitted_by"
	KeyConfidence   = "confidence"
	KeyMissing      = "missing_manual"
	KeySource       = "source"
	KeySourceID     = "source_id"
	KeyReason       = "reason"
	KeyFailedBy     = "failed_by"
)

// Assignment is the closed set of things a work item can ask for.
type Assignment interface {
	// Item returns the work item the assignment was decoded from.
	Item() *hook.WorkItem
	assignment()
}

type base struct {
	item *hook.WorkItem
}

func (b base) Item() *hook.WorkItem { return b.item }
func (base) assignment()            {}

// StepAssignment asks the consumer to carry out a workflow step.
type StepAssignment struct {
	base
	WorkflowID   string
	WorkflowName string
	StepID       string
	Department   string
	// IsGate steps finish by submitting to GateID rather than completing
	// the step directly.
	IsGate bool
	GateID string
}

// ReviewAssignment asks a reviewer to approve or reject a submission.
type ReviewAssignment struct {
	base
	GateID        string
	SubmissionID  string
	WorkflowID    string
	StepID        string
	SubmittedBy   string
	Confidence    float64
	MissingManual []string
}

// EscalationAssignment reports a failure to the role accountable for it.
type EscalationAssignment struct {
	base
	// Source is the kind of entity that failed: "work_item", "step" or
	// "workflow".
	Source     string
	SourceID   string
	WorkflowID string
	StepID     string
	Reason     string
	FailedBy   string
}

// Handler receives decoded assignments.
type Handler interface {
	HandleStep(ctx context.Context, a *StepAssignment) error
	HandleReview(ctx context.Context, a *ReviewAssignment) error
	HandleEscalation(ctx context.Context, a *EscalationAssignment) error
}

// Decode returns the assignment described by item. Items of an unknown
// kind, or missing the fields their kind needs, are a ValidationError.
func Decode(item *hook.WorkItem) (Assignment, error) {
	if item == nil {
		return nil, errors.NewValidationError("nil work item")
	}
	c := item.Context
	switch item.Kind {
	case hook.KindStep:
		if item.WorkflowID == "" || item.StepID == "" {
			return nil, invalid(item, "step item without workflow or step id")
		}
		return &StepAssignment{
			base:         base{item},
			WorkflowID:   item.WorkflowID,
			WorkflowName: str(c, KeyWorkflowName),
			StepID:       item.StepID,
			Department:   str(c, KeyDepartment),
			IsGate:       flag(c, KeyIsGate),
			GateID:       str(c, KeyGateID),
		}, nil
	case hook.KindReview:
		a := &ReviewAssignment{
			base:          base{item},
			GateID:        str(c, KeyGateID),
			SubmissionID:  str(c, KeySubmissionID),
			WorkflowID:    item.WorkflowID,
			StepID:        item.StepID,
			SubmittedBy:   str(c, KeySubmittedBy),
			Confidence:    num(c, KeyConfidence),
			MissingManual: strs(c, KeyMissing),
		}
		if a.GateID == "" || a.SubmissionID == "" {
			return nil, invalid(item, "review item without gate or submission id")
		}
		return a, nil
	case hook.KindEscalation:
		a := &EscalationAssignment{
			base:       base{item},
			Source:     str(c, KeySource),
			SourceID:   str(c, KeySourceID),
			WorkflowID: item.WorkflowID,
			StepID:     item.StepID,
			Reason:     str(c, KeyReason),
			FailedBy:   str(c, KeyFailedBy),
		}
		if a.Source == "" {
			return nil, invalid(item, "escalation item without source")
		}
		return a, nil
	default:
		return nil, invalid(item, fmt.Sprintf("no assignment for kind %q", item.Kind))
	}
}

// Dispatch calls the Handler method matching a.
func Dispatch(ctx context.Context, h Handler, a Assignment) error {
	switch a := a.(type) {
	case *StepAssignment:
		return h.HandleStep(ctx, a)
	case *ReviewAssignment:
		return h.HandleReview(ctx, a)
	case *EscalationAssignment:
		return h.HandleEscalation(ctx, a)
	default:
		return errors.NewValidationError(fmt.Sprintf("unknown assignment %T", a))
	}
}

// Handle decodes item and dispatches it.
func Handle(ctx context.Context, h Handler, item *hook.WorkItem) error {
	a, err := Decode(item)
	if err != nil {
		return err
	}
	return Dispatch(ctx, h, a)
}

func invalid(item *hook.WorkItem, msg string) error {
	return errors.NewValidationError(msg).WithField("kind").WithValue(fmt.Sprintf("%s (%s)", item.Kind, item.ID))
}

func str(c map[string]any, key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

func flag(c map[string]any, key string) bool {
	switch v := c[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	}
	return false
}

func num(c map[string]any, key string) float64 {
	switch v := c[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// strs reads a string list that may have round-tripped through YAML or
// JSON as []any.
func strs(c map[string]any, key string) []string {
	switch v := c[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
