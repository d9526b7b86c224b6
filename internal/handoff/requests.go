package handoff

import (
	"fmt"

	"github.com/Iron-Ham/hookline/internal/hook"
)

// ReviewRequest describes a submission that needs a human decision.
type ReviewRequest struct {
	GateID        string
	GateName      string
	SubmissionID  string
	WorkflowID    string
	StepID        string
	SubmittedBy   string
	Confidence    float64
	MissingManual []string
	ParentEntryID string
}

// NewReviewRequest builds the enqueue request for a review item.
func NewReviewRequest(r ReviewRequest) hook.EnqueueRequest {
	missing := append([]string(nil), r.MissingManual...)
	return hook.EnqueueRequest{
		Title:      fmt.Sprintf("Review submission %s to %s", r.SubmissionID, r.GateName),
		Kind:       hook.KindReview,
		WorkflowID: r.WorkflowID,
		StepID:     r.StepID,
		Priority:   hook.PriorityHigh,
		Context: map[string]any{
			KeyGateID:       r.GateID,
			KeySubmissionID: r.SubmissionID,
			KeySubmittedBy:  r.SubmittedBy,
			KeyConfidence:   r.Confidence,
			KeyMissing:      missing,
		},
		EnqueuedBy:    "gate-" + r.GateID,
		ParentEntryID: r.ParentEntryID,
	}
}

// EscalationRequest describes a failure routed to an accountable role.
type EscalationRequest struct {
	Source        string
	SourceID      string
	WorkflowID    string
	StepID        string
	Reason        string
	FailedBy      string
	ParentEntryID string
}

// NewEscalationRequest builds the enqueue request for an escalation item.
// Escalations are never retried.
func NewEscalationRequest(r EscalationRequest) hook.EnqueueRequest {
	noRetry := 0
	return hook.EnqueueRequest{
		Title:      fmt.Sprintf("Escalation: %s %s failed", r.Source, r.SourceID),
		Kind:       hook.KindEscalation,
		WorkflowID: r.WorkflowID,
		StepID:     r.StepID,
		Priority:   hook.PriorityCritical,
		Context: map[string]any{
			KeySource:   r.Source,
			KeySourceID: r.SourceID,
			KeyReason:   r.Reason,
			KeyFailedBy: r.FailedBy,
		},
		MaxRetries:    &noRetry,
		EnqueuedBy:    "escalation",
		ParentEntryID: r.ParentEntryID,
	}
}
