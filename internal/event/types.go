package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "queue.item_claimed").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeItemEnqueued        = "queue.item_enqueued"
	TypeItemClaimed         = "queue.item_claimed"
	TypeItemReleased        = "queue.item_released"
	TypeItemFailed          = "queue.item_failed"
	TypeStepUnblocked       = "workflow.step_unblocked"
	TypeStepCompleted       = "workflow.step_completed"
	TypeStepFailed          = "workflow.step_failed"
	TypeWorkflowCompleted   = "workflow.completed"
	TypeWorkflowFailed      = "workflow.failed"
	TypeSubmissionEvaluated = "gate.submission_evaluated"
	TypeAutoApproved        = "gate.auto_approved"
	TypeSubmissionReviewed  = "gate.submission_reviewed"
)

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now().UTC(),
	}
}

// -----------------------------------------------------------------------------
// Queue Events
// -----------------------------------------------------------------------------

// ItemEnqueuedEvent is emitted when a work item is added to a queue.
type ItemEnqueuedEvent struct {
	baseEvent
	QueueID  string
	ItemID   string
	Priority int
	Kind     string // work item kind, e.g. "step", "review"
}

// NewItemEnqueuedEvent creates an ItemEnqueuedEvent.
func NewItemEnqueuedEvent(queueID, itemID string, priority int, kind string) ItemEnqueuedEvent {
	return ItemEnqueuedEvent{
		baseEvent: newBaseEvent(TypeItemEnqueued),
		QueueID:   queueID,
		ItemID:    itemID,
		Priority:  priority,
		Kind:      kind,
	}
}

// ItemClaimedEvent is emitted when a consumer wins a claim.
type ItemClaimedEvent struct {
	baseEvent
	QueueID    string
	ItemID     string
	ConsumerID string
}

// NewItemClaimedEvent creates an ItemClaimedEvent.
func NewItemClaimedEvent(queueID, itemID, consumerID string) ItemClaimedEvent {
	return ItemClaimedEvent{
		baseEvent:  newBaseEvent(TypeItemClaimed),
		QueueID:    queueID,
		ItemID:     itemID,
		ConsumerID: consumerID,
	}
}

// ItemReleasedEvent is emitted when a claimed item is completed or returned
// to the queue for another attempt.
type ItemReleasedEvent struct {
	baseEvent
	QueueID    string
	ItemID     string
	Success    bool
	Requeued   bool
	RetryCount int
}

// NewItemReleasedEvent creates an ItemReleasedEvent.
func NewItemReleasedEvent(queueID, itemID string, success, requeued bool, retryCount int) ItemReleasedEvent {
	return ItemReleasedEvent{
		baseEvent:  newBaseEvent(TypeItemReleased),
		QueueID:    queueID,
		ItemID:     itemID,
		Success:    success,
		Requeued:   requeued,
		RetryCount: retryCount,
	}
}

// ItemFailedEvent is emitted when an item exhausts its retries.
// It is an escalation signal.
type ItemFailedEvent struct {
	baseEvent
	QueueID    string
	ItemID     string
	WorkflowID string
	StepID     string
	AssignedTo string
	Error      string
	RetryCount int
}

// NewItemFailedEvent creates an ItemFailedEvent.
func NewItemFailedEvent(queueID, itemID, workflowID, stepID, assignedTo, errMsg string, retryCount int) ItemFailedEvent {
	return ItemFailedEvent{
		baseEvent:  newBaseEvent(TypeItemFailed),
		QueueID:    queueID,
		ItemID:     itemID,
		WorkflowID: workflowID,
		StepID:     stepID,
		AssignedTo: assignedTo,
		Error:      errMsg,
		RetryCount: retryCount,
	}
}

// -----------------------------------------------------------------------------
// Workflow Events
// -----------------------------------------------------------------------------

// StepUnblockedEvent is emitted when every dependency of a step is
// COMPLETED, or at workflow start for steps without dependencies.
type StepUnblockedEvent struct {
	baseEvent
	WorkflowID string
	StepID     string
	StepName   string
	Department string
	IsGate     bool
	GateID     string
	// WorkItemID is set when the engine dispatched the step to a queue.
	WorkItemID string
}

// NewStepUnblockedEvent creates a StepUnblockedEvent.
func NewStepUnblockedEvent(workflowID, stepID, stepName, department string, isGate bool, gateID, workItemID string) StepUnblockedEvent {
	return StepUnblockedEvent{
		baseEvent:  newBaseEvent(TypeStepUnblocked),
		WorkflowID: workflowID,
		StepID:     stepID,
		StepName:   stepName,
		Department: department,
		IsGate:     isGate,
		GateID:     gateID,
		WorkItemID: workItemID,
	}
}

// StepCompletedEvent is emitted when a step reaches COMPLETED.
type StepCompletedEvent struct {
	baseEvent
	WorkflowID string
	StepID     string
	// ViaGate is true when a gate approval completed the step.
	ViaGate bool
}

// NewStepCompletedEvent creates a StepCompletedEvent.
func NewStepCompletedEvent(workflowID, stepID string, viaGate bool) StepCompletedEvent {
	return StepCompletedEvent{
		baseEvent:  newBaseEvent(TypeStepCompleted),
		WorkflowID: workflowID,
		StepID:     stepID,
		ViaGate:    viaGate,
	}
}

// StepFailedEvent is an escalation signal for a failed step.
type StepFailedEvent struct {
	baseEvent
	WorkflowID string
	StepID     string
	Department string
	AssignedTo string
	Error      string
	ErrorType  string
}

// NewStepFailedEvent creates a StepFailedEvent.
func NewStepFailedEvent(workflowID, stepID, department, assignedTo, errMsg, errType string) StepFailedEvent {
	return StepFailedEvent{
		baseEvent:  newBaseEvent(TypeStepFailed),
		WorkflowID: workflowID,
		StepID:     stepID,
		Department: department,
		AssignedTo: assignedTo,
		Error:      errMsg,
		ErrorType:  errType,
	}
}

// WorkflowCompletedEvent is emitted when a workflow reaches COMPLETED.
type WorkflowCompletedEvent struct {
	baseEvent
	WorkflowID string
	Name       string
}

// NewWorkflowCompletedEvent creates a WorkflowCompletedEvent.
func NewWorkflowCompletedEvent(workflowID, name string) WorkflowCompletedEvent {
	return WorkflowCompletedEvent{
		baseEvent:  newBaseEvent(TypeWorkflowCompleted),
		WorkflowID: workflowID,
		Name:       name,
	}
}

// WorkflowFailedEvent is emitted when a workflow reaches FAILED.
type WorkflowFailedEvent struct {
	baseEvent
	WorkflowID  string
	Name        string
	Error       string
	Accountable string
}

// NewWorkflowFailedEvent creates a WorkflowFailedEvent.
func NewWorkflowFailedEvent(workflowID, name, errMsg, accountable string) WorkflowFailedEvent {
	return WorkflowFailedEvent{
		baseEvent:   newBaseEvent(TypeWorkflowFailed),
		WorkflowID:  workflowID,
		Name:        name,
		Error:       errMsg,
		Accountable: accountable,
	}
}

// -----------------------------------------------------------------------------
// Gate Events
// -----------------------------------------------------------------------------

// SubmissionEvaluatedEvent is emitted when an evaluation finishes, whether
// it succeeded or failed.
type SubmissionEvaluatedEvent struct {
	baseEvent
	GateID         string
	SubmissionID   string
	Confidence     float64
	CanAutoApprove bool
	Failed         bool
}

// NewSubmissionEvaluatedEvent creates a SubmissionEvaluatedEvent.
func NewSubmissionEvaluatedEvent(gateID, submissionID string, confidence float64, canAutoApprove, failed bool) SubmissionEvaluatedEvent {
	return SubmissionEvaluatedEvent{
		baseEvent:      newBaseEvent(TypeSubmissionEvaluated),
		GateID:         gateID,
		SubmissionID:   submissionID,
		Confidence:     confidence,
		CanAutoApprove: canAutoApprove,
		Failed:         failed,
	}
}

// AutoApprovedEvent notifies the human reviewer channel that a submission
// passed without review.
type AutoApprovedEvent struct {
	baseEvent
	GateID       string
	SubmissionID string
	WorkflowID   string
	StepID       string
	Confidence   float64
	Notify       bool
}

// NewAutoApprovedEvent creates an AutoApprovedEvent.
func NewAutoApprovedEvent(gateID, submissionID, workflowID, stepID string, confidence float64, notify bool) AutoApprovedEvent {
	return AutoApprovedEvent{
		baseEvent:    newBaseEvent(TypeAutoApproved),
		GateID:       gateID,
		SubmissionID: submissionID,
		WorkflowID:   workflowID,
		StepID:       stepID,
		Confidence:   confidence,
		Notify:       notify,
	}
}

// SubmissionReviewedEvent is emitted when a submission is approved or
// rejected, manually or automatically.
type SubmissionReviewedEvent struct {
	baseEvent
	GateID        string
	SubmissionID  string
	WorkflowID    string
	StepID        string
	Approved      bool
	AutoApproved  bool
	Reviewer      string
	Reasons       []string
	LedgerEntryID string
}

// NewSubmissionReviewedEvent creates a SubmissionReviewedEvent.
func NewSubmissionReviewedEvent(gateID, submissionID, workflowID, stepID string, approved, autoApproved bool, reviewer string, reasons []string, ledgerEntryID string) SubmissionReviewedEvent {
	return SubmissionReviewedEvent{
		baseEvent:     newBaseEvent(TypeSubmissionReviewed),
		GateID:        gateID,
		SubmissionID:  submissionID,
		WorkflowID:    workflowID,
		StepID:        stepID,
		Approved:      approved,
		AutoApproved:  autoApproved,
		Reviewer:      reviewer,
		Reasons:       reasons,
		LedgerEntryID: ledgerEntryID,
	}
}
