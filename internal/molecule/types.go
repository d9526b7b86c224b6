package molecule

import (
	"time"
)

// Status is the lifecycle state of a Workflow.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// IsTerminal returns true if this status represents a final state.
func (s Status) IsTerminal() bool { return s == StatusCompleted || s == StatusFailed }

// StepStatus is the lifecycle state of a Step.
type StepStatus string

const (
	StepPending    StepStatus = "PENDING"
	StepInProgress StepStatus = "IN_PROGRESS"
	StepDelegated  StepStatus = "DELEGATED"
	StepCompleted  StepStatus = "COMPLETED"
	StepFailed     StepStatus = "FAILED"
)

// IsTerminal returns true if this status represents a final state.
func (s StepStatus) IsTerminal() bool { return s == StepCompleted || s == StepFailed }

var validWorkflowTransitions = map[Status]map[Status]bool{
	StatusDraft:  {StatusActive: true},
	StatusActive: {StatusCompleted: true, StatusFailed: true},
}

var validStepTransitions = map[StepStatus]map[StepStatus]bool{
	StepPending: {
		StepInProgress: true,
		StepDelegated:  true,
		StepCompleted:  true, // gate approval only
		StepFailed:     true,
	},
	StepInProgress: {
		StepDelegated: true,
		StepCompleted: true,
		StepFailed:    true,
	},
	StepDelegated: {
		StepCompleted: true,
		StepFailed:    true,
	},
}

func canTransitionWorkflow(from, to Status) bool { return validWorkflowTransitions[from][to] }

func canTransitionStep(from, to StepStatus) bool { return validStepTransitions[from][to] }

// Responsibility records who owns the outcome of a workflow.
type Responsibility struct {
	Responsible string   `yaml:"responsible,omitempty" json:"responsible,omitempty"`
	Accountable string   `yaml:"accountable,omitempty" json:"accountable,omitempty"`
	Consulted   []string `yaml:"consulted,omitempty" json:"consulted,omitempty"`
	Informed    []string `yaml:"informed,omitempty" json:"informed,omitempty"`
}

// Delegation pairs a delegate with the work item handed to them.
type Delegation struct {
	DelegateID  string    `yaml:"delegate_id" json:"delegate_id"`
	WorkItemID  string    `yaml:"work_item_id,omitempty" json:"work_item_id,omitempty"`
	QueueID     string    `yaml:"queue_id,omitempty" json:"queue_id,omitempty"`
	DelegatedAt time.Time `yaml:"delegated_at" json:"delegated_at"`
}

// Step is one node of a workflow.
type Step struct {
	ID          string       `yaml:"id" json:"id"`
	Key         string       `yaml:"key,omitempty" json:"key,omitempty"`
	Name        string       `yaml:"name" json:"name"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	Department  string       `yaml:"department,omitempty" json:"department,omitempty"`
	DependsOn   []string     `yaml:"depends_on" json:"depends_on"`
	IsGate      bool         `yaml:"is_gate" json:"is_gate"`
	GateID      string       `yaml:"gate_id,omitempty" json:"gate_id,omitempty"`
	Status      StepStatus   `yaml:"status" json:"status"`
	AssignedTo  string       `yaml:"assigned_to,omitempty" json:"assigned_to,omitempty"`
	Delegations []Delegation `yaml:"delegations" json:"delegations"`
	// RequiredCapabilities is copied onto the work item dispatched for the step.
	RequiredCapabilities []string `yaml:"required_capabilities,omitempty" json:"required_capabilities,omitempty"`

	WorkItemID   string         `yaml:"work_item_id,omitempty" json:"work_item_id,omitempty"`
	Result       string         `yaml:"result,omitempty" json:"result,omitempty"`
	Error        string         `yaml:"error,omitempty" json:"error,omitempty"`
	ErrorType    string         `yaml:"error_type,omitempty" json:"error_type,omitempty"`
	ErrorContext map[string]any `yaml:"error_context,omitempty" json:"error_context,omitempty"`
	CompletedBy  string         `yaml:"completed_by,omitempty" json:"completed_by,omitempty"`
	SubmissionID string         `yaml:"submission_id,omitempty" json:"submission_id,omitempty"`
	AutoApproved bool           `yaml:"auto_approved,omitempty" json:"auto_approved,omitempty"`
	StartedAt    *time.Time     `yaml:"started_at,omitempty" json:"started_at,omitempty"`
	CompletedAt  *time.Time     `yaml:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// Workflow is a DAG of steps.
type Workflow struct {
	ID             string         `yaml:"id" json:"id"`
	Name           string         `yaml:"name" json:"name"`
	Description    string         `yaml:"description,omitempty" json:"description,omitempty"`
	Status         Status         `yaml:"status" json:"status"`
	Steps          []*Step        `yaml:"steps" json:"steps"`
	Responsibility Responsibility `yaml:"responsibility" json:"responsibility"`
	TemplateID     string         `yaml:"template_id,omitempty" json:"template_id,omitempty"`
	CreatedBy      string         `yaml:"created_by,omitempty" json:"created_by,omitempty"`
	Error          string         `yaml:"error,omitempty" json:"error,omitempty"`
	CreatedAt      time.Time      `yaml:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `yaml:"updated_at" json:"updated_at"`
	StartedAt      *time.Time     `yaml:"started_at,omitempty" json:"started_at,omitempty"`
	CompletedAt    *time.Time     `yaml:"completed_at,omitempty" json:"completed_at,omitempty"`
	// LastEntryID is the most recent ledger entry about the workflow or
	// any of its steps; each new entry names it as parent.
	LastEntryID string `yaml:"last_entry_id,omitempty" json:"last_entry_id,omitempty"`
}

// Step returns the step whose ID or Key is ref.
func (w *Workflow) Step(ref string) *Step {
	for _, s := range w.Steps {
		if s.ID == ref {
			return s
		}
	}
	for _, s := range w.Steps {
		if s.Key != "" && s.Key == ref {
			return s
		}
	}
	return nil
}

func (w *Workflow) byID(id string) *Step {
	for _, s := range w.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// depsCompleted reports whether every dependency of s is COMPLETED and
// returns the ones that are not.
func (w *Workflow) depsCompleted(s *Step) (bool, []string) {
	var open []string
	for _, dep := range s.DependsOn {
		d := w.byID(dep)
		if d == nil || d.Status != StepCompleted {
			open = append(open, dep)
		}
	}
	return len(open) == 0, open
}

// available returns PENDING steps whose dependencies are all COMPLETED.
func (w *Workflow) available() []*Step {
	var out []*Step
	for _, s := range w.Steps {
		if s.Status != StepPending {
			continue
		}
		if ok, _ := w.depsCompleted(s); ok {
			out = append(out, s)
		}
	}
	return out
}

func (w *Workflow) allCompleted() bool {
	for _, s := range w.Steps {
		if s.Status != StepCompleted {
			return false
		}
	}
	return true
}

// Counts returns how many steps are in each status.
func (w *Workflow) Counts() map[StepStatus]int {
	out := make(map[StepStatus]int)
	for _, s := range w.Steps {
		out[s.Status]++
	}
	return out
}

// StepSpec describes a step at creation time. DependsOn refers to sibling
// steps by Key, or by Name when no step has that key.
type StepSpec struct {
	Key                  string   `yaml:"key,omitempty" json:"key,omitempty"`
	Name                 string   `yaml:"name" json:"name"`
	Description          string   `yaml:"description,omitempty" json:"description,omitempty"`
	Department           string   `yaml:"department,omitempty" json:"department,omitempty"`
	DependsOn            []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	IsGate               bool     `yaml:"is_gate,omitempty" json:"is_gate,omitempty"`
	GateID               string   `yaml:"gate_id,omitempty" json:"gate_id,omitempty"`
	RequiredCapabilities []string `yaml:"required_capabilities,omitempty" json:"required_capabilities,omitempty"`
}

// CreateRequest describes a new workflow.
type CreateRequest struct {
	Name           string
	Description    string
	Steps          []StepSpec
	Responsibility Responsibility
	CreatedBy      string
	TemplateID     string
}

// Template is a reusable workflow definition.
type Template struct {
	ID             string         `yaml:"id" json:"id"`
	Name           string         `yaml:"name" json:"name"`
	Description    string         `yaml:"description,omitempty" json:"description,omitempty"`
	Steps          []StepSpec     `yaml:"steps" json:"steps"`
	Responsibility Responsibility `yaml:"responsibility,omitempty" json:"responsibility,omitempty"`
	CreatedAt      time.Time      `yaml:"created_at" json:"created_at"`
}

// InstantiateRequest overrides template fields for a new workflow.
type InstantiateRequest struct {
	Name           string
	Description    string
	Responsibility *Responsibility
	CreatedBy      string
}

// StepFailure describes why a step failed.
type StepFailure struct {
	Actor     string
	Error     string
	ErrorType string
	Context   map[string]any
}

// GateApproval is the evidence that a gate approved a gate-bound step.
type GateApproval struct {
	GateID        string
	SubmissionID  string
	Reviewer      string
	AutoApproved  bool
	LedgerEntryID string
}
