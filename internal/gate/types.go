package gate

import (
	"slices"
	"time"

	"github.com/Iron-Ham/hookline/internal/errors"
)

// Status is the state of a gate.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// SubmissionStatus is the review state of a submission.
type SubmissionStatus string

const (
	SubmissionPending   SubmissionStatus = "PENDING"
	SubmissionApproved  SubmissionStatus = "APPROVED"
	SubmissionRejected  SubmissionStatus = "REJECTED"
	SubmissionWithdrawn SubmissionStatus = "WITHDRAWN"
)

// EvalStatus is the evaluation state of a submission.
type EvalStatus string

const (
	EvalNotStarted EvalStatus = "NOT_STARTED"
	EvalPending    EvalStatus = "PENDING"
	EvalEvaluating EvalStatus = "EVALUATING"
	EvalEvaluated  EvalStatus = "EVALUATED"
	EvalFailed     EvalStatus = "FAILED"
)

// InFlight reports whether an evaluation is queued or running.
func (s EvalStatus) InFlight() bool { return s == EvalPending || s == EvalEvaluating }

// Criterion is one condition a submission must meet.
type Criterion struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool   `yaml:"required" json:"required"`
	// AutoCheck criteria with a Command are verified by running it. An
	// auto-check without a command is ticked in the checklist like a
	// manual criterion.
	AutoCheck bool   `yaml:"auto_check" json:"auto_check"`
	Command   string `yaml:"command,omitempty" json:"command,omitempty"`
}

// automated reports whether the criterion is verified by a command.
func (c Criterion) automated() bool { return c.AutoCheck && c.Command != "" }

// Policy decides when a submission may be approved without review.
type Policy struct {
	Name             string  `yaml:"name,omitempty" json:"name,omitempty"`
	Enabled          bool    `yaml:"enabled" json:"enabled"`
	RequireAllAuto   bool    `yaml:"require_all_auto" json:"require_all_auto"`
	RequireAllManual bool    `yaml:"require_all_manual" json:"require_all_manual"`
	MinConfidence    float64 `yaml:"min_confidence" json:"min_confidence"`
	// TimeoutSeconds bounds one whole evaluation; 0 leaves only the
	// per-command timeout.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	// NotifyOnAutoApprove asks the reviewer channel to be told about
	// auto-approvals.
	NotifyOnAutoApprove bool `yaml:"notify_on_auto_approve" json:"notify_on_auto_approve"`
}

// Timeout returns the evaluation deadline, or zero.
func (p *Policy) Timeout() time.Duration {
	if p == nil || p.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// PolicyDisabled never auto-approves.
func PolicyDisabled() *Policy { return &Policy{Name: "disabled"} }

// PolicyAutoChecksOnly auto-approves when every auto-check passes.
func PolicyAutoChecksOnly() *Policy {
	return &Policy{Name: "auto_checks_only", Enabled: true, RequireAllAuto: true, MinConfidence: 1.0, NotifyOnAutoApprove: true}
}

// PolicyStrict also requires every manual criterion to be ticked.
func PolicyStrict() *Policy {
	return &Policy{Name: "strict", Enabled: true, RequireAllAuto: true, RequireAllManual: true, MinConfidence: 1.0, NotifyOnAutoApprove: true}
}

// PolicyLenient auto-approves at or above minConfidence.
func PolicyLenient(minConfidence float64) *Policy {
	return &Policy{Name: "lenient", Enabled: true, MinConfidence: minConfidence, NotifyOnAutoApprove: true}
}

// PolicyByName returns a preset policy. lenient takes its threshold from
// minConfidence.
func PolicyByName(name string, minConfidence float64) (*Policy, error) {
	switch name {
	case "", "disabled":
		return PolicyDisabled(), nil
	case "auto_checks_only":
		return PolicyAutoChecksOnly(), nil
	case "strict":
		return PolicyStrict(), nil
	case "lenient":
		if minConfidence < 0 || minConfidence > 1 {
			return nil, errors.NewValidationError("lenient min_confidence must be within [0,1]").WithField("min_confidence").WithValue(minConfidence)
		}
		return PolicyLenient(minConfidence), nil
	default:
		return nil, errors.NewValidationError("unknown auto-approval policy").WithField("policy").WithValue(name)
	}
}

// CheckResult is the outcome of one auto-check.
type CheckResult struct {
	Criterion string        `yaml:"criterion" json:"criterion"`
	Command   string        `yaml:"command" json:"command"`
	Passed    bool          `yaml:"passed" json:"passed"`
	Blocked   bool          `yaml:"blocked,omitempty" json:"blocked,omitempty"`
	Rule      string        `yaml:"rule,omitempty" json:"rule,omitempty"`
	Reason    string        `yaml:"reason,omitempty" json:"reason,omitempty"`
	ExitCode  int           `yaml:"exit_code" json:"exit_code"`
	TimedOut  bool          `yaml:"timed_out,omitempty" json:"timed_out,omitempty"`
	Output    string        `yaml:"output,omitempty" json:"output,omitempty"`
	Error     string        `yaml:"error,omitempty" json:"error,omitempty"`
	Duration  time.Duration `yaml:"duration" json:"duration"`
}

// EvaluationResult is the outcome of evaluating a submission.
type EvaluationResult struct {
	Checks         []CheckResult `yaml:"checks" json:"checks"`
	Confidence     float64       `yaml:"confidence" json:"confidence"`
	AllAutoPassed  bool          `yaml:"all_auto_passed" json:"all_auto_passed"`
	ManualComplete bool          `yaml:"manual_complete" json:"manual_complete"`
	CanAutoApprove bool          `yaml:"can_auto_approve" json:"can_auto_approve"`
	// MissingManual lists manual criteria not ticked in the checklist.
	MissingManual []string  `yaml:"missing_manual,omitempty" json:"missing_manual,omitempty"`
	Error         string    `yaml:"error,omitempty" json:"error,omitempty"`
	EvaluatedAt   time.Time `yaml:"evaluated_at" json:"evaluated_at"`
}

// Submission is one attempt to pass a gate.
type Submission struct {
	ID          string            `yaml:"id" json:"id"`
	GateID      string            `yaml:"gate_id" json:"gate_id"`
	WorkflowID  string            `yaml:"molecule_id,omitempty" json:"molecule_id,omitempty"`
	StepID      string            `yaml:"step_id,omitempty" json:"step_id,omitempty"`
	SubmittedBy string            `yaml:"submitted_by" json:"submitted_by"`
	Summary     string            `yaml:"summary,omitempty" json:"summary,omitempty"`
	Checklist   map[string]bool   `yaml:"checklist" json:"checklist"`
	Status      SubmissionStatus  `yaml:"status" json:"status"`
	EvalStatus  EvalStatus        `yaml:"evaluation_status" json:"evaluation_status"`
	Evaluation  *EvaluationResult `yaml:"evaluation,omitempty" json:"evaluation,omitempty"`

	AutoApproved   bool       `yaml:"auto_approved" json:"auto_approved"`
	Reviewer       string     `yaml:"reviewer,omitempty" json:"reviewer,omitempty"`
	ReviewNotes    string     `yaml:"review_notes,omitempty" json:"review_notes,omitempty"`
	RejectReasons  []string   `yaml:"reject_reasons,omitempty" json:"reject_reasons,omitempty"`
	ResubmissionOf string     `yaml:"resubmission_of,omitempty" json:"resubmission_of,omitempty"`
	SubmittedAt    time.Time  `yaml:"submitted_at" json:"submitted_at"`
	ReviewedAt     *time.Time `yaml:"reviewed_at,omitempty" json:"reviewed_at,omitempty"`
	// LastEntryID is the latest ledger entry about the submission.
	LastEntryID string `yaml:"last_entry_id,omitempty" json:"last_entry_id,omitempty"`
}

func (s *Submission) clone() *Submission {
	cp := *s
	cp.Checklist = make(map[string]bool, len(s.Checklist))
	for k, v := range s.Checklist {
		cp.Checklist[k] = v
	}
	cp.RejectReasons = slices.Clone(s.RejectReasons)
	if s.Evaluation != nil {
		ev := *s.Evaluation
		ev.Checks = slices.Clone(s.Evaluation.Checks)
		ev.MissingManual = slices.Clone(s.Evaluation.MissingManual)
		cp.Evaluation = &ev
	}
	return &cp
}

// Gate is an approval checkpoint bound to a pipeline stage.
type Gate struct {
	ID            string        `yaml:"id" json:"id"`
	Name          string        `yaml:"name" json:"name"`
	Description   string        `yaml:"description,omitempty" json:"description,omitempty"`
	OwnerRole     string        `yaml:"owner_role,omitempty" json:"owner_role,omitempty"`
	PipelineStage string        `yaml:"pipeline_stage,omitempty" json:"pipeline_stage,omitempty"`
	Criteria      []Criterion   `yaml:"criteria" json:"criteria"`
	Status        Status        `yaml:"status" json:"status"`
	Policy        *Policy       `yaml:"auto_approval_policy" json:"auto_approval_policy"`
	Submissions   []*Submission `yaml:"submissions" json:"submissions"`
	CreatedAt     time.Time     `yaml:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `yaml:"updated_at" json:"updated_at"`
	LastEntryID   string        `yaml:"last_entry_id,omitempty" json:"last_entry_id,omitempty"`
}

func (g *Gate) find(submissionID string) *Submission {
	for _, s := range g.Submissions {
		if s.ID == submissionID {
			return s
		}
	}
	return nil
}

// Submission returns a copy of the named submission, or nil.
func (g *Gate) Submission(id string) *Submission {
	if s := g.find(id); s != nil {
		return s.clone()
	}
	return nil
}

// SubmitRequest describes a new submission.
type SubmitRequest struct {
	WorkflowID  string
	StepID      string
	SubmittedBy string
	Summary     string
	Checklist   map[string]bool
	// ParentEntryID links the submission's first ledger entry, typically to
	// the workflow's latest entry.
	ParentEntryID string
}

// OnComplete receives the outcome of an async evaluation. err is non-nil
// when the evaluation failed or was canceled; sub may then be nil.
type OnComplete func(sub *Submission, res *EvaluationResult, err error)
