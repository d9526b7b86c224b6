package gate

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/Iron-Ham/hookline/internal/clock"
	"github.com/Iron-Ham/hookline/internal/errors"
	"github.com/Iron-Ham/hookline/internal/event"
	"github.com/Iron-Ham/hookline/internal/ident"
	"github.com/Iron-Ham/hookline/internal/ledger"
	"github.com/Iron-Ham/hookline/internal/lock"
	"github.com/Iron-Ham/hookline/internal/logging"
	"github.com/Iron-Ham/hookline/internal/store"
	"github.com/Iron-Ham/hookline/internal/verify"
)

// AutoApprovalReviewer is recorded as the reviewer of auto-approved
// submissions.
const AutoApprovalReviewer = "auto-approval-system"

// Ledger actions recorded by gates.
const (
	ActionGateCreated      = "gate.created"
	ActionGateClosed       = "gate.closed"
	ActionSubmitted        = "submission.created"
	ActionEvaluated        = "submission.evaluated"
	ActionEvaluationFailed = "submission.evaluation_failed"
	ActionAutoApproved     = ledger.ActionSubmissionAutoApproved
	ActionApproved         = ledger.ActionSubmissionApproved
	ActionRejected         = "submission.rejected"
	ActionWithdrawn        = "submission.withdrawn"
	ActionAborted          = "transition.aborted"
)

const (
	defaultEvalWorkers   = 4
	defaultEvalQueueSize = 64
	lockScope            = "gate"
)

// Config holds required dependencies for creating a Manager.
type Config struct {
	Store  store.Store
	Ledger ledger.Ledger
	Locks  *lock.Keyed
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithBus publishes gate events on p.
func WithBus(p event.Publisher) Option {
	return func(m *Manager) { m.bus = event.OrNop(p) }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = logging.OrNop(l) }
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = clock.OrReal(c) }
}

// WithExecutor sets how verification commands run. The default is a
// verify.Sandbox with the default allowlist.
func WithExecutor(x verify.Executor) Option {
	return func(m *Manager) {
		if x != nil {
			m.exec = x
		}
	}
}

// WithEvalWorkers sets how many async evaluations run at once.
func WithEvalWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithEvalQueueSize bounds async evaluations waiting for a worker.
func WithEvalQueueSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

// Manager runs gate operations against the store.
type Manager struct {
	store     store.Store
	ledger    ledger.Ledger
	locks     *lock.Keyed
	bus       event.Publisher
	logger    *logging.Logger
	clock     clock.Clock
	exec      verify.Executor
	flight    singleflight.Group
	workers   int
	queueSize int
	async     *evaluator
}

// NewManager creates a Manager and starts its async evaluation pool. Call
// Close to stop the pool.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("gate: Store is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("gate: Ledger is required")
	}
	m := &Manager{
		store:     cfg.Store,
		ledger:    cfg.Ledger,
		locks:     cfg.Locks,
		bus:       event.Nop{},
		logger:    logging.NopLogger(),
		clock:     clock.Real(),
		exec:      verify.NewSandbox(),
		workers:   defaultEvalWorkers,
		queueSize: defaultEvalQueueSize,
	}
	if m.locks == nil {
		m.locks = lock.NewKeyed("")
	}
	for _, opt := range opts {
		opt(m)
	}
	m.async = newEvaluator(m, m.workers, m.queueSize)
	return m, nil
}

// Close cancels queued async evaluations and waits for running ones.
func (m *Manager) Close() error {
	m.async.close()
	return nil
}

func validGateID(id string) error {
	if strings.TrimSpace(id) == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return errors.NewValidationError("invalid gate id").WithField("gate_id").WithValue(id)
	}
	return nil
}

// gateTxn collects the ledger entries and events of one locked mutation.
type gateTxn struct {
	ctx     context.Context
	m       *Manager
	gate    *Gate
	entries []*ledger.Entry
	events  []event.Event
}

// record appends an entry about sub (or the gate when sub is nil) linked
// to its previous entry unless parent is given.
func (tx *gateTxn) record(sub *Submission, agent, action, parent, msg string, data map[string]any) (*ledger.Entry, error) {
	if data == nil {
		data = map[string]any{}
	}
	data["gate_id"] = tx.gate.ID
	entityType, entityID := ledger.EntityGate, tx.gate.ID
	last := &tx.gate.LastEntryID
	if sub != nil {
		entityType, entityID = ledger.EntitySubmission, sub.ID
		last = &sub.LastEntryID
		if sub.WorkflowID != "" {
			data["workflow_id"] = sub.WorkflowID
			data["step_id"] = sub.StepID
		}
	}
	if parent == "" {
		parent = *last
	}
	e, err := tx.m.ledger.Record(tx.ctx, ledger.RecordRequest{
		AgentID:       agent,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Data:          data,
		Message:       msg,
		ParentEntryID: parent,
	})
	if err != nil {
		return nil, err
	}
	*last = e.ID
	tx.entries = append(tx.entries, e)
	return e, nil
}

func (tx *gateTxn) publish(ev event.Event) { tx.events = append(tx.events, ev) }

// withGate runs fn on a freshly loaded gate under its lock and persists
// it when fn reports a change. Events are published after the lock is
// released; entries recorded by a mutation that fails to persist get a
// compensating entry.
func (m *Manager) withGate(ctx context.Context, gateID string, fn func(tx *gateTxn) (bool, error)) error {
	if err := validGateID(gateID); err != nil {
		return err
	}
	release, err := m.locks.Acquire(lockScope, gateID)
	if err != nil {
		return errors.NewStorageError("lock gate", string(store.Gates), gateID, err)
	}
	var events []event.Event
	err = func() error {
		defer release()
		var g Gate
		if err := store.GetFresh(ctx, m.store, store.Gates, gateID, &g); err != nil {
			return err
		}
		tx := &gateTxn{ctx: ctx, m: m, gate: &g}
		changed, err := fn(tx)
		if err == nil && changed {
			g.UpdatedAt = m.clock.Now()
			err = store.PutRecord(ctx, m.store, store.Gates, gateID, &g)
		}
		if err != nil {
			m.abort(ctx, tx.entries, err)
			return err
		}
		events = tx.events
		return nil
	}()
	if err != nil {
		return err
	}
	for _, ev := range events {
		m.bus.Publish(ev)
	}
	return nil
}

func (m *Manager) abort(ctx context.Context, entries []*ledger.Entry, cause error) {
	for _, entry := range entries {
		_, err := m.ledger.Record(ctx, ledger.RecordRequest{
			AgentID:       "system",
			Action:        ActionAborted,
			EntityType:    entry.EntityType,
			EntityID:      entry.EntityID,
			Message:       "transition not persisted: " + cause.Error(),
			ParentEntryID: entry.ID,
		})
		if err != nil {
			m.logger.Error("failed to record aborted transition", "entry_id", entry.ID, "error", err)
		}
	}
}

func submissionFor(g *Gate, submissionID string) (*Submission, error) {
	s := g.find(submissionID)
	if s == nil {
		return nil, errors.NewNotFoundError("submission", submissionID)
	}
	return s, nil
}

func validateCriteria(criteria []Criterion) error {
	seen := make(map[string]bool, len(criteria))
	for i, c := range criteria {
		if strings.TrimSpace(c.Name) == "" {
			return errors.NewValidationError(fmt.Sprintf("criterion %d has no name", i)).WithField("criteria")
		}
		if seen[c.Name] {
			return errors.NewValidationError(fmt.Sprintf("duplicate criterion %q", c.Name)).WithField("criteria")
		}
		seen[c.Name] = true
	}
	return nil
}

// Create stores a new OPEN gate. A gate without an ID gets one; a nil
// policy means auto-approval is disabled. Commands are not rejected here;
// a blocked command is reported when evaluated.
func (m *Manager) Create(ctx context.Context, g Gate, actor string) (*Gate, error) {
	if strings.TrimSpace(g.Name) == "" {
		return nil, errors.NewValidationError("gate name is required").WithField("name")
	}
	if err := validateCriteria(g.Criteria); err != nil {
		return nil, err
	}
	if g.Policy != nil && (g.Policy.MinConfidence < 0 || g.Policy.MinConfidence > 1) {
		return nil, errors.NewValidationError("min_confidence must be within [0,1]").WithField("auto_approval_policy.min_confidence").WithValue(g.Policy.MinConfidence)
	}
	now := m.clock.Now()
	if g.ID == "" {
		g.ID = ident.NewAt(ident.Gate, now)
	}
	if err := validGateID(g.ID); err != nil {
		return nil, err
	}
	if _, err := m.store.Load(ctx, store.Gates, g.ID); err == nil {
		return nil, errors.NewValidationError("gate already exists").WithField("id").WithValue(g.ID)
	} else if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}
	g.Status = StatusOpen
	g.Submissions = []*Submission{}
	g.CreatedAt = now
	g.UpdatedAt = now
	if g.Criteria == nil {
		g.Criteria = []Criterion{}
	}

	if actor == "" {
		actor = g.OwnerRole
	}
	e, err := m.ledger.Record(ctx, ledger.RecordRequest{
		AgentID:    actor,
		Action:     ActionGateCreated,
		EntityType: ledger.EntityGate,
		EntityID:   g.ID,
		Data:       map[string]any{"name": g.Name, "criteria": len(g.Criteria), "pipeline_stage": g.PipelineStage},
		Message:    "gate created: " + g.Name,
	})
	if err != nil {
		return nil, err
	}
	g.LastEntryID = e.ID
	if err := store.PutRecord(ctx, m.store, store.Gates, g.ID, &g); err != nil {
		m.abort(ctx, []*ledger.Entry{e}, err)
		return nil, err
	}
	for _, c := range g.Criteria {
		if !c.automated() {
			continue
		}
		if v := verify.Validate(c.Command); !v.Valid {
			m.logger.WithGate(g.ID).Warn("criterion command will be blocked", "criterion", c.Name, "rule", string(v.Rule), "reason", v.Reason)
		}
	}
	m.logger.WithGate(g.ID).Info("gate created", "name", g.Name, "criteria", len(g.Criteria))
	return &g, nil
}

// Get returns a gate.
func (m *Manager) Get(ctx context.Context, gateID string) (*Gate, error) {
	if err := validGateID(gateID); err != nil {
		return nil, err
	}
	var g Gate
	if err := store.GetRecord(ctx, m.store, store.Gates, gateID, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// List returns every gate.
func (m *Manager) List(ctx context.Context) ([]*Gate, error) {
	ids, err := m.store.List(ctx, store.Gates)
	if err != nil {
		return nil, err
	}
	out := make([]*Gate, 0, len(ids))
	for _, id := range ids {
		g, err := m.Get(ctx, id)
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

// CloseGate stops a gate from accepting submissions. Pending submissions can
// still be reviewed.
func (m *Manager) CloseGate(ctx context.Context, gateID, actor string) error {
	return m.withGate(ctx, gateID, func(tx *gateTxn) (bool, error) {
		if tx.gate.Status == StatusClosed {
			return false, errors.NewInvalidStateError("gate", gateID, string(StatusClosed), string(StatusClosed))
		}
		tx.gate.Status = StatusClosed
		_, err := tx.record(nil, actor, ActionGateClosed, "", "gate closed", nil)
		return true, err
	})
}

// Submit records a PENDING submission against an OPEN gate.
func (m *Manager) Submit(ctx context.Context, gateID string, req SubmitRequest) (*Submission, error) {
	if strings.TrimSpace(req.SubmittedBy) == "" {
		return nil, errors.NewValidationError("submitted_by is required").WithField("submitted_by")
	}
	var out *Submission
	err := m.withGate(ctx, gateID, func(tx *gateTxn) (bool, error) {
		sub, err := m.addSubmission(tx, req, "")
		if err != nil {
			return false, err
		}
		out = sub.clone()
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.WithGate(gateID).WithAgent(out.SubmittedBy).Info("submission received", "submission_id", out.ID, "workflow_id", out.WorkflowID)
	return out, nil
}

func (m *Manager) addSubmission(tx *gateTxn, req SubmitRequest, resubmissionOf string) (*Submission, error) {
	g := tx.gate
	if g.Status != StatusOpen {
		return nil, errors.NewInvalidStateError("gate", g.ID, string(g.Status), string(StatusOpen)).WithReason("gate is not accepting submissions")
	}
	known := make(map[string]bool, len(g.Criteria))
	for _, c := range g.Criteria {
		known[c.Name] = true
	}
	checklist := make(map[string]bool, len(req.Checklist))
	for name, ok := range req.Checklist {
		if !known[name] {
			return nil, errors.NewValidationError(fmt.Sprintf("checklist names unknown criterion %q", name)).WithField("checklist")
		}
		checklist[name] = ok
	}
	now := m.clock.Now()
	sub := &Submission{
		ID:             ident.NewAt(ident.Submission, now),
		GateID:         g.ID,
		WorkflowID:     req.WorkflowID,
		StepID:         req.StepID,
		SubmittedBy:    req.SubmittedBy,
		Summary:        req.Summary,
		Checklist:      checklist,
		Status:         SubmissionPending,
		EvalStatus:     EvalNotStarted,
		ResubmissionOf: resubmissionOf,
		SubmittedAt:    now,
	}
	parent := req.ParentEntryID
	if parent == "" {
		parent = g.LastEntryID
	}
	data := map[string]any{"submitted_by": sub.SubmittedBy}
	if resubmissionOf != "" {
		data["resubmission_of"] = resubmissionOf
	}
	if _, err := tx.record(sub, sub.SubmittedBy, ActionSubmitted, parent, "submitted to gate "+g.Name, data); err != nil {
		return nil, err
	}
	g.Submissions = append(g.Submissions, sub)
	return sub, nil
}

// review applies a terminal review decision to a PENDING submission.
func (m *Manager) review(ctx context.Context, gateID, submissionID string, approve bool, reviewer, notes string, reasons []string) (*Submission, error) {
	if strings.TrimSpace(reviewer) == "" {
		return nil, errors.NewValidationError("reviewer is required").WithField("reviewer")
	}
	var out *Submission
	err := m.withGate(ctx, gateID, func(tx *gateTxn) (bool, error) {
		sub, err := submissionFor(tx.gate, submissionID)
		if err != nil {
			return false, err
		}
		to, action := SubmissionRejected, ActionRejected
		if approve {
			to, action = SubmissionApproved, ActionApproved
		}
		if sub.Status != SubmissionPending {
			return false, errors.NewInvalidStateError("submission", sub.ID, string(sub.Status), string(to))
		}
		now := m.clock.Now()
		sub.Status = to
		sub.Reviewer = reviewer
		sub.ReviewNotes = notes
		sub.ReviewedAt = &now
		if !approve {
			sub.RejectReasons = slices.Clone(reasons)
		}
		e, err := tx.record(sub, reviewer, action, "", notes, map[string]any{"reasons": reasons})
		if err != nil {
			return false, err
		}
		tx.publish(event.NewSubmissionReviewedEvent(tx.gate.ID, sub.ID, sub.WorkflowID, sub.StepID, approve, false, reviewer, reasons, e.ID))
		out = sub.clone()
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	m.async.cancel(submissionID)
	m.logger.WithGate(gateID).WithAgent(reviewer).Info("submission reviewed", "submission_id", submissionID, "status", string(out.Status))
	return out, nil
}

// Approve marks a PENDING submission APPROVED.
func (m *Manager) Approve(ctx context.Context, gateID, submissionID, reviewer, notes string) (*Submission, error) {
	return m.review(ctx, gateID, submissionID, true, reviewer, notes, nil)
}

// Reject marks a PENDING submission REJECTED.
func (m *Manager) Reject(ctx context.Context, gateID, submissionID, reviewer string, reasons []string, notes string) (*Submission, error) {
	return m.review(ctx, gateID, submissionID, false, reviewer, notes, reasons)
}

// Withdraw retracts a PENDING submission and cancels any queued
// evaluation of it.
func (m *Manager) Withdraw(ctx context.Context, gateID, submissionID, actor string) (*Submission, error) {
	m.async.cancel(submissionID)
	var out *Submission
	err := m.withGate(ctx, gateID, func(tx *gateTxn) (bool, error) {
		sub, err := submissionFor(tx.gate, submissionID)
		if err != nil {
			return false, err
		}
		if sub.Status != SubmissionPending {
			return false, errors.NewInvalidStateError("submission", sub.ID, string(sub.Status), string(SubmissionWithdrawn))
		}
		sub.Status = SubmissionWithdrawn
		if actor == "" {
			actor = sub.SubmittedBy
		}
		if _, err := tx.record(sub, actor, ActionWithdrawn, "", "submission withdrawn", nil); err != nil {
			return false, err
		}
		out = sub.clone()
		return true, nil
	})
	return out, err
}

// Resubmit creates a new submission from a REJECTED or WITHDRAWN one.
// Empty request fields are taken from the original.
func (m *Manager) Resubmit(ctx context.Context, gateID, submissionID string, req SubmitRequest) (*Submission, error) {
	var out *Submission
	err := m.withGate(ctx, gateID, func(tx *gateTxn) (bool, error) {
		prev, err := submissionFor(tx.gate, submissionID)
		if err != nil {
			return false, err
		}
		if prev.Status != SubmissionRejected && prev.Status != SubmissionWithdrawn {
			return false, errors.NewInvalidStateError("submission", prev.ID, string(prev.Status), string(SubmissionPending)).
				WithReason("only rejected or withdrawn submissions can be resubmitted")
		}
		if req.WorkflowID == "" {
			req.WorkflowID = prev.WorkflowID
			req.StepID = prev.StepID
		}
		if req.SubmittedBy == "" {
			req.SubmittedBy = prev.SubmittedBy
		}
		if req.Summary == "" {
			req.Summary = prev.Summary
		}
		if req.Checklist == nil {
			req.Checklist = prev.Checklist
		}
		if req.ParentEntryID == "" {
			req.ParentEntryID = prev.LastEntryID
		}
		sub, err := m.addSubmission(tx, req, prev.ID)
		if err != nil {
			return false, err
		}
		out = sub.clone()
		return true, nil
	})
	return out, err
}

// PendingReview returns the gate's PENDING submissions, oldest first.
func (m *Manager) PendingReview(ctx context.Context, gateID string) ([]*Submission, error) {
	g, err := m.Get(ctx, gateID)
	if err != nil {
		return nil, err
	}
	var out []*Submission
	for _, s := range g.Submissions {
		if s.Status == SubmissionPending {
			out = append(out, s.clone())
		}
	}
	slices.SortStableFunc(out, func(a, b *Submission) int { return a.SubmittedAt.Compare(b.SubmittedAt) })
	return out, nil
}

// Submission returns one submission.
func (m *Manager) Submission(ctx context.Context, gateID, submissionID string) (*Submission, error) {
	g, err := m.Get(ctx, gateID)
	if err != nil {
		return nil, err
	}
	sub, err := submissionFor(g, submissionID)
	if err != nil {
		return nil, err
	}
	return sub.clone(), nil
}

// setEvalStatus moves a submission's evaluation status without recording
// a ledger entry. from, when non-empty, must contain the current status.
// Only PENDING submissions can start an evaluation.
func (m *Manager) setEvalStatus(ctx context.Context, gateID, submissionID string, to EvalStatus, from ...EvalStatus) error {
	_, err := m.swapEvalStatus(ctx, gateID, submissionID, to, from...)
	return err
}

// swapEvalStatus is setEvalStatus that also returns the status it replaced.
func (m *Manager) swapEvalStatus(ctx context.Context, gateID, submissionID string, to EvalStatus, from ...EvalStatus) (EvalStatus, error) {
	var prev EvalStatus
	err := m.withGate(ctx, gateID, func(tx *gateTxn) (bool, error) {
		sub, err := submissionFor(tx.gate, submissionID)
		if err != nil {
			return false, err
		}
		prev = sub.EvalStatus
		if to.InFlight() && sub.Status != SubmissionPending {
			return false, errors.NewInvalidStateError("submission", sub.ID, string(sub.Status), string(SubmissionPending)).
				WithReason("only pending submissions are evaluated")
		}
		if len(from) > 0 && !slices.Contains(from, sub.EvalStatus) {
			return false, errors.NewInvalidStateError("submission", sub.ID, string(sub.EvalStatus), string(to))
		}
		if sub.EvalStatus == to {
			return false, nil
		}
		sub.EvalStatus = to
		return true, nil
	})
	return prev, err
}
