package gate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/hookline/internal/errors"
	"github.com/Iron-Ham/hookline/internal/event"
)

// EvaluateSync runs the gate's automated checks for a PENDING submission,
// scores the result against the gate policy and auto-approves when the
// policy allows. Concurrent calls for the same submission share one run.
func (m *Manager) EvaluateSync(ctx context.Context, gateID, submissionID string) (*EvaluationResult, error) {
	v, err, _ := m.flight.Do(submissionID, func() (any, error) {
		if err := m.setEvalStatus(ctx, gateID, submissionID, EvalEvaluating); err != nil {
			return nil, err
		}
		return m.evaluate(ctx, gateID, submissionID)
	})
	res, _ := v.(*EvaluationResult)
	return res, err
}

// EvaluateAsync queues an evaluation and returns without waiting.
// onComplete, when non-nil, is called exactly once with the final
// submission and result, or with an error when the evaluation failed or
// was canceled.
func (m *Manager) EvaluateAsync(gateID, submissionID string, onComplete OnComplete) error {
	return m.async.submit(gateID, submissionID, onComplete)
}

// CancelEvaluation cancels a queued evaluation. It reports false when no
// evaluation is queued for the submission, including when its commands
// are already running.
func (m *Manager) CancelEvaluation(submissionID string) bool {
	return m.async.cancel(submissionID)
}

// checkPlan is the part of a gate an evaluation needs outside the lock.
type checkPlan struct {
	gateName  string
	criteria  []Criterion
	checklist map[string]bool
	policy    *Policy
}

// evaluate moves an EVALUATING submission to EVALUATED or FAILED.
// Commands run without holding the gate lock.
func (m *Manager) evaluate(ctx context.Context, gateID, submissionID string) (*EvaluationResult, error) {
	g, err := m.Get(ctx, gateID)
	if err != nil {
		return nil, err
	}
	sub, err := submissionFor(g, submissionID)
	if err != nil {
		return nil, err
	}
	plan := checkPlan{gateName: g.Name, criteria: g.Criteria, checklist: sub.Checklist, policy: g.Policy}

	logger := m.logger.WithGate(gateID).With("submission_id", submissionID)
	runCtx := ctx
	if t := plan.policy.Timeout(); t > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	res := &EvaluationResult{Checks: []CheckResult{}}
	for _, c := range plan.criteria {
		if !c.automated() {
			continue
		}
		if err := runCtx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				res.Error = errors.NewTimeoutError("gate evaluation", plan.policy.Timeout()).Error()
			} else {
				res.Error = errors.ErrCanceled.Error()
			}
			break
		}
		check := m.runCheck(runCtx, c)
		if check.Blocked {
			logger.Warn("verification command blocked", "criterion", c.Name, "rule", string(check.Rule), "reason", check.Reason)
		}
		res.Checks = append(res.Checks, check)
	}
	res.EvaluatedAt = m.clock.Now()
	score(res, plan.criteria, plan.checklist, plan.policy)

	var out *EvaluationResult
	err = m.withGate(ctx, gateID, func(tx *gateTxn) (bool, error) {
		sub, err := submissionFor(tx.gate, submissionID)
		if err != nil {
			return false, err
		}
		stored := *res
		sub.Evaluation = &stored
		action := ActionEvaluated
		sub.EvalStatus = EvalEvaluated
		if res.Error != "" {
			action = ActionEvaluationFailed
			sub.EvalStatus = EvalFailed
		}
		data := map[string]any{
			"confidence":       res.Confidence,
			"checks":           len(res.Checks),
			"can_auto_approve": res.CanAutoApprove,
		}
		if res.Error != "" {
			data["error"] = res.Error
		}
		if _, err := tx.record(sub, SystemActor, action, "", fmt.Sprintf("confidence %.2f", res.Confidence), data); err != nil {
			return false, err
		}
		tx.publish(event.NewSubmissionEvaluatedEvent(tx.gate.ID, sub.ID, res.Confidence, res.CanAutoApprove, res.Error != ""))
		if res.CanAutoApprove && sub.Status == SubmissionPending {
			if err := m.autoApprove(tx, sub, res); err != nil {
				return false, err
			}
		}
		out = &stored
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("submission evaluated",
		"confidence", out.Confidence,
		"can_auto_approve", out.CanAutoApprove,
		"error", out.Error)
	if out.Error != "" {
		return out, errors.NewTransientError("gate evaluation", errors.New(out.Error))
	}
	return out, nil
}

// runCheck runs one automated criterion through the executor.
func (m *Manager) runCheck(ctx context.Context, c Criterion) CheckResult {
	r := m.exec.Run(ctx, c.Command)
	check := CheckResult{
		Criterion: c.Name,
		Command:   c.Command,
		Passed:    r.Passed(),
		Blocked:   r.Blocked,
		Rule:      string(r.Rule),
		Reason:    r.Reason,
		ExitCode:  r.ExitCode,
		TimedOut:  r.TimedOut,
		Output:    r.Stdout,
		Duration:  r.Duration,
	}
	if r.Stderr != "" {
		check.Output += r.Stderr
	}
	if r.Err != nil {
		check.Error = r.Err.Error()
	}
	return check
}

// autoApprove approves sub inside tx on behalf of the policy.
func (m *Manager) autoApprove(tx *gateTxn, sub *Submission, res *EvaluationResult) error {
	now := m.clock.Now()
	sub.Status = SubmissionApproved
	sub.AutoApproved = true
	sub.Reviewer = AutoApprovalReviewer
	sub.ReviewedAt = &now
	sub.ReviewNotes = fmt.Sprintf("auto-approved under policy %q at confidence %.2f", tx.gate.Policy.Name, res.Confidence)
	e, err := tx.record(sub, AutoApprovalReviewer, ActionAutoApproved, "", sub.ReviewNotes, map[string]any{
		"policy":     tx.gate.Policy.Name,
		"confidence": res.Confidence,
	})
	if err != nil {
		return err
	}
	tx.publish(event.NewAutoApprovedEvent(tx.gate.ID, sub.ID, sub.WorkflowID, sub.StepID, res.Confidence, tx.gate.Policy.NotifyOnAutoApprove))
	tx.publish(event.NewSubmissionReviewedEvent(tx.gate.ID, sub.ID, sub.WorkflowID, sub.StepID, true, true, AutoApprovalReviewer, nil, e.ID))
	return nil
}

// SystemActor is recorded as the agent of evaluation entries.
const SystemActor = "gate-evaluator"

type jobState int32

const (
	jobQueued jobState = iota
	jobRunning
	jobCanceled
)

type evalJob struct {
	gateID       string
	submissionID string
	onComplete   OnComplete
	state        atomic.Int32
	once         sync.Once
}

func (j *evalJob) transition(from, to jobState) bool {
	return j.state.CompareAndSwap(int32(from), int32(to))
}

// evaluator runs async evaluations on a bounded pool fed by a bounded
// intake queue.
type evaluator struct {
	m      *Manager
	intake chan *evalJob
	pool   *pool.Pool
	done   chan struct{}

	mu       sync.Mutex
	jobs     map[string]*evalJob
	reserved map[string]bool
	closed   bool
}

func newEvaluator(m *Manager, workers, queueSize int) *evaluator {
	e := &evaluator{
		m:        m,
		intake:   make(chan *evalJob, queueSize),
		pool:     pool.New().WithMaxGoroutines(workers),
		done:     make(chan struct{}),
		jobs:     make(map[string]*evalJob),
		reserved: make(map[string]bool),
	}
	go e.dispatch()
	return e
}

func (e *evaluator) dispatch() {
	defer close(e.done)
	for j := range e.intake {
		if jobState(j.state.Load()) == jobCanceled {
			continue
		}
		e.pool.Go(func() { e.run(j) })
	}
	e.pool.Wait()
}

func (e *evaluator) submit(gateID, submissionID string, onComplete OnComplete) error {
	ctx := context.Background()

	// Reserve the submission before touching its status so a job that is
	// still finishing keeps the status it wrote.
	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		return errors.NewInvalidStateError("evaluator", "async", "closed", "open")
	case e.jobs[submissionID] != nil || e.reserved[submissionID]:
		e.mu.Unlock()
		return errors.NewInvalidStateError("submission", submissionID, string(EvalPending), string(EvalPending)).
			WithReason("evaluation already queued")
	}
	e.reserved[submissionID] = true
	e.mu.Unlock()

	prev, err := e.m.swapEvalStatus(ctx, gateID, submissionID, EvalPending, EvalNotStarted, EvalEvaluated, EvalFailed)
	if err != nil {
		e.release(submissionID)
		return err
	}
	j := &evalJob{gateID: gateID, submissionID: submissionID, onComplete: onComplete}

	e.mu.Lock()
	delete(e.reserved, submissionID)
	var rejected error
	if e.closed {
		rejected = errors.NewInvalidStateError("evaluator", "async", "closed", "open")
	} else {
		select {
		case e.intake <- j:
			e.jobs[submissionID] = j
		default:
			rejected = errors.NewTransientError("queue evaluation", fmt.Errorf("evaluation queue full (%d)", cap(e.intake)))
		}
	}
	e.mu.Unlock()

	if rejected != nil {
		if err := e.m.setEvalStatus(ctx, gateID, submissionID, prev, EvalPending); err != nil {
			e.m.logger.WithGate(gateID).Warn("failed to restore evaluation status", "submission_id", submissionID, "error", err)
		}
		return rejected
	}
	e.m.logger.WithGate(gateID).Debug("evaluation queued", "submission_id", submissionID)
	return nil
}

func (e *evaluator) release(submissionID string) {
	e.mu.Lock()
	delete(e.reserved, submissionID)
	e.mu.Unlock()
}

func (e *evaluator) run(j *evalJob) {
	if !j.transition(jobQueued, jobRunning) {
		return
	}
	ctx := context.Background()
	v, err, _ := e.m.flight.Do(j.submissionID, func() (any, error) {
		if err := e.m.setEvalStatus(ctx, j.gateID, j.submissionID, EvalEvaluating, EvalPending); err != nil {
			return nil, err
		}
		return e.m.evaluate(ctx, j.gateID, j.submissionID)
	})
	res, _ := v.(*EvaluationResult)
	e.forget(j)
	e.finish(ctx, j, res, err)
}

// cancel stops a queued job. Running jobs are left alone.
func (e *evaluator) cancel(submissionID string) bool {
	e.mu.Lock()
	j := e.jobs[submissionID]
	e.mu.Unlock()
	if j == nil || !j.transition(jobQueued, jobCanceled) {
		return false
	}
	e.forget(j)
	ctx := context.Background()
	if err := e.m.setEvalStatus(ctx, j.gateID, j.submissionID, EvalNotStarted, EvalPending); err != nil {
		e.m.logger.WithGate(j.gateID).Debug("evaluation status not reset", "submission_id", submissionID, "error", err)
	}
	e.m.logger.WithGate(j.gateID).Info("evaluation canceled", "submission_id", submissionID)
	e.finish(ctx, j, nil, errors.ErrCanceled)
	return true
}

func (e *evaluator) forget(j *evalJob) {
	e.mu.Lock()
	if e.jobs[j.submissionID] == j {
		delete(e.jobs, j.submissionID)
	}
	e.mu.Unlock()
}

// finish delivers the outcome of j to its callback once.
func (e *evaluator) finish(ctx context.Context, j *evalJob, res *EvaluationResult, err error) {
	j.once.Do(func() {
		if j.onComplete == nil {
			return
		}
		var sub *Submission
		if s, serr := e.m.Submission(ctx, j.gateID, j.submissionID); serr == nil {
			sub = s
		}
		defer func() {
			if r := recover(); r != nil {
				e.m.logger.WithGate(j.gateID).Error("evaluation callback panicked", "submission_id", j.submissionID, "panic", r)
			}
		}()
		j.onComplete(sub, res, err)
	})
}

// close cancels queued jobs and waits for running ones.
func (e *evaluator) close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return
	}
	e.closed = true
	queued := make([]string, 0, len(e.jobs))
	for id := range e.jobs {
		queued = append(queued, id)
	}
	close(e.intake)
	e.mu.Unlock()

	for _, id := range queued {
		e.cancel(id)
	}
	<-e.done
}
