package gate

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/hookline/internal/clock"
	"github.com/Iron-Ham/hookline/internal/errors"
	"github.com/Iron-Ham/hookline/internal/event"
	"github.com/Iron-Ham/hookline/internal/ledger"
	"github.com/Iron-Ham/hookline/internal/lock"
	"github.com/Iron-Ham/hookline/internal/store"
	"github.com/Iron-Ham/hookline/internal/verify"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// scriptRunner exits 0 for "true", 1 for anything else, and optionally
// parks until released.
type scriptRunner struct {
	calls   atomic.Int32
	started chan string
	release chan struct{}
}

func (r *scriptRunner) Run(ctx context.Context, argv []string, dir string, stdout, stderr io.Writer) (int, error) {
	r.calls.Add(1)
	if r.started != nil {
		r.started <- argv[0]
	}
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return -1, ctx.Err()
		}
	}
	_, _ = io.WriteString(stdout, "ran "+argv[0]+"\n")
	if argv[0] == "true" {
		return 0, nil
	}
	return 1, nil
}

type collector struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *collector) Publish(e event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) ofType(t string) []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []event.Event
	for _, e := range c.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	m      *Manager
	ledger ledger.Ledger
	runner *scriptRunner
	events *collector
}

func newFixture(t *testing.T, runner *scriptRunner, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	clk := clock.NewTicking(epoch, time.Millisecond)
	l, err := ledger.OpenFile(filepath.Join(dir, "ledger.jsonl"), ledger.Options{Chain: true, Clock: clk})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	if runner == nil {
		runner = &scriptRunner{}
	}
	events := &collector{}
	sandbox := verify.NewSandbox(verify.WithRunner(runner), verify.WithTimeout(5*time.Second))
	opts = append([]Option{WithBus(events), WithClock(clk), WithExecutor(sandbox)}, opts...)
	m, err := NewManager(Config{
		Store:  store.NewMemStore(),
		Ledger: l,
		Locks:  lock.NewKeyed(filepath.Join(dir, "locks")),
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return &fixture{m: m, ledger: l, runner: runner, events: events}
}

func (f *fixture) gate(t *testing.T, policy *Policy, criteria ...Criterion) *Gate {
	t.Helper()
	g, err := f.m.Create(context.Background(), Gate{
		Name:          "design-review",
		OwnerRole:     "design-lead",
		PipelineStage: "design",
		Criteria:      criteria,
		Policy:        policy,
	}, "")
	require.NoError(t, err)
	return g
}

func (f *fixture) submit(t *testing.T, g *Gate, checklist map[string]bool) *Submission {
	t.Helper()
	sub, err := f.m.Submit(context.Background(), g.ID, SubmitRequest{
		WorkflowID:  "mol_1",
		StepID:      "step_design",
		SubmittedBy: "designer-1",
		Summary:     "wireframes",
		Checklist:   checklist,
	})
	require.NoError(t, err)
	return sub
}

func auto(name, command string) Criterion {
	return Criterion{Name: name, Required: true, AutoCheck: true, Command: command}
}

func manual(name string) Criterion {
	return Criterion{Name: name, Required: true}
}

func TestNewManager_RequiresDependencies(t *testing.T) {
	_, err := NewManager(Config{Ledger: nil, Store: store.NewMemStore()})
	assert.Error(t, err)
	_, err = NewManager(Config{})
	assert.Error(t, err)
}

func TestCreate(t *testing.T) {
	f := newFixture(t, nil)
	g := f.gate(t, nil, auto("tests", "true"), manual("signoff"))

	assert.Equal(t, StatusOpen, g.Status)
	assert.NotEmpty(t, g.LastEntryID)
	got, err := f.m.Get(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Len(t, got.Criteria, 2)

	_, err = f.m.Create(context.Background(), Gate{Name: ""}, "x")
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
	_, err = f.m.Create(context.Background(), Gate{Name: "dup", Criteria: []Criterion{manual("a"), manual("a")}}, "x")
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
	_, err = f.m.Create(context.Background(), Gate{Name: "bad", Policy: PolicyLenient(1.5)}, "x")
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	gates, err := f.m.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, gates, 1)
}

func TestSubmit(t *testing.T) {
	f := newFixture(t, nil)
	g := f.gate(t, nil, manual("signoff"))
	sub := f.submit(t, g, map[string]bool{"signoff": true})

	assert.Equal(t, SubmissionPending, sub.Status)
	assert.Equal(t, EvalNotStarted, sub.EvalStatus)

	entry, err := f.ledger.Get(context.Background(), sub.LastEntryID)
	require.NoError(t, err)
	assert.Equal(t, ActionSubmitted, entry.Action)
	assert.Equal(t, g.LastEntryID, entry.ParentEntryID)

	_, err = f.m.Submit(context.Background(), g.ID, SubmitRequest{SubmittedBy: "x", Checklist: map[string]bool{"nope": true}})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	require.NoError(t, f.m.CloseGate(context.Background(), g.ID, "design-lead"))
	_, err = f.m.Submit(context.Background(), g.ID, SubmitRequest{SubmittedBy: "x"})
	assert.True(t, errors.Is(err, errors.ErrInvalidState))

	_, err = f.m.Submit(context.Background(), "gate_missing", SubmitRequest{SubmittedBy: "x"})
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestEvaluateSync_AutoApproval(t *testing.T) {
	tests := []struct {
		name      string
		policy    *Policy
		criteria  []Criterion
		checklist map[string]bool
		wantConf  float64
		wantAuto  bool
	}{
		{
			name:     "half passing is not enough for auto checks only",
			policy:   PolicyAutoChecksOnly(),
			criteria: []Criterion{auto("unit", "true"), auto("lint", "false")},
			wantConf: 0.5,
			wantAuto: false,
		},
		{
			name:     "all passing auto-approves",
			policy:   PolicyAutoChecksOnly(),
			criteria: []Criterion{auto("unit", "true"), auto("build", "true")},
			wantConf: 1.0,
			wantAuto: true,
		},
		{
			name:      "strict needs manual criteria",
			policy:    PolicyStrict(),
			criteria:  []Criterion{auto("unit", "true"), manual("signoff")},
			checklist: map[string]bool{"signoff": false},
			wantConf:  1.0,
			wantAuto:  false,
		},
		{
			name:      "strict with manual criteria ticked",
			policy:    PolicyStrict(),
			criteria:  []Criterion{auto("unit", "true"), manual("signoff")},
			checklist: map[string]bool{"signoff": true},
			wantConf:  1.0,
			wantAuto:  true,
		},
		{
			name:     "lenient threshold",
			policy:   PolicyLenient(0.5),
			criteria: []Criterion{auto("unit", "true"), auto("lint", "false")},
			wantConf: 0.5,
			wantAuto: true,
		},
		{
			name:     "disabled policy",
			policy:   PolicyDisabled(),
			criteria: []Criterion{auto("unit", "true")},
			wantConf: 1.0,
			wantAuto: false,
		},
		{
			name:     "no policy",
			criteria: []Criterion{auto("unit", "true")},
			wantConf: 1.0,
			wantAuto: false,
		},
		{
			name:     "no automated criteria",
			policy:   PolicyAutoChecksOnly(),
			criteria: []Criterion{{Name: "looks good", AutoCheck: true}},
			checklist: map[string]bool{
				"looks good": true,
			},
			wantConf: 1.0,
			wantAuto: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			g := f.gate(t, tt.policy, tt.criteria...)
			sub := f.submit(t, g, tt.checklist)

			res, err := f.m.EvaluateSync(context.Background(), g.ID, sub.ID)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantConf, res.Confidence, 1e-9)
			assert.Equal(t, tt.wantAuto, res.CanAutoApprove)

			got, err := f.m.Submission(context.Background(), g.ID, sub.ID)
			require.NoError(t, err)
			assert.Equal(t, EvalEvaluated, got.EvalStatus)
			assert.Equal(t, tt.wantAuto, got.AutoApproved)
			if tt.wantAuto {
				assert.Equal(t, SubmissionApproved, got.Status)
				assert.Equal(t, AutoApprovalReviewer, got.Reviewer)
				assert.Len(t, f.events.ofType(event.TypeAutoApproved), 1)
			} else {
				assert.Equal(t, SubmissionPending, got.Status)
				assert.Empty(t, f.events.ofType(event.TypeAutoApproved))
			}
		})
	}
}

func TestEvaluateSync_BlockedCommand(t *testing.T) {
	f := newFixture(t, nil)
	g := f.gate(t, PolicyAutoChecksOnly(), auto("tests", "true; rm -rf /"), auto("unit", "true"))
	sub := f.submit(t, g, nil)

	res, err := f.m.EvaluateSync(context.Background(), g.ID, sub.ID)
	require.NoError(t, err)
	require.Len(t, res.Checks, 2)
	assert.True(t, res.Checks[0].Blocked)
	assert.False(t, res.Checks[0].Passed)
	assert.Equal(t, string(errors.RuleDangerousPattern), res.Checks[0].Rule)
	assert.InDelta(t, 0.5, res.Confidence, 1e-9)
	assert.False(t, res.CanAutoApprove)
	assert.EqualValues(t, 1, f.runner.calls.Load(), "blocked command must not run")
}

func TestEvaluateSync_RequiresPending(t *testing.T) {
	f := newFixture(t, nil)
	g := f.gate(t, nil, auto("unit", "true"))
	sub := f.submit(t, g, nil)
	_, err := f.m.Reject(context.Background(), g.ID, sub.ID, "lead", []string{"no"}, "")
	require.NoError(t, err)

	_, err = f.m.EvaluateSync(context.Background(), g.ID, sub.ID)
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
}

func TestApprove_Once(t *testing.T) {
	f := newFixture(t, nil)
	g := f.gate(t, nil, manual("signoff"))
	sub := f.submit(t, g, map[string]bool{"signoff": true})

	approved, err := f.m.Approve(context.Background(), g.ID, sub.ID, "design-lead", "ship it")
	require.NoError(t, err)
	assert.Equal(t, SubmissionApproved, approved.Status)
	assert.False(t, approved.AutoApproved)
	require.NotNil(t, approved.ReviewedAt)

	_, err = f.m.Approve(context.Background(), g.ID, sub.ID, "design-lead", "again")
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
	_, err = f.m.Reject(context.Background(), g.ID, sub.ID, "design-lead", nil, "")
	assert.True(t, errors.Is(err, errors.ErrInvalidState))

	reviewed := f.events.ofType(event.TypeSubmissionReviewed)
	require.Len(t, reviewed, 1)
	ev := reviewed[0].(event.SubmissionReviewedEvent)
	assert.True(t, ev.Approved)
	assert.Equal(t, "mol_1", ev.WorkflowID)
	assert.Equal(t, approved.LastEntryID, ev.LedgerEntryID)

	_, err = f.m.Approve(context.Background(), g.ID, sub.ID, "", "")
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestAutoApprovedSubmissionCannotBeReviewed(t *testing.T) {
	f := newFixture(t, nil)
	g := f.gate(t, PolicyAutoChecksOnly(), auto("unit", "true"))
	sub := f.submit(t, g, nil)
	_, err := f.m.EvaluateSync(context.Background(), g.ID, sub.ID)
	require.NoError(t, err)

	_, err = f.m.Approve(context.Background(), g.ID, sub.ID, "design-lead", "")
	assert.True(t, errors.Is(err, errors.ErrInvalidState))

	got, err := f.m.Submission(context.Background(), g.ID, sub.ID)
	require.NoError(t, err)
	assert.True(t, got.AutoApproved)
	assert.Equal(t, AutoApprovalReviewer, got.Reviewer)
}

func TestRejectAndResubmit(t *testing.T) {
	f := newFixture(t, nil)
	g := f.gate(t, nil, manual("signoff"))
	sub := f.submit(t, g, map[string]bool{"signoff": false})

	_, err := f.m.Resubmit(context.Background(), g.ID, sub.ID, SubmitRequest{})
	assert.True(t, errors.Is(err, errors.ErrInvalidState), "pending submissions cannot be resubmitted")

	rejected, err := f.m.Reject(context.Background(), g.ID, sub.ID, "design-lead", []string{"missing signoff"}, "try again")
	require.NoError(t, err)
	assert.Equal(t, SubmissionRejected, rejected.Status)
	assert.Equal(t, []string{"missing signoff"}, rejected.RejectReasons)

	again, err := f.m.Resubmit(context.Background(), g.ID, sub.ID, SubmitRequest{Checklist: map[string]bool{"signoff": true}})
	require.NoError(t, err)
	assert.NotEqual(t, sub.ID, again.ID)
	assert.Equal(t, sub.ID, again.ResubmissionOf)
	assert.Equal(t, "designer-1", again.SubmittedBy)
	assert.Equal(t, "mol_1", again.WorkflowID)

	entry, err := f.ledger.Get(context.Background(), again.LastEntryID)
	require.NoError(t, err)
	assert.Equal(t, rejected.LastEntryID, entry.ParentEntryID)

	pending, err := f.m.PendingReview(context.Background(), g.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, again.ID, pending[0].ID)
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t, nil)
	g := f.gate(t, nil, manual("signoff"))
	sub := f.submit(t, g, nil)

	w, err := f.m.Withdraw(context.Background(), g.ID, sub.ID, "")
	require.NoError(t, err)
	assert.Equal(t, SubmissionWithdrawn, w.Status)

	_, err = f.m.Withdraw(context.Background(), g.ID, sub.ID, "")
	assert.True(t, errors.Is(err, errors.ErrInvalidState))

	_, err = f.m.Resubmit(context.Background(), g.ID, sub.ID, SubmitRequest{})
	require.NoError(t, err)
}

type outcome struct {
	sub *Submission
	res *EvaluationResult
	err error
}

func recordOutcomes() (OnComplete, func() []outcome) {
	var mu sync.Mutex
	var got []outcome
	return func(sub *Submission, res *EvaluationResult, err error) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, outcome{sub, res, err})
		}, func() []outcome {
			mu.Lock()
			defer mu.Unlock()
			return append([]outcome(nil), got...)
		}
}

func TestEvaluateAsync_CompletesOnce(t *testing.T) {
	f := newFixture(t, nil)
	g := f.gate(t, PolicyAutoChecksOnly(), auto("unit", "true"))
	sub := f.submit(t, g, nil)

	cb, outcomes := recordOutcomes()
	require.NoError(t, f.m.EvaluateAsync(g.ID, sub.ID, cb))

	require.Eventually(t, func() bool { return len(outcomes()) == 1 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, f.m.Close())

	got := outcomes()
	require.Len(t, got, 1)
	require.NoError(t, got[0].err)
	assert.InDelta(t, 1.0, got[0].res.Confidence, 1e-9)
	require.NotNil(t, got[0].sub)
	assert.Equal(t, EvalEvaluated, got[0].sub.EvalStatus)
	assert.Equal(t, SubmissionApproved, got[0].sub.Status)
	assert.True(t, got[0].sub.AutoApproved)
}

func TestEvaluateAsync_Failure(t *testing.T) {
	f := newFixture(t, nil)
	g := f.gate(t, nil, auto("unit", "true"))
	sub := f.submit(t, g, nil)
	_, err := f.m.Withdraw(context.Background(), g.ID, sub.ID, "")
	require.NoError(t, err)

	err = f.m.EvaluateAsync(g.ID, sub.ID, nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidState), "withdrawn submissions are not evaluated")
}

func TestEvaluateAsync_CancelBeforeStart(t *testing.T) {
	runner := &scriptRunner{started: make(chan string, 4), release: make(chan struct{})}
	f := newFixture(t, runner, WithEvalWorkers(1))
	g := f.gate(t, PolicyAutoChecksOnly(), auto("unit", "true"))
	first := f.submit(t, g, nil)
	second := f.submit(t, g, nil)

	cb1, out1 := recordOutcomes()
	cb2, out2 := recordOutcomes()
	require.NoError(t, f.m.EvaluateAsync(g.ID, first.ID, cb1))
	<-runner.started
	require.NoError(t, f.m.EvaluateAsync(g.ID, second.ID, cb2))

	got, err := f.m.Submission(context.Background(), g.ID, second.ID)
	require.NoError(t, err)
	assert.Equal(t, EvalPending, got.EvalStatus)

	assert.True(t, f.m.CancelEvaluation(second.ID))
	assert.False(t, f.m.CancelEvaluation(second.ID), "second cancel is a no-op")
	assert.False(t, f.m.CancelEvaluation(first.ID), "running evaluations are not canceled")

	close(runner.release)
	require.Eventually(t, func() bool { return len(out1()) == 1 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, f.m.Close())

	require.Len(t, out2(), 1)
	assert.True(t, errors.Is(out2()[0].err, errors.ErrCanceled))
	assert.EqualValues(t, 1, runner.calls.Load())

	got, err = f.m.Submission(context.Background(), g.ID, second.ID)
	require.NoError(t, err)
	assert.Equal(t, EvalNotStarted, got.EvalStatus)
	assert.Equal(t, SubmissionPending, got.Status)
}

func TestEvaluateAsync_QueueFull(t *testing.T) {
	runner := &scriptRunner{started: make(chan string, 8), release: make(chan struct{})}
	f := newFixture(t, runner, WithEvalWorkers(1), WithEvalQueueSize(1))
	g := f.gate(t, nil, auto("unit", "true"))
	subs := make([]*Submission, 4)
	for i := range subs {
		subs[i] = f.submit(t, g, nil)
	}

	require.NoError(t, f.m.EvaluateAsync(g.ID, subs[0].ID, nil))
	<-runner.started
	require.NoError(t, f.m.EvaluateAsync(g.ID, subs[1].ID, nil))
	// The dispatcher takes the second job and waits for a free worker.
	require.Eventually(t, func() bool { return len(f.m.async.intake) == 0 }, 5*time.Second, time.Millisecond)
	require.NoError(t, f.m.EvaluateAsync(g.ID, subs[2].ID, nil))

	err := f.m.EvaluateAsync(g.ID, subs[3].ID, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTransient))
	got, err := f.m.Submission(context.Background(), g.ID, subs[3].ID)
	require.NoError(t, err)
	assert.Equal(t, EvalNotStarted, got.EvalStatus)

	close(runner.release)
	require.NoError(t, f.m.Close())
}

func TestEvaluateAsync_QueueFullKeepsEarlierEvaluation(t *testing.T) {
	runner := &scriptRunner{}
	f := newFixture(t, runner, WithEvalWorkers(1), WithEvalQueueSize(1))
	g := f.gate(t, nil, auto("unit", "true"))
	subs := make([]*Submission, 4)
	for i := range subs {
		subs[i] = f.submit(t, g, nil)
	}
	_, err := f.m.EvaluateSync(context.Background(), g.ID, subs[3].ID)
	require.NoError(t, err)

	runner.started = make(chan string, 8)
	runner.release = make(chan struct{})
	require.NoError(t, f.m.EvaluateAsync(g.ID, subs[0].ID, nil))
	<-runner.started
	require.NoError(t, f.m.EvaluateAsync(g.ID, subs[1].ID, nil))
	require.Eventually(t, func() bool { return len(f.m.async.intake) == 0 }, 5*time.Second, time.Millisecond)
	require.NoError(t, f.m.EvaluateAsync(g.ID, subs[2].ID, nil))

	err = f.m.EvaluateAsync(g.ID, subs[3].ID, nil)
	assert.True(t, errors.Is(err, errors.ErrTransient))
	got, err := f.m.Submission(context.Background(), g.ID, subs[3].ID)
	require.NoError(t, err)
	assert.Equal(t, EvalEvaluated, got.EvalStatus, "a rejected request must not hide the earlier evaluation")
	require.NotNil(t, got.Evaluation)

	close(runner.release)
	require.NoError(t, f.m.Close())
}

func TestEvaluateAsync_DuplicateLeavesStatus(t *testing.T) {
	runner := &scriptRunner{started: make(chan string, 8), release: make(chan struct{})}
	f := newFixture(t, runner, WithEvalWorkers(1))
	g := f.gate(t, nil, auto("unit", "true"))
	first := f.submit(t, g, nil)

	require.NoError(t, f.m.EvaluateAsync(g.ID, first.ID, nil))
	<-runner.started

	err := f.m.EvaluateAsync(g.ID, first.ID, nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
	got, err := f.m.Submission(context.Background(), g.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, EvalEvaluating, got.EvalStatus)

	close(runner.release)
	require.NoError(t, f.m.Close())
	got, err = f.m.Submission(context.Background(), g.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, EvalEvaluated, got.EvalStatus)
}

func TestEvaluateAsync_PanickingCallback(t *testing.T) {
	f := newFixture(t, nil)
	g := f.gate(t, nil, auto("unit", "true"))
	sub := f.submit(t, g, nil)

	var calls atomic.Int32
	require.NoError(t, f.m.EvaluateAsync(g.ID, sub.ID, func(*Submission, *EvaluationResult, error) {
		calls.Add(1)
		panic("boom")
	}))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, f.m.Close())
	assert.EqualValues(t, 1, calls.Load())
}

func TestClose_RejectsNewEvaluations(t *testing.T) {
	f := newFixture(t, nil)
	g := f.gate(t, nil, auto("unit", "true"))
	sub := f.submit(t, g, nil)
	require.NoError(t, f.m.Close())
	require.NoError(t, f.m.Close())

	err := f.m.EvaluateAsync(g.ID, sub.ID, nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
}

func TestLedgerTrail(t *testing.T) {
	f := newFixture(t, nil)
	g := f.gate(t, PolicyAutoChecksOnly(), auto("unit", "true"))
	sub := f.submit(t, g, nil)
	_, err := f.m.EvaluateSync(context.Background(), g.ID, sub.ID)
	require.NoError(t, err)

	entries, err := f.ledger.EntriesForEntity(context.Background(), ledger.EntitySubmission, sub.ID)
	require.NoError(t, err)
	actions := make([]string, len(entries))
	for i, e := range entries {
		actions[i] = e.Action
	}
	assert.Equal(t, []string{ActionSubmitted, ActionEvaluated, ActionAutoApproved}, actions)
	for i := 1; i < len(entries); i++ {
		assert.Equal(t, entries[i-1].ID, entries[i].ParentEntryID)
	}

	report, err := f.ledger.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK())
}
