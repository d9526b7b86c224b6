package molecule

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/Iron-Ham/hookline/internal/clock"
	"github.com/Iron-Ham/hookline/internal/errors"
	"github.com/Iron-Ham/hookline/internal/event"
	"github.com/Iron-Ham/hookline/internal/hook"
	"github.com/Iron-Ham/hookline/internal/ledger"
	"github.com/Iron-Ham/hookline/internal/lock"
	"github.com/Iron-Ham/hookline/internal/logging"
	"github.com/Iron-Ham/hookline/internal/store"
)

// Ledger actions recorded by the engine.
const (
	ActionWorkflowCreated   = "workflow.created"
	ActionWorkflowStarted   = "workflow.started"
	ActionWorkflowCompleted = "workflow.completed"
	ActionWorkflowFailed    = "workflow.failed"
	ActionStepStarted       = "step.started"
	ActionStepDelegated     = "step.delegated"
	ActionStepCompleted     = "step.completed"
	ActionStepFailed        = "step.failed"
	ActionTemplateSaved     = "template.saved"
	ActionAborted           = "transition.aborted"
)

// SystemActor is the agent recorded for transitions the engine makes on
// its own, such as auto-completion.
const SystemActor = "workflow-engine"

const lockScope = "workflow"

// Dispatcher enqueues work for an eligible step. *hook.Manager satisfies it.
type Dispatcher interface {
	Enqueue(ctx context.Context, queueID string, req hook.EnqueueRequest) (*hook.WorkItem, error)
}

// Config holds required dependencies for creating an Engine.
type Config struct {
	Store  store.Store
	Ledger ledger.Ledger
	Locks  *lock.Keyed
}

// Option configures optional Engine behavior.
type Option func(*Engine)

// WithBus publishes workflow events on p.
func WithBus(p event.Publisher) Option {
	return func(e *Engine) { e.bus = event.OrNop(p) }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(l) }
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = clock.OrReal(c) }
}

// WithDispatcher enqueues a step work item on the queue named by the
// step's department whenever the step becomes eligible.
func WithDispatcher(d Dispatcher) Option {
	return func(e *Engine) { e.dispatcher = d }
}

// WithAutoComplete completes a workflow once every step is COMPLETED.
func WithAutoComplete(enabled bool) Option {
	return func(e *Engine) { e.autoComplete = enabled }
}

// WithFailOnStepFailure fails the workflow when any step fails.
func WithFailOnStepFailure(enabled bool) Option {
	return func(e *Engine) { e.failOnStepFailure = enabled }
}

// Engine runs workflow operations against the store.
type Engine struct {
	store             store.Store
	ledger            ledger.Ledger
	locks             *lock.Keyed
	bus               event.Publisher
	logger            *logging.Logger
	clock             clock.Clock
	dispatcher        Dispatcher
	autoComplete      bool
	failOnStepFailure bool
}

// NewEngine creates an Engine. Auto-completion and fail-on-step-failure
// are on by default.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("molecule: Store is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("molecule: Ledger is required")
	}
	e := &Engine{
		store:             cfg.Store,
		ledger:            cfg.Ledger,
		locks:             cfg.Locks,
		bus:               event.Nop{},
		logger:            logging.NopLogger(),
		clock:             clock.Real(),
		autoComplete:      true,
		failOnStepFailure: true,
	}
	if e.locks == nil {
		e.locks = lock.NewKeyed("")
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func validWorkflowID(id string) error {
	if strings.TrimSpace(id) == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return errors.NewValidationError("invalid workflow id").WithField("workflow_id").WithValue(id)
	}
	return nil
}

// locate loads a workflow from the completed collection, falling back to
// the active one. fresh bypasses any cache.
func (e *Engine) locate(ctx context.Context, id string, fresh bool) (*Workflow, store.Kind, error) {
	if err := validWorkflowID(id); err != nil {
		return nil, "", err
	}
	get := store.GetRecord
	if fresh {
		get = store.GetFresh
	}
	for _, kind := range []store.Kind{store.WorkflowsCompleted, store.WorkflowsActive} {
		var wf Workflow
		err := get(ctx, e.store, kind, id, &wf)
		if err == nil {
			return &wf, kind, nil
		}
		if !errors.Is(err, errors.ErrNotFound) {
			return nil, "", err
		}
	}
	return nil, "", errors.NewNotFoundError("workflow", id)
}

// Get returns a workflow.
func (e *Engine) Get(ctx context.Context, id string) (*Workflow, error) {
	wf, _, err := e.locate(ctx, id, false)
	return wf, err
}

// List returns workflows, optionally filtered by status. Active and draft
// workflows come first.
func (e *Engine) List(ctx context.Context, statuses ...Status) ([]*Workflow, error) {
	var out []*Workflow
	for _, kind := range []store.Kind{store.WorkflowsActive, store.WorkflowsCompleted} {
		ids, err := e.store.List(ctx, kind)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			var wf Workflow
			if err := store.GetRecord(ctx, e.store, kind, id, &wf); err != nil {
				if errors.Is(err, errors.ErrNotFound) {
					continue
				}
				return nil, err
			}
			if len(statuses) == 0 || slices.Contains(statuses, wf.Status) {
				out = append(out, &wf)
			}
		}
	}
	return out, nil
}
