package hook

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Iron-Ham/hookline/internal/clock"
	"github.com/Iron-Ham/hookline/internal/errors"
	"github.com/Iron-Ham/hookline/internal/event"
	"github.com/Iron-Ham/hookline/internal/ident"
	"github.com/Iron-Ham/hookline/internal/ledger"
	"github.com/Iron-Ham/hookline/internal/lock"
	"github.com/Iron-Ham/hookline/internal/logging"
	"github.com/Iron-Ham/hookline/internal/store"
)

// DefaultMaxRetries applies when neither the request nor the manager sets one.
const DefaultMaxRetries = 3

// Ledger actions recorded by the queue.
const (
	ActionQueueCreated  = "queue.created"
	ActionItemEnqueued  = "item.enqueued"
	ActionItemClaimed   = "item.claimed"
	ActionItemStarted   = "item.started"
	ActionItemCompleted = "item.completed"
	ActionItemRequeued  = "item.requeued"
	ActionItemFailed    = "item.failed"
	ActionItemReclaimed = "item.claim_expired"
	ActionItemsPruned   = "queue.pruned"
	ActionAborted       = "transition.aborted"
)

const lockScope = "queue"

// Config holds required dependencies for creating a Manager.
type Config struct {
	Store  store.Store
	Ledger ledger.Ledger
	Locks  *lock.Keyed
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithBus publishes queue events on p.
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

// WithDefaultMaxRetries sets max retries for requests that leave it unset.
func WithDefaultMaxRetries(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.defaultMaxRetries = n
		}
	}
}

// Manager runs queue operations against the store.
type Manager struct {
	store             store.Store
	ledger            ledger.Ledger
	locks             *lock.Keyed
	bus               event.Publisher
	logger            *logging.Logger
	clock             clock.Clock
	match             *matcher
	defaultMaxRetries int
}

// NewManager creates a Manager.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("hook: Store is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("hook: Ledger is required")
	}
	m := &Manager{
		store:             cfg.Store,
		ledger:            cfg.Ledger,
		locks:             cfg.Locks,
		bus:               event.Nop{},
		logger:            logging.NopLogger(),
		clock:             clock.Real(),
		match:             newMatcher(),
		defaultMaxRetries: DefaultMaxRetries,
	}
	if m.locks == nil {
		m.locks = lock.NewKeyed("")
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func validQueueID(id string) error {
	if strings.TrimSpace(id) == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return errors.NewValidationError("invalid queue id").WithField("queue_id").WithValue(id)
	}
	return nil
}

// withQueue runs fn on a freshly loaded copy of the queue while holding its
// lock and saves the result when fn reports a change. create controls
// whether a missing queue is started empty or reported as NotFound.
func (m *Manager) withQueue(ctx context.Context, queueID string, create bool, fn func(q *Queue) (bool, error)) error {
	if err := validQueueID(queueID); err != nil {
		return err
	}
	release, err := m.locks.Acquire(lockScope, queueID)
	if err != nil {
		return errors.NewStorageError("lock queue", string(store.Queues), queueID, err)
	}
	defer release()

	var q Queue
	err = store.GetFresh(ctx, m.store, store.Queues, queueID, &q)
	switch {
	case errors.Is(err, errors.ErrNotFound) && create:
		now := m.clock.Now()
		q = Queue{ID: queueID, Owner: queueID, CreatedAt: now, UpdatedAt: now}
	case err != nil:
		return err
	}

	changed, err := fn(&q)
	if err != nil || !changed {
		return err
	}
	q.UpdatedAt = m.clock.Now()
	return store.PutRecord(ctx, m.store, store.Queues, queueID, &q)
}

// record appends a ledger entry about item and links it to the item's
// previous entry unless parent is given.
func (m *Manager) record(ctx context.Context, item *WorkItem, agent, action, parent, msg string, data map[string]any) error {
	if parent == "" {
		parent = item.LastEntryID
	}
	e, err := m.ledger.Record(ctx, ledger.RecordRequest{
		AgentID:       agent,
		Action:        action,
		EntityType:    ledger.EntityWorkItem,
		EntityID:      item.ID,
		Data:          data,
		Message:       msg,
		ParentEntryID: parent,
	})
	if err != nil {
		return err
	}
	item.LastEntryID = e.ID
	return nil
}

// abort appends a compensating entry when a transition recorded in the
// ledger could not be persisted.
func (m *Manager) abort(ctx context.Context, item *WorkItem, cause error) {
	_, err := m.ledger.Record(ctx, ledger.RecordRequest{
		AgentID:       "system",
		Action:        ActionAborted,
		EntityType:    ledger.EntityWorkItem,
		EntityID:      item.ID,
		Message:       "transition not persisted: " + cause.Error(),
		ParentEntryID: item.LastEntryID,
	})
	if err != nil {
		m.logger.Error("failed to record aborted transition", "item_id", item.ID, "error", err)
	}
}

// CreateQueue registers a queue owned by owner. Creating an existing
// queue updates its owner.
func (m *Manager) CreateQueue(ctx context.Context, queueID, owner string) (*Queue, error) {
	var out *Queue
	err := m.withQueue(ctx, queueID, true, func(q *Queue) (bool, error) {
		if owner != "" {
			q.Owner = owner
		}
		out = q
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if _, err := m.ledger.Record(ctx, ledger.RecordRequest{
		AgentID: out.Owner, Action: ActionQueueCreated, EntityType: ledger.EntityQueue, EntityID: queueID,
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// Enqueue appends a QUEUED item, creating the queue on first use.
func (m *Manager) Enqueue(ctx context.Context, queueID string, req EnqueueRequest) (*WorkItem, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, errors.NewValidationError("title is required").WithField("title")
	}
	if !req.Priority.Valid() {
		return nil, errors.NewValidationError("priority must be between 0 and 3").
			WithField("priority").WithValue(int(req.Priority))
	}
	maxRetries := m.defaultMaxRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			return nil, errors.NewValidationError("max retries must be non-negative").
				WithField("max_retries").WithValue(*req.MaxRetries)
		}
		maxRetries = *req.MaxRetries
	}
	kind := req.Kind
	if kind == "" {
		kind = KindTask
	}

	var out *WorkItem
	err := m.withQueue(ctx, queueID, true, func(q *Queue) (bool, error) {
		now := m.clock.Now()
		q.NextSeq++
		item := &WorkItem{
			ID:                   ident.NewAt(ident.WorkItem, now),
			QueueID:              queueID,
			Kind:                 kind,
			Title:                req.Title,
			Description:          req.Description,
			WorkflowID:           req.WorkflowID,
			StepID:               req.StepID,
			Priority:             req.Priority,
			Status:               StatusQueued,
			RequiredCapabilities: slices.Clone(req.RequiredCapabilities),
			Context:              req.Context,
			MaxRetries:           maxRetries,
			Seq:                  q.NextSeq,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		agent := cmp.Or(req.EnqueuedBy, q.Owner)
		if err := m.record(ctx, item, agent, ActionItemEnqueued, req.ParentEntryID, item.Title, map[string]any{
			"queue_id": queueID, "priority": int(item.Priority), "kind": string(kind),
			"molecule_id": item.WorkflowID, "step_id": item.StepID,
		}); err != nil {
			return false, err
		}
		q.Items = append(q.Items, item)
		out = item.clone()
		return true, nil
	})
	if err != nil {
		if out != nil {
			m.abort(ctx, out, err)
		}
		return nil, err
	}

	m.logger.WithQueue(queueID).Info("item enqueued", "item_id", out.ID, "priority", int(out.Priority), "kind", string(out.Kind))
	m.bus.Publish(event.NewItemEnqueuedEvent(queueID, out.ID, int(out.Priority), string(out.Kind)))
	return out, nil
}

// selectItem returns the most urgent eligible QUEUED item, or nil.
func (m *Manager) selectItem(q *Queue, req ClaimRequest) *WorkItem {
	if req.ItemID != "" {
		it := q.find(req.ItemID)
		if it == nil || it.Status != StatusQueued || !m.match.satisfies(it.RequiredCapabilities, req.Capabilities) {
			return nil
		}
		return it
	}
	var best *WorkItem
	for _, it := range q.Items {
		if it.Status != StatusQueued || !m.match.satisfies(it.RequiredCapabilities, req.Capabilities) {
			continue
		}
		if best == nil || it.Priority < best.Priority || (it.Priority == best.Priority && it.Seq < best.Seq) {
			best = it
		}
	}
	return best
}

// Claim atomically assigns the best eligible item to the consumer and
// persists the claim before returning it. It returns nil, nil when nothing
// is eligible.
func (m *Manager) Claim(ctx context.Context, queueID string, req ClaimRequest) (*WorkItem, error) {
	if strings.TrimSpace(req.ConsumerID) == "" {
		return nil, errors.NewValidationError("consumer id is required").WithField("consumer_id")
	}
	var out *WorkItem
	err := m.withQueue(ctx, queueID, false, func(q *Queue) (bool, error) {
		item := m.selectItem(q, req)
		if item == nil {
			return false, nil
		}
		now := m.clock.Now()
		item.Status = StatusClaimed
		item.AssignedTo = req.ConsumerID
		item.ClaimedAt = &now
		item.UpdatedAt = now
		if err := m.record(ctx, item, req.ConsumerID, ActionItemClaimed, "", "", map[string]any{
			"queue_id": queueID, "attempt": item.RetryCount + 1,
		}); err != nil {
			return false, err
		}
		out = item.clone()
		return true, nil
	})
	if err != nil {
		if out != nil {
			m.abort(ctx, out, err)
		}
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	m.logger.WithQueue(queueID).WithAgent(req.ConsumerID).Info("item claimed", "item_id", out.ID)
	m.bus.Publish(event.NewItemClaimedEvent(queueID, out.ID, req.ConsumerID))
	return out, nil
}

// Start moves a CLAIMED item to IN_PROGRESS. Only the assignee may start it.
func (m *Manager) Start(ctx context.Context, queueID, itemID, consumerID string) (*WorkItem, error) {
	var out *WorkItem
	err := m.withQueue(ctx, queueID, false, func(q *Queue) (bool, error) {
		item := q.find(itemID)
		if item == nil {
			return false, errors.NewNotFoundError("work item", itemID)
		}
		if item.Status != StatusClaimed {
			return false, errors.NewInvalidStateError("work item", itemID, string(item.Status), string(StatusInProgress))
		}
		if consumerID != "" && item.AssignedTo != consumerID {
			return false, errors.NewInvalidStateError("work item", itemID, string(item.Status), string(StatusInProgress)).
				WithReason("claimed by " + item.AssignedTo)
		}
		now := m.clock.Now()
		item.Status = StatusInProgress
		item.StartedAt = &now
		item.UpdatedAt = now
		if err := m.record(ctx, item, item.AssignedTo, ActionItemStarted, "", "", nil); err != nil {
			return false, err
		}
		out = item.clone()
		return true, nil
	})
	if err != nil {
		if out != nil {
			m.abort(ctx, out, err)
		}
		return nil, err
	}
	return out, nil
}

// Release ends an attempt. On success the item is COMPLETED with result.
// On failure the retry count is incremented and the item returns to
// QUEUED while retry_count < max_retries, otherwise it is FAILED.
// It reports false when the item does not exist or is not CLAIMED or
// IN_PROGRESS.
func (m *Manager) Release(ctx context.Context, queueID, itemID string, success bool, result string) (bool, error) {
	var (
		out      *WorkItem
		requeued bool
	)
	err := m.withQueue(ctx, queueID, false, func(q *Queue) (bool, error) {
		item := q.find(itemID)
		if item == nil || !item.Status.Releasable() {
			return false, nil
		}
		now := m.clock.Now()
		agent := item.AssignedTo
		item.UpdatedAt = now

		var action string
		switch {
		case success:
			item.Status = StatusCompleted
			item.Result = result
			item.Error = ""
			item.CompletedAt = &now
			action = ActionItemCompleted
		default:
			item.RetryCount++
			item.Error = result
			if item.RetryCount < item.MaxRetries {
				item.Status = StatusQueued
				item.AssignedTo = ""
				item.ClaimedAt = nil
				item.StartedAt = nil
				requeued = true
				action = ActionItemRequeued
			} else {
				item.Status = StatusFailed
				item.CompletedAt = &now
				action = ActionItemFailed
			}
		}
		if err := m.record(ctx, item, agent, action, "", result, map[string]any{
			"queue_id": queueID, "retry_count": item.RetryCount, "max_retries": item.MaxRetries,
		}); err != nil {
			return false, err
		}
		out = item.clone()
		out.AssignedTo = agent
		return true, nil
	})
	if err != nil {
		if out != nil {
			m.abort(ctx, out, err)
		}
		return false, err
	}
	if out == nil {
		return false, nil
	}

	log := m.logger.WithQueue(queueID).WithAgent(out.AssignedTo)
	m.bus.Publish(event.NewItemReleasedEvent(queueID, out.ID, success, requeued, out.RetryCount))
	switch {
	case success:
		log.Info("item completed", "item_id", out.ID)
	case requeued:
		log.Warn("item failed, requeued", "item_id", out.ID, "retry_count", out.RetryCount, "max_retries", out.MaxRetries)
	default:
		log.Error("item failed permanently", "item_id", out.ID, "retry_count", out.RetryCount, "error", out.Error)
		m.bus.Publish(event.NewItemFailedEvent(queueID, out.ID, out.WorkflowID, out.StepID, out.AssignedTo, out.Error, out.RetryCount))
	}
	return true, nil
}

// Stats counts the queue's items by status.
func (m *Manager) Stats(ctx context.Context, queueID string) (Stats, error) {
	q, err := m.load(ctx, queueID)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{QueueID: queueID, Total: len(q.Items)}
	for _, it := range q.Items {
		switch it.Status {
		case StatusQueued:
			s.Queued++
		case StatusClaimed:
			s.Claimed++
		case StatusInProgress:
			s.InProgress++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s, nil
}

func (m *Manager) load(ctx context.Context, queueID string) (*Queue, error) {
	if err := validQueueID(queueID); err != nil {
		return nil, err
	}
	var q Queue
	if err := store.GetRecord(ctx, m.store, store.Queues, queueID, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// Get returns one item.
func (m *Manager) Get(ctx context.Context, queueID, itemID string) (*WorkItem, error) {
	q, err := m.load(ctx, queueID)
	if err != nil {
		return nil, err
	}
	it := q.find(itemID)
	if it == nil {
		return nil, errors.NewNotFoundError("work item", itemID)
	}
	return it, nil
}

// List returns the queue's items in claim order, optionally filtered by
// status.
func (m *Manager) List(ctx context.Context, queueID string, statuses ...Status) ([]*WorkItem, error) {
	q, err := m.load(ctx, queueID)
	if err != nil {
		return nil, err
	}
	var out []*WorkItem
	for _, it := range q.Items {
		if len(statuses) == 0 || slices.Contains(statuses, it.Status) {
			out = append(out, it)
		}
	}
	slices.SortStableFunc(out, func(a, b *WorkItem) int {
		return cmp.Or(cmp.Compare(a.Priority, b.Priority), cmp.Compare(a.Seq, b.Seq))
	})
	return out, nil
}

// Queues returns the ids of every queue.
func (m *Manager) Queues(ctx context.Context) ([]string, error) {
	return m.store.List(ctx, store.Queues)
}

// Prune removes terminal items whose completion is older than olderThan.
// Ledger entries about them are kept. It returns the removed item ids.
func (m *Manager) Prune(ctx context.Context, queueID string, olderThan time.Duration) ([]string, error) {
	var removed []string
	err := m.withQueue(ctx, queueID, false, func(q *Queue) (bool, error) {
		cutoff := m.clock.Now().Add(-olderThan)
		kept := q.Items[:0]
		for _, it := range q.Items {
			if it.Status.IsTerminal() && it.CompletedAt != nil && it.CompletedAt.Before(cutoff) {
				removed = append(removed, it.ID)
				continue
			}
			kept = append(kept, it)
		}
		q.Items = kept
		return len(removed) > 0, nil
	})
	if err != nil || len(removed) == 0 {
		return nil, err
	}
	if _, err := m.ledger.Record(ctx, ledger.RecordRequest{
		AgentID: "system", Action: ActionItemsPruned, EntityType: ledger.EntityQueue, EntityID: queueID,
		Data: map[string]any{"items": removed, "older_than": olderThan.String()},
	}); err != nil {
		return removed, err
	}
	m.logger.WithQueue(queueID).Info("pruned terminal items", "count", len(removed))
	return removed, nil
}

// ReleaseStale returns CLAIMED items claimed before cutoff to QUEUED
// without charging a retry. Items already IN_PROGRESS are left alone.
func (m *Manager) ReleaseStale(ctx context.Context, queueID string, cutoff time.Time) ([]string, error) {
	var released []string
	var touched []*WorkItem
	err := m.withQueue(ctx, queueID, false, func(q *Queue) (bool, error) {
		for _, it := range q.Items {
			if it.Status != StatusClaimed || it.ClaimedAt == nil || !it.ClaimedAt.Before(cutoff) {
				continue
			}
			prev := it.AssignedTo
			it.Status = StatusQueued
			it.AssignedTo = ""
			it.ClaimedAt = nil
			it.UpdatedAt = m.clock.Now()
			if err := m.record(ctx, it, "system", ActionItemReclaimed, "", "claim by "+prev+" expired", nil); err != nil {
				return false, err
			}
			released = append(released, it.ID)
			touched = append(touched, it.clone())
		}
		return len(released) > 0, nil
	})
	if err != nil {
		for _, it := range touched {
			m.abort(ctx, it, err)
		}
		return nil, err
	}
	for _, id := range released {
		m.bus.Publish(event.NewItemReleasedEvent(queueID, id, false, true, 0))
	}
	if len(released) > 0 {
		m.logger.WithQueue(queueID).Warn("released stale claims", "count", len(released))
	}
	return released, nil
}
