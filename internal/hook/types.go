package hook

import (
	"fmt"
	"strings"
	"time"
)

// Priority orders items within a queue. Lower is more urgent.
type Priority int

const (
	PriorityCritical Priority = 0
	PriorityHigh     Priority = 1
	PriorityNormal   Priority = 2
	PriorityLow      Priority = 3
)

// Valid reports whether p is one of the four levels.
func (p Priority) Valid() bool { return p >= PriorityCritical && p <= PriorityLow }

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority accepts a level name or its ordinal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "0":
		return PriorityCritical, nil
	case "high", "1":
		return PriorityHigh, nil
	case "normal", "2", "":
		return PriorityNormal, nil
	case "low", "3":
		return PriorityLow, nil
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// Status is the lifecycle state of a WorkItem.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusClaimed    Status = "CLAIMED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// IsTerminal returns true if this status represents a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Releasable reports whether an item in s may be released.
func (s Status) Releasable() bool {
	return s == StatusClaimed || s == StatusInProgress
}

// Kind tags what a work item asks its consumer to do. The core only
// produces KindStep, KindReview and KindEscalation; anything else is
// opaque to it.
type Kind string

const (
	KindTask       Kind = "task"
	KindStep       Kind = "step"
	KindReview     Kind = "review"
	KindEscalation Kind = "escalation"
)

// WorkItem is one unit of claimable work.
type WorkItem struct {
	ID                   string         `yaml:"id" json:"id"`
	QueueID              string         `yaml:"hook_id" json:"hook_id"`
	Kind                 Kind           `yaml:"kind" json:"kind"`
	Title                string         `yaml:"title" json:"title"`
	Description          string         `yaml:"description,omitempty" json:"description,omitempty"`
	WorkflowID           string         `yaml:"molecule_id,omitempty" json:"molecule_id,omitempty"`
	StepID               string         `yaml:"step_id,omitempty" json:"step_id,omitempty"`
	Priority             Priority       `yaml:"priority" json:"priority"`
	Status               Status         `yaml:"status" json:"status"`
	AssignedTo           string         `yaml:"assigned_to,omitempty" json:"assigned_to,omitempty"`
	RequiredCapabilities []string       `yaml:"required_capabilities,omitempty" json:"required_capabilities,omitempty"`
	Context              map[string]any `yaml:"context,omitempty" json:"context,omitempty"`
	RetryCount           int            `yaml:"retry_count" json:"retry_count"`
	MaxRetries           int            `yaml:"max_retries" json:"max_retries"`
	Result               string         `yaml:"result,omitempty" json:"result,omitempty"`
	Error                string         `yaml:"error,omitempty" json:"error,omitempty"`
	// Seq is the insertion order within the queue.
	Seq         uint64     `yaml:"seq" json:"seq"`
	CreatedAt   time.Time  `yaml:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `yaml:"updated_at" json:"updated_at"`
	ClaimedAt   *time.Time `yaml:"claimed_at,omitempty" json:"claimed_at,omitempty"`
	StartedAt   *time.Time `yaml:"started_at,omitempty" json:"started_at,omitempty"`
	CompletedAt *time.Time `yaml:"completed_at,omitempty" json:"completed_at,omitempty"`
	// LastEntryID is the most recent ledger entry about this item.
	LastEntryID string `yaml:"last_entry_id,omitempty" json:"last_entry_id,omitempty"`
}

func (w *WorkItem) clone() *WorkItem {
	cp := *w
	cp.RequiredCapabilities = append([]string(nil), w.RequiredCapabilities...)
	if w.Context != nil {
		cp.Context = make(map[string]any, len(w.Context))
		for k, v := range w.Context {
			cp.Context[k] = v
		}
	}
	return &cp
}

// Queue is the persisted record of one hook.
type Queue struct {
	ID        string      `yaml:"id" json:"id"`
	Owner     string      `yaml:"owner" json:"owner"`
	NextSeq   uint64      `yaml:"next_seq" json:"next_seq"`
	Items     []*WorkItem `yaml:"items" json:"items"`
	CreatedAt time.Time   `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time   `yaml:"updated_at" json:"updated_at"`
}

func (q *Queue) find(itemID string) *WorkItem {
	for _, it := range q.Items {
		if it.ID == itemID {
			return it
		}
	}
	return nil
}

// Stats counts a queue's items by status.
type Stats struct {
	QueueID    string `json:"queue_id"`
	Total      int    `json:"total"`
	Queued     int    `json:"queued"`
	Claimed    int    `json:"claimed"`
	InProgress int    `json:"in_progress"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
}

// ByStatus returns the counts keyed by status.
func (s Stats) ByStatus() map[Status]int {
	return map[Status]int{
		StatusQueued:     s.Queued,
		StatusClaimed:    s.Claimed,
		StatusInProgress: s.InProgress,
		StatusCompleted:  s.Completed,
		StatusFailed:     s.Failed,
	}
}

// EnqueueRequest describes a new item.
type EnqueueRequest struct {
	Title                string
	Description          string
	Kind                 Kind
	WorkflowID           string
	StepID               string
	Priority             Priority
	RequiredCapabilities []string
	Context              map[string]any
	// MaxRetries overrides the manager default when non-nil.
	MaxRetries *int
	// EnqueuedBy is recorded as the ledger agent.
	EnqueuedBy string
	// ParentEntryID links the enqueue ledger entry to its cause.
	ParentEntryID string
}

// ClaimRequest identifies the consumer.
type ClaimRequest struct {
	ConsumerID   string
	Capabilities []string
	// ItemID claims exactly this item when set.
	ItemID string
}
