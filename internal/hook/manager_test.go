package hook

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/hookline/internal/clock"
	"github.com/Iron-Ham/hookline/internal/errors"
	"github.com/Iron-Ham/hookline/internal/event"
	"github.com/Iron-Ham/hookline/internal/ledger"
	"github.com/Iron-Ham/hookline/internal/lock"
	"github.com/Iron-Ham/hookline/internal/store"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	mgr    *Manager
	ledger *ledger.FileLedger
	clock  *clock.Fake
	events *eventCollector
	store  store.Store
}

type eventCollector struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *eventCollector) Publish(e event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *eventCollector) ofType(t string) []event.Event {
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

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	fs, err := store.NewFileStore(filepath.Join(dir, "store"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	clk := clock.NewTicking(epoch, time.Millisecond)
	l, err := ledger.OpenFile(filepath.Join(dir, "ledger.jsonl"), ledger.Options{Chain: true, Clock: clk})
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	events := &eventCollector{}
	cached := store.NewCache(fs)
	mgr, err := NewManager(
		Config{Store: cached, Ledger: l, Locks: lock.NewKeyed(filepath.Join(dir, "locks"))},
		WithBus(events), WithClock(clk),
	)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return &fixture{mgr: mgr, ledger: l, clock: clk, events: events, store: cached}
}

func (f *fixture) enqueue(t *testing.T, queueID string, req EnqueueRequest) *WorkItem {
	t.Helper()
	if req.Title == "" {
		req.Title = "task"
	}
	item, err := f.mgr.Enqueue(context.Background(), queueID, req)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return item
}

func (f *fixture) claim(t *testing.T, queueID, consumer string, caps ...string) *WorkItem {
	t.Helper()
	item, err := f.mgr.Claim(context.Background(), queueID, ClaimRequest{ConsumerID: consumer, Capabilities: caps})
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	return item
}

func intPtr(n int) *int { return &n }

func TestNewManager_RequiresDependencies(t *testing.T) {
	if _, err := NewManager(Config{}); err == nil {
		t.Error("expected error without Store")
	}
	if _, err := NewManager(Config{Store: store.NewMemStore()}); err == nil {
		t.Error("expected error without Ledger")
	}
}

func TestEnqueue(t *testing.T) {
	f := newFixture(t)
	item := f.enqueue(t, "engineering", EnqueueRequest{
		Title:                "Build API",
		Priority:             PriorityHigh,
		RequiredCapabilities: []string{"lang:go"},
		Context:              map[string]any{"ticket": "ENG-1"},
	})

	if item.Status != StatusQueued || item.QueueID != "engineering" {
		t.Errorf("item = %+v", item)
	}
	if item.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", item.MaxRetries, DefaultMaxRetries)
	}
	if item.Kind != KindTask {
		t.Errorf("Kind = %q, want task", item.Kind)
	}
	if item.LastEntryID == "" {
		t.Error("enqueue should record a ledger entry")
	}

	got, err := f.mgr.Get(context.Background(), "engineering", item.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Context["ticket"] != "ENG-1" {
		t.Errorf("Context not persisted: %v", got.Context)
	}
	if len(f.events.ofType(event.TypeItemEnqueued)) != 1 {
		t.Error("expected one enqueued event")
	}
}

func TestEnqueue_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tests := []struct {
		name    string
		queueID string
		req     EnqueueRequest
	}{
		{"empty title", "q", EnqueueRequest{}},
		{"bad priority", "q", EnqueueRequest{Title: "x", Priority: 7}},
		{"negative retries", "q", EnqueueRequest{Title: "x", MaxRetries: intPtr(-1)}},
		{"bad queue id", "../etc", EnqueueRequest{Title: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.mgr.Enqueue(ctx, tt.queueID, tt.req)
			if !errors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("Enqueue() = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestClaim_PriorityThenFIFO(t *testing.T) {
	f := newFixture(t)
	low := f.enqueue(t, "q", EnqueueRequest{Title: "low", Priority: PriorityLow})
	normal1 := f.enqueue(t, "q", EnqueueRequest{Title: "normal-1", Priority: PriorityNormal})
	critical := f.enqueue(t, "q", EnqueueRequest{Title: "critical", Priority: PriorityCritical})
	normal2 := f.enqueue(t, "q", EnqueueRequest{Title: "normal-2", Priority: PriorityNormal})

	want := []string{critical.ID, normal1.ID, normal2.ID, low.ID}
	for i, id := range want {
		got := f.claim(t, "q", "w")
		if got == nil || got.ID != id {
			t.Fatalf("claim %d = %v, want %s", i, got, id)
		}
		if got.Status != StatusClaimed || got.AssignedTo != "w" || got.ClaimedAt == nil {
			t.Errorf("claimed item = %+v", got)
		}
	}
	if got := f.claim(t, "q", "w"); got != nil {
		t.Errorf("claim on empty queue = %v, want nil", got)
	}
}

func TestClaim_Capabilities(t *testing.T) {
	f := newFixture(t)
	goItem := f.enqueue(t, "q", EnqueueRequest{Title: "go", Priority: PriorityCritical, RequiredCapabilities: []string{"lang:go", "db"}})
	plain := f.enqueue(t, "q", EnqueueRequest{Title: "plain", Priority: PriorityLow})

	if got := f.claim(t, "q", "a", "lang:go"); got == nil || got.ID != plain.ID {
		t.Fatalf("consumer missing db should get plain item, got %v", got)
	}
	if got := f.claim(t, "q", "b", "lang:*", "db"); got == nil || got.ID != goItem.ID {
		t.Fatalf("glob capability should match, got %v", got)
	}
}

func TestClaim_SpecificItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.enqueue(t, "q", EnqueueRequest{Title: "first", Priority: PriorityCritical})
	second := f.enqueue(t, "q", EnqueueRequest{Title: "second", Priority: PriorityLow, RequiredCapabilities: []string{"gpu"}})

	got, err := f.mgr.Claim(ctx, "q", ClaimRequest{ConsumerID: "w", ItemID: second.ID})
	if err != nil || got != nil {
		t.Fatalf("capability-incompatible specific claim = %v, %v; want nil", got, err)
	}
	got, err = f.mgr.Claim(ctx, "q", ClaimRequest{ConsumerID: "w", ItemID: second.ID, Capabilities: []string{"gpu"}})
	if err != nil || got == nil || got.ID != second.ID {
		t.Fatalf("specific claim = %v, %v; want %s", got, err, second.ID)
	}
	got, err = f.mgr.Claim(ctx, "q", ClaimRequest{ConsumerID: "x", ItemID: second.ID, Capabilities: []string{"gpu"}})
	if err != nil || got != nil {
		t.Errorf("claiming an already claimed item = %v, %v; want nil", got, err)
	}
	if got := f.claim(t, "q", "y"); got == nil || got.ID != first.ID {
		t.Errorf("remaining item should still be claimable, got %v", got)
	}
}

func TestClaim_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.mgr.Claim(ctx, "missing", ClaimRequest{ConsumerID: "w"}); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Claim on missing queue = %v, want ErrNotFound", err)
	}
	if _, err := f.mgr.Claim(ctx, "q", ClaimRequest{}); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Claim without consumer = %v, want ErrInvalidInput", err)
	}
}

func TestClaim_AtMostOneClaimant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const items, claimers = 10, 50
	for i := 0; i < items; i++ {
		f.enqueue(t, "contended", EnqueueRequest{Title: fmt.Sprintf("item-%d", i)})
	}

	var (
		mu     sync.Mutex
		wins   = make(map[string]string)
		dupes  int
		misses int
		wg     sync.WaitGroup
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			consumer := fmt.Sprintf("worker-%d", i)
			item, err := f.mgr.Claim(ctx, "contended", ClaimRequest{ConsumerID: consumer})
			if err != nil {
				t.Errorf("Claim: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if item == nil {
				misses++
				return
			}
			if _, ok := wins[item.ID]; ok {
				dupes++
			}
			wins[item.ID] = consumer
		}(i)
	}
	wg.Wait()

	if len(wins) != items || dupes != 0 || misses != claimers-items {
		t.Fatalf("wins=%d dupes=%d misses=%d; want %d, 0, %d", len(wins), dupes, misses, items, claimers-items)
	}
	stats, err := f.mgr.Stats(ctx, "contended")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Claimed != items || stats.Queued != 0 {
		t.Errorf("stats = %+v, want all %d claimed", stats, items)
	}
	for id, consumer := range wins {
		got, _ := f.mgr.Get(ctx, "contended", id)
		if got.AssignedTo != consumer {
			t.Errorf("item %s assigned to %s, winner was %s", id, got.AssignedTo, consumer)
		}
	}
}

func TestClaim_ConcurrentManagersShareLocks(t *testing.T) {
	dir := t.TempDir()
	fs, err := store.NewFileStore(filepath.Join(dir, "store"))
	if err != nil {
		t.Fatal(err)
	}
	l, err := ledger.OpenFile(filepath.Join(dir, "ledger.jsonl"), ledger.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	// Two managers with separate caches and lock maps model two processes.
	newMgr := func() *Manager {
		m, err := NewManager(Config{Store: store.NewCache(fs), Ledger: l, Locks: lock.NewKeyed(filepath.Join(dir, "locks"))})
		if err != nil {
			t.Fatal(err)
		}
		return m
	}
	a, b := newMgr(), newMgr()
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		if _, err := a.Enqueue(ctx, "shared", EnqueueRequest{Title: "t"}); err != nil {
			t.Fatal(err)
		}
	}

	seen := make(map[string]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, m := range []*Manager{a, b, a, b, a, b, a, b} {
		wg.Add(1)
		go func(m *Manager) {
			defer wg.Done()
			item, err := m.Claim(ctx, "shared", ClaimRequest{ConsumerID: "w"})
			if err != nil {
				t.Errorf("Claim: %v", err)
				return
			}
			if item == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[item.ID] {
				t.Errorf("item %s claimed twice", item.ID)
			}
			seen[item.ID] = true
		}(m)
	}
	wg.Wait()
	if len(seen) != 6 {
		t.Errorf("claimed %d items, want 6", len(seen))
	}
}

func TestRelease_RetryBound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.enqueue(t, "q", EnqueueRequest{Title: "flaky", MaxRetries: intPtr(3)})

	for attempt := 1; attempt <= 3; attempt++ {
		claimed := f.claim(t, "q", "w")
		if claimed == nil || claimed.ID != item.ID {
			t.Fatalf("attempt %d: claim = %v", attempt, claimed)
		}
		ok, err := f.mgr.Release(ctx, "q", item.ID, false, fmt.Sprintf("boom %d", attempt))
		if err != nil || !ok {
			t.Fatalf("attempt %d: Release = %v, %v", attempt, ok, err)
		}
	}

	got, err := f.mgr.Get(ctx, "q", item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusFailed || got.RetryCount != 3 {
		t.Errorf("after 3 failures: status=%s retry_count=%d; want FAILED, 3", got.Status, got.RetryCount)
	}
	if got.Error != "boom 3" || got.CompletedAt == nil {
		t.Errorf("failed item = %+v", got)
	}
	if len(f.events.ofType(event.TypeItemFailed)) != 1 {
		t.Error("expected one escalation event")
	}
	if got := f.claim(t, "q", "w"); got != nil {
		t.Errorf("failed item should not be claimable, got %v", got)
	}
}

func TestRelease_FailThenSucceed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.enqueue(t, "q", EnqueueRequest{Title: "flaky", MaxRetries: intPtr(3)})

	for i := 0; i < 2; i++ {
		f.claim(t, "q", "w")
		if ok, err := f.mgr.Release(ctx, "q", item.ID, false, "boom"); !ok || err != nil {
			t.Fatalf("Release(fail) = %v, %v", ok, err)
		}
		got, _ := f.mgr.Get(ctx, "q", item.ID)
		if got.Status != StatusQueued || got.AssignedTo != "" {
			t.Fatalf("after failure %d: %+v, want QUEUED and unassigned", i+1, got)
		}
	}
	f.claim(t, "q", "w")
	if _, err := f.mgr.Start(ctx, "q", item.ID, "w"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ok, err := f.mgr.Release(ctx, "q", item.ID, true, "shipped"); !ok || err != nil {
		t.Fatalf("Release(success) = %v, %v", ok, err)
	}
	got, _ := f.mgr.Get(ctx, "q", item.ID)
	if got.Status != StatusCompleted || got.RetryCount != 2 || got.Result != "shipped" || got.Error != "" {
		t.Errorf("final item = %+v", got)
	}
}

func TestRelease_ZeroRetriesFailsImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.enqueue(t, "q", EnqueueRequest{Title: "once", MaxRetries: intPtr(0)})
	f.claim(t, "q", "w")
	if ok, _ := f.mgr.Release(ctx, "q", item.ID, false, "nope"); !ok {
		t.Fatal("Release returned false")
	}
	got, _ := f.mgr.Get(ctx, "q", item.ID)
	if got.Status != StatusFailed {
		t.Errorf("status = %s, want FAILED", got.Status)
	}
}

func TestRelease_NotReleasable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.enqueue(t, "q", EnqueueRequest{Title: "t"})

	if ok, err := f.mgr.Release(ctx, "q", item.ID, true, ""); ok || err != nil {
		t.Errorf("Release of QUEUED item = %v, %v; want false, nil", ok, err)
	}
	if ok, err := f.mgr.Release(ctx, "q", "wi_missing", true, ""); ok || err != nil {
		t.Errorf("Release of missing item = %v, %v; want false, nil", ok, err)
	}
	f.claim(t, "q", "w")
	if ok, _ := f.mgr.Release(ctx, "q", item.ID, true, "done"); !ok {
		t.Fatal("Release of claimed item failed")
	}
	if ok, _ := f.mgr.Release(ctx, "q", item.ID, true, "again"); ok {
		t.Error("Release of COMPLETED item should return false")
	}
}

func TestStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.enqueue(t, "q", EnqueueRequest{Title: "t"})

	if _, err := f.mgr.Start(ctx, "q", item.ID, "w"); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("Start of QUEUED item = %v, want ErrInvalidState", err)
	}
	f.claim(t, "q", "w")
	if _, err := f.mgr.Start(ctx, "q", item.ID, "intruder"); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("Start by non-assignee = %v, want ErrInvalidState", err)
	}
	got, err := f.mgr.Start(ctx, "q", item.ID, "w")
	if err != nil || got.Status != StatusInProgress || got.StartedAt == nil {
		t.Fatalf("Start = %+v, %v", got, err)
	}
	if _, err := f.mgr.Start(ctx, "q", item.ID, "w"); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("second Start = %v, want ErrInvalidState", err)
	}
	if _, err := f.mgr.Start(ctx, "q", "wi_missing", "w"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Start of missing item = %v, want ErrNotFound", err)
	}
}

func TestLedgerChainPerItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.enqueue(t, "q", EnqueueRequest{Title: "t", ParentEntryID: "bead_cause"})
	f.claim(t, "q", "w")
	if _, err := f.mgr.Start(ctx, "q", item.ID, "w"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.mgr.Release(ctx, "q", item.ID, true, "ok"); err != nil {
		t.Fatal(err)
	}

	entries, err := f.ledger.EntriesForEntity(ctx, ledger.EntityWorkItem, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	wantActions := []string{ActionItemEnqueued, ActionItemClaimed, ActionItemStarted, ActionItemCompleted}
	if len(entries) != len(wantActions) {
		t.Fatalf("got %d entries, want %d", len(entries), len(wantActions))
	}
	for i, e := range entries {
		if e.Action != wantActions[i] {
			t.Errorf("entry %d action = %s, want %s", i, e.Action, wantActions[i])
		}
		wantParent := "bead_cause"
		if i > 0 {
			wantParent = entries[i-1].ID
		}
		if e.ParentEntryID != wantParent {
			t.Errorf("entry %d parent = %s, want %s", i, e.ParentEntryID, wantParent)
		}
	}
	if entries[1].AgentID != "w" {
		t.Errorf("claim entry agent = %s, want w", entries[1].AgentID)
	}
}

func TestStatsAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.enqueue(t, "q", EnqueueRequest{Title: "a", Priority: PriorityLow})
	f.enqueue(t, "q", EnqueueRequest{Title: "b", Priority: PriorityHigh})
	f.enqueue(t, "q", EnqueueRequest{Title: "c", Priority: PriorityNormal})
	claimed := f.claim(t, "q", "w")
	_, _ = f.mgr.Release(ctx, "q", claimed.ID, true, "")

	stats, err := f.mgr.Stats(ctx, "q")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 || stats.Queued != 2 || stats.Completed != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ByStatus()[StatusQueued] != 2 {
		t.Errorf("ByStatus = %v", stats.ByStatus())
	}

	queued, err := f.mgr.List(ctx, "q", StatusQueued)
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 2 || queued[1].ID != a.ID {
		t.Errorf("List(QUEUED) = %v, want low-priority item last", queued)
	}
	if _, err := f.mgr.Stats(ctx, "missing"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Stats(missing) = %v, want ErrNotFound", err)
	}
	ids, err := f.mgr.Queues(ctx)
	if err != nil || len(ids) != 1 || ids[0] != "q" {
		t.Errorf("Queues() = %v, %v", ids, err)
	}
}

func TestPrune(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	done := f.enqueue(t, "q", EnqueueRequest{Title: "done"})
	open := f.enqueue(t, "q", EnqueueRequest{Title: "open"})
	f.claim(t, "q", "w")
	_, _ = f.mgr.Release(ctx, "q", done.ID, true, "")

	removed, err := f.mgr.Prune(ctx, "q", time.Hour)
	if err != nil || len(removed) != 0 {
		t.Fatalf("Prune before retention = %v, %v", removed, err)
	}
	f.clock.Advance(2 * time.Hour)
	removed, err = f.mgr.Prune(ctx, "q", time.Hour)
	if err != nil || len(removed) != 1 || removed[0] != done.ID {
		t.Fatalf("Prune = %v, %v; want [%s]", removed, err, done.ID)
	}
	if _, err := f.mgr.Get(ctx, "q", open.ID); err != nil {
		t.Errorf("open item pruned: %v", err)
	}
	entries, _ := f.ledger.EntriesForEntity(ctx, ledger.EntityWorkItem, done.ID)
	if len(entries) == 0 {
		t.Error("pruning must not remove ledger history")
	}
}

func TestReleaseStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stale := f.enqueue(t, "q", EnqueueRequest{Title: "stale", Priority: PriorityCritical})
	running := f.enqueue(t, "q", EnqueueRequest{Title: "running", Priority: PriorityHigh})
	f.claim(t, "q", "dead")
	f.claim(t, "q", "alive")
	if _, err := f.mgr.Start(ctx, "q", running.ID, "alive"); err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(time.Hour)
	released, err := f.mgr.ReleaseStale(ctx, "q", f.clock.Now().Add(-30*time.Minute))
	if err != nil || len(released) != 1 || released[0] != stale.ID {
		t.Fatalf("ReleaseStale = %v, %v; want [%s]", released, err, stale.ID)
	}
	got, _ := f.mgr.Get(ctx, "q", stale.ID)
	if got.Status != StatusQueued || got.RetryCount != 0 {
		t.Errorf("stale item = %+v, want QUEUED with no retry charged", got)
	}
}

func TestCreateQueue(t *testing.T) {
	f := newFixture(t)
	q, err := f.mgr.CreateQueue(context.Background(), "design", "head-of-design")
	if err != nil {
		t.Fatal(err)
	}
	if q.Owner != "head-of-design" {
		t.Errorf("Owner = %q", q.Owner)
	}
	item := f.enqueue(t, "design", EnqueueRequest{Title: "mock"})
	entries, _ := f.ledger.EntriesForEntity(context.Background(), ledger.EntityWorkItem, item.ID)
	if len(entries) != 1 || entries[0].AgentID != "head-of-design" {
		t.Errorf("enqueue agent should default to queue owner, got %+v", entries)
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"critical", PriorityCritical, false},
		{"1", PriorityHigh, false},
		{"", PriorityNormal, false},
		{"LOW", PriorityLow, false},
		{"urgent", 0, true},
	}
	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		if (err != nil) != tt.wantErr || (!tt.wantErr && got != tt.want) {
			t.Errorf("ParsePriority(%q) = %v, %v", tt.in, got, err)
		}
	}
}
