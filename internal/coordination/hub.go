package coordination

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Iron-Ham/hookline/internal/clock"
	"github.com/Iron-Ham/hookline/internal/config"
	"github.com/Iron-Ham/hookline/internal/errors"
	"github.com/Iron-Ham/hookline/internal/event"
	"github.com/Iron-Ham/hookline/internal/gate"
	"github.com/Iron-Ham/hookline/internal/hook"
	"github.com/Iron-Ham/hookline/internal/ledger"
	"github.com/Iron-Ham/hookline/internal/lock"
	"github.com/Iron-Ham/hookline/internal/logging"
	"github.com/Iron-Ham/hookline/internal/molecule"
	"github.com/Iron-Ham/hookline/internal/store"
	"github.com/Iron-Ham/hookline/internal/verify"
)

// Hub owns the durable state of one hookline directory and the managers
// operating on it.
type Hub struct {
	cfg    *config.Config
	logger *logging.Logger
	clock  clock.Clock
	bus    *event.Bus

	cache   *store.Cache
	watcher *store.Watcher
	ledger  ledger.Ledger
	locks   *lock.Keyed

	queues *hook.Manager
	engine *molecule.Engine
	gates  *gate.Manager

	subscriptions []string
	// closers run in reverse order on Close.
	closers   []io.Closer
	closeOnce sync.Once
	closeErr  error
}

// Open builds a Hub from cfg. The caller must Close it.
func Open(cfg *config.Config, opts ...Option) (hub *Hub, err error) {
	if cfg == nil {
		return nil, errors.New("coordination: config is required")
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, config.ValidationErrors(errs)
	}
	hc := &hubConfig{}
	for _, opt := range opts {
		opt(hc)
	}

	h := &Hub{cfg: cfg, clock: clock.OrReal(hc.clock)}
	defer func() {
		if err != nil {
			_ = h.Close()
		}
	}()

	if err := h.openLogger(hc.logger); err != nil {
		return nil, err
	}
	h.bus = event.NewBus(h.logger)
	h.locks = lock.NewKeyed(filepath.Join(cfg.Store.Dir, "locks"))

	watch := cfg.Store.Watch
	if hc.watch != nil {
		watch = *hc.watch
	}
	if err := h.openStore(watch); err != nil {
		return nil, err
	}
	if err := h.openLedger(); err != nil {
		return nil, err
	}
	if err := h.buildManagers(hc.executor); err != nil {
		return nil, err
	}
	h.subscribe()
	h.logger.Info("hub opened",
		"store_dir", cfg.Store.Dir,
		"store_backend", cfg.Store.Backend,
		"ledger_backend", cfg.Ledger.Backend)
	return h, nil
}

func (h *Hub) openLogger(l *logging.Logger) error {
	if l != nil {
		h.logger = l
		return nil
	}
	lc := h.cfg.Logging
	if !lc.Enabled {
		h.logger = logging.NopLogger()
		return nil
	}
	logger, err := logging.NewLoggerWithRotation(h.cfg.Store.Dir, lc.Level, logging.RotationConfig{
		MaxSizeMB:  lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		Compress:   lc.Compress,
	})
	if err != nil {
		return fmt.Errorf("coordination: open log: %w", err)
	}
	h.logger = logger
	h.closers = append(h.closers, logger)
	return nil
}

func (h *Hub) openStore(watch bool) error {
	sc := h.cfg.Store
	switch sc.Backend {
	case "sqlite":
		db, err := store.OpenSQLite(sc.Resolve(sc.SQLitePath), sc.SQLitePoolSize, h.logger)
		if err != nil {
			return fmt.Errorf("coordination: open store: %w", err)
		}
		h.cache = store.NewCache(db)
	default:
		fs, err := store.NewFileStore(sc.Dir)
		if err != nil {
			return fmt.Errorf("coordination: open store: %w", err)
		}
		h.cache = store.NewCache(fs)
		if watch {
			w, err := store.NewWatcher(fs, h.cache, h.logger, nil)
			if err != nil {
				return fmt.Errorf("coordination: watch store: %w", err)
			}
			w.Start()
			h.watcher = w
		}
	}
	h.closers = append(h.closers, h.cache)
	return nil
}

// ledgerPath resolves the ledger location. A sqlite ledger configured with
// the default .jsonl name gets a .db file instead.
func (h *Hub) ledgerPath() string {
	p := h.cfg.Store.Resolve(h.cfg.Ledger.Path)
	if h.cfg.Ledger.Backend == "sqlite" && strings.HasSuffix(p, ".jsonl") {
		p = strings.TrimSuffix(p, ".jsonl") + ".db"
	}
	return p
}

func (h *Hub) openLedger() error {
	opts := ledger.Options{Chain: h.cfg.Ledger.Chain, Clock: h.clock, Logger: h.logger}
	var (
		l   ledger.Ledger
		err error
	)
	switch h.cfg.Ledger.Backend {
	case "sqlite":
		l, err = ledger.OpenSQLite(h.ledgerPath(), h.cfg.Store.SQLitePoolSize, opts)
	default:
		l, err = ledger.OpenFile(h.ledgerPath(), opts)
	}
	if err != nil {
		return fmt.Errorf("coordination: open ledger: %w", err)
	}
	h.ledger = l
	h.closers = append(h.closers, l)
	return nil
}

func (h *Hub) buildManagers(executor verify.Executor) error {
	cfg := h.cfg
	queues, err := hook.NewManager(hook.Config{Store: h.cache, Ledger: h.ledger, Locks: h.locks},
		hook.WithBus(h.bus),
		hook.WithLogger(h.logger),
		hook.WithClock(h.clock),
		hook.WithDefaultMaxRetries(cfg.Queue.DefaultMaxRetries))
	if err != nil {
		return err
	}
	h.queues = queues

	engineOpts := []molecule.Option{
		molecule.WithBus(h.bus),
		molecule.WithLogger(h.logger),
		molecule.WithClock(h.clock),
		molecule.WithAutoComplete(cfg.Workflow.AutoComplete),
		molecule.WithFailOnStepFailure(cfg.Workflow.FailOnStepFailure),
	}
	if cfg.Workflow.AutoDispatch {
		engineOpts = append(engineOpts, molecule.WithDispatcher(queues))
	}
	engine, err := molecule.NewEngine(molecule.Config{Store: h.cache, Ledger: h.ledger, Locks: h.locks}, engineOpts...)
	if err != nil {
		return err
	}
	h.engine = engine

	if executor == nil {
		executor = NewSandbox(cfg.Gate, h.logger)
	}
	gates, err := gate.NewManager(gate.Config{Store: h.cache, Ledger: h.ledger, Locks: h.locks},
		gate.WithBus(h.bus),
		gate.WithLogger(h.logger),
		gate.WithClock(h.clock),
		gate.WithExecutor(executor),
		gate.WithEvalWorkers(cfg.Gate.EvalWorkers),
		gate.WithEvalQueueSize(cfg.Gate.EvalQueueSize))
	if err != nil {
		return err
	}
	h.gates = gates
	return nil
}

// NewSandbox builds the verification sandbox described by gc.
func NewSandbox(gc config.GateConfig, logger *logging.Logger) *verify.Sandbox {
	return verify.NewSandbox(
		verify.WithValidator(verify.NewValidator(gc.ExtraAllowedCommands...)),
		verify.WithTimeout(gc.CommandTimeout()),
		verify.WithMaxOutput(gc.MaxOutputBytes),
		verify.WithWorkDir(gc.WorkDir),
		verify.WithLogger(logger))
}

// Config returns the configuration the Hub was opened with.
func (h *Hub) Config() *config.Config { return h.cfg }

// Logger returns the shared logger.
func (h *Hub) Logger() *logging.Logger { return h.logger }

// Bus returns the event bus every manager publishes on.
func (h *Hub) Bus() *event.Bus { return h.bus }

// Store returns the cached record store.
func (h *Hub) Store() *store.Cache { return h.cache }

// Ledger returns the audit ledger.
func (h *Hub) Ledger() ledger.Ledger { return h.ledger }

// Queues returns the work-queue manager.
func (h *Hub) Queues() *hook.Manager { return h.queues }

// Engine returns the workflow engine.
func (h *Hub) Engine() *molecule.Engine { return h.engine }

// Gates returns the gate manager.
func (h *Hub) Gates() *gate.Manager { return h.gates }

// Close waits for running gate evaluations, then stops the wiring and the
// watcher and closes the ledger, store and log. It is idempotent.
func (h *Hub) Close() error {
	h.closeOnce.Do(func() {
		var errs []error
		// Evaluations finishing here still complete their gate steps.
		if h.gates != nil {
			errs = append(errs, h.gates.Close())
		}
		if h.bus != nil {
			for _, id := range h.subscriptions {
				h.bus.Unsubscribe(id)
			}
		}
		if h.watcher != nil {
			errs = append(errs, h.watcher.Stop())
		}
		for i := len(h.closers) - 1; i >= 0; i-- {
			errs = append(errs, h.closers[i].Close())
		}
		h.closeErr = errors.Join(errs...)
	})
	return h.closeErr
}

// handlerContext is the context bus handlers make follow-up calls in. The
// publisher's context is not carried on events.
func handlerContext() context.Context { return context.Background() }
