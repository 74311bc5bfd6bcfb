package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimafallahian/go-indexflow/internal/async"
	"github.com/nimafallahian/go-indexflow/internal/domain"
	"github.com/nimafallahian/go-indexflow/internal/metrics"
	"github.com/nimafallahian/go-indexflow/internal/ports"
)

// Strategy selects how changesets of one window relate to each other.
type Strategy string

const (
	// StrategySerial executes changesets in submission order.
	StrategySerial Strategy = "serial"
	// StrategyParallel executes changesets concurrently.
	StrategyParallel Strategy = "parallel"
)

// Config holds the batching settings.
type Config struct {
	Strategy              Strategy
	MinBulkSize           int
	MaxBulkSize           int
	Delay                 time.Duration
	MaxChangesetsPerBatch int
	RefreshAfterWrite     bool
}

// DefaultConfig returns the configuration for regular, ordered traffic.
func DefaultConfig() Config {
	return Config{
		Strategy:              StrategySerial,
		MinBulkSize:           2,
		MaxBulkSize:           250,
		Delay:                 100 * time.Millisecond,
		MaxChangesetsPerBatch: 1000,
	}
}

// StreamingConfig returns the configuration for mass loading, where every
// bulkable work is worth bulking.
func StreamingConfig() Config {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyParallel
	cfg.MinBulkSize = 1
	cfg.MaxChangesetsPerBatch = 10000
	return cfg
}

// Validate checks the settings are consistent.
func (c Config) Validate() error {
	switch c.Strategy {
	case StrategySerial, StrategyParallel:
	default:
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}
	if c.MinBulkSize < 1 {
		return fmt.Errorf("min bulk size must be at least 1, got %d", c.MinBulkSize)
	}
	if c.MaxBulkSize < c.MinBulkSize {
		return fmt.Errorf("max bulk size %d is below min bulk size %d", c.MaxBulkSize, c.MinBulkSize)
	}
	if c.MaxChangesetsPerBatch < 1 {
		return fmt.Errorf("max changesets per batch must be at least 1, got %d", c.MaxChangesetsPerBatch)
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay must not be negative, got %s", c.Delay)
	}
	return nil
}

type cycleState int32

const (
	stateIdle cycleState = iota
	stateScheduleRequested
	stateScheduled
	stateProcessing
)

func (s cycleState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateScheduleRequested:
		return "schedule_requested"
	case stateScheduled:
		return "scheduled"
	case stateProcessing:
		return "processing"
	}
	return fmt.Sprintf("cycleState(%d)", int32(s))
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithErrorHandlers sets the handlers receiving failure reports.
func WithErrorHandlers(handlers ...ports.ErrorHandler) Option {
	return func(o *Orchestrator) { o.handlers = handlers }
}

// WithBulkFactory overrides how bulks are built from works.
func WithBulkFactory(factory BulkFactory) Option {
	return func(o *Orchestrator) { o.factory = factory }
}

// Orchestrator is the entry point for changesets. Submissions are queued and
// processed by background cycles, one at a time; submissions arriving close
// together share a cycle.
type Orchestrator struct {
	cfg      Config
	logger   *slog.Logger
	handlers []ports.ErrorHandler
	factory  BulkFactory
	ctx      context.Context
	delegate flushableOrchestrator

	state   atomic.Int32
	barrier *async.Barrier
	cycles  sync.WaitGroup

	mu     sync.Mutex
	queue  []*changeset
	closed bool
}

// New returns an orchestrator sending works to backend.
func New(backend ports.Backend, cfg Config, opts ...Option) (*Orchestrator, error) {
	if backend == nil {
		return nil, errors.New("backend must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator config: %w", err)
	}

	o := &Orchestrator{
		cfg:     cfg,
		factory: domain.NewBulk,
		ctx:     context.Background(),
		barrier: async.NewBarrier(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	ec := newBufferingContext()
	if cfg.RefreshAfterWrite {
		ec = newRefreshingContext(backend)
	}
	deps := orchestratorDeps{
		ctx:      o.ctx,
		executor: &workExecutor{backend: backend, logger: o.logger},
		ec:       ec,
		factory:  o.factory,
		minSize:  cfg.MinBulkSize,
		maxSize:  cfg.MaxBulkSize,
		handlers: o.handlers,
		logger:   o.logger,
	}
	if cfg.Strategy == StrategyParallel {
		o.delegate = newParallelOrchestrator(deps)
	} else {
		o.delegate = newSerialOrchestrator(deps)
	}
	return o, nil
}

// Submit queues a changeset. The returned future resolves with one result
// per work, in order, or fails with a *domain.FailureReport when any work
// failed. Submit never blocks.
func (o *Orchestrator) Submit(works []domain.Work) *async.Future[[]domain.ItemResult] {
	cs := newChangeset(works)
	if len(works) == 0 {
		cs.future.Complete([]domain.ItemResult{}, nil)
		return cs.future
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		cs.fail(ErrOrchestratorClosed)
		return cs.future
	}
	o.queue = append(o.queue, cs)
	o.scheduleLocked()
	return cs.future
}

// SubmitOne queues a changeset made of a single work and returns the future
// of that work's result.
func (o *Orchestrator) SubmitOne(w domain.Work) *async.Future[domain.ItemResult] {
	cs := newChangeset([]domain.Work{w})

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		cs.fail(ErrOrchestratorClosed)
		return cs.items[0].target
	}
	o.queue = append(o.queue, cs)
	o.scheduleLocked()
	return cs.items[0].target
}

// scheduleLocked requests a cycle unless one is already pending. Each
// scheduled cycle holds one barrier participant until it finishes.
func (o *Orchestrator) scheduleLocked() {
	if !o.state.CompareAndSwap(int32(stateIdle), int32(stateScheduleRequested)) {
		return
	}
	o.barrier.Register()
	o.cycles.Add(1)
	time.AfterFunc(o.cfg.Delay, o.runCycle)
	o.state.Store(int32(stateScheduled))
}

func (o *Orchestrator) runCycle() {
	defer o.cycles.Done()
	// The timer may fire before scheduleLocked stored stateScheduled; the
	// mutex orders both.
	o.mu.Lock()
	o.state.Store(int32(stateProcessing))
	o.mu.Unlock()

	metrics.Cycles.Inc()
	o.logger.Debug("batching cycle started")
	o.process()

	o.mu.Lock()
	o.state.Store(int32(stateIdle))
	if len(o.queue) > 0 {
		// Late arrivals: register the next cycle before this one arrives so
		// that waiters keep waiting.
		o.scheduleLocked()
	}
	o.mu.Unlock()

	o.logger.Debug("batching cycle finished")
	o.barrier.Arrive()
}

// process drains the queue window by window. Failures are reported and
// never stop the remaining changesets from being processed.
func (o *Orchestrator) process() {
	for {
		window := o.drain()
		if len(window) == 0 {
			return
		}
		for _, cs := range window {
			if err := o.submitSafely(cs); err != nil {
				cs.fail(err)
				o.reportError(fmt.Errorf("submit changeset: %w", err))
			}
		}
		if err := o.flushSafely(); err != nil {
			o.reportError(fmt.Errorf("flush: %w", err))
		}
	}
}

func (o *Orchestrator) drain() []*changeset {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := min(len(o.queue), o.cfg.MaxChangesetsPerBatch)
	window := o.queue[:n:n]
	o.queue = o.queue[n:]
	if len(o.queue) == 0 {
		o.queue = nil
	}
	return window
}

func (o *Orchestrator) submitSafely(cs *changeset) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
			o.delegate.reset()
		}
	}()
	o.delegate.submit(cs)
	return nil
}

func (o *Orchestrator) flushSafely() (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
			o.delegate.reset()
		}
	}()
	return o.delegate.flush(o.ctx)
}

func (o *Orchestrator) reportError(err error) {
	o.logger.Error("batching cycle failure", "error", err)
	notifyHandlers(o.ctx, o.handlers, o.logger, &domain.FailureReport{Cause: err})
}

// AwaitCompletion blocks until every changeset submitted before the call,
// and every cycle they triggered, has been processed. It does not report
// work failures; those surface through the changeset futures and the error
// handlers.
func (o *Orchestrator) AwaitCompletion(ctx context.Context) error {
	return o.barrier.AwaitIdle(ctx)
}

// Close rejects further submissions, waits for scheduled cycles to finish
// and releases every AwaitCompletion caller.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.cycles.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("close orchestrator: %w", ctx.Err())
	}
	o.barrier.Terminate()
	return err
}
