package orchestration

import (
	"context"
	"log/slog"

	"github.com/nimafallahian/go-indexflow/internal/async"
	"github.com/nimafallahian/go-indexflow/internal/ports"
)

// flushableOrchestrator accepts the changesets of one window and executes
// them on flush. It is driven by a single goroutine.
type flushableOrchestrator interface {
	submit(cs *changeset)
	flush(ctx context.Context) error
	reset()
}

type orchestratorDeps struct {
	ctx      context.Context
	executor *workExecutor
	ec       *executionContext
	factory  BulkFactory
	minSize  int
	maxSize  int
	handlers []ports.ErrorHandler
	logger   *slog.Logger
}

type windowState struct {
	deps       orchestratorDeps
	builder    *sequenceBuilder
	bulker     *bulker
	aggregator *changesetAggregator
}

func newWindowState(d orchestratorDeps) windowState {
	builder := newSequenceBuilder(d.ctx, d.executor, d.ec)
	bulker := newBulker(builder, d.factory, d.minSize, d.maxSize)
	return windowState{
		deps:       d,
		builder:    builder,
		bulker:     bulker,
		aggregator: &changesetAggregator{bulker: bulker, builder: builder},
	}
}

func (w windowState) newErrorHandler() *contextualErrorHandler {
	return newContextualErrorHandler(w.deps.handlers, w.deps.logger)
}

// serialOrchestrator chains every changeset onto the previous one so works
// execute in global submission order.
type serialOrchestrator struct {
	windowState
	tail *async.Signal
}

func newSerialOrchestrator(d orchestratorDeps) *serialOrchestrator {
	o := &serialOrchestrator{windowState: newWindowState(d), tail: async.DoneSignal()}
	o.aggregator.globalOrder = true
	return o
}

func (o *serialOrchestrator) submit(cs *changeset) {
	o.builder.init(o.tail, o.newErrorHandler())
	o.aggregator.aggregate(cs)
	o.tail = o.builder.build(cs)
}

func (o *serialOrchestrator) flush(ctx context.Context) error {
	o.bulker.materialize()
	tail := o.tail
	o.tail = async.DoneSignal()
	if err := async.WaitAll(ctx, tail); err != nil {
		return err
	}
	return o.deps.ec.flush(ctx)
}

func (o *serialOrchestrator) reset() {
	o.bulker.reset()
}

// parallelOrchestrator roots every changeset at the window start, so
// changesets run concurrently while works inside a changeset stay ordered.
type parallelOrchestrator struct {
	windowState
	sequences []*async.Signal
}

func newParallelOrchestrator(d orchestratorDeps) *parallelOrchestrator {
	return &parallelOrchestrator{windowState: newWindowState(d)}
}

func (o *parallelOrchestrator) submit(cs *changeset) {
	o.builder.init(async.DoneSignal(), o.newErrorHandler())
	o.aggregator.aggregate(cs)
	o.sequences = append(o.sequences, o.builder.build(cs))
}

func (o *parallelOrchestrator) flush(ctx context.Context) error {
	o.bulker.materialize()
	sequences := o.sequences
	o.sequences = nil
	if err := async.WaitAll(ctx, sequences...); err != nil {
		return err
	}
	return o.deps.ec.flush(ctx)
}

func (o *parallelOrchestrator) reset() {
	o.bulker.reset()
}
