package orchestration

import (
	"context"
	"fmt"

	"github.com/nimafallahian/go-indexflow/internal/async"
	"github.com/nimafallahian/go-indexflow/internal/domain"
)

// sequenceBuilder builds one ordered chain of steps at a time. Every step
// runs in its own goroutine and starts only once the previous step's signal
// is complete.
type sequenceBuilder struct {
	ctx      context.Context
	executor *workExecutor
	ec       *executionContext

	// seq identifies the sequence being built; root is the signal it was
	// started from.
	seq  uint64
	root *async.Signal
	tail *async.Signal
	errs *contextualErrorHandler
}

func newSequenceBuilder(ctx context.Context, executor *workExecutor, ec *executionContext) *sequenceBuilder {
	return &sequenceBuilder{ctx: ctx, executor: executor, ec: ec}
}

// init starts a new sequence rooted at previous. The outcome of previous is
// ignored: a failed sequence does not prevent the next one from running.
func (b *sequenceBuilder) init(previous *async.Signal, errs *contextualErrorHandler) {
	b.seq++
	b.root = previous
	b.tail = previous
	b.errs = errs
}

// hasSteps reports whether a step was appended since init.
func (b *sequenceBuilder) hasSteps() bool {
	return b.tail != b.root
}

// addSingleExecution appends a step executing item.work on its own. The work
// is skipped when an earlier step of the sequence failed.
func (b *sequenceBuilder) addSingleExecution(item workItem) {
	prev, errs, ec := b.tail, b.errs, b.ec
	next := async.NewFuture[struct{}]()
	go func() {
		defer next.Complete(struct{}{}, nil)
		<-prev.Done()

		if errs.hasFailed() {
			errs.markAsSkipped(item.work)
			item.target.Complete(domain.ItemResult{Work: item.work}, fmt.Errorf("%s: %w", item.work, domain.ErrSkipped))
			return
		}

		f := b.executor.submit(b.ctx, ec, item.work)
		<-f.Done()
		res, err := f.Result()
		if err != nil {
			errs.markAsFailed(item.work, err)
		}
		item.target.Complete(res, err)
	}()
	b.tail = next
}

// addBulkExecution appends a step sending the bulk that pending resolves to.
// The step waits for both the previous step and pending. The returned
// future resolves with the bulk result. A failing bulk does not fail the
// sequence by itself; its items are attributed through result extraction.
func (b *sequenceBuilder) addBulkExecution(pending *async.Future[domain.Bulk]) *async.Future[domain.BulkResult] {
	prev, ec := b.tail, b.ec
	result := async.NewFuture[domain.BulkResult]()
	next := async.NewFuture[struct{}]()
	go func() {
		defer next.Complete(struct{}{}, nil)
		<-prev.Done()
		<-pending.Done()

		bulk, err := pending.Result()
		if err != nil {
			result.Complete(domain.BulkResult{Bulk: bulk, Err: err}, err)
			return
		}
		f := b.executor.submitBulk(b.ctx, ec, bulk)
		<-f.Done()
		result.Complete(f.Result())
	}()
	b.tail = next
	return result
}

// startResultExtraction returns an extraction appending one step per
// registered item to the current sequence.
func (b *sequenceBuilder) startResultExtraction(bulkResult *async.Future[domain.BulkResult]) *bulkResultExtraction {
	return &bulkResultExtraction{builder: b, result: bulkResult}
}

// build closes the sequence. The returned signal completes after every step
// ran, the failures were reported and the changeset was resolved.
func (b *sequenceBuilder) build(cs *changeset) *async.Signal {
	prev, errs, ctx := b.tail, b.errs, b.ctx
	done := async.NewFuture[struct{}]()
	go func() {
		defer done.Complete(struct{}{}, nil)
		<-prev.Done()
		cs.complete(errs.handle(ctx))
	}()
	b.root = nil
	b.tail = nil
	b.errs = nil
	return done
}

// bulkResultExtraction reports individual outcomes out of a bulk result.
type bulkResultExtraction struct {
	builder *sequenceBuilder
	result  *async.Future[domain.BulkResult]
}

// add registers item as the work at position index of the bulk. Its target
// resolves as soon as the bulk result is known; the sequence step completes
// once both the target and the previous step are done.
func (x *bulkResultExtraction) add(item workItem, index int) {
	b := x.builder
	prev, errs, result := b.tail, b.errs, x.result

	go func() {
		<-result.Done()
		bulkRes, _ := result.Result()
		res, err := bulkRes.Item(index)
		if err != nil && len(bulkRes.Bulk.Works) == 0 {
			// The bulk never materialized.
			res, err = domain.ItemResult{Work: item.work}, fmt.Errorf("%s: %w", item.work, bulkRes.Err)
		}
		item.target.Complete(res, err)
	}()

	next := async.NewFuture[struct{}]()
	go func() {
		defer next.Complete(struct{}{}, nil)
		<-prev.Done()
		<-item.target.Done()
		if _, err := item.target.Result(); err != nil {
			errs.markAsFailed(item.work, err)
		}
	}()
	b.tail = next
}
