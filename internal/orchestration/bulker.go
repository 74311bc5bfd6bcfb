package orchestration

import (
	"github.com/nimafallahian/go-indexflow/internal/async"
	"github.com/nimafallahian/go-indexflow/internal/domain"
	"github.com/nimafallahian/go-indexflow/internal/metrics"
)

// BulkFactory turns an ordered list of bulkable works into one bulk request.
type BulkFactory func(works []domain.Work) domain.Bulk

// bulker accumulates bulkable works. Pending works either join the bulk in
// progress, which may span several sequences, or are sequenced one by one
// when too few accumulated to be worth a bulk.
type bulker struct {
	builder *sequenceBuilder
	factory BulkFactory
	minSize int
	maxSize int

	pending []workItem

	// Bulk in progress: the placeholder handed to the sequence that will
	// send it, the future of its result, and the works added so far.
	// owner is the sequence holding the bulk step.
	owner       uint64
	placeholder *async.Future[domain.Bulk]
	result      *async.Future[domain.BulkResult]
	works       []domain.Work
}

func newBulker(builder *sequenceBuilder, factory BulkFactory, minSize, maxSize int) *bulker {
	return &bulker{
		builder: builder,
		factory: factory,
		minSize: minSize,
		maxSize: maxSize,
	}
}

// add appends item to the pending works. Reaching the maximum bulk size
// flushes and materializes immediately.
func (k *bulker) add(item workItem) {
	k.pending = append(k.pending, item)
	if len(k.works)+len(k.pending) >= k.maxSize {
		k.flushPending()
		k.materialize()
	}
}

// flushPending hands pending works to the sequence builder. It reports
// true when they joined the bulk in progress, and false when nothing was
// pending or when they were too few to start a bulk and were sequenced as
// single executions instead.
func (k *bulker) flushPending() bool {
	if len(k.pending) == 0 {
		return false
	}
	pending := k.pending
	k.pending = nil

	// The bulk step of another sequence only waits for that sequence, so
	// works queued behind steps of the current one cannot join it.
	if k.placeholder != nil && k.owner != k.builder.seq && k.builder.hasSteps() {
		k.materialize()
	}

	if k.placeholder == nil && len(pending) < k.minSize {
		for _, item := range pending {
			k.builder.addSingleExecution(item)
		}
		return false
	}

	if k.placeholder == nil {
		k.owner = k.builder.seq
		k.placeholder = async.NewFuture[domain.Bulk]()
		k.result = k.builder.addBulkExecution(k.placeholder)
	}
	extraction := k.builder.startResultExtraction(k.result)
	for _, item := range pending {
		extraction.add(item, len(k.works))
		k.works = append(k.works, item.work)
	}
	return true
}

// inProgress reports whether a bulk was started and not materialized yet.
func (k *bulker) inProgress() bool {
	return k.placeholder != nil
}

// materialize builds the bulk in progress and releases the sequence step
// waiting for it. The next add starts a new bulk.
func (k *bulker) materialize() {
	if k.placeholder == nil {
		return
	}
	bulk := k.factory(k.works)
	placeholder := k.placeholder
	k.placeholder, k.result, k.works = nil, nil, nil

	metrics.BulkSize.Observe(float64(bulk.Len()))
	placeholder.Complete(bulk, nil)
}

// reset drops pending works and abandons the bulk in progress. Dropped
// works and works that already joined the abandoned bulk fail.
func (k *bulker) reset() {
	for _, item := range k.pending {
		item.target.Complete(domain.ItemResult{Work: item.work}, errBulkAbandoned)
	}
	k.pending = nil
	if k.placeholder != nil {
		k.placeholder.Complete(domain.Bulk{}, errBulkAbandoned)
	}
	k.placeholder, k.result, k.works = nil, nil, nil
}
