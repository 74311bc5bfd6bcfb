package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nimafallahian/go-indexflow/internal/async"
	"github.com/nimafallahian/go-indexflow/internal/domain"
	"github.com/nimafallahian/go-indexflow/internal/metrics"
	"github.com/nimafallahian/go-indexflow/internal/ports"
)

// workExecutor submits single works and bulks to the backend and assesses
// their responses.
type workExecutor struct {
	backend ports.Backend
	logger  *slog.Logger
}

func (e *workExecutor) submit(ctx context.Context, ec *executionContext, w domain.Work) *async.Future[domain.ItemResult] {
	f := async.NewFuture[domain.ItemResult]()
	go func() {
		f.Complete(e.execute(ctx, ec, w))
	}()
	return f
}

func (e *workExecutor) execute(ctx context.Context, ec *executionContext, w domain.Work) (domain.ItemResult, error) {
	start := time.Now()
	resp, err := e.backend.Execute(ctx, w)
	metrics.RequestLatency.WithLabelValues("single").Observe(time.Since(start).Seconds())
	metrics.Requests.WithLabelValues("single", metrics.Outcome(err)).Inc()

	res := domain.ItemResult{Work: w, Response: resp}
	if err != nil {
		metrics.Works.WithLabelValues(string(w.Action), "failure").Inc()
		return res, fmt.Errorf("%s: %w", w, err)
	}
	if err := w.Assessor()(resp); err != nil {
		metrics.Works.WithLabelValues(string(w.Action), "failure").Inc()
		return res, err
	}
	metrics.Works.WithLabelValues(string(w.Action), "success").Inc()
	e.reportSuccesses(ec, []domain.ItemResult{res})
	return res, nil
}

// submitBulk resolves with the assessed bulk result; the future's error is
// the result's aggregate error.
func (e *workExecutor) submitBulk(ctx context.Context, ec *executionContext, bulk domain.Bulk) *async.Future[domain.BulkResult] {
	f := async.NewFuture[domain.BulkResult]()
	go func() {
		res := e.executeBulk(ctx, ec, bulk)
		f.Complete(res, res.Err)
	}()
	return f
}

func (e *workExecutor) executeBulk(ctx context.Context, ec *executionContext, bulk domain.Bulk) domain.BulkResult {
	res := domain.BulkResult{Bulk: bulk}

	start := time.Now()
	responses, err := e.backend.ExecuteBulk(ctx, bulk)
	metrics.RequestLatency.WithLabelValues("bulk").Observe(time.Since(start).Seconds())
	metrics.Requests.WithLabelValues("bulk", metrics.Outcome(err)).Inc()

	if err == nil && len(responses) != bulk.Len() {
		err = fmt.Errorf("bulk response has %d items, expected %d", len(responses), bulk.Len())
	}
	if err != nil {
		for _, w := range bulk.Works {
			metrics.Works.WithLabelValues(string(w.Action), "failure").Inc()
		}
		e.logger.Warn("bulk request failed", "size", bulk.Len(), "error", err)
		res.Err = fmt.Errorf("bulk of %d works: %w", bulk.Len(), err)
		return res
	}

	res.Responses = responses
	res.Outcomes = make([]error, len(responses))
	failure := &domain.BulkFailure{}
	for i, w := range bulk.Works {
		outcome := w.Assessor()(responses[i])
		res.Outcomes[i] = outcome
		metrics.Works.WithLabelValues(string(w.Action), metrics.Outcome(outcome)).Inc()
		if outcome != nil {
			failure.Failures = append(failure.Failures, domain.WorkFailure{Work: w, Err: outcome})
			continue
		}
		failure.Successes = append(failure.Successes, domain.ItemResult{Work: w, Response: responses[i]})
	}

	// Successful items count even when others failed.
	e.reportSuccesses(ec, failure.Successes)

	if len(failure.Failures) > 0 {
		e.logger.Warn("bulk request partially failed",
			"size", bulk.Len(),
			"failed", len(failure.Failures),
			"first_error", failure.Failures[0].Err,
		)
		res.Err = failure
	}
	return res
}

// reportSuccesses marks indexes dirty and buffers monitor increments, with
// one buffer call per distinct monitor.
func (e *workExecutor) reportSuccesses(ec *executionContext, results []domain.ItemResult) {
	var counts monitorCounts
	for _, r := range results {
		ec.markDirty(r.Work.Index)
		if r.Work.Monitor != nil && r.Work.AddsDocument() {
			counts.add(r.Work.Monitor, 1)
		}
	}
	counts.each(ec.bufferMonitor)
}
