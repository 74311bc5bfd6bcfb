package orchestration

import (
	"github.com/nimafallahian/go-indexflow/internal/async"
	"github.com/nimafallahian/go-indexflow/internal/domain"
	"github.com/nimafallahian/go-indexflow/internal/metrics"
)

// workItem is a work together with the future its outcome is reported to.
type workItem struct {
	work   domain.Work
	target *async.Future[domain.ItemResult]
}

type changeset struct {
	items  []workItem
	future *async.Future[[]domain.ItemResult]
}

func newChangeset(works []domain.Work) *changeset {
	cs := &changeset{
		items:  make([]workItem, len(works)),
		future: async.NewFuture[[]domain.ItemResult](),
	}
	for i, w := range works {
		cs.items[i] = workItem{work: w, target: async.NewFuture[domain.ItemResult]()}
	}
	return cs
}

// complete resolves the changeset future once every item target is
// resolved. A non-nil report fails the changeset.
func (cs *changeset) complete(report *domain.FailureReport) {
	results := make([]domain.ItemResult, len(cs.items))
	for i, item := range cs.items {
		select {
		case <-item.target.Done():
			results[i], _ = item.target.Result()
		default:
			results[i] = domain.ItemResult{Work: item.work}
		}
	}
	if report != nil {
		metrics.Changesets.WithLabelValues("failure").Inc()
		cs.future.Complete(results, report)
		return
	}
	metrics.Changesets.WithLabelValues("success").Inc()
	cs.future.Complete(results, nil)
}

// fail resolves every pending target and the changeset itself with err.
func (cs *changeset) fail(err error) {
	for _, item := range cs.items {
		item.target.Complete(domain.ItemResult{Work: item.work}, err)
	}
	cs.future.Complete(nil, err)
}
