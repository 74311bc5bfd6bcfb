package orchestration

// changesetAggregator routes the works of one changeset, in order, to the
// bulker or straight to the sequence builder.
type changesetAggregator struct {
	bulker  *bulker
	builder *sequenceBuilder

	// globalOrder is set when all changesets share one chain. A bulk started
	// by an earlier changeset must then be sent before any non-bulkable work,
	// or works of later changesets could join it and overtake that work.
	globalOrder bool
}

func (a *changesetAggregator) aggregate(cs *changeset) {
	for _, item := range cs.items {
		if item.work.Bulkable {
			a.bulker.add(item)
			continue
		}
		// Works that joined the bulk in progress must be sent before the
		// non-bulkable one, so the bulk cannot wait any longer.
		joined := a.bulker.flushPending()
		if joined || (a.globalOrder && a.bulker.inProgress()) {
			a.bulker.materialize()
		}
		a.builder.addSingleExecution(item)
	}
	a.bulker.flushPending()
}
