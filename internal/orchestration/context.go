package orchestration

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"

	"github.com/nimafallahian/go-indexflow/internal/domain"
)

// refresher makes writes to indexes visible. ports.Backend satisfies it.
type refresher interface {
	Refresh(ctx context.Context, indexes []string) error
}

// executionContext holds the state of one flush window: the indexes written
// to and the monitor increments not yet delivered.
type executionContext struct {
	// refresher is nil for buffering-only contexts.
	refresher refresher

	mu       sync.Mutex
	dirty    map[string]struct{}
	monitors monitorCounts
}

type monitorCount struct {
	monitor domain.Monitor
	count   int64
}

// monitorCounts sums increments per monitor. A monitor that cannot be a map
// key keeps one entry per increment.
type monitorCounts struct {
	keyed   map[domain.Monitor]int64
	unkeyed []monitorCount
}

func (c *monitorCounts) add(m domain.Monitor, count int64) {
	if !reflect.ValueOf(m).Comparable() {
		c.unkeyed = append(c.unkeyed, monitorCount{monitor: m, count: count})
		return
	}
	if c.keyed == nil {
		c.keyed = make(map[domain.Monitor]int64)
	}
	c.keyed[m] += count
}

func (c *monitorCounts) each(fn func(m domain.Monitor, count int64)) {
	for m, count := range c.keyed {
		fn(m, count)
	}
	for _, mc := range c.unkeyed {
		fn(mc.monitor, mc.count)
	}
}

// newRefreshingContext tracks written indexes and refreshes them on flush.
func newRefreshingContext(r refresher) *executionContext {
	return &executionContext{
		refresher: r,
		dirty:     make(map[string]struct{}),
	}
}

// newBufferingContext only buffers monitor increments.
func newBufferingContext() *executionContext {
	return newRefreshingContext(nil)
}

func (c *executionContext) markDirty(index string) {
	if c.refresher == nil || index == "" {
		return
	}
	c.mu.Lock()
	c.dirty[index] = struct{}{}
	c.mu.Unlock()
}

func (c *executionContext) bufferMonitor(m domain.Monitor, count int64) {
	if m == nil || count == 0 {
		return
	}
	c.mu.Lock()
	c.monitors.add(m, count)
	c.mu.Unlock()
}

// flush refreshes dirty indexes, then delivers buffered monitor counts. Both
// sets are cleared even when delivery fails.
func (c *executionContext) flush(ctx context.Context) error {
	c.mu.Lock()
	dirty := slices.Sorted(maps.Keys(c.dirty))
	monitors := c.monitors
	c.dirty = make(map[string]struct{})
	c.monitors = monitorCounts{}
	c.mu.Unlock()

	var errs []error
	if len(dirty) > 0 && c.refresher != nil {
		if err := c.refresher.Refresh(ctx, dirty); err != nil {
			errs = append(errs, fmt.Errorf("refresh %v: %w", dirty, err))
		}
	}
	monitors.each(func(m domain.Monitor, count int64) {
		if err := notifyMonitor(m, count); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

func notifyMonitor(m domain.Monitor, count int64) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("monitor panic: %v", p)
		}
	}()
	m.DocumentsAdded(count)
	return nil
}
