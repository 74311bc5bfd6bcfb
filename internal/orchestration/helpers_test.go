package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nimafallahian/go-indexflow/internal/domain"
)

// fakeBackend records every request in the order it started.
type fakeBackend struct {
	mu        sync.Mutex
	requests  []string
	started   []string
	refreshed [][]string
	// events logs "start:<id>" and "end:<id>" for every document sent.
	events []string

	// status overrides the per-document status; zero falls back to the
	// action default.
	status    func(w domain.Work) int
	bulkErr   error
	singleErr error
	delay     time.Duration
	// gate, when set, blocks every request until it is closed.
	gate chan struct{}
	// hold blocks requests carrying one of its documents until the
	// document's channel is closed.
	hold map[string]chan struct{}
}

func (b *fakeBackend) Execute(ctx context.Context, w domain.Work) (domain.ItemResponse, error) {
	b.record("single:"+w.ID, w.ID)
	b.wait(w.ID)
	defer b.finish(w.ID)
	if b.singleErr != nil {
		return domain.ItemResponse{}, b.singleErr
	}
	return b.respond(w), nil
}

func (b *fakeBackend) ExecuteBulk(ctx context.Context, bulk domain.Bulk) ([]domain.ItemResponse, error) {
	ids := make([]string, bulk.Len())
	for i, w := range bulk.Works {
		ids[i] = w.ID
	}
	b.record("bulk:"+strings.Join(ids, ","), ids...)
	b.wait(ids...)
	defer b.finish(ids...)
	if b.bulkErr != nil {
		return nil, b.bulkErr
	}
	out := make([]domain.ItemResponse, bulk.Len())
	for i, w := range bulk.Works {
		out[i] = b.respond(w)
	}
	return out, nil
}

func (b *fakeBackend) Refresh(ctx context.Context, indexes []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshed = append(b.refreshed, indexes)
	return nil
}

func (b *fakeBackend) record(request string, ids ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, request)
	b.started = append(b.started, ids...)
	for _, id := range ids {
		b.events = append(b.events, "start:"+id)
	}
}

func (b *fakeBackend) finish(ids ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		b.events = append(b.events, "end:"+id)
	}
}

func (b *fakeBackend) wait(ids ...string) {
	if b.gate != nil {
		<-b.gate
	}
	for _, id := range ids {
		if ch, ok := b.hold[id]; ok {
			<-ch
		}
	}
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
}

func (b *fakeBackend) respond(w domain.Work) domain.ItemResponse {
	status := 0
	if b.status != nil {
		status = b.status(w)
	}
	if status == 0 {
		status = 201
		if w.Action != domain.ActionIndex && w.Action != domain.ActionCreate {
			status = 200
		}
	}
	return domain.ItemResponse{Index: w.Index, ID: w.ID, Status: status}
}

func (b *fakeBackend) Requests() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.requests...)
}

func (b *fakeBackend) Events() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

func (b *fakeBackend) Started() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.started...)
}

type countingMonitor struct {
	mu    sync.Mutex
	total int64
	calls int
}

func (m *countingMonitor) DocumentsAdded(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total += count
	m.calls++
}

func (m *countingMonitor) Total() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

func (m *countingMonitor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// monitorFunc is a monitor whose dynamic type cannot be a map key.
type monitorFunc func(count int64)

func (f monitorFunc) DocumentsAdded(count int64) { f(count) }

func indexWork(id string) domain.Work {
	return domain.NewWork(domain.ActionIndex, "books", id, json.RawMessage(fmt.Sprintf(`{"id":%q}`, id)))
}

func purgeWork(id string) domain.Work {
	return domain.NewWork(domain.ActionPurge, "books", id, nil)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testWindow wires a flushable orchestrator over backend without the
// background scheduling.
func testWindow(backend *fakeBackend, strategy Strategy, minSize, maxSize int) flushableOrchestrator {
	deps := orchestratorDeps{
		ctx:      context.Background(),
		executor: &workExecutor{backend: backend, logger: discardLogger()},
		ec:       newRefreshingContext(backend),
		factory:  domain.NewBulk,
		minSize:  minSize,
		maxSize:  maxSize,
		logger:   discardLogger(),
	}
	if strategy == StrategyParallel {
		return newParallelOrchestrator(deps)
	}
	return newSerialOrchestrator(deps)
}
