package meili

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/meilisearch/meilisearch-go"

	"github.com/nimafallahian/go-indexflow/internal/domain"
)

// PrimaryKey is the document attribute holding the work ID.
const PrimaryKey = "id"

const pollInterval = 50 * time.Millisecond

// Backend implements ports.Backend on top of Meilisearch. Every write is an
// asynchronous task; the backend waits for each task so results and refresh
// semantics match the other backends.
type Backend struct {
	client  meilisearch.ServiceManager
	timeout time.Duration
}

// NewClient connects to a Meilisearch instance.
func NewClient(host, apiKey string) meilisearch.ServiceManager {
	return meilisearch.New(host, meilisearch.WithAPIKey(apiKey))
}

// NewBackend constructs a new Backend. A zero timeout leaves task waits
// bound by their context only.
func NewBackend(client meilisearch.ServiceManager, timeout time.Duration) (*Backend, error) {
	if client == nil {
		return nil, fmt.Errorf("client must not be nil")
	}
	return &Backend{client: client, timeout: timeout}, nil
}

// Ping reports whether the instance is healthy.
func (b *Backend) Ping() error {
	if _, err := b.client.Health(); err != nil {
		return fmt.Errorf("meilisearch health: %w", err)
	}
	return nil
}

// Execute sends a single work as one task.
func (b *Backend) Execute(ctx context.Context, w domain.Work) (domain.ItemResponse, error) {
	responses, err := b.run(ctx, []domain.Work{w})
	if err != nil {
		return domain.ItemResponse{}, err
	}
	return responses[0], nil
}

// ExecuteBulk sends the bulk as consecutive runs of same-kind works, one
// task per run. A run that cannot be enqueued stops the bulk; its works and
// every later work are reported as unavailable.
func (b *Backend) ExecuteBulk(ctx context.Context, bulk domain.Bulk) ([]domain.ItemResponse, error) {
	if bulk.Len() == 0 {
		return nil, nil
	}
	for _, w := range bulk.Works {
		if !w.Action.Bulkable() {
			return nil, fmt.Errorf("%s cannot be bulked", w)
		}
	}
	return b.run(ctx, bulk.Works)
}

// Refresh is a no-op: writes are visible once their task succeeded, which
// Execute and ExecuteBulk already wait for.
func (b *Backend) Refresh(ctx context.Context, indexes []string) error {
	return nil
}

// taskKind groups actions sharing one Meilisearch task type.
type taskKind int

const (
	kindAdd taskKind = iota
	kindUpdate
	kindDelete
	kindDeleteByFilter
	kindDeleteAll
)

func kindOf(a domain.Action) taskKind {
	switch a {
	case domain.ActionUpdate:
		return kindUpdate
	case domain.ActionDelete:
		return kindDelete
	case domain.ActionDeleteByQuery:
		return kindDeleteByFilter
	case domain.ActionPurge:
		return kindDeleteAll
	}
	// Meilisearch has no create-only write.
	return kindAdd
}

// run is a maximal sequence of works on the same index and of the same kind.
type run struct {
	index string
	kind  taskKind
	from  int
	to    int
}

func splitRuns(works []domain.Work) []run {
	var runs []run
	for i, w := range works {
		k := kindOf(w.Action)
		if n := len(runs); n > 0 && runs[n-1].index == w.Index && runs[n-1].kind == k && batchable(k) {
			runs[n-1].to = i + 1
			continue
		}
		runs = append(runs, run{index: w.Index, kind: k, from: i, to: i + 1})
	}
	return runs
}

func batchable(k taskKind) bool {
	return k == kindAdd || k == kindUpdate
}

func (b *Backend) run(ctx context.Context, works []domain.Work) ([]domain.ItemResponse, error) {
	out := make([]domain.ItemResponse, len(works))
	type enqueued struct {
		run  run
		task *meilisearch.TaskInfo
	}
	var tasks []enqueued

	for _, r := range splitRuns(works) {
		task, err := b.enqueue(r, works[r.from:r.to])
		if err != nil {
			if len(tasks) == 0 {
				return nil, fmt.Errorf("enqueue %d works on %s: %w", len(works), r.index, err)
			}
			for i := r.from; i < len(works); i++ {
				out[i] = unavailable(works[i], err)
			}
			break
		}
		tasks = append(tasks, enqueued{run: r, task: task})
	}

	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	for _, t := range tasks {
		task, err := b.wait(ctx, t.run.index, t.task.TaskUID)
		if err != nil {
			return nil, fmt.Errorf("wait for task %d: %w", t.task.TaskUID, err)
		}
		for i := t.run.from; i < t.run.to; i++ {
			out[i] = response(works[i], task)
		}
	}
	return out, nil
}

func (b *Backend) enqueue(r run, works []domain.Work) (*meilisearch.TaskInfo, error) {
	idx := b.client.Index(r.index)
	switch r.kind {
	case kindAdd, kindUpdate:
		docs := make([]map[string]json.RawMessage, len(works))
		for i, w := range works {
			doc, err := document(w)
			if err != nil {
				return nil, err
			}
			docs[i] = doc
		}
		if r.kind == kindUpdate {
			return idx.UpdateDocuments(docs, nil)
		}
		return idx.AddDocuments(docs, nil)
	case kindDelete:
		return idx.DeleteDocument(works[0].ID, nil)
	case kindDeleteByFilter:
		var filter any
		if err := json.Unmarshal(works[0].Payload, &filter); err != nil {
			return nil, fmt.Errorf("decode filter of %s: %w", works[0], err)
		}
		return idx.DeleteDocumentsByFilter(filter, nil)
	case kindDeleteAll:
		return idx.DeleteAllDocuments(nil)
	}
	return nil, fmt.Errorf("unsupported task kind %d", r.kind)
}

// document decodes the work payload and sets its primary key.
func document(w domain.Work) (map[string]json.RawMessage, error) {
	doc := make(map[string]json.RawMessage)
	if len(w.Payload) > 0 {
		if err := json.Unmarshal(w.Payload, &doc); err != nil {
			return nil, fmt.Errorf("decode document of %s: %w", w, err)
		}
	}
	if _, ok := doc[PrimaryKey]; !ok {
		id, err := json.Marshal(w.ID)
		if err != nil {
			return nil, err
		}
		doc[PrimaryKey] = id
	}
	return doc, nil
}

func (b *Backend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.timeout)
}

// wait polls the task until it finished or ctx is done.
func (b *Backend) wait(ctx context.Context, index string, uid int64) (*meilisearch.Task, error) {
	type result struct {
		task *meilisearch.Task
		err  error
	}
	done := make(chan result, 1)
	go func() {
		task, err := b.client.Index(index).WaitForTask(uid, pollInterval)
		done <- result{task: task, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil && r.task == nil {
			return nil, errors.New("empty task")
		}
		return r.task, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func response(w domain.Work, task *meilisearch.Task) domain.ItemResponse {
	resp := domain.ItemResponse{Index: w.Index, ID: w.ID, Status: http.StatusOK}
	if task.Status == meilisearch.TaskStatusSucceeded {
		resp.Result = string(task.Type)
		return resp
	}
	resp.Status = statusOf(task.Error.Code)
	resp.ErrorType = task.Error.Code
	resp.ErrorReason = task.Error.Message
	if resp.ErrorReason == "" {
		resp.ErrorReason = fmt.Sprintf("task %d %s", task.UID, task.Status)
	}
	return resp
}

func unavailable(w domain.Work, err error) domain.ItemResponse {
	return domain.ItemResponse{
		Index:       w.Index,
		ID:          w.ID,
		Status:      http.StatusServiceUnavailable,
		ErrorType:   "not_sent",
		ErrorReason: err.Error(),
	}
}

// statusOf maps a task error code onto the HTTP status the assessors
// understand.
func statusOf(code string) int {
	switch code {
	case "document_not_found", "index_not_found":
		return http.StatusNotFound
	case "too_many_search_requests":
		return http.StatusTooManyRequests
	case "internal", "":
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}
