package es

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/nimafallahian/go-indexflow/internal/domain"
)

// Error values returned when a whole bulk request is rejected, for callers
// to react to.
var (
	ErrTooManyRequests = errors.New("elasticsearch: too many requests (429)")
	ErrServerError     = errors.New("elasticsearch: server error (5xx)")
)

// Backend implements ports.Backend on top of the Elasticsearch document,
// delete-by-query and Bulk APIs.
type Backend struct {
	client  *elasticsearch.Client
	timeout time.Duration
}

// NewBackend constructs a new Backend. A zero timeout leaves requests bound
// by their context only.
func NewBackend(client *elasticsearch.Client, timeout time.Duration) (*Backend, error) {
	if client == nil {
		return nil, fmt.Errorf("client must not be nil")
	}
	return &Backend{
		client:  client,
		timeout: timeout,
	}, nil
}

func (b *Backend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.timeout)
}

// Execute sends a single work through the API matching its action.
func (b *Backend) Execute(ctx context.Context, w domain.Work) (domain.ItemResponse, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	res, err := b.send(ctx, w)
	if err != nil {
		return domain.ItemResponse{}, fmt.Errorf("%s request: %w", w.Action, err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	return decodeItem(w, res)
}

func (b *Backend) send(ctx context.Context, w domain.Work) (*esapi.Response, error) {
	c := b.client
	switch w.Action {
	case domain.ActionIndex:
		return c.Index(w.Index, bytes.NewReader(w.Payload),
			c.Index.WithContext(ctx),
			c.Index.WithDocumentID(w.ID),
		)
	case domain.ActionCreate:
		return c.Create(w.Index, w.ID, bytes.NewReader(w.Payload), c.Create.WithContext(ctx))
	case domain.ActionUpdate:
		body, err := json.Marshal(map[string]json.RawMessage{"doc": w.Payload})
		if err != nil {
			return nil, fmt.Errorf("encode update: %w", err)
		}
		return c.Update(w.Index, w.ID, bytes.NewReader(body), c.Update.WithContext(ctx))
	case domain.ActionDelete:
		return c.Delete(w.Index, w.ID, c.Delete.WithContext(ctx))
	case domain.ActionDeleteByQuery, domain.ActionPurge:
		query := w.Payload
		if w.Action == domain.ActionPurge {
			query = json.RawMessage(`{"match_all":{}}`)
		}
		body, err := json.Marshal(map[string]json.RawMessage{"query": query})
		if err != nil {
			return nil, fmt.Errorf("encode query: %w", err)
		}
		return c.DeleteByQuery([]string{w.Index}, bytes.NewReader(body),
			c.DeleteByQuery.WithContext(ctx),
			c.DeleteByQuery.WithConflicts("proceed"),
		)
	}
	return nil, fmt.Errorf("unsupported action %q", w.Action)
}

// errorBody is the error section shared by document and bulk item
// responses.
type errorBody struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type itemBody struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Status int             `json:"status"`
	Result string          `json:"result"`
	Error  json.RawMessage `json:"error"`
}

func (i itemBody) response(w domain.Work, status int) domain.ItemResponse {
	resp := domain.ItemResponse{
		Index:  i.Index,
		ID:     i.ID,
		Status: status,
		Result: i.Result,
	}
	if resp.Index == "" {
		resp.Index = w.Index
	}
	if resp.ID == "" {
		resp.ID = w.ID
	}
	if len(i.Error) > 0 {
		var e errorBody
		if err := json.Unmarshal(i.Error, &e); err == nil {
			resp.ErrorType, resp.ErrorReason = e.Type, e.Reason
		} else {
			// Some endpoints report the error as a plain string.
			var reason string
			_ = json.Unmarshal(i.Error, &reason)
			resp.ErrorReason = reason
		}
	}
	return resp
}

func decodeItem(w domain.Work, res *esapi.Response) (domain.ItemResponse, error) {
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return domain.ItemResponse{}, fmt.Errorf("read %s response: %w", w.Action, err)
	}
	var body itemBody
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil && !res.IsError() {
			return domain.ItemResponse{}, fmt.Errorf("decode %s response: %w", w.Action, err)
		}
	}
	resp := body.response(w, res.StatusCode)
	if w.Action == domain.ActionDeleteByQuery || w.Action == domain.ActionPurge {
		resp.Result = "deleted"
	}
	return resp, nil
}

// ExecuteBulk sends the bulk as one NDJSON request and returns the item
// responses in bulk order. Delete-by-query works are never bulked.
func (b *Backend) ExecuteBulk(ctx context.Context, bulk domain.Bulk) ([]domain.ItemResponse, error) {
	if bulk.Len() == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	if err := encodeBulk(&buf, bulk); err != nil {
		return nil, err
	}

	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	res, err := b.client.Bulk(
		bytes.NewReader(buf.Bytes()),
		b.client.Bulk.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("bulk request: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.StatusCode == http.StatusTooManyRequests {
		return nil, ErrTooManyRequests
	}

	if res.StatusCode >= 500 && res.StatusCode <= 599 {
		return nil, fmt.Errorf("%w: %s", ErrServerError, res.Status())
	}

	if res.IsError() {
		return nil, fmt.Errorf("bulk error: %s", res.String())
	}

	var body struct {
		Errors bool                  `json:"errors"`
		Items  []map[string]itemBody `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode bulk response: %w", err)
	}
	if len(body.Items) != bulk.Len() {
		return nil, fmt.Errorf("bulk response has %d items for %d works", len(body.Items), bulk.Len())
	}

	out := make([]domain.ItemResponse, len(body.Items))
	for i, item := range body.Items {
		w := bulk.Works[i]
		// Each item holds a single entry keyed by its action.
		for _, v := range item {
			out[i] = v.response(w, v.Status)
		}
	}
	return out, nil
}

func encodeBulk(buf *bytes.Buffer, bulk domain.Bulk) error {
	enc := json.NewEncoder(buf)
	for _, w := range bulk.Works {
		if !w.Action.Bulkable() {
			return fmt.Errorf("%s cannot be bulked", w)
		}

		// Action line
		meta := map[string]any{
			string(w.Action): map[string]any{
				"_index": w.Index,
				"_id":    w.ID,
			},
		}
		if err := enc.Encode(meta); err != nil {
			return fmt.Errorf("encode bulk meta: %w", err)
		}

		// Document line
		switch w.Action {
		case domain.ActionDelete:
			continue
		case domain.ActionUpdate:
			if err := enc.Encode(map[string]json.RawMessage{"doc": w.Payload}); err != nil {
				return fmt.Errorf("encode bulk doc: %w", err)
			}
		default:
			if err := enc.Encode(w.Payload); err != nil {
				return fmt.Errorf("encode bulk doc: %w", err)
			}
		}
	}
	return nil
}

// Refresh makes recent writes to indexes visible to searches.
func (b *Backend) Refresh(ctx context.Context, indexes []string) error {
	if len(indexes) == 0 {
		return nil
	}
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	res, err := b.client.Indices.Refresh(
		b.client.Indices.Refresh.WithContext(ctx),
		b.client.Indices.Refresh.WithIndex(indexes...),
	)
	if err != nil {
		return fmt.Errorf("refresh request: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		return fmt.Errorf("refresh error: %s", res.String())
	}
	return nil
}
