package domain

import (
	"fmt"
	"strings"
)

// ItemResponse is the raw backend answer for one work, either from a single
// request or from one item of a bulk response.
type ItemResponse struct {
	Index       string
	ID          string
	Status      int
	Result      string
	ErrorType   string
	ErrorReason string
}

func (r ItemResponse) itemError() *ItemError {
	return &ItemError{
		Index:  r.Index,
		ID:     r.ID,
		Status: r.Status,
		Type:   r.ErrorType,
		Reason: r.ErrorReason,
	}
}

// ItemError is the failure of one item as assessed from its response.
type ItemError struct {
	Index  string
	ID     string
	Status int
	Type   string
	Reason string
}

func (e *ItemError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "item %s/%s failed with status %d", e.Index, e.ID, e.Status)
	if e.Type != "" {
		fmt.Fprintf(&b, ": %s", e.Type)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	return b.String()
}

// Retriable reports whether sending the work again may succeed.
func (e *ItemError) Retriable() bool {
	return ItemResponse{Status: e.Status}.IsRetriable()
}

// ItemResult is the outcome of one successfully executed work.
type ItemResult struct {
	Work     Work
	Response ItemResponse
}

// Bulk is a group of bulkable works sent as one request. Works keep their
// insertion order.
type Bulk struct {
	Works []Work
}

// NewBulk copies works into a new bulk.
func NewBulk(works []Work) Bulk {
	return Bulk{Works: append([]Work(nil), works...)}
}

// Len returns the number of works in the bulk.
func (b Bulk) Len() int {
	return len(b.Works)
}

// BulkResult is the assessed outcome of one bulk request. When the request
// itself failed, Responses is empty and Err holds the transport error.
type BulkResult struct {
	Bulk      Bulk
	Responses []ItemResponse
	// Outcomes holds the assessed error of each item, nil on success.
	Outcomes []error
	Err      error
}

// Item returns the outcome of the item at position i.
func (r BulkResult) Item(i int) (ItemResult, error) {
	if i < 0 || i >= len(r.Bulk.Works) {
		return ItemResult{}, fmt.Errorf("bulk item %d out of range (size %d)", i, len(r.Bulk.Works))
	}
	work := r.Bulk.Works[i]
	if len(r.Responses) == 0 {
		err := r.Err
		if err == nil {
			err = fmt.Errorf("bulk returned no response for item %d", i)
		}
		return ItemResult{Work: work}, fmt.Errorf("%s: %w", work, err)
	}
	res := ItemResult{Work: work, Response: r.Responses[i]}
	return res, r.Outcomes[i]
}

// Successes returns the items assessed as successful.
func (r BulkResult) Successes() []ItemResult {
	out := make([]ItemResult, 0, len(r.Responses))
	for i, resp := range r.Responses {
		if r.Outcomes[i] == nil {
			out = append(out, ItemResult{Work: r.Bulk.Works[i], Response: resp})
		}
	}
	return out
}

// BulkFailure is raised when at least one item of a bulk failed while the
// request itself went through.
type BulkFailure struct {
	Successes []ItemResult
	Failures  []WorkFailure
}

func (e *BulkFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "bulk request: %d of %d items failed", len(e.Failures), len(e.Failures)+len(e.Successes))
	for i, f := range e.Failures {
		if i == 3 {
			fmt.Fprintf(&b, "; and %d more", len(e.Failures)-i)
			break
		}
		fmt.Fprintf(&b, "; %v", f.Err)
	}
	return b.String()
}
