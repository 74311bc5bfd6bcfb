package domain

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
)

// Action is the kind of write a Work performs.
type Action string

const (
	ActionIndex         Action = "index"
	ActionCreate        Action = "create"
	ActionUpdate        Action = "update"
	ActionDelete        Action = "delete"
	ActionDeleteByQuery Action = "delete_by_query"
	ActionPurge         Action = "purge"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionIndex, ActionCreate, ActionUpdate, ActionDelete, ActionDeleteByQuery, ActionPurge:
		return true
	}
	return false
}

// Bulkable reports whether the backend accepts a inside a bulk request.
func (a Action) Bulkable() bool {
	switch a {
	case ActionIndex, ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Monitor receives documents-added notifications. Implementations are
// notified once per flush with the accumulated count.
type Monitor interface {
	DocumentsAdded(count int64)
}

// ResultAssessor decides whether a raw per-item response is a success. A nil
// return means success.
type ResultAssessor func(resp ItemResponse) error

// Work is a single write request against one document of one index.
type Work struct {
	Action  Action
	Index   string
	ID      string
	Payload json.RawMessage

	// Bulkable marks works that may be grouped into a bulk request.
	Bulkable bool

	// IgnoreConflicts makes a 409 response count as a success.
	IgnoreConflicts bool

	// Monitor is optional.
	Monitor Monitor

	// Assess overrides the default assessor for the action.
	Assess ResultAssessor
}

// NewWork returns a work with the bulkable flag derived from the action.
func NewWork(action Action, index, id string, payload json.RawMessage) Work {
	return Work{
		Action:   action,
		Index:    index,
		ID:       id,
		Payload:  payload,
		Bulkable: action.Bulkable(),
	}
}

// AddsDocument reports whether a successful execution adds a document to
// the index.
func (w Work) AddsDocument() bool {
	return w.Action == ActionIndex || w.Action == ActionCreate
}

// Assessor returns the assessor used for the work's responses.
func (w Work) Assessor() ResultAssessor {
	if w.Assess != nil {
		return w.Assess
	}
	var accepted []int
	switch w.Action {
	case ActionIndex, ActionCreate:
		accepted = []int{http.StatusOK, http.StatusCreated}
	case ActionUpdate:
		accepted = []int{http.StatusOK}
	case ActionDelete:
		accepted = []int{http.StatusOK, http.StatusNotFound}
	default:
		return assessCategory(w)
	}
	if w.IgnoreConflicts {
		accepted = append(accepted, http.StatusConflict)
	}
	return StatusAssessor(accepted...)
}

// StatusAssessor accepts the given status codes and nothing else.
func StatusAssessor(accepted ...int) ResultAssessor {
	return func(resp ItemResponse) error {
		if slices.Contains(accepted, resp.Status) {
			return nil
		}
		return resp.itemError()
	}
}

func assessCategory(w Work) ResultAssessor {
	return func(resp ItemResponse) error {
		if resp.StatusCategory() == StatusCategorySuccess {
			return nil
		}
		if w.IgnoreConflicts && resp.IsConflict() {
			return nil
		}
		return resp.itemError()
	}
}

func (w Work) String() string {
	if w.ID == "" {
		return fmt.Sprintf("%s %s", w.Action, w.Index)
	}
	return fmt.Sprintf("%s %s/%s", w.Action, w.Index, w.ID)
}
