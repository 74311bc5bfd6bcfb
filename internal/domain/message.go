package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidChangeset is returned for messages that can never be applied.
// They should be acknowledged and dropped rather than redelivered.
var ErrInvalidChangeset = errors.New("invalid changeset")

// OperationMessage is the wire form of one operation inside a changeset
// message.
type OperationMessage struct {
	Action          Action          `json:"action"`
	Index           string          `json:"index"`
	ID              string          `json:"id,omitempty"`
	Document        json.RawMessage `json:"document,omitempty"`
	Query           json.RawMessage `json:"query,omitempty"`
	IgnoreConflicts bool            `json:"ignore_conflicts,omitempty"`
}

// ChangesetMessage is the wire form of a changeset as consumed from Kafka.
type ChangesetMessage struct {
	ID         string             `json:"id"`
	Operations []OperationMessage `json:"operations"`
}

// Validate checks that every operation can be turned into a work.
func (m ChangesetMessage) Validate() error {
	if len(m.Operations) == 0 {
		return fmt.Errorf("%w: changeset %q has no operations", ErrInvalidChangeset, m.ID)
	}
	for i, op := range m.Operations {
		if err := op.validate(); err != nil {
			return fmt.Errorf("%w: changeset %q operation %d: %v", ErrInvalidChangeset, m.ID, i, err)
		}
	}
	return nil
}

func (op OperationMessage) validate() error {
	if !op.Action.Valid() {
		return fmt.Errorf("unknown action %q", op.Action)
	}
	if op.Index == "" {
		return errors.New("index must not be empty")
	}
	switch op.Action {
	case ActionIndex, ActionCreate, ActionUpdate:
		if op.ID == "" {
			return errors.New("id must not be empty")
		}
		if len(op.Document) == 0 {
			return errors.New("document must not be empty")
		}
	case ActionDelete:
		if op.ID == "" {
			return errors.New("id must not be empty")
		}
	case ActionDeleteByQuery:
		if len(op.Query) == 0 {
			return errors.New("query must not be empty")
		}
	}
	return nil
}

// Works converts the message into works. monitorFor may be nil.
func (m ChangesetMessage) Works(monitorFor func(index string) Monitor) ([]Work, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	works := make([]Work, 0, len(m.Operations))
	for _, op := range m.Operations {
		payload := op.Document
		if op.Action == ActionDeleteByQuery {
			payload = op.Query
		}
		w := NewWork(op.Action, op.Index, op.ID, payload)
		w.IgnoreConflicts = op.IgnoreConflicts
		if monitorFor != nil {
			w.Monitor = monitorFor(op.Index)
		}
		works = append(works, w)
	}
	return works, nil
}
