package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrSkipped marks a work that was not executed because an earlier work of
// the same sequence failed.
var ErrSkipped = errors.New("skipped after a previous failure")

// WorkFailure pairs a work with the reason it failed.
type WorkFailure struct {
	Work Work
	Err  error
}

// FailureReport is the consolidated description of everything that went
// wrong while processing one changeset, or one background cycle.
type FailureReport struct {
	// Cause is the first error encountered.
	Cause error
	// Suppressed holds every later error.
	Suppressed []error
	Failed     []WorkFailure
	Skipped    []Work
}

// Empty reports whether nothing was recorded.
func (r *FailureReport) Empty() bool {
	return r.Cause == nil && len(r.Failed) == 0 && len(r.Skipped) == 0
}

// Clone returns a copy of r that shares no slices with it.
func (r *FailureReport) Clone() *FailureReport {
	return &FailureReport{
		Cause:      r.Cause,
		Suppressed: slices.Clone(r.Suppressed),
		Failed:     slices.Clone(r.Failed),
		Skipped:    slices.Clone(r.Skipped),
	}
}

func (r *FailureReport) Error() string {
	var b strings.Builder
	b.WriteString("indexing failed")
	if len(r.Failed) > 0 {
		fmt.Fprintf(&b, ": %d failed", len(r.Failed))
	}
	if len(r.Skipped) > 0 {
		fmt.Fprintf(&b, ", %d skipped", len(r.Skipped))
	}
	if r.Cause != nil {
		fmt.Fprintf(&b, ": %v", r.Cause)
	}
	if n := len(r.Suppressed); n > 0 {
		fmt.Fprintf(&b, " (%d suppressed)", n)
	}
	return b.String()
}

// Unwrap exposes the primary and suppressed causes to errors.Is and errors.As.
func (r *FailureReport) Unwrap() []error {
	if r.Cause == nil {
		return nil
	}
	return append([]error{r.Cause}, r.Suppressed...)
}
