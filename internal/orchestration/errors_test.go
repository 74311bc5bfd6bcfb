package orchestration

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimafallahian/go-indexflow/internal/domain"
	"github.com/nimafallahian/go-indexflow/internal/ports"
)

func TestContextualErrorHandler_Report(t *testing.T) {
	h := newContextualErrorHandler(nil, discardLogger())
	require.False(t, h.hasFailed())
	require.Nil(t, h.handle(context.Background()))

	first := errors.New("first")
	h.markAsFailed(indexWork("1"), first)
	h.markAsSkipped(indexWork("2"))
	h.addError(errors.New("second"))
	h.addError(nil)

	r := h.handle(context.Background())
	require.NotNil(t, r)
	require.True(t, h.hasFailed())
	require.ErrorIs(t, r.Cause, first)
	require.Len(t, r.Suppressed, 1)
	require.Len(t, r.Failed, 1)
	require.Len(t, r.Skipped, 1)
}

func TestNotifyHandlers_HandlersKeepTheirOwnReport(t *testing.T) {
	var kept []*domain.FailureReport
	keeping := ports.ErrorHandlerFunc(func(_ context.Context, r *domain.FailureReport) {
		kept = append(kept, r)
	})
	panicking := ports.ErrorHandlerFunc(func(context.Context, *domain.FailureReport) {
		panic("handler exploded")
	})

	r := &domain.FailureReport{
		Cause:  errors.New("boom"),
		Failed: []domain.WorkFailure{{Work: indexWork("1"), Err: errors.New("boom")}},
	}
	notifyHandlers(context.Background(), []ports.ErrorHandler{keeping, panicking, keeping}, discardLogger(), r)

	require.Len(t, r.Suppressed, 1)
	require.ErrorContains(t, r.Suppressed[0], "handler exploded")

	require.Len(t, kept, 2)
	for _, k := range kept {
		require.NotSame(t, r, k)
		require.Empty(t, k.Suppressed)
		require.Len(t, k.Failed, 1)
		require.ErrorIs(t, k, r.Cause)
	}
	require.NotSame(t, kept[0], kept[1])
}
