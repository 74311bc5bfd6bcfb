package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nimafallahian/go-indexflow/internal/domain"
	"github.com/nimafallahian/go-indexflow/internal/ports"
)

var (
	// ErrOrchestratorClosed is returned for changesets submitted after Close.
	ErrOrchestratorClosed = errors.New("orchestrator is closed")

	errBulkAbandoned = errors.New("bulk abandoned before it was sent")
)

// contextualErrorHandler collects the failures of one changeset and reports
// them once, as a single FailureReport.
type contextualErrorHandler struct {
	handlers []ports.ErrorHandler
	logger   *slog.Logger

	mu      sync.Mutex
	causes  []error
	failed  []domain.WorkFailure
	skipped []domain.Work
}

func newContextualErrorHandler(handlers []ports.ErrorHandler, logger *slog.Logger) *contextualErrorHandler {
	return &contextualErrorHandler{handlers: handlers, logger: logger}
}

func (h *contextualErrorHandler) markAsFailed(w domain.Work, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failed = append(h.failed, domain.WorkFailure{Work: w, Err: err})
	h.causes = append(h.causes, err)
}

func (h *contextualErrorHandler) markAsSkipped(w domain.Work) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.skipped = append(h.skipped, w)
}

func (h *contextualErrorHandler) addError(err error) {
	if err == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.causes = append(h.causes, err)
}

func (h *contextualErrorHandler) hasFailed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.failed) > 0 || len(h.causes) > 0
}

// report returns nil when nothing was recorded.
func (h *contextualErrorHandler) report() *domain.FailureReport {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := &domain.FailureReport{
		Failed:  append([]domain.WorkFailure(nil), h.failed...),
		Skipped: append([]domain.Work(nil), h.skipped...),
	}
	if len(h.causes) > 0 {
		r.Cause = h.causes[0]
		r.Suppressed = append([]error(nil), h.causes[1:]...)
	}
	if r.Empty() {
		return nil
	}
	return r
}

// handle reports the accumulated state to every handler. It must be called
// once, after the last work of the changeset completed.
func (h *contextualErrorHandler) handle(ctx context.Context) *domain.FailureReport {
	r := h.report()
	if r == nil {
		return nil
	}
	notifyHandlers(ctx, h.handlers, h.logger, r)
	return r
}

// notifyHandlers delivers r to every handler. A handler panicking never
// keeps the others from being notified; the panic is attached to r as a
// suppressed error. Handlers receive their own copy of r, so they may keep
// it after returning.
func notifyHandlers(ctx context.Context, handlers []ports.ErrorHandler, logger *slog.Logger, r *domain.FailureReport) {
	var reportErrs []error
	for _, handler := range handlers {
		if err := safeHandle(ctx, handler, r.Clone()); err != nil {
			logger.Error("error handler failed", "error", err)
			reportErrs = append(reportErrs, err)
		}
	}
	r.Suppressed = append(r.Suppressed, reportErrs...)
}

func safeHandle(ctx context.Context, handler ports.ErrorHandler, r *domain.FailureReport) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("error handler panic: %v", p)
		}
	}()
	handler.Handle(ctx, r)
	return nil
}
