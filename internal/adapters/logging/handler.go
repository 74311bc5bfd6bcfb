package logging

import (
	"context"
	"log/slog"

	"github.com/nimafallahian/go-indexflow/internal/domain"
	"github.com/nimafallahian/go-indexflow/internal/metrics"
)

// maxLoggedWorks bounds how many failed or skipped works a single report
// lists.
const maxLoggedWorks = 10

// ErrorHandler implements ports.ErrorHandler by logging every failure
// report.
type ErrorHandler struct {
	logger *slog.Logger
}

// NewErrorHandler constructs a new ErrorHandler. A nil logger falls back to
// slog.Default().
func NewErrorHandler(logger *slog.Logger) *ErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorHandler{logger: logger}
}

func (h *ErrorHandler) Handle(ctx context.Context, report *domain.FailureReport) {
	if report == nil || report.Empty() {
		return
	}
	metrics.FailureReports.Inc()

	attrs := []any{
		"failed", len(report.Failed),
		"skipped", len(report.Skipped),
		"suppressed", len(report.Suppressed),
	}
	if report.Cause != nil {
		attrs = append(attrs, "error", report.Cause)
	}
	if len(report.Failed) > 0 {
		attrs = append(attrs, "failed_works", failedWorks(report.Failed))
	}
	if len(report.Skipped) > 0 {
		attrs = append(attrs, "skipped_works", skippedWorks(report.Skipped))
	}
	h.logger.ErrorContext(ctx, "indexing failure", attrs...)
}

func failedWorks(failures []domain.WorkFailure) []string {
	out := make([]string, 0, min(len(failures), maxLoggedWorks))
	for _, f := range failures[:min(len(failures), maxLoggedWorks)] {
		out = append(out, f.Work.String()+": "+f.Err.Error())
	}
	return out
}

func skippedWorks(works []domain.Work) []string {
	out := make([]string, 0, min(len(works), maxLoggedWorks))
	for _, w := range works[:min(len(works), maxLoggedWorks)] {
		out = append(out, w.String())
	}
	return out
}
