package ports

import (
	"context"

	"github.com/nimafallahian/go-indexflow/internal/domain"
)

// Backend defines the system boundary towards the document-search backend.
// Implementations enforce request timeouts themselves.
type Backend interface {
	// Execute sends a single work. A non-nil error means the request could
	// not be sent or its response could not be read; any status returned by
	// the backend is reported in the response and assessed by the caller.
	Execute(ctx context.Context, work domain.Work) (domain.ItemResponse, error)

	// ExecuteBulk sends every work of the bulk as one request and returns one
	// response per work, in bulk order.
	ExecuteBulk(ctx context.Context, bulk domain.Bulk) ([]domain.ItemResponse, error)

	// Refresh makes recent writes to the given indexes visible to searches.
	Refresh(ctx context.Context, indexes []string) error
}

// ErrorHandler receives consolidated failure reports. Implementations must
// be goroutine-safe.
type ErrorHandler interface {
	Handle(ctx context.Context, report *domain.FailureReport)
}

// ErrorHandlerFunc adapts a function to ErrorHandler.
type ErrorHandlerFunc func(ctx context.Context, report *domain.FailureReport)

func (f ErrorHandlerFunc) Handle(ctx context.Context, report *domain.FailureReport) {
	f(ctx, report)
}
