package ports

import (
	"context"

	"github.com/nimafallahian/go-indexflow/internal/async"
	"github.com/nimafallahian/go-indexflow/internal/domain"
)

// ChangesetMessage represents a changeset received from Kafka along with
// a mechanism to commit its offset once processing has completed.
type ChangesetMessage struct {
	Changeset domain.ChangesetMessage

	// DecodeErr is set when the payload could not be decoded. Such messages
	// carry an empty Changeset and are never retried.
	DecodeErr error

	// Commit commits the underlying Kafka message offset after processing.
	Commit func(ctx context.Context) error
}

// ChangesetConsumer exposes a streaming interface for consuming changesets.
// Implementations must be goroutine-safe and compatible with select-based loops.
type ChangesetConsumer interface {
	// Consume returns a read-only channel of changeset messages and a channel
	// for terminal errors from the consumer loop. Both channels must be closed
	// when the provided context is cancelled or the consumer shuts down.
	Consume(ctx context.Context) (<-chan ChangesetMessage, <-chan error)
}

// ChangesetSubmitter accepts changesets for asynchronous execution.
type ChangesetSubmitter interface {
	// Submit returns a future resolving once every work of the changeset has
	// been executed.
	Submit(works []domain.Work) *async.Future[[]domain.ItemResult]
}
