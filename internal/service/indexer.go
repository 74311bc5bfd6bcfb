package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/nimafallahian/go-indexflow/internal/domain"
	"github.com/nimafallahian/go-indexflow/internal/metrics"
	"github.com/nimafallahian/go-indexflow/internal/ports"
)

// IndexerService orchestrates reading changesets from Kafka, submitting them
// for execution, and acknowledging offsets once they were applied.
type IndexerService struct {
	consumer    ports.ChangesetConsumer
	submitter   ports.ChangesetSubmitter
	workerCount int
	logger      *slog.Logger
	monitorFor  func(index string) domain.Monitor
}

// Option configures an IndexerService.
type Option func(*IndexerService)

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(s *IndexerService) { s.logger = logger }
}

// WithMonitors sets the documents-added monitor attached to the works of
// each index. metrics.MonitorFor is used otherwise.
func WithMonitors(monitorFor func(index string) domain.Monitor) Option {
	return func(s *IndexerService) { s.monitorFor = monitorFor }
}

// NewIndexerService constructs a new IndexerService.
func NewIndexerService(consumer ports.ChangesetConsumer, submitter ports.ChangesetSubmitter, workerCount int, opts ...Option) *IndexerService {
	if workerCount <= 0 {
		workerCount = 1
	}
	s := &IndexerService{
		consumer:    consumer,
		submitter:   submitter,
		workerCount: workerCount,
		logger:      slog.Default(),
		monitorFor:  metrics.MonitorFor,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins consuming changesets and processing them with a worker pool.
// It blocks until the context is cancelled or the consumer stops.
func (s *IndexerService) Start(ctx context.Context) {
	msgCh, errCh := s.consumer.Consume(ctx)

	var wg sync.WaitGroup
	wg.Add(s.workerCount)

	for i := 0; i < s.workerCount; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgCh:
					if !ok {
						return
					}
					s.handleMessage(ctx, msg)
				}
			}
		}()
	}

	// Drain error channel in a separate goroutine to avoid blocking producers.
	go func() {
		for err := range errCh {
			s.logger.Error("consumer stopped", "error", err)
		}
	}()

	wg.Wait()
}

func (s *IndexerService) handleMessage(ctx context.Context, msg ports.ChangesetMessage) {
	// Undecodable payloads never succeed: acknowledge to clear from queue.
	if msg.DecodeErr != nil {
		s.logger.Warn("dropping undecodable changeset", "error", msg.DecodeErr)
		s.drop(ctx, msg)
		return
	}

	works, err := msg.Changeset.Works(s.monitorFor)
	if err != nil {
		s.logger.Warn("dropping invalid changeset", "changeset", msg.Changeset.ID, "error", err)
		s.drop(ctx, msg)
		return
	}

	_, err = s.submitter.Submit(works).Await(ctx)
	switch {
	case err == nil:
		s.commit(ctx, msg)
	case ctx.Err() != nil:
		// Shutting down: leave the offset for redelivery.
	case permanent(err):
		s.logger.Warn("dropping rejected changeset", "changeset", msg.Changeset.ID, "error", err)
		s.drop(ctx, msg)
	default:
		// Retriable failure; do not acknowledge so Kafka can redeliver.
		s.logger.Error("changeset failed", "changeset", msg.Changeset.ID, "error", err)
	}
}

func (s *IndexerService) drop(ctx context.Context, msg ports.ChangesetMessage) {
	metrics.Changesets.WithLabelValues("dropped").Inc()
	s.commit(ctx, msg)
}

func (s *IndexerService) commit(ctx context.Context, msg ports.ChangesetMessage) {
	if msg.Commit == nil {
		return
	}
	if err := msg.Commit(ctx); err != nil {
		s.logger.Error("commit failed", "changeset", msg.Changeset.ID, "error", err)
	}
}

// permanent reports whether redelivering cannot help: every failed work was
// rejected by the backend with a non-retriable status.
func permanent(err error) bool {
	var report *domain.FailureReport
	if !errors.As(err, &report) || len(report.Failed) == 0 {
		return false
	}
	for _, f := range report.Failed {
		var itemErr *domain.ItemError
		if !errors.As(f.Err, &itemErr) || itemErr.Retriable() {
			return false
		}
	}
	return true
}
