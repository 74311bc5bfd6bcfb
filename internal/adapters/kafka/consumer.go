package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/nimafallahian/go-indexflow/internal/domain"
	"github.com/nimafallahian/go-indexflow/internal/ports"
)

// committer is the part of the reader a delivered changeset needs to
// acknowledge itself.
type committer interface {
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// Consumer reads one changeset per Kafka message. Offsets are committed only
// through the Commit func of each delivered changeset.
type Consumer struct {
	reader *kafkago.Reader
}

// NewConsumer returns a consumer joined to groupID with automatic commits
// disabled.
func NewConsumer(brokers []string, topic, groupID string) (*Consumer, error) {
	switch {
	case len(brokers) == 0:
		return nil, errors.New("kafka: no brokers configured")
	case topic == "":
		return nil, errors.New("kafka: topic is required")
	case groupID == "":
		return nil, errors.New("kafka: consumer group is required")
	}

	return &Consumer{reader: kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		CommitInterval: 0,
	})}, nil
}

// Stream delivers changesets until ctx is done or the reader fails. A read
// failure is sent on the error channel before both channels close. Payloads
// that do not decode are still delivered, with DecodeErr set.
func (c *Consumer) Stream(ctx context.Context) (<-chan ports.ChangesetMessage, <-chan error) {
	out := make(chan ports.ChangesetMessage)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		for {
			m, err := c.reader.FetchMessage(ctx)
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
				return
			case err != nil:
				errs <- fmt.Errorf("fetch message: %w", err)
				return
			}

			select {
			case out <- changesetOf(m, c.reader):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errs
}

// Consume implements ports.ChangesetConsumer.
func (c *Consumer) Consume(ctx context.Context) (<-chan ports.ChangesetMessage, <-chan error) {
	return c.Stream(ctx)
}

// changesetOf decodes m. Changesets published without an id are named after
// their position in the log.
func changesetOf(m kafkago.Message, r committer) ports.ChangesetMessage {
	msg := ports.ChangesetMessage{
		Commit: func(ctx context.Context) error {
			return r.CommitMessages(ctx, m)
		},
	}
	msg.Changeset, msg.DecodeErr = Decode(m.Value)
	if msg.DecodeErr == nil && msg.Changeset.ID == "" {
		msg.Changeset.ID = fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset)
	}
	return msg
}

// Decode parses a changeset payload.
func Decode(value []byte) (domain.ChangesetMessage, error) {
	var cs domain.ChangesetMessage
	if err := json.Unmarshal(value, &cs); err != nil {
		return domain.ChangesetMessage{}, fmt.Errorf("decode changeset: %w", err)
	}
	return cs, nil
}

// Acknowledge commits msg. Messages without a Commit func are ignored.
func (c *Consumer) Acknowledge(ctx context.Context, msg ports.ChangesetMessage) error {
	if msg.Commit == nil {
		return nil
	}
	return msg.Commit(ctx)
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
