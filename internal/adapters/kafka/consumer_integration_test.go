//go:build integration

package kafka

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/nimafallahian/go-indexflow/internal/domain"
)

var (
	kafkaContainer *kafkamodule.KafkaContainer
	kafkaBrokers   []string
)

func TestMain(m *testing.M) {
	// If Docker is not available (common in restricted CI or IDE sandboxes),
	// skip spinning up Kafka and let tests decide whether to run.
	if _, err := os.Stat("/var/run/docker.sock"); err != nil {
		os.Exit(m.Run())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var err error
	kafkaContainer, err = kafkamodule.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		kafkamodule.WithClusterID("test-cluster"),
	)
	if err != nil {
		panic(err)
	}

	kafkaBrokers, err = kafkaContainer.Brokers(ctx)
	if err != nil {
		_ = kafkaContainer.Terminate(ctx)
		panic(err)
	}

	code := m.Run()

	_ = kafkaContainer.Terminate(context.Background())

	os.Exit(code)
}

func TestConsumerReadsChangesets(t *testing.T) {
	if len(kafkaBrokers) == 0 {
		t.Skip("kafka container not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const topic = "changesets"
	groupID := "test-group-consumer"

	// Ensure topic exists before producing/consuming to avoid UNKNOWN_TOPIC_OR_PARTITION
	adminConn, err := kafkago.Dial("tcp", kafkaBrokers[0])
	require.NoError(t, err)
	err = adminConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	require.NoError(t, err)
	require.NoError(t, adminConn.Close())

	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(kafkaBrokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	defer func() { _ = writer.Close() }()

	changeset := domain.ChangesetMessage{
		ID: "cs-1",
		Operations: []domain.OperationMessage{
			{Action: domain.ActionIndex, Index: "books", ID: "1", Document: json.RawMessage(`{"title":"Dune"}`)},
			{Action: domain.ActionPurge, Index: "authors"},
		},
	}

	value, err := json.Marshal(changeset)
	require.NoError(t, err)

	err = writer.WriteMessages(ctx,
		kafkago.Message{Value: value},
		kafkago.Message{Value: []byte("not a changeset")},
	)
	require.NoError(t, err)

	consumer, err := NewConsumer(kafkaBrokers, topic, groupID)
	require.NoError(t, err)
	defer func() { _ = consumer.Close() }()

	msgCh, errCh := consumer.Stream(ctx)

	for i := range 2 {
		select {
		case msg := <-msgCh:
			if i == 0 {
				require.NoError(t, msg.DecodeErr)
				require.Equal(t, changeset.ID, msg.Changeset.ID)
				require.Len(t, msg.Changeset.Operations, 2)
				require.Equal(t, domain.ActionPurge, msg.Changeset.Operations[1].Action)
			} else {
				require.Error(t, msg.DecodeErr)
			}
			require.NoError(t, consumer.Acknowledge(ctx, msg))
		case err := <-errCh:
			require.NoError(t, err)
		case <-ctx.Done():
			t.Fatalf("timeout waiting for message: %v", ctx.Err())
		}
	}
}
