package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"
)

type fakeOffsets struct {
	partitions []int32
	oldest     int64
	newest     int64
}

func (f fakeOffsets) Partitions(string) ([]int32, error) {
	return f.partitions, nil
}

func (f fakeOffsets) GetOffset(_ string, _ int32, at int64) (int64, error) {
	if at == sarama.OffsetOldest {
		return f.oldest, nil
	}
	return f.newest, nil
}

func deadLetterMessage(t *testing.T, orderID string) []byte {
	t.Helper()

	raw, err := json.Marshal(map[string]any{
		"id":             "outbox-" + orderID,
		"aggregate_type": "order",
		"aggregate_id":   orderID,
		"event_type":     "order.created",
		"payload": map[string]any{
			"outbox_id":      "outbox-" + orderID,
			"aggregate_type": "order",
			"aggregate_id":   orderID,
			"event_type":     "order.created",
			"payload":        map[string]any{"order_id": orderID},
			"publish_error":  "timeout",
		},
	})
	require.NoError(t, err)
	return raw
}

func TestExtractDeadLetter(t *testing.T) {
	envelope, err := ExtractDeadLetter(deadLetterMessage(t, "order-1"))
	require.NoError(t, err)
	require.Equal(t, "outbox-order-1", envelope.ID)
	require.Equal(t, "order-1", envelope.Key())
	require.Equal(t, "order.created", envelope.EventType)
	require.JSONEq(t, `{"order_id":"order-1"}`, string(envelope.Payload))
}

func TestExtractDeadLetter_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":       `nope`,
		"no payload":     `{"id":"x"}`,
		"nested missing": `{"id":"x","payload":{"outbox_id":"x","publish_error":"boom"}}`,
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ExtractDeadLetter([]byte(value))
			require.Error(t, err)
		})
	}
}

func TestReplayer_DryRunDoesNotPublish(t *testing.T) {
	consumer := mocks.NewConsumer(t, nil)
	pc := consumer.ExpectConsumePartition(TopicOrderEventsDLQ, 0, 0)
	pc.YieldMessage(&sarama.ConsumerMessage{Offset: 0, Value: deadLetterMessage(t, "order-1")})
	pc.YieldMessage(&sarama.ConsumerMessage{Offset: 1, Value: []byte(`garbage`)})

	replayer := NewReplayer(fakeOffsets{partitions: []int32{0}, newest: 2}, consumer, nil, nil)
	stats, err := replayer.Run(context.Background(), ReplayOptions{IdleTimeout: time.Second})
	require.NoError(t, err)
	require.Equal(t, ReplayStats{Processed: 2, Replayed: 1, Skipped: 1}, stats)
}

func TestReplayer_ExecuteRepublishesOriginalEvent(t *testing.T) {
	consumer := mocks.NewConsumer(t, nil)
	pc := consumer.ExpectConsumePartition(TopicOrderEventsDLQ, 0, 0)
	pc.YieldMessage(&sarama.ConsumerMessage{Offset: 0, Value: deadLetterMessage(t, "order-7")})

	producer, mockProducer := newMockProducer(t)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicOrderEvents {
			return errors.New("replay must go to the order events topic")
		}
		if headerValue(msg, HeaderReplayed) != "true" {
			return errors.New("replayed header is missing")
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var envelope Envelope
		if err := json.Unmarshal(value, &envelope); err != nil {
			return err
		}
		if envelope.AggregateID != "order-7" {
			return errors.New("unexpected aggregate id " + envelope.AggregateID)
		}
		return nil
	})

	replayer := NewReplayer(fakeOffsets{partitions: []int32{0}, newest: 1}, consumer, producer, nil)
	stats, err := replayer.Run(context.Background(), ReplayOptions{Execute: true, IdleTimeout: time.Second})
	require.NoError(t, err)
	require.Equal(t, 1, stats.Replayed)
	require.NoError(t, mockProducer.Close())
}

func TestReplayer_ExecuteRequiresProducer(t *testing.T) {
	replayer := NewReplayer(fakeOffsets{}, mocks.NewConsumer(t, nil), nil, nil)
	_, err := replayer.Run(context.Background(), ReplayOptions{Execute: true})
	require.Error(t, err)
}

func TestReplayer_EmptyPartitionIsSkipped(t *testing.T) {
	replayer := NewReplayer(fakeOffsets{partitions: []int32{0}, oldest: 5, newest: 5}, mocks.NewConsumer(t, nil), nil, nil)
	stats, err := replayer.Run(context.Background(), ReplayOptions{})
	require.NoError(t, err)
	require.Zero(t, stats.Processed)
}
