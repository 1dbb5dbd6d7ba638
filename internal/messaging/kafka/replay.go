package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultReplayLimit       = 100
	defaultReplayIdleTimeout = 2 * time.Second
)

// OffsetClient отдаёт партиции и границы offset'ов topic'а.
type OffsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
}

// PartitionSource открывает чтение одной партиции.
type PartitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (sarama.PartitionConsumer, error)
}

// ReplayOptions задаёт параметры прогона DLQ.
type ReplayOptions struct {
	SourceTopic string
	TargetTopic string
	Limit       int
	// Execute выключен: сообщения только логируются (dry-run).
	Execute     bool
	FromNewest  bool
	IdleTimeout time.Duration
}

// ReplayStats: итог прогона.
type ReplayStats struct {
	Processed int
	Replayed  int
	Skipped   int
}

// Replayer переотправляет события заказов из DLQ обратно в основной topic.
type Replayer struct {
	client   OffsetClient
	source   PartitionSource
	producer *Producer
	logger   *log.Entry
}

// NewReplayer создаёт Replayer; producer может быть nil для dry-run.
func NewReplayer(client OffsetClient, source PartitionSource, producer *Producer, logger *log.Entry) *Replayer {
	if logger == nil {
		logger = log.WithField("component", "dlq-replayer")
	}
	return &Replayer{client: client, source: source, producer: producer, logger: logger}
}

// Run читает DLQ до границы newest на момент старта и возвращает статистику.
func (r *Replayer) Run(ctx context.Context, opts ReplayOptions) (ReplayStats, error) {
	var total ReplayStats

	if r.client == nil || r.source == nil {
		return total, fmt.Errorf("kafka client and consumer are required")
	}
	if opts.Execute && r.producer == nil {
		return total, fmt.Errorf("producer is required in execute mode")
	}
	if opts.SourceTopic == "" {
		opts.SourceTopic = TopicOrderEventsDLQ
	}
	if opts.TargetTopic == "" {
		opts.TargetTopic = TopicOrderEvents
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultReplayLimit
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultReplayIdleTimeout
	}

	partitions, err := r.client.Partitions(opts.SourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", opts.SourceTopic, err)
	}
	if len(partitions) == 0 {
		r.logger.WithField("topic", opts.SourceTopic).Warn("source topic has no partitions")
		return total, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if total.Processed >= opts.Limit {
			break
		}

		stats, err := r.replayPartition(ctx, opts, partition, opts.Limit-total.Processed)
		total.Processed += stats.Processed
		total.Replayed += stats.Replayed
		total.Skipped += stats.Skipped
		if err != nil {
			return total, err
		}
	}

	mode := "dry-run"
	if opts.Execute {
		mode = "execute"
	}
	r.logger.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.Processed,
		"replayed":  total.Replayed,
		"skipped":   total.Skipped,
	}).Info("dlq replay finished")

	return total, nil
}

func (r *Replayer) replayPartition(ctx context.Context, opts ReplayOptions, partition int32, limit int) (ReplayStats, error) {
	var stats ReplayStats

	oldest, err := r.client.GetOffset(opts.SourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.client.GetOffset(opts.SourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	start := oldest
	if opts.FromNewest {
		start = max(newest-int64(limit), oldest)
	}

	consumer, err := r.source.ConsumePartition(opts.SourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = consumer.Close() }()

	idle := time.NewTimer(opts.IdleTimeout)
	defer idle.Stop()

	for stats.Processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case consumerErr := <-consumer.Errors():
			if consumerErr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, consumerErr)
			}
		case msg, ok := <-consumer.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			idle.Reset(opts.IdleTimeout)

			logger := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})
			stats.Processed++

			envelope, err := ExtractDeadLetter(msg.Value)
			if err != nil {
				stats.Skipped++
				logger.WithError(err).Warn("skip unsupported dlq message")
				continue
			}

			if opts.Execute {
				if err := r.publish(ctx, opts.TargetTopic, envelope); err != nil {
					return stats, fmt.Errorf("publish replay message: %w", err)
				}
			} else {
				logger.WithFields(log.Fields{
					"target_topic": opts.TargetTopic,
					"key":          envelope.Key(),
					"event_type":   envelope.EventType,
				}).Info("dlq replay candidate")
			}
			stats.Replayed++

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		case <-idle.C:
			return stats, nil
		}
	}

	return stats, nil
}

func (r *Replayer) publish(ctx context.Context, topic string, envelope Envelope) error {
	value, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode replay envelope: %w", err)
	}
	headers := envelope.headers()
	headers[HeaderReplayed] = "true"
	return r.producer.Send(ctx, topic, envelope.Key(), value, headers)
}

type deadLetterPayload struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

// ExtractDeadLetter восстанавливает исходный Envelope из сообщения DLQ.
func ExtractDeadLetter(value []byte) (Envelope, error) {
	var outer Envelope
	if err := json.Unmarshal(value, &outer); err != nil {
		return Envelope{}, fmt.Errorf("decode dlq envelope: %w", err)
	}
	if len(outer.Payload) == 0 {
		return Envelope{}, fmt.Errorf("dlq envelope has no payload")
	}

	var dead deadLetterPayload
	if err := json.Unmarshal(outer.Payload, &dead); err != nil {
		return Envelope{}, fmt.Errorf("decode dead letter: %w", err)
	}
	if len(dead.Payload) == 0 {
		return Envelope{}, fmt.Errorf("dead letter does not contain original event payload")
	}

	return Envelope{
		ID:            firstNonEmpty(dead.OutboxID, outer.ID),
		AggregateType: firstNonEmpty(dead.AggregateType, outer.AggregateType),
		AggregateID:   firstNonEmpty(dead.AggregateID, outer.AggregateID),
		EventType:     firstNonEmpty(dead.EventType, outer.EventType),
		Payload:       dead.Payload,
		PublishedAt:   time.Now().UTC(),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
