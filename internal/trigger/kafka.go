package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/logger"
)

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaReader creates a consumer-group reader for the trigger topic.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       1e6,
		MaxWait:        time.Second,
		CommitInterval: 0,
	})
}

// KafkaConsumer runs one collection per message and commits after the run.
type KafkaConsumer struct {
	reader MessageReader
	runner Runner
}

func NewKafkaConsumer(reader MessageReader, runner Runner) *KafkaConsumer {
	return &KafkaConsumer{reader: reader, runner: runner}
}

// Consume blocks until ctx is cancelled or the reader fails.
func (c *KafkaConsumer) Consume(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("fetch trigger message: %w", err)
		}

		logger.Infof("trigger: kafka message %s/%d@%d received: %s", msg.Topic, msg.Partition, msg.Offset, string(msg.Value))
		res, err := c.runner.RunOnce(ctx)
		if err != nil {
			logger.Errorf("trigger: run for offset %d failed: %v", msg.Offset, err)
		} else {
			logger.Infof("trigger: run %s finished with %d done, %d failed", res.RunID, res.Done, res.Failed)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit trigger message: %w", err)
		}
	}
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
