package consumer

import (
	"context"
	"errors"
	"time"

	"stockbridge/internal/apperr"
	"stockbridge/internal/config"
	"stockbridge/internal/service"
	"stockbridge/pkg/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Handler interface {
	Handle(ctx context.Context, msg service.Message) error
}

func NewReader(cfg config.KafkaConfig) *kafka.Reader {
	start := kafka.LastOffset
	if cfg.FromBeginning {
		start = kafka.FirstOffset
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		StartOffset: start,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
	})
}

// Consumer feeds messages to a handler. A failing message is retried in
// place up to maxAttempts and then committed; the inbox keeps it FAILED
// for replay.
type Consumer struct {
	reader      MessageReader
	handler     Handler
	maxAttempts int
	backoff     time.Duration
}

func New(reader MessageReader, handler Handler, maxAttempts int, backoff time.Duration) *Consumer {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Consumer{reader: reader, handler: handler, maxAttempts: maxAttempts, backoff: backoff}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	logger.Info("event consumer started", zap.Int("max_attempts", c.maxAttempts))
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("event consumer stopped")
				return nil
			}
			logger.Error("failed to fetch event", zap.Error(err))
			if !sleep(ctx, c.backoff) {
				return nil
			}
			continue
		}

		if !c.handle(ctx, msg) {
			// cancelled mid-retry, leave the offset for redelivery
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("failed to commit event offset",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}
}

// handle reports false only when ctx was cancelled before the message was
// settled.
func (c *Consumer) handle(ctx context.Context, km kafka.Message) bool {
	msg := toMessage(km)
	for attempt := 1; ; attempt++ {
		err := c.handler.Handle(ctx, msg)
		if err == nil {
			return true
		}
		fields := []zap.Field{
			zap.String("topic", km.Topic),
			zap.Int("partition", km.Partition),
			zap.Int64("offset", km.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err),
		}
		if apperr.IsTerminal(err) || attempt >= c.maxAttempts {
			logger.Error("event handling failed, committing offset", fields...)
			return true
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return false
		}
		logger.Warn("event handling failed, retrying", fields...)
		if !sleep(ctx, c.backoff) {
			return false
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func toMessage(km kafka.Message) service.Message {
	headers := make(map[string]string, len(km.Headers))
	for _, h := range km.Headers {
		headers[h.Key] = string(h.Value)
	}
	return service.Message{
		Topic:     km.Topic,
		Partition: km.Partition,
		Offset:    km.Offset,
		Key:       km.Key,
		Value:     km.Value,
		Headers:   headers,
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
