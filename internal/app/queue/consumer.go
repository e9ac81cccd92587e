package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/keremalp/mentionrank/internal/app/model"
)

const (
	fetchBatch   = 10
	fetchMaxWait = 5 * time.Second
)

// Handler processes one delivered message body. A returned error naks
// the message for redelivery; handlers must tolerate at-least-once
// delivery.
type Handler func(ctx context.Context, data []byte) error

// Consumer is a durable pull consumer on one pipeline subject.
type Consumer struct {
	js      nats.JetStreamContext
	logger  *zap.Logger
	subject string
	durable string
	handler Handler
}

// NewConsumer creates a consumer binding a handler to a subject.
func NewConsumer(js nats.JetStreamContext, logger *zap.Logger, subject, durable string, handler Handler) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		js:      js,
		logger:  logger,
		subject: subject,
		durable: durable,
		handler: handler,
	}
}

// Start ensures the durable consumer exists and begins the pull loop.
func (c *Consumer) Start(ctx context.Context) error {
	_, err := c.js.ConsumerInfo(model.PipelineStreamName, c.durable)
	if err != nil {
		_, err = c.js.AddConsumer(model.PipelineStreamName, &nats.ConsumerConfig{
			Durable:       c.durable,
			AckPolicy:     nats.AckExplicitPolicy,
			FilterSubject: c.subject,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", c.durable, err)
		}
	}

	sub, err := c.js.PullSubscribe(c.subject, c.durable)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.subject, err)
	}

	go c.consume(ctx, sub)
	return nil
}

func (c *Consumer) consume(ctx context.Context, sub *nats.Subscription) {
	for {
		if ctx.Err() != nil {
			c.logger.Info("consumer stopped", zap.String("subject", c.subject))
			return
		}

		msgs, err := sub.Fetch(fetchBatch, nats.MaxWait(fetchMaxWait))
		if err != nil && err != nats.ErrTimeout {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("failed to fetch messages",
				zap.String("subject", c.subject), zap.Error(err))
			continue
		}

		for _, msg := range msgs {
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg *nats.Msg) {
	// Scheduled messages delivered early go back with the remaining
	// wait.
	if wait := remainingDelay(msg); wait > 0 {
		_ = msg.NakWithDelay(wait)
		return
	}

	if err := c.handler(ctx, msg.Data); err != nil {
		c.logger.Error("message handling failed",
			zap.String("subject", c.subject), zap.Error(err))
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

func remainingDelay(msg *nats.Msg) time.Duration {
	raw := msg.Header.Get(HeaderNotBefore)
	if raw == "" {
		return 0
	}
	notBefore, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return time.Until(time.UnixMilli(notBefore))
}
