// Package queue wraps NATS JetStream with the pipeline's delivery
// conventions: durable pull consumers per stage, enqueue retry with
// capped exponential backoff, and delayed redelivery for scheduled
// retries.
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

// HeaderNotBefore carries the earliest processing time of a delayed
// message. Consumers nak messages seen before this instant.
const HeaderNotBefore = "Mentionrank-Not-Before"

const (
	enqueueBaseDelay = 100 * time.Millisecond
	enqueueMaxDelay  = 5 * time.Second
)

// Setup ensures the pipeline stream exists.
func Setup(js nats.JetStreamContext) error {
	_, err := js.StreamInfo(model.PipelineStreamName)
	if err == nil {
		return nil
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     model.PipelineStreamName,
		Subjects: []string{model.PipelineStreamSubjects},
		MaxBytes: model.PipelineStreamMaxBytes,
	})
	if err != nil {
		return fmt.Errorf("create pipeline stream: %w", err)
	}
	return nil
}

// Publisher publishes pipeline messages to NATS JetStream.
type Publisher struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewPublisher creates a pipeline message publisher.
func NewPublisher(js nats.JetStreamContext, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{js: js, logger: logger}
}

// Publish marshals and publishes a payload. Transient broker errors
// (congestion, timeouts) are retried with exponential backoff until
// the context is done; messages are never silently dropped.
func (p *Publisher) Publish(ctx context.Context, subject string, payload any) error {
	return p.publish(ctx, subject, payload, 0)
}

// PublishDelayed publishes a payload that must not be processed before
// the given delay has elapsed. The delay rides on a header; consumers
// nak early deliveries back with the remaining wait.
func (p *Publisher) PublishDelayed(ctx context.Context, subject string, payload any, delay time.Duration) error {
	return p.publish(ctx, subject, payload, delay)
}

func (p *Publisher) publish(ctx context.Context, subject string, payload any, delay time.Duration) error {
	data, err := model.EncodeMessage(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", subject, err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	if delay > 0 {
		notBefore := time.Now().Add(delay).UnixMilli()
		msg.Header.Set(HeaderNotBefore, strconv.FormatInt(notBefore, 10))
	}

	backoff := enqueueBaseDelay
	for attempt := 1; ; attempt++ {
		_, err = p.js.PublishMsg(msg, nats.Context(ctx))
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("publish %s: %w", subject, err)
		}

		p.logger.Warn("enqueue failed, backing off",
			zap.String("subject", subject),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("publish %s: %w", subject, ctx.Err())
		}
		backoff *= 2
		if backoff > enqueueMaxDelay {
			backoff = enqueueMaxDelay
		}
	}
}
