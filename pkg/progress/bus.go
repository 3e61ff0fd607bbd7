package progress

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
)

// DefaultTopic is the bus topic progress updates are published on.
const DefaultTopic = "job.progress"

// NewGoChannelBus returns an in-process watermill pub/sub for progress.
//
// Publish blocks until the subscriber acks, which keeps per-job updates in
// order; the Relay acks as soon as the Hub has taken the update.
func NewGoChannelBus(buffer int64, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            buffer,
		BlockPublishUntilSubscriberAck: true,
	}, logger)
}

// BusPublisher publishes updates as JSON messages on a watermill topic.
type BusPublisher struct {
	publisher message.Publisher
	topic     string
	logger    *zap.Logger
}

// NewBusPublisher returns a BusPublisher. An empty topic uses DefaultTopic.
func NewBusPublisher(publisher message.Publisher, topic string, logger *zap.Logger) *BusPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BusPublisher{publisher: publisher, topic: topic, logger: logger}
}

func (b *BusPublisher) Publish(u Update) {
	payload, err := json.Marshal(u)
	if err != nil {
		b.logger.Warn("Failed to encode progress update", zap.String("job_id", u.JobID), zap.Error(err))
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("job_id", u.JobID)
	if err := b.publisher.Publish(b.topic, msg); err != nil {
		b.logger.Warn("Failed to publish progress update", zap.String("job_id", u.JobID), zap.Error(err))
	}
}

// Relay forwards updates from a watermill subscription to a Publisher,
// typically the Hub.
type Relay struct {
	subscriber message.Subscriber
	topic      string
	target     Publisher
	logger     *zap.Logger
}

// NewRelay returns a Relay. An empty topic uses DefaultTopic.
func NewRelay(subscriber message.Subscriber, topic string, target Publisher, logger *zap.Logger) *Relay {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{subscriber: subscriber, topic: topic, target: target, logger: logger}
}

// Start subscribes and forwards messages until ctx is done or the
// subscription closes. The subscription is established before Start
// returns, so updates published afterwards are not lost.
func (r *Relay) Start(ctx context.Context) (<-chan struct{}, error) {
	messages, err := r.subscriber.Subscribe(ctx, r.topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", r.topic, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range messages {
			r.handle(msg)
		}
	}()
	return done, nil
}

func (r *Relay) handle(msg *message.Message) {
	defer msg.Ack()

	var u Update
	if err := json.Unmarshal(msg.Payload, &u); err != nil {
		r.logger.Warn("Dropping malformed progress message",
			zap.String("message_id", msg.UUID),
			zap.Error(err))
		return
	}
	r.target.Publish(u)
}

// ZapLoggerAdapter lets watermill log through zap.
type ZapLoggerAdapter struct {
	logger *zap.Logger
}

var _ watermill.LoggerAdapter = (*ZapLoggerAdapter)(nil)

// NewZapLoggerAdapter wraps logger for watermill.
func NewZapLoggerAdapter(logger *zap.Logger) *ZapLoggerAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLoggerAdapter{logger: logger}
}

func (a *ZapLoggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

func (a *ZapLoggerAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Info(msg, zapFields(fields)...)
}

func (a *ZapLoggerAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, zapFields(fields)...)
}

// Trace maps to debug; zap has no trace level.
func (a *ZapLoggerAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, zapFields(fields)...)
}

func (a *ZapLoggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &ZapLoggerAdapter{logger: a.logger.With(zapFields(fields)...)}
}

func zapFields(fields watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}
