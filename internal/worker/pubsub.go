package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// PubSubHandler feeds Pub/Sub messages to a Recorder.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	recorder         *Recorder
	timeout          time.Duration
	logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg ConsumerConfig) (*PubSubHandler, error) {
	cfg = cfg.withDefaults()

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)
	subscriber.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstanding
	subscriber.ReceiveSettings.MaxExtension = cfg.MaxExtension

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		recorder:         cfg.Recorder,
		timeout:          cfg.HandleTimeout,
		logger:           cfg.Logger.With().Str("component", "worker").Logger(),
	}, nil
}

// Start processes messages until ctx is done.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	start := time.Now()

	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if Ack(h.recorder.Handle(ctx, msg.Data), logger) {
		msg.Ack()
	} else {
		msg.Nack()
	}

	logger.Debug().Dur("duration", time.Since(start)).Msg("message handled")
}

// Ack decides whether a message handled with err is acknowledged. Malformed
// messages are acknowledged and logged, other failures are redelivered.
func Ack(err error, logger zerolog.Logger) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrMalformedEvent):
		logger.Error().Err(err).Msg("dropping malformed message")
		return true
	default:
		logger.Error().Err(err).Msg("message failed")
		return false
	}
}
