package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// PubSubConfig holds configuration for the Pub/Sub publisher.
type PubSubConfig struct {
	ProjectID string
	Topic     string
	Logger    zerolog.Logger
}

// PubSubPublisher publishes events to a Google Cloud Pub/Sub topic. Publish
// returns once the message is queued; delivery failures are logged.
type PubSubPublisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	logger    zerolog.Logger
	wg        sync.WaitGroup
}

// NewPubSubPublisher connects to Pub/Sub.
func NewPubSubPublisher(ctx context.Context, cfg PubSubConfig) (*PubSubPublisher, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	return &PubSubPublisher{
		client:    client,
		publisher: client.Publisher(cfg.Topic),
		logger:    cfg.Logger.With().Str("component", "events").Str("topic", cfg.Topic).Logger(),
	}, nil
}

// Publish implements Publisher.
func (p *PubSubPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event_type": e.Type,
			"session_id": e.SessionID,
		},
	})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		// The message is already queued; the caller's context may be gone.
		id, err := result.Get(context.WithoutCancel(ctx))
		if err != nil {
			p.logger.Warn().Err(err).Str("event_type", e.Type).Msg("failed to publish event")
			return
		}
		p.logger.Debug().Str("message_id", id).Str("event_type", e.Type).Msg("published event")
	}()
	return nil
}

// Close flushes pending messages and closes the client.
func (p *PubSubPublisher) Close() error {
	p.publisher.Stop()
	p.wg.Wait()
	return p.client.Close()
}
