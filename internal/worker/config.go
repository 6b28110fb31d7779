// Package worker consumes export events from Pub/Sub and keeps an audit
// trail of finished exports.
package worker

import (
	"time"

	"github.com/rs/zerolog"
)

// ConsumerConfig holds configuration for the Pub/Sub consumer.
type ConsumerConfig struct {
	ProjectID        string
	SubscriptionName string

	// Recorder handles every decoded event.
	Recorder *Recorder

	// MaxOutstanding bounds unacknowledged messages held at once.
	// Default: 10
	MaxOutstanding int

	// MaxExtension is how long a message's ack deadline may be extended.
	// Default: 10 minutes
	MaxExtension time.Duration

	// HandleTimeout bounds the handling of one message.
	// Default: 30 seconds
	HandleTimeout time.Duration

	Logger zerolog.Logger
}

// DefaultConsumerConfig returns the consumer defaults for a subscription.
func DefaultConsumerConfig(projectID, subscription string) ConsumerConfig {
	return ConsumerConfig{
		ProjectID:        projectID,
		SubscriptionName: subscription,
		MaxOutstanding:   10,
		MaxExtension:     10 * time.Minute,
		HandleTimeout:    30 * time.Second,
	}
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	d := DefaultConsumerConfig(c.ProjectID, c.SubscriptionName)
	if c.MaxOutstanding <= 0 {
		c.MaxOutstanding = d.MaxOutstanding
	}
	if c.MaxExtension <= 0 {
		c.MaxExtension = d.MaxExtension
	}
	if c.HandleTimeout <= 0 {
		c.HandleTimeout = d.HandleTimeout
	}
	return c
}
