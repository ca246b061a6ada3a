// Package pubsub publishes operator notifications to a Google Cloud Pub/Sub
// topic so downstream systems can react to them.
package pubsub

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	jsoniter "github.com/json-iterator/go"

	"github.com/JakeFAU/channel-appraiser/internal/notify"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	topic *pubsub.Topic
}

// New creates a Publisher for topic.
func New(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic}
}

// Dial connects to projectID and returns a Publisher for topicID along with
// a closer for the client.
func Dial(ctx context.Context, projectID, topicID string) (*Publisher, func() error, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	closer := func() error {
		topic.Stop()
		return client.Close()
	}
	return New(topic), closer, nil
}

// Notify marshals the event to JSON and waits for the publish to settle.
func (p *Publisher) Notify(ctx context.Context, event notify.Event) error {
	if p.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"kind": event.Kind},
	}
	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
