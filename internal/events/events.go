// Package events publishes lead lifecycle notifications. The engine treats
// publishing as fire-and-forget: downstream consumers (billing, CRM sync)
// must tolerate missing events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// Event types emitted by the engine.
const (
	TypeJobStarted   = "job.started"
	TypeJobCompleted = "job.completed"
	TypeJobFailed    = "job.failed"
	TypeLeadCreated  = "lead.created"
	TypeLeadEnriched = "lead.enriched"
)

// Event is one lifecycle notification.
type Event struct {
	Type    string    `json:"type"`
	OwnerID string    `json:"owner_id"`
	JobID   string    `json:"job_id,omitempty"`
	LeadID  string    `json:"lead_id,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher sends lifecycle events somewhere.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NoOpPublisher discards all events. Used in tests and single-binary runs
// with no broker configured.
type NoOpPublisher struct{}

// Publish does nothing.
func (NoOpPublisher) Publish(_ context.Context, _ Event) error { return nil }

// Close does nothing.
func (NoOpPublisher) Close() error { return nil }

// PubSubPublisher sends events to a Google Cloud Pub/Sub topic.
// Authentication uses Application Default Credentials.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
}

// NewPubSubPublisher connects to the topic and fails fast when it does not
// exist.
func NewPubSubPublisher(ctx context.Context, projectID, topicID string, logger *zap.Logger) (*PubSubPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("closing pubsub client after existence check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("closing pubsub client after missing topic", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}

	return &PubSubPublisher{client: client, topic: topic, logger: logger}, nil
}

// Publish enqueues the event. The send itself is asynchronous; the client
// batches and retries in the background.
func (p *PubSubPublisher) Publish(ctx context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	p.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"type":     event.Type,
			"owner_id": event.OwnerID,
		},
	})
	return nil
}

// Close flushes pending sends and releases the client.
func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
