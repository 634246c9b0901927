package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"build-bridge/src/contracts"
)

// Publisher encodes connector events as JSON and publishes them on their topics.
type Publisher struct {
	broker      Broker
	buildsTopic string
}

// NewPublisher wraps broker. Posted builds go to buildsTopic, or to
// contracts.TopicBuildsPosted when it is empty.
func NewPublisher(broker Broker, buildsTopic string) *Publisher {
	if buildsTopic == "" {
		buildsTopic = contracts.TopicBuildsPosted
	}
	return &Publisher{broker: broker, buildsTopic: buildsTopic}
}

// BuildPosted publishes ev keyed by its job path.
func (p *Publisher) BuildPosted(ctx context.Context, ev contracts.BuildPostedEvent) error {
	return p.publish(ctx, p.buildsTopic, ev.JobPath, ev)
}

// RunCompleted publishes ev keyed by its configuration name.
func (p *Publisher) RunCompleted(ctx context.Context, ev contracts.RunCompletedEvent) error {
	return p.publish(ctx, contracts.TopicRunsCompleted, ev.Config, ev)
}

func (p *Publisher) publish(ctx context.Context, topic, key string, ev interface{}) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", topic, err)
	}
	if err := p.broker.Publish(ctx, topic, key, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Close closes the underlying broker.
func (p *Publisher) Close() error {
	return p.broker.Close()
}
