// Package broker publishes connector events to a message broker.
package broker

import (
	"context"

	"build-bridge/src/logger"
)

// Broker carries connector events. RedpandaBroker talks to a Kafka
// compatible cluster; InMemoryBroker serves tests and runs without brokers.
type Broker interface {
	// Publish sends value on topic. On Kafka the key picks the partition,
	// so events sharing a key stay ordered; the in-memory broker ignores it.
	Publish(ctx context.Context, topic string, key string, value []byte) error

	// Subscribe streams the events of topic until ctx is done. groupID names
	// the Kafka consumer group and is ignored in memory.
	Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error)

	Close() error
}

// Message is one event as received by a subscriber.
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Offset    int64
	Partition int32
	Timestamp int64
}

// New returns a RedpandaBroker for the given seed brokers, or an
// InMemoryBroker when none are configured.
func New(brokers []string, log logger.Logger) (Broker, error) {
	if len(brokers) == 0 {
		return NewInMemoryBroker(), nil
	}
	return NewRedpandaBroker(brokers, log)
}
