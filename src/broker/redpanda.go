package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"build-bridge/src/logger"
)

const (
	// ClientID identifies the connector to the Kafka cluster.
	ClientID = "bldbridge"

	deliveryTimeout = 30 * time.Second
	flushTimeout    = 10 * time.Second
	tailBuffer      = 64
)

// contentType is stamped on every record; connector events are JSON.
var contentType = kgo.RecordHeader{Key: "content-type", Value: []byte("application/json")}

// RedpandaBroker publishes connector events to a Kafka compatible cluster
// and tails them for the events command.
type RedpandaBroker struct {
	producer *kgo.Client
	seeds    []string
	log      logger.Logger

	mu     sync.RWMutex
	tails  map[string]*kgo.Client // "topic:group"
	closed bool
}

// NewRedpandaBroker connects a producer to the seed brokers
// (e.g. ["localhost:19092"]). Topics are created on first publish.
func NewRedpandaBroker(seeds []string, log logger.Logger) (*RedpandaBroker, error) {
	if len(seeds) == 0 {
		return nil, fmt.Errorf("at least one broker address is required")
	}

	producer, err := kgo.NewClient(
		kgo.SeedBrokers(seeds...),
		kgo.ClientID(ClientID),
		kgo.AllowAutoTopicCreation(),
		kgo.RecordDeliveryTimeout(deliveryTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}

	return &RedpandaBroker{
		producer: producer,
		seeds:    seeds,
		log:      log,
		tails:    make(map[string]*kgo.Client),
	}, nil
}

// Publish writes one event and waits for the cluster to acknowledge it.
// Events with the same key (job path or config name) land on the same
// partition and so stay in order.
func (b *RedpandaBroker) Publish(ctx context.Context, topic string, key string, value []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	rec := &kgo.Record{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: []kgo.RecordHeader{contentType},
	}
	if err := b.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce to %s: %w", topic, err)
	}
	return nil
}

// Subscribe tails topic for groupID. A group seen for the first time starts
// at the end of the topic, so only events published from now on arrive; a
// known group resumes from its committed offset.
func (b *RedpandaBroker) Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	key := topic + ":" + groupID
	if _, ok := b.tails[key]; ok {
		return nil, fmt.Errorf("already subscribed to %s as group %s", topic, groupID)
	}

	tail, err := kgo.NewClient(
		kgo.SeedBrokers(b.seeds...),
		kgo.ClientID(ClientID),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer for %s: %w", topic, err)
	}
	b.tails[key] = tail

	out := make(chan Message, tailBuffer)
	go b.tail(ctx, tail, out)
	return out, nil
}

func (b *RedpandaBroker) tail(ctx context.Context, client *kgo.Client, out chan<- Message) {
	defer close(out)

	for ctx.Err() == nil {
		fetches := client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if ctx.Err() == nil {
				b.log.Warn("fetch error on %s[%d]: %v", topic, partition, err)
			}
		})

		for iter := fetches.RecordIter(); !iter.Done(); {
			rec := iter.Next()
			msg := Message{
				Topic:     rec.Topic,
				Key:       string(rec.Key),
				Value:     rec.Value,
				Offset:    rec.Offset,
				Partition: rec.Partition,
				Timestamp: rec.Timestamp.UnixMilli(),
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Close flushes anything still buffered by the producer, then closes the
// producer and every tail.
func (b *RedpandaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := b.producer.Flush(ctx); err != nil {
		b.log.Warn("unflushed events dropped on close: %v", err)
	}
	b.producer.Close()

	for key, tail := range b.tails {
		tail.Close()
		delete(b.tails, key)
	}
	return nil
}
