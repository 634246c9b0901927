package broker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by a broker after Close.
var ErrClosed = errors.New("broker is closed")

type subscriber struct {
	ctx context.Context
	ch  chan Message
}

// InMemoryBroker delivers messages to the subscribers of a topic within one
// process. Messages published before a subscription are not replayed.
type InMemoryBroker struct {
	mu      sync.Mutex
	subs    map[string][]*subscriber
	offsets map[string]int64
	closed  bool
	done    chan struct{}
}

// NewInMemoryBroker creates a new InMemoryBroker instance.
func NewInMemoryBroker() *InMemoryBroker {
	return &InMemoryBroker{
		subs:    make(map[string][]*subscriber),
		offsets: make(map[string]int64),
		done:    make(chan struct{}),
	}
}

// Publish hands the message to every current subscriber of topic. It blocks
// while a subscriber's buffer is full.
func (b *InMemoryBroker) Publish(ctx context.Context, topic string, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	msg := Message{
		Topic:     topic,
		Key:       key,
		Value:     value,
		Offset:    b.offsets[topic],
		Timestamp: time.Now().UnixMilli(),
	}
	b.offsets[topic]++

	for _, s := range b.subs[topic] {
		select {
		case s.ch <- msg:
		case <-s.ctx.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe returns a channel of the messages published to topic from now on.
// The channel is closed when ctx ends or the broker is closed. groupID is ignored.
func (b *InMemoryBroker) Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	s := &subscriber{ctx: ctx, ch: make(chan Message, 100)}
	b.subs[topic] = append(b.subs[topic], s)

	go func() {
		select {
		case <-ctx.Done():
			b.unsubscribe(topic, s)
		case <-b.done:
		}
	}()
	return s.ch, nil
}

func (b *InMemoryBroker) unsubscribe(topic string, target *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, s := range subs {
		if s == target {
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// Close closes every subscription channel.
func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	for topic, subs := range b.subs {
		for _, s := range subs {
			close(s.ch)
		}
		delete(b.subs, topic)
	}
	return nil
}
