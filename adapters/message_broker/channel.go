package message_broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/waqar741/EchoAI/domain"
	"github.com/waqar741/EchoAI/utils/log"
)

const subscriberBuffer = 100

// ChannelMessageBroker implements MessageBroker using Go channels. Every
// subscriber of a topic and routing key pair gets its own buffered channel
// and sees every message published after it subscribed. A subscriber whose
// buffer is full misses the message; the publisher never blocks.
type ChannelMessageBroker struct {
	topics map[string][]chan domain.Message
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	now    func() time.Time
}

// NewChannelMessageBroker creates a new channel-based message broker
func NewChannelMessageBroker() *ChannelMessageBroker {
	return &ChannelMessageBroker{
		topics: make(map[string][]chan domain.Message),
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

// makeKey creates a unique key for topic and routingKey
func makeKey(topic, routingKey string) string {
	return topic + ":" + routingKey
}

// Publish delivers message to every current subscriber of topic and
// routingKey. It fails when some subscriber could not take the message.
func (b *ChannelMessageBroker) Publish(ctx context.Context, topic string, routingKey string, message []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("message broker is closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := domain.Message{
		Topic:      topic,
		RoutingKey: routingKey,
		Payload:    message,
		Timestamp:  b.now(),
	}

	subs := b.topics[makeKey(topic, routingKey)]
	dropped := 0
	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
			dropped++
		}
	}

	log.WithCtx(ctx).Debug("Message published",
		zap.String("topic", topic),
		zap.String("routingKey", routingKey),
		zap.Int("subscribers", len(subs)),
		zap.Int("payload_size", len(message)))

	if dropped > 0 {
		return fmt.Errorf("%d of %d subscribers of %s:%s are full", dropped, len(subs), topic, routingKey)
	}
	return nil
}

// Subscribe returns a channel of the messages published to topic and
// routingKey from now on. The channel is closed when ctx ends or the broker
// closes.
func (b *ChannelMessageBroker) Subscribe(ctx context.Context, topic string, routingKey string) (<-chan domain.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("message broker is closed")
	}

	key := makeKey(topic, routingKey)
	ch := make(chan domain.Message, subscriberBuffer)
	b.topics[key] = append(b.topics[key], ch)

	go func() {
		select {
		case <-ctx.Done():
			b.unsubscribe(key, ch)
		case <-b.done:
		}
	}()

	log.WithCtx(ctx).Debug("Subscribed to topic", zap.String("topic", topic), zap.String("routingKey", routingKey))
	return ch, nil
}

func (b *ChannelMessageBroker) unsubscribe(key string, ch chan domain.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[key]
	for i, c := range subs {
		if c != ch {
			continue
		}
		close(ch)
		subs = append(subs[:i], subs[i+1:]...)
		if len(subs) == 0 {
			delete(b.topics, key)
		} else {
			b.topics[key] = subs
		}
		return
	}
}

// Close closes the message broker and all subscriber channels
func (b *ChannelMessageBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)

	for key, subs := range b.topics {
		for _, ch := range subs {
			close(ch)
		}
		log.Debug("Closed topic", zap.String("key", key), zap.Int("subscribers", len(subs)))
	}
	b.topics = make(map[string][]chan domain.Message)
	return nil
}

// GetTopicCount returns the number of topics with at least one subscriber
func (b *ChannelMessageBroker) GetTopicCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics)
}

// IsClosed returns whether the broker is closed
func (b *ChannelMessageBroker) IsClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}
