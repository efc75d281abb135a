package message_broker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waqar741/EchoAI/domain"
)

func TestChannelMessageBroker_DeliversInOrder(t *testing.T) {
	b := NewChannelMessageBroker()
	defer b.Close()
	ctx := context.Background()

	ch, err := b.Subscribe(ctx, domain.SpeechStateTopic, "s1")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, domain.SpeechStateTopic, "s1", []byte("one")))
	require.NoError(t, b.Publish(ctx, domain.SpeechStateTopic, "s1", []byte("two")))

	first, second := <-ch, <-ch
	assert.Equal(t, "one", string(first.Payload))
	assert.Equal(t, "two", string(second.Payload))
	assert.Equal(t, "s1", first.RoutingKey)
	assert.Equal(t, 1, b.GetTopicCount())
}

func TestChannelMessageBroker_FansOutToEverySubscriber(t *testing.T) {
	b := NewChannelMessageBroker()
	defer b.Close()
	ctx := context.Background()

	a, err := b.Subscribe(ctx, "t", "k")
	require.NoError(t, err)
	c, err := b.Subscribe(ctx, "t", "k")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "t", "k", []byte("x")))
	assert.Equal(t, "x", string((<-a).Payload))
	assert.Equal(t, "x", string((<-c).Payload))
}

func TestChannelMessageBroker_NoSubscribersIsNotAnError(t *testing.T) {
	b := NewChannelMessageBroker()
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, "t", "k", []byte("lost")))

	ch, err := b.Subscribe(ctx, "t", "k")
	require.NoError(t, err)
	assert.Empty(t, ch)
}

func TestChannelMessageBroker_RoutingKeysAreIsolated(t *testing.T) {
	b := NewChannelMessageBroker()
	defer b.Close()
	ctx := context.Background()

	a, err := b.Subscribe(ctx, domain.SpeechStateTopic, "a")
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, domain.SpeechStateTopic, "b")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, domain.SpeechStateTopic, "b", []byte("x")))
	assert.Empty(t, a)
}

func TestChannelMessageBroker_FullSubscriberMissesMessage(t *testing.T) {
	b := NewChannelMessageBroker()
	defer b.Close()
	ctx := context.Background()

	slow, err := b.Subscribe(ctx, "t", "k")
	require.NoError(t, err)
	for i := 0; i < subscriberBuffer; i++ {
		require.NoError(t, b.Publish(ctx, "t", "k", []byte(fmt.Sprint(i))))
	}

	fast, err := b.Subscribe(ctx, "t", "k")
	require.NoError(t, err)
	assert.Error(t, b.Publish(ctx, "t", "k", []byte("overflow")))

	assert.Equal(t, "overflow", string((<-fast).Payload))
	assert.Len(t, slow, subscriberBuffer)
	assert.Equal(t, "0", string((<-slow).Payload))
}

func TestChannelMessageBroker_CancelledSubscriptionIsClosed(t *testing.T) {
	b := NewChannelMessageBroker()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx, "t", "k")
	require.NoError(t, err)

	cancel()
	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
	assert.Zero(t, b.GetTopicCount())
	assert.NoError(t, b.Publish(context.Background(), "t", "k", nil))
}

func TestChannelMessageBroker_CloseClosesSubscribers(t *testing.T) {
	b := NewChannelMessageBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, "t", "k")
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, open := <-ch
	assert.False(t, open)
	assert.True(t, b.IsClosed())
	assert.Error(t, b.Publish(ctx, "t", "k", nil))
	_, err = b.Subscribe(ctx, "t", "k")
	assert.Error(t, err)

	// the subscription ending after Close must not close the channel twice
	cancel()
	time.Sleep(10 * time.Millisecond)
}

func TestChannelMessageBroker_ConcurrentPublishers(t *testing.T) {
	b := NewChannelMessageBroker()
	defer b.Close()
	ctx := context.Background()

	ch, err := b.Subscribe(ctx, "t", "k")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Publish(ctx, "t", "k", []byte("x"))
		}()
	}
	wg.Wait()
	assert.Len(t, ch, 10)
}
