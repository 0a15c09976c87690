package bus

import (
	"context"
	"testing"
	"time"

	"github.com/solbasis/basisbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := New(10)
	sub := b.Subscribe("test")

	b.Publish(domain.Heartbeat{Timestamp: 12345})

	event, ok := sub.TryNext()
	require.True(t, ok)
	hb, ok := event.(domain.Heartbeat)
	require.True(t, ok)
	assert.Equal(t, int64(12345), hb.Timestamp)
}

func TestMultipleSubscribersSeeEveryEvent(t *testing.T) {
	b := New(10)
	sub1 := b.Subscribe("one")
	sub2 := b.Subscribe("two")

	b.Publish(domain.SystemResume{})

	e1, ok := sub1.TryNext()
	require.True(t, ok)
	assert.IsType(t, domain.SystemResume{}, e1)

	e2, ok := sub2.TryNext()
	require.True(t, ok)
	assert.IsType(t, domain.SystemResume{}, e2)
}

func TestSendOrderPreservedPerSubscriber(t *testing.T) {
	b := New(16)
	sub := b.Subscribe("ordered")

	for i := int64(0); i < 10; i++ {
		b.Publish(domain.Heartbeat{Timestamp: i})
	}

	for i := int64(0); i < 10; i++ {
		event, ok := sub.TryNext()
		require.True(t, ok)
		assert.Equal(t, i, event.(domain.Heartbeat).Timestamp)
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("slow")

	for i := int64(0); i < 10; i++ {
		b.Publish(domain.Heartbeat{Timestamp: i})
	}

	// Oldest six dropped; queue holds 6..9.
	event, ok := sub.TryNext()
	require.True(t, ok)
	assert.Equal(t, int64(6), event.(domain.Heartbeat).Timestamp)
	assert.Equal(t, uint64(6), sub.Lagged())
	// Lag counter resets after read.
	assert.Equal(t, uint64(0), sub.Lagged())
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := New(2)
	slow := b.Subscribe("slow")
	fast := b.Subscribe("fast")

	for i := int64(0); i < 5; i++ {
		b.Publish(domain.Heartbeat{Timestamp: i})
		event, ok := fast.TryNext()
		require.True(t, ok)
		assert.Equal(t, i, event.(domain.Heartbeat).Timestamp)
	}
	assert.Greater(t, slow.Lagged(), uint64(0))
}

func TestNextHonorsContext(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("ctx")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := sub.Next(ctx)
	assert.False(t, ok)
}

func TestCloseEndsSubscribers(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("closing")
	b.Close()

	_, ok := sub.Next(context.Background())
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestUnsubscribe(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("gone")
	keep := b.Subscribe("keep")
	sub.Unsubscribe()

	b.Publish(domain.SystemResume{})
	assert.Equal(t, 1, b.SubscriberCount())

	_, ok := keep.TryNext()
	assert.True(t, ok)
}
