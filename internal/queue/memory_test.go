package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when told to, so visibility timeouts expire
// without sleeping.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestMemoryQueue_SendReceiveDelete(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(time.Minute)

	require.NoError(t, q.Send(ctx, []byte("one")))
	require.NoError(t, q.Send(ctx, []byte("two")))

	msgs, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", string(msgs[0].Body))
	assert.Equal(t, 1, msgs[0].ReceiveCount)

	require.NoError(t, q.Delete(ctx, msgs[0].Receipt))
	require.NoError(t, q.Delete(ctx, msgs[1].Receipt))
	assert.Equal(t, 0, q.Len())
}

func TestMemoryQueue_VisibilityTimeoutRedelivers(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	q := NewMemoryQueue(time.Minute, WithClock(clock.Now))

	require.NoError(t, q.Send(ctx, []byte("work")))

	msgs, err := q.Receive(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// Still invisible.
	msgs, err = q.Receive(ctx, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	clock.Advance(2 * time.Minute)

	msgs, err = q.Receive(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 2, msgs[0].ReceiveCount)
}

func TestMemoryQueue_DeadLetterAfterMaxReceives(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	dlq := NewMemoryQueue(time.Minute, WithClock(clock.Now))
	q := NewMemoryQueue(time.Minute, WithClock(clock.Now), WithDeadLetter(dlq, 3))

	require.NoError(t, q.Send(ctx, []byte("poison")))

	for i := 1; i <= 3; i++ {
		msgs, err := q.Receive(ctx, 1, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1, "receive %d", i)
		assert.Equal(t, i, msgs[0].ReceiveCount)
		clock.Advance(2 * time.Minute)
	}

	// Fourth attempt moves the message to the dead-letter queue instead.
	msgs, err := q.Receive(ctx, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 1, dlq.Len())

	dead, err := dlq.Receive(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "poison", string(dead[0].Body))
}

func TestMemoryQueue_DeleteUnknownReceiptIsNoop(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	assert.NoError(t, q.Delete(context.Background(), "gone"))
}
