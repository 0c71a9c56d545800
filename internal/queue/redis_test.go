package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisQueue(t *testing.T, reliable bool) (*RedisQueue, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := NewRedis(client, RedisOptions{
		Name:       "hlas_chat_queue",
		Reliable:   reliable,
		Visibility: time.Minute,
	})
	return q, mr, client
}

func TestRedisQueue_PushPopFIFO(t *testing.T) {
	q, mr, _ := newTestRedisQueue(t, false)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, []byte(`{"id":"1"}`)))
	require.NoError(t, q.Push(ctx, []byte(`{"id":"2"}`)))

	// Producers append to the tail of a plain list.
	list, err := mr.List("hlas_chat_queue")
	require.NoError(t, err)
	assert.Equal(t, []string{`{"id":"1"}`, `{"id":"2"}`}, list)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	d, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, `{"id":"1"}`, string(d.Payload))
	assert.Empty(t, d.Receipt)
	require.NoError(t, q.Ack(ctx, d))

	d, err = q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"2"}`, string(d.Payload))
}

func TestRedisQueue_PopTimeoutReturnsNil(t *testing.T) {
	q, _, _ := newTestRedisQueue(t, false)
	d, err := q.Pop(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestRedisQueue_PushUnavailable(t *testing.T) {
	q, mr, _ := newTestRedisQueue(t, false)
	mr.Close()

	err := q.Push(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRedisQueue_ReliableAckRemovesLease(t *testing.T) {
	q, mr, _ := newTestRedisQueue(t, true)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, []byte("job-a")))
	d, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "job-a", d.Receipt)

	inflight, err := q.InFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), inflight)
	assert.True(t, mr.Exists("hlas_chat_queue:leases"))

	require.NoError(t, q.Ack(ctx, d))
	inflight, _ = q.InFlight(ctx)
	assert.Equal(t, int64(0), inflight)
	assert.False(t, mr.Exists("hlas_chat_queue:leases"))
}

func TestRedisQueue_ReclaimExpiredLease(t *testing.T) {
	q, _, _ := newTestRedisQueue(t, true)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, []byte("job-a")))
	require.NoError(t, q.Push(ctx, []byte("job-b")))
	d, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "job-a", string(d.Payload))

	// Lease still valid: nothing moves.
	n, err := q.Reclaim(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Worker died; after the visibility timeout the job goes back to the head.
	n, err = q.Reclaim(ctx, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d, err = q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "job-a", string(d.Payload))
}

func TestRedisQueue_ReclaimLeasesOrphans(t *testing.T) {
	q, _, client := newTestRedisQueue(t, true)
	ctx := context.Background()

	// A job moved to processing without a lease entry.
	require.NoError(t, client.RPush(ctx, "hlas_chat_queue:processing", "orphan").Err())

	n, err := q.Reclaim(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	score, err := client.ZScore(ctx, "hlas_chat_queue:leases", "orphan").Result()
	require.NoError(t, err)
	assert.Greater(t, score, float64(time.Now().UnixMilli()))

	n, err = q.Reclaim(ctx, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	l, _ := q.Len(ctx)
	assert.Equal(t, int64(1), l)
}

func TestRedisQueue_NonReliableReclaimIsNoop(t *testing.T) {
	q, _, _ := newTestRedisQueue(t, false)
	n, err := q.Reclaim(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}
