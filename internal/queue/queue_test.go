package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agencyhq/backend/internal/config"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	OrderID string `json:"order_id"`
}

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueue(client, nil), mr
}

func TestEnqueueDequeue(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "orders", payload{OrderID: "o-1"})
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, 100*time.Millisecond, "orders")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, JobStatusProcessing, job.Status)

	var p payload
	require.NoError(t, job.Decode(&p))
	assert.Equal(t, "o-1", p.OrderID)

	require.NoError(t, q.Complete(ctx, job))
	stored, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, stored.Status)
}

func TestDelayedJobBecomesVisible(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.EnqueueIn(ctx, "orders", payload{OrderID: "o-2"}, time.Minute)
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, 50*time.Millisecond, "orders")
	require.NoError(t, err)
	assert.Nil(t, job)

	q.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	job, err = q.Dequeue(ctx, 50*time.Millisecond, "orders")
	require.NoError(t, err)
	require.NotNil(t, job)
}

func TestFailRetriesThenParks(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "orders", payload{OrderID: "o-3"}, WithMaxRetries(1))
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, 50*time.Millisecond, "orders")
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, job, errors.New("smtp down")))
	stats, err := q.Stats(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Delayed)

	q.now = func() time.Time { return time.Now().Add(time.Hour) }
	job, err = q.Dequeue(ctx, 50*time.Millisecond, "orders")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, "smtp down", job.LastError)

	require.NoError(t, q.Fail(ctx, job, errors.New("smtp still down")))
	stats, err = q.Stats(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Delayed)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestCalculateBackoff(t *testing.T) {
	for retry := 1; retry <= 12; retry++ {
		d := calculateBackoff(retry)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Duration(float64(time.Hour)*1.2))
	}
	assert.Less(t, calculateBackoff(1), 13*time.Second)
}

func TestProcessJob(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	p := NewJobProcessor(q, 1, nil)

	var seen string
	p.RegisterHandler("orders", func(ctx context.Context, job *Job) error {
		var pl payload
		if err := job.Decode(&pl); err != nil {
			return err
		}
		seen = pl.OrderID
		return nil
	})
	p.RegisterHandler("broken", func(ctx context.Context, job *Job) error {
		return errors.New("boom")
	})
	assert.Equal(t, []string{"broken", "orders"}, p.Queues())

	_, err := q.Enqueue(ctx, "orders", payload{OrderID: "o-4"})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, 50*time.Millisecond, p.Queues()...)
	require.NoError(t, err)
	require.NoError(t, p.ProcessJob(ctx, job))
	assert.Equal(t, "o-4", seen)

	_, err = q.Enqueue(ctx, "broken", payload{})
	require.NoError(t, err)
	job, err = q.Dequeue(ctx, 50*time.Millisecond, "broken")
	require.NoError(t, err)
	assert.Error(t, p.ProcessJob(ctx, job))
	stats, err := q.Stats(ctx, "broken")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Delayed)

	assert.Error(t, p.ProcessJob(ctx, &Job{ID: "x", Queue: "unknown", MaxRetries: 0}))
}

func TestProcessorStartStop(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	p := NewJobProcessor(q, 2, nil)
	p.pollTimeout = 50 * time.Millisecond

	done := make(chan string, 1)
	p.RegisterHandler("orders", func(ctx context.Context, job *Job) error {
		var pl payload
		_ = job.Decode(&pl)
		done <- pl.OrderID
		return nil
	})
	p.Start()
	defer p.Stop()

	_, err := q.Enqueue(ctx, "orders", payload{OrderID: "o-5"})
	require.NoError(t, err)

	select {
	case id := <-done:
		assert.Equal(t, "o-5", id)
	case <-time.After(3 * time.Second):
		t.Fatal("job was not processed")
	}
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	for _, url := range []string{mr.Addr(), "redis://" + mr.Addr() + "/0"} {
		client, err := NewRedisClient(ctx, config.RedisConfig{URL: url})
		require.NoError(t, err, url)
		require.NoError(t, client.Set(ctx, "k", "v", 0).Err())
		_ = client.Close()
	}

	mr.Close()
	_, err := NewRedisClient(ctx, config.RedisConfig{URL: mr.Addr()})
	assert.Error(t, err)
}
