package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRetriesFailedJobs(t *testing.T) {
	var attempts int32
	done := make(chan struct{})
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("not yet")
		}
		close(done)
		return nil
	}, QueueConfig{MaxRetries: 5, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "1"}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job never succeeded")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestQueueNegativeRetriesRunOnce(t *testing.T) {
	var attempts int32
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("fail")
	}, QueueConfig{MaxRetries: -1, RetryDelay: time.Millisecond})
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job{ID: "1"}))
	time.Sleep(50 * time.Millisecond)
	q.Stop()
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestTryEnqueue(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		started <- struct{}{}
		<-release
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})

	assert.False(t, q.TryEnqueue(Job{ID: "early"}), "not started")

	q.Start(context.Background())
	require.True(t, q.TryEnqueue(Job{ID: "running"}))
	<-started
	assert.True(t, q.TryEnqueue(Job{ID: "buffered"}))
	assert.False(t, q.TryEnqueue(Job{ID: "overflow"}))

	close(release)
	q.Stop()
	assert.False(t, q.TryEnqueue(Job{ID: "late"}), "stopped")

	err := q.Enqueue(Job{ID: "late"})
	assert.Error(t, err)
}
