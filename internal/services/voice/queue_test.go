package voice

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voxguard-tgbot-go/internal/middleware"
)

func newQueue(t *testing.T, workers int) *Queue {
	t.Helper()
	q := NewQueue(workers, 16, middleware.NewMetrics(), logrus.New())
	q.Start()
	t.Cleanup(q.Stop)
	return q
}

func TestSubmitReturnsJobResult(t *testing.T) {
	q := newQueue(t, 1)

	path, err := q.Submit(context.Background(), func(ctx context.Context) (string, error) {
		return "/tmp/out.wav", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/out.wav", path)
}

func TestSubmitPropagatesJobError(t *testing.T) {
	q := newQueue(t, 1)

	jobErr := errors.New("engine exploded")
	_, err := q.Submit(context.Background(), func(ctx context.Context) (string, error) {
		return "", jobErr
	})
	assert.ErrorIs(t, err, jobErr)
}

func TestSingleWorkerSerializesJobs(t *testing.T) {
	q := newQueue(t, 1)

	var running int32
	var maxRunning int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Submit(context.Background(), func(ctx context.Context) (string, error) {
				now := atomic.AddInt32(&running, 1)
				for {
					prev := atomic.LoadInt32(&maxRunning)
					if now <= prev || atomic.CompareAndSwapInt32(&maxRunning, prev, now) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return "", nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
}

func TestSubmitHonorsContextCancellation(t *testing.T) {
	q := newQueue(t, 1)

	release := make(chan struct{})
	go q.Submit(context.Background(), func(ctx context.Context) (string, error) {
		<-release
		return "", nil
	})

	// Give the blocker time to occupy the worker.
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Submit(ctx, func(ctx context.Context) (string, error) {
		return "should not matter", nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestStoppedQueueRejectsSubmissions(t *testing.T) {
	q := NewQueue(1, 4, middleware.NewMetrics(), logrus.New())
	q.Start()
	q.Stop()

	_, err := q.Submit(context.Background(), func(ctx context.Context) (string, error) {
		return "", nil
	})
	assert.ErrorIs(t, err, ErrQueueClosed)
}
