package voice

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/voxguard-tgbot-go/internal/middleware"
)

// ErrQueueClosed indicates a submit raced with shutdown.
var ErrQueueClosed = errors.New("engine queue closed")

// Job is one unit of engine work. It returns the path of whatever artifact
// it produced.
type Job func(ctx context.Context) (string, error)

type task struct {
	ctx    context.Context
	job    Job
	result chan taskResult
}

type taskResult struct {
	path string
	err  error
}

// Queue serializes access to the voice engine. With the default single
// worker the engine performs one embedding or synthesis job at a time
// system-wide while store reads and moderation stay concurrent; raising the
// worker count trades that serialization for throughput.
type Queue struct {
	tasks   chan task
	workers int
	metrics *middleware.Metrics
	logger  *logrus.Logger

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewQueue creates the queue. workers and backlog must be positive.
func NewQueue(workers, backlog int, metrics *middleware.Metrics, logger *logrus.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	if backlog < 1 {
		backlog = 1
	}
	return &Queue{
		tasks:   make(chan task, backlog),
		workers: workers,
		metrics: metrics,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start launches the workers.
func (q *Queue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.run()
	}
}

// Stop prevents further submissions, fails queued jobs fast and waits for
// in-flight ones.
func (q *Queue) Stop() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
	q.wg.Wait()
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			for {
				select {
				case t := <-q.tasks:
					t.result <- taskResult{err: ErrQueueClosed}
				default:
					return
				}
			}
		case t := <-q.tasks:
			q.metrics.SetQueueDepth(float64(len(q.tasks)))
			if t.ctx.Err() != nil {
				t.result <- taskResult{err: t.ctx.Err()}
				continue
			}
			path, err := t.job(t.ctx)
			t.result <- taskResult{path: path, err: err}
		}
	}
}

// Submit enqueues the job and blocks until it completes or ctx is done.
// A job abandoned by its caller still runs to completion on the worker; the
// caller just stops waiting.
func (q *Queue) Submit(ctx context.Context, job Job) (string, error) {
	t := task{ctx: ctx, job: job, result: make(chan taskResult, 1)}

	select {
	case <-q.done:
		return "", ErrQueueClosed
	case <-ctx.Done():
		return "", ctx.Err()
	case q.tasks <- t:
	}
	q.metrics.SetQueueDepth(float64(len(q.tasks)))

	select {
	case res := <-t.result:
		return res.path, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
