// Copyright 2024-2026 Aiku AI

package media

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"go.mau.fi/util/random"
)

// Job is one unit of media work: fetch, convert, deliver.
type Job func(ctx context.Context)

// Queue runs media jobs on a fixed pool of workers so that CPU-bound
// transcodes never stall message dispatch. Submissions after Close are
// rejected rather than panicking.
type Queue struct {
	jobs chan queuedJob
	ctx  context.Context
	log  zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type queuedJob struct {
	id  string
	run Job
}

// NewQueue starts workers goroutines draining the job channel. ctx is
// passed to every job; cancelling it aborts in-flight work.
func NewQueue(ctx context.Context, workers, buffer int, log zerolog.Logger) *Queue {
	if workers <= 0 {
		workers = 2
	}
	if buffer < workers {
		buffer = workers * 8
	}
	q := &Queue{
		jobs: make(chan queuedJob, buffer),
		ctx:  ctx,
		log:  log.With().Str("component", "media_queue").Logger(),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for job := range q.jobs {
		q.log.Debug().Str("job_id", job.id).Msg("Running media job")
		job.run(q.ctx)
	}
}

// Submit enqueues a job, blocking if the buffer is full. It returns false
// when the queue has been closed.
func (q *Queue) Submit(job Job) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	queued := queuedJob{id: random.String(8), run: job}
	q.jobs <- queued
	q.mu.Unlock()
	return true
}

// Close stops accepting jobs and waits for queued and in-flight work to
// finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	q.wg.Wait()
}
