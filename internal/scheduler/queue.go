package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/mohammed-shakir/tileloader/internal/tile"
)

var ErrClosed = errors.New("scheduler closed")

// Job asks a worker to load one tile. ID is a copy of Tile.ID so workers
// can use it without the manager lock.
type Job struct {
	Tile     *tile.Tile
	ID       tile.ID
	Distance float64
}

// queue hands the jobs of the latest pass to the workers in order. Workers
// block in next until a pass publishes jobs.
type queue struct {
	mu     sync.Mutex
	jobs   []Job
	pos    int
	closed bool
	wake   chan struct{}
}

func newQueue() *queue {
	return &queue{wake: make(chan struct{}, 1)}
}

func (q *queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// replace installs jobs and returns the jobs of the previous pass that no
// worker has taken.
func (q *queue) replace(jobs []Job) []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	stale := q.jobs[q.pos:]
	q.jobs = jobs
	q.pos = 0
	if len(jobs) > 0 {
		q.signal()
	}
	return stale
}

func (q *queue) next(ctx context.Context) (Job, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Job{}, ErrClosed
		}
		if q.pos < len(q.jobs) {
			j := q.jobs[q.pos]
			q.jobs[q.pos] = Job{}
			q.pos++
			if q.pos < len(q.jobs) {
				q.signal()
			}
			q.mu.Unlock()
			return j, nil
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-ctx.Done():
			return Job{}, ctx.Err()
		}
	}
}

func (q *queue) pending() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Job(nil), q.jobs[q.pos:]...)
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs) - q.pos
}

// close wakes every waiting worker and returns the untaken jobs.
func (q *queue) close() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	stale := q.jobs[q.pos:]
	q.jobs, q.pos = nil, 0
	close(q.wake)
	return stale
}
