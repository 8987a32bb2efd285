package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Slipstreamm/openguard/internal/models"
)

var (
	ErrQueueFull   = errors.New("enforcement queue full")
	ErrQueueClosed = errors.New("enforcement queue closed")
)

type JobPriority uint8

const (
	PriorityLow JobPriority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

const priorityLevels = int(PriorityCritical) + 1

// PriorityFor orders the queue: escalations first, then removals.
func PriorityFor(kind models.ActionKind) JobPriority {
	switch kind {
	case models.ActionEscalate:
		return PriorityCritical
	case models.ActionBan, models.ActionKick:
		return PriorityHigh
	case models.ActionTimeout:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// Job is one decision waiting for an executor worker. Ctx is the owning
// guild's context; Done, if set, receives the result on the worker.
type Job struct {
	Priority JobPriority
	Decision models.Decision
	Ctx      context.Context
	Done     func(*models.Infraction, error)
	Enqueued time.Time
}

// JobQueue is a bounded FIFO per priority level.
type JobQueue struct {
	mu     sync.Mutex
	levels [priorityLevels][]*Job
	ready  chan struct{}
	closed chan struct{}
	once   sync.Once
}

func NewJobQueue(capacity int) *JobQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &JobQueue{
		ready:  make(chan struct{}, capacity),
		closed: make(chan struct{}),
	}
}

// Enqueue never blocks; a full queue rejects the job.
func (q *JobQueue) Enqueue(job *Job) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}

	q.mu.Lock()
	select {
	case q.ready <- struct{}{}:
	default:
		q.mu.Unlock()
		return ErrQueueFull
	}
	lvl := job.Priority
	if int(lvl) >= priorityLevels {
		lvl = PriorityCritical
	}
	q.levels[lvl] = append(q.levels[lvl], job)
	q.mu.Unlock()
	return nil
}

// Dequeue blocks for the highest priority job.
func (q *JobQueue) Dequeue(ctx context.Context) (*Job, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.closed:
		return nil, ErrQueueClosed
	case <-q.ready:
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for lvl := priorityLevels - 1; lvl >= 0; lvl-- {
		if len(q.levels[lvl]) > 0 {
			job := q.levels[lvl][0]
			q.levels[lvl][0] = nil
			q.levels[lvl] = q.levels[lvl][1:]
			return job, nil
		}
	}
	return nil, ErrQueueClosed
}

// Drain removes every queued job without running it.
func (q *JobQueue) Drain() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*Job
	for lvl := priorityLevels - 1; lvl >= 0; lvl-- {
		out = append(out, q.levels[lvl]...)
		q.levels[lvl] = nil
	}
	for range out {
		select {
		case <-q.ready:
		default:
		}
	}
	return out
}

func (q *JobQueue) Close() {
	q.once.Do(func() { close(q.closed) })
}

func (q *JobQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, l := range q.levels {
		n += len(l)
	}
	return n
}
