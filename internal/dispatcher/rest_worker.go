package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Slipstreamm/openguard/internal/logging"
	"github.com/Slipstreamm/openguard/internal/metrics"
	"github.com/Slipstreamm/openguard/internal/models"
)

// Dispatcher runs a fixed pool of workers draining the job queue into the
// executor.
type Dispatcher struct {
	exec    *Executor
	queue   *JobQueue
	workers int
	wg      sync.WaitGroup
	Health  *metrics.LoopHealth
}

func NewDispatcher(exec *Executor, workers, queueSize int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		exec:    exec,
		queue:   NewJobQueue(queueSize),
		workers: workers,
		Health:  metrics.NewLoopHealth("dispatcher", time.Minute),
	}
}

// Submit queues d for execution under the guild's context.
func (ds *Dispatcher) Submit(ctx context.Context, d models.Decision, done func(*models.Infraction, error)) error {
	err := ds.queue.Enqueue(&Job{
		Priority: PriorityFor(d.Action),
		Decision: d,
		Ctx:      ctx,
		Done:     done,
		Enqueued: time.Now(),
	})
	if err != nil {
		metrics.EventsDropped.WithLabelValues("enforcement_queue").Inc()
		return fmt.Errorf("submit %s for %s: %w", d.Action, d.TargetID, err)
	}
	metrics.EnforcementQueueDepth.Inc()
	return nil
}

// Run starts the workers and blocks until ctx is cancelled. Queued jobs that
// never ran are completed with ErrQueueClosed.
func (ds *Dispatcher) Run(ctx context.Context) error {
	for i := 0; i < ds.workers; i++ {
		ds.wg.Add(1)
		go ds.worker(ctx, i)
	}
	<-ctx.Done()
	ds.queue.Close()
	ds.wg.Wait()

	for _, job := range ds.queue.Drain() {
		metrics.EnforcementQueueDepth.Dec()
		ds.finish(job, nil, ErrQueueClosed)
	}
	return nil
}

func (ds *Dispatcher) worker(ctx context.Context, id int) {
	defer ds.wg.Done()
	for {
		job, err := ds.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		metrics.EnforcementQueueDepth.Dec()
		ds.Health.Beat()
		ds.runJob(id, job)
	}
}

func (ds *Dispatcher) runJob(worker int, job *Job) {
	jctx := job.Ctx
	if jctx == nil {
		jctx = context.Background()
	}
	defer func() {
		if r := recover(); r != nil {
			logging.Error("enforcement worker panic", "worker", worker, "action", job.Decision.Action, "panic", r)
			ds.finish(job, nil, fmt.Errorf("enforcement panic: %v", r))
		}
	}()

	if err := jctx.Err(); err != nil {
		_ = ds.exec.ledger.Note(context.Background(), job.Decision, models.OutcomeCancelled, "guild removed before execution")
		ds.finish(job, nil, err)
		return
	}

	metrics.ObserveSince("enforce_queue", job.Enqueued)
	inf, err := ds.exec.Execute(jctx, job.Decision)
	if err != nil && errors.Is(err, context.Canceled) {
		logging.Info("enforcement cancelled", "guild", job.Decision.GuildID, "action", job.Decision.Action)
	}
	ds.finish(job, inf, err)
}

func (ds *Dispatcher) finish(job *Job, inf *models.Infraction, err error) {
	if job.Done != nil {
		job.Done(inf, err)
	}
}

func (ds *Dispatcher) QueueDepth() int {
	return ds.queue.Size()
}
