// Package tasks runs long extractions in the background and keeps their
// outcome until it is polled or expires.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/referto-app/referto/observability"
)

var (
	ErrNotFound  = errors.New("task not found")
	ErrQueueFull = errors.New("task queue full")
	ErrClosed    = errors.New("task queue closed")
)

type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateError      State = "error"
)

func (s State) Done() bool { return s == StateCompleted || s == StateError }

// Task is a snapshot of a submitted job.
type Task struct {
	ID       string
	State    State
	Result   any
	Err      error
	Created  time.Time
	Started  time.Time
	Finished time.Time
}

// Func is the work of a task. Its result is kept as Task.Result.
type Func func(ctx context.Context) (any, error)

type Config struct {
	Workers int
	// Backlog bounds tasks waiting for a worker.
	Backlog int
	// TTL is how long finished tasks stay retrievable.
	TTL time.Duration
}

type Queue struct {
	cfg    Config
	logger observability.Logger
	now    func() time.Time

	mu     sync.Mutex
	tasks  map[string]*Task
	closed bool

	jobs   chan job
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

type job struct {
	id string
	fn Func
}

func NewQueue(cfg Config, logger observability.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = 64
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if logger == nil {
		logger = observability.NopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		tasks:  make(map[string]*Task),
		jobs:   make(chan job, cfg.Backlog),
		ctx:    ctx,
		cancel: cancel,
		group:  &errgroup.Group{},
	}
	for i := 0; i < cfg.Workers; i++ {
		q.group.Go(q.worker)
	}
	return q
}

// Submit enqueues fn and returns its id.
func (q *Queue) Submit(fn Func) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrClosed
	}
	id := uuid.NewString()
	select {
	case q.jobs <- job{id: id, fn: fn}:
	default:
		return "", ErrQueueFull
	}
	q.tasks[id] = &Task{ID: id, State: StatePending, Created: q.now()}
	return id, nil
}

// Get returns a snapshot of the task.
func (q *Queue) Get(id string) (Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return *t, nil
}

// Sweep drops finished tasks older than the TTL and returns how many.
func (q *Queue) Sweep() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := q.now().Add(-q.cfg.TTL)
	n := 0
	for id, t := range q.tasks {
		if t.State.Done() && t.Finished.Before(cutoff) {
			delete(q.tasks, id)
			n++
		}
	}
	return n
}

// Stats counts tasks per state.
func (q *Queue) Stats() map[State]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[State]int, 4)
	for _, t := range q.tasks {
		out[t.State]++
	}
	return out
}

// Close stops accepting tasks, lets queued ones finish, and waits for the
// workers. Cancelling ctx aborts running tasks instead.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) worker() error {
	for j := range q.jobs {
		q.run(j)
	}
	return nil
}

func (q *Queue) run(j job) {
	q.update(j.id, func(t *Task) {
		t.State = StateProcessing
		t.Started = q.now()
	})
	result, err := q.call(j)
	q.update(j.id, func(t *Task) {
		t.Finished = q.now()
		if err != nil {
			t.State = StateError
			t.Err = err
			return
		}
		t.State = StateCompleted
		t.Result = result
	})
	if err != nil {
		q.logger.Warn("task failed", observability.String("task", j.id), observability.Error("error", err))
		return
	}
	q.logger.Debug("task completed", observability.String("task", j.id))
}

func (q *Queue) call(j job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return j.fn(q.ctx)
}

func (q *Queue) update(id string, fn func(*Task)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.tasks[id]; ok {
		fn(t)
	}
}
