package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrQueueFull is returned when the submission queue cannot accept more work.
var ErrQueueFull = errors.New("task queue full")

const defaultQueueSize = 16

// Task is one queued instruction.
type Task struct {
	ID          string
	Instruction string
	Done        chan TaskResult
}

// Runner serializes task submissions onto a single orchestrator. The browser
// holds one page, so tasks must not interleave.
type Runner struct {
	orch   *Orchestrator
	logger *zap.Logger

	queue chan *Task

	mu         sync.Mutex
	active     string
	cancelTask context.CancelFunc

	wg sync.WaitGroup
}

func NewRunner(orch *Orchestrator, logger *zap.Logger) *Runner {
	return &Runner{
		orch:   orch,
		logger: logger.Named("runner"),
		queue:  make(chan *Task, defaultQueueSize),
	}
}

// Start launches the worker loop. It returns once ctx is cancelled and the
// in-flight task (if any) has finished.
func (r *Runner) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case task := <-r.queue:
				r.runOne(ctx, task)
			}
		}
	}()
}

// Wait blocks until the worker loop has exited.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Submit enqueues an instruction and returns the task handle. The Done
// channel receives exactly one result.
func (r *Runner) Submit(instruction string) (*Task, error) {
	task := &Task{
		ID:          uuid.NewString(),
		Instruction: instruction,
		Done:        make(chan TaskResult, 1),
	}
	select {
	case r.queue <- task:
		r.logger.Info("task queued", zap.String("task_id", task.ID))
		return task, nil
	default:
		return nil, ErrQueueFull
	}
}

// Abort cancels the active task. Returns false if no task is running.
func (r *Runner) Abort() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelTask == nil {
		return false
	}
	r.logger.Info("aborting task", zap.String("task_id", r.active))
	r.cancelTask()
	return true
}

// ActiveTask returns the ID of the running task, or "" when idle.
func (r *Runner) ActiveTask() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Runner) runOne(ctx context.Context, task *Task) {
	taskCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.active = task.ID
	r.cancelTask = cancel
	r.mu.Unlock()

	result := r.orch.RunTask(taskCtx, task.ID, task.Instruction)

	r.mu.Lock()
	r.active = ""
	r.cancelTask = nil
	r.mu.Unlock()
	cancel()

	task.Done <- result
}
