// Package workerpool runs submitted tasks on a fixed number of goroutines.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrNotRunning = errors.New("pool not running")
	ErrQueueFull  = errors.New("task queue full, task dropped")
)

// Task is one unit of work. Execute receives the pool's context, which is
// cancelled once Stop has drained the queue.
type Task struct {
	ID      string
	Execute func(ctx context.Context) error
}

type Result struct {
	TaskID string
	Error  error
}

type Config struct {
	Workers    int
	QueueSize  int
	DropOnFull bool
}

func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 64}
}

type Pool struct {
	cfg       Config
	taskQueue chan Task
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	running   bool
	logger    *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:       cfg,
		taskQueue: make(chan Task, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("pool already running")
	}
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.running = true
	return nil
}

// Stop runs every queued task to completion, then cancels the pool context.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrNotRunning
	}
	p.running = false
	close(p.taskQueue)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
	return nil
}

func (p *Pool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Submit enqueues task, blocking while the queue is full unless DropOnFull
// is set or ctx ends first.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return ErrNotRunning
	}

	if p.cfg.DropOnFull {
		select {
		case p.taskQueue <- task:
			return nil
		default:
			return ErrQueueFull
		}
	}
	select {
	case p.taskQueue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitAsync returns a channel that receives the task's result once.
func (p *Pool) SubmitAsync(ctx context.Context, task Task) (<-chan Result, error) {
	resultCh := make(chan Result, 1)
	wrapped := Task{
		ID: task.ID,
		Execute: func(ctx context.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("task panicked: %v", r)
				}
				resultCh <- Result{TaskID: task.ID, Error: err}
				close(resultCh)
			}()
			return task.Execute(ctx)
		},
	}
	if err := p.Submit(ctx, wrapped); err != nil {
		return nil, err
	}
	return resultCh, nil
}

// RunAll submits tasks and waits for all of them, returning results in
// submission order. Tasks that could not be queued report the submit error.
func (p *Pool) RunAll(ctx context.Context, tasks []Task) []Result {
	results := make([]Result, len(tasks))
	channels := make([]<-chan Result, len(tasks))
	for i, task := range tasks {
		ch, err := p.SubmitAsync(ctx, task)
		if err != nil {
			results[i] = Result{TaskID: task.ID, Error: err}
			continue
		}
		channels[i] = ch
	}
	for i, ch := range channels {
		if ch != nil {
			results[i] = <-ch
		}
	}
	return results
}

func (p *Pool) QueueDepth() int {
	return len(p.taskQueue)
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.taskQueue {
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task panicked", zap.String("task_id", task.ID), zap.Any("panic", r))
		}
	}()
	if err := task.Execute(p.ctx); err != nil {
		p.logger.Debug("Task failed", zap.String("task_id", task.ID), zap.Error(err))
	}
}
