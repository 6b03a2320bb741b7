// Package worker_pool runs bounded batches of independent tasks.
package worker_pool

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// Task is one unit of work producing a T
type Task[T any] func(ctx context.Context) (T, error)

// Result pairs a task's value with its error
type Result[T any] struct {
	Value    T
	Error    error
	Duration time.Duration
}

// WorkerPool bounds how many tasks run at once
type WorkerPool struct {
	maxWorkers  int
	taskTimeout time.Duration
	semaphore   chan struct{}
}

// NewWorkerPool creates a pool of maxWorkers slots. Zero or less uses the CPU count.
func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}

	return &WorkerPool{
		maxWorkers: maxWorkers,
		semaphore:  make(chan struct{}, maxWorkers),
	}
}

// WithTaskTimeout bounds each task individually
func (wp *WorkerPool) WithTaskTimeout(d time.Duration) *WorkerPool {
	wp.taskTimeout = d
	return wp
}

// GetMaxWorkers returns the maximum number of workers
func (wp *WorkerPool) GetMaxWorkers() int {
	return wp.maxWorkers
}

// Run executes all tasks and returns results in task order. A task that never
// acquired a slot before ctx ended reports ctx.Err().
func Run[T any](ctx context.Context, wp *WorkerPool, tasks []Task[T]) []Result[T] {
	results := make([]Result[T], len(tasks))
	if len(tasks) == 0 {
		return results
	}

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(index int, t Task[T]) {
			defer wg.Done()

			select {
			case wp.semaphore <- struct{}{}:
				defer func() { <-wp.semaphore }()
			case <-ctx.Done():
				results[index] = Result[T]{Error: ctx.Err()}
				return
			}

			taskCtx := ctx
			if wp.taskTimeout > 0 {
				var cancel context.CancelFunc
				taskCtx, cancel = context.WithTimeout(ctx, wp.taskTimeout)
				defer cancel()
			}

			start := time.Now()
			value, err := t(taskCtx)
			results[index] = Result[T]{Value: value, Error: err, Duration: time.Since(start)}
		}(i, task)
	}

	wg.Wait()
	return results
}
