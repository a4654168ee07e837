// Package scheduler runs indexed task fan-outs either on a reusable bounded
// worker pool or sequentially on the calling goroutine.
package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

// Task computes item i and stores its result in a caller-owned slot.
type Task func(ctx context.Context, i int) error

// Runner executes n tasks with at most width running at once and blocks
// until every started task has returned.
type Runner interface {
	Run(ctx context.Context, n, width int, task Task) Report
}

// Report describes the outcome of a fan-out.
type Report struct {
	Total  int
	Failed int
	// Errors holds the failure of each item, nil for items that succeeded.
	Errors []error
}

// Complete reports whether every task succeeded.
func (r Report) Complete() bool {
	return r.Failed == 0
}

// Err returns nil for a complete run, or a *PartialError describing the failures.
func (r Report) Err() error {
	if r.Failed == 0 {
		return nil
	}
	return &PartialError{Failed: r.Failed, Total: r.Total, Err: multierr.Combine(r.Errors...)}
}

// PartialError is returned when some tasks of a fan-out failed.
type PartialError struct {
	Failed int
	Total  int
	Err    error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("partial: %d of %d tasks failed: %v", e.Failed, e.Total, e.Err)
}

func (e *PartialError) Unwrap() error {
	return e.Err
}

// TaskError wraps the failure of a single item.
type TaskError struct {
	Index int
	Err   error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %d: %v", e.Index, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// PanicError is produced when a task panics.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// call runs task for item i, converting a panic into an error.
func call(ctx context.Context, task Task, i int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return task(ctx, i)
}

func newReport(n int) Report {
	return Report{Total: n, Errors: make([]error, n)}
}

func (r *Report) fail(i int, err error) {
	r.Errors[i] = &TaskError{Index: i, Err: err}
	r.Failed++
}

// Sequential runs every task in order on the calling goroutine.
type Sequential struct{}

// Run executes tasks one after another. Width is ignored.
func (Sequential) Run(ctx context.Context, n, _ int, task Task) Report {
	rep := newReport(n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			rep.fail(i, err)
			continue
		}
		if err := call(ctx, task, i); err != nil {
			rep.fail(i, err)
		}
	}
	return rep
}

// Pool is a fixed set of workers fed from a shared queue. One pool is meant
// to be shared by every fan-out in the process and closed on teardown.
type Pool struct {
	jobs    chan func()
	wg      sync.WaitGroup
	closing *atomic.Bool
	mu      sync.RWMutex
}

// New starts a pool with the given number of workers; workers <= 0 uses GOMAXPROCS.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	p := &Pool{
		jobs:    make(chan func()),
		closing: atomic.NewBool(false),
	}
	for w := 0; w < workers; w++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job()
			}
		}()
	}
	return p
}

// Close stops accepting work and waits for the workers to exit.
func (p *Pool) Close() {
	if !p.closing.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

// Run fans n tasks out over the pool, at most width at a time. When every
// worker is busy, or the pool is closed, the task runs on the calling
// goroutine, so nested fan-outs from inside a task cannot deadlock. Items
// not started before ctx is done are reported as failed with ctx.Err().
func (p *Pool) Run(ctx context.Context, n, width int, task Task) Report {
	rep := newReport(n)
	if width <= 0 || width > n {
		width = n
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, max(width, 1))
	)
	record := func(i int, err error) {
		if err == nil {
			return
		}
		mu.Lock()
		rep.fail(i, err)
		mu.Unlock()
	}

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			record(i, err)
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			record(i, ctx.Err())
			continue
		}
		if err := ctx.Err(); err != nil {
			<-sem
			record(i, err)
			continue
		}

		i := i // per-iteration copy; the job may run after the loop advances
		job := func() {
			defer wg.Done()
			defer func() { <-sem }()
			record(i, call(ctx, task, i))
		}
		wg.Add(1)
		if !p.submit(job) {
			job()
		}
	}

	wg.Wait()
	return rep
}

// submit hands job to an idle worker. It returns false when no worker is
// idle or the pool is closed.
func (p *Pool) submit(job func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closing.Load() {
		return false
	}
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// Outcome is the typed result of one mapped item.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Map applies fn to every index in [0, n) through r and returns the
// outcomes in index order.
func Map[T any](ctx context.Context, r Runner, n, width int, fn func(ctx context.Context, i int) (T, error)) ([]Outcome[T], Report) {
	out := make([]Outcome[T], n)
	rep := r.Run(ctx, n, width, func(ctx context.Context, i int) error {
		v, err := fn(ctx, i)
		out[i].Value = v
		return err
	})
	for i, err := range rep.Errors {
		out[i].Err = err
	}
	return out, rep
}
