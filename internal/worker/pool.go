package worker

import (
	"context"
	"sync"
	"time"
)

// PassResult holds the outcome of one executor pass for an assignee.
type PassResult struct {
	Assignee string
	Result   *Result
	Duration time.Duration
	Err      error
}

// Pool runs one executor pass per assignee, up to maxWorkers at a time.
// Passes may target the same queue; the claim compare-and-swap keeps any
// task from being completed twice.
type Pool struct {
	exec       *Executor
	maxWorkers int
}

// NewPool creates a pool around exec.
func NewPool(exec *Executor, maxWorkers int) *Pool {
	return &Pool{exec: exec, maxWorkers: maxWorkers}
}

// Run executes one pass per assignee and returns results in input order.
func (p *Pool) Run(ctx context.Context, assignees []string) []PassResult {
	if p.maxWorkers <= 1 || len(assignees) <= 1 {
		return p.runSequential(ctx, assignees)
	}
	return p.runParallel(ctx, assignees)
}

func (p *Pool) runSequential(ctx context.Context, assignees []string) []PassResult {
	results := make([]PassResult, 0, len(assignees))
	for _, a := range assignees {
		results = append(results, p.pass(ctx, a))
	}
	return results
}

func (p *Pool) runParallel(ctx context.Context, assignees []string) []PassResult {
	sem := make(chan struct{}, p.maxWorkers)
	var wg sync.WaitGroup

	results := make([]PassResult, len(assignees))
	for i, a := range assignees {
		wg.Add(1)
		sem <- struct{}{} // Acquire worker slot.

		go func(idx int, assignee string) {
			defer wg.Done()
			defer func() { <-sem }() // Release worker slot.
			results[idx] = p.pass(ctx, assignee)
		}(i, a)
	}

	wg.Wait()
	return results
}

func (p *Pool) pass(ctx context.Context, assignee string) PassResult {
	start := time.Now()
	res, err := p.exec.Run(ctx, Request{Assignee: assignee, Max: 1})
	p.exec.Metrics.ObserveStage("worker", start)
	return PassResult{Assignee: assignee, Result: res, Duration: time.Since(start), Err: err}
}
