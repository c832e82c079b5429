package scanner

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/bobmcallan/vire-scanner/internal/common"
	"github.com/bobmcallan/vire-scanner/internal/models"
)

// DefaultWorkers is the analysis pool size.
const DefaultWorkers = 10

// AnalysisTask computes the outcome for one symbol.
type AnalysisTask func() models.AnalysisOutcome

// Future is the pending outcome of a submitted task.
type Future struct {
	done    chan struct{}
	outcome models.AnalysisOutcome
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(o models.AnalysisOutcome) {
	f.outcome = o
	close(f.done)
}

// Wait blocks until the task has run and returns its outcome.
func (f *Future) Wait() models.AnalysisOutcome {
	<-f.done
	return f.outcome
}

type poolJob struct {
	symbol string
	task   AnalysisTask
	future *Future
}

// AnalysisPool runs CPU-bound analysis on a fixed set of workers, apart from
// the network-bound fetch concurrency. A panicking task resolves to an
// AnalysisFailure instead of taking the worker down.
type AnalysisPool struct {
	jobs   chan poolJob
	logger *common.Logger
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewAnalysisPool starts workers goroutines.
func NewAnalysisPool(workers int, logger *common.Logger) *AnalysisPool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	p := &AnalysisPool{
		jobs:   make(chan poolJob, workers*2),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

func (p *AnalysisPool) work() {
	defer p.wg.Done()
	for j := range p.jobs {
		j.future.resolve(p.run(j))
	}
}

func (p *AnalysisPool) run(j poolJob) (out models.AnalysisOutcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("symbol", j.symbol).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic in analysis task")
			out = models.AnalysisFailure{Symbol: j.symbol, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()
	out = j.task()
	if out == nil {
		out = models.NoSignal{Symbol: j.symbol}
	}
	return out
}

// Submit queues a task and returns its future. It blocks while the queue is
// full. A cancelled context or a closed pool resolves the future to an
// AnalysisFailure without running the task.
func (p *AnalysisPool) Submit(ctx context.Context, symbol string, task AnalysisTask) *Future {
	f := newFuture()

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		f.resolve(models.AnalysisFailure{Symbol: symbol, Error: "analysis pool closed"})
		return f
	}

	select {
	case p.jobs <- poolJob{symbol: symbol, task: task, future: f}:
	case <-ctx.Done():
		f.resolve(models.AnalysisFailure{Symbol: symbol, Error: ctx.Err().Error()})
	}
	return f
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *AnalysisPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}
