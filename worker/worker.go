package worker

import (
	"sync"
)

// Pool runs submitted functions on a fixed set of goroutines, keeping
// the number of concurrent provider requests at a configured ceiling.
type Pool struct {
	wg    sync.WaitGroup
	input chan func()
}

// NewWorkerPool starts workerCount goroutines waiting for work. A
// count below one falls back to a single worker, which makes task
// execution strictly sequential.
func NewWorkerPool(workerCount int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}

	pool := &Pool{
		input: make(chan func()),
	}

	pool.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go pool.work()
	}

	return pool
}

func (p *Pool) work() {
	defer p.wg.Done()

	for f := range p.input {
		f()
	}
}

// Do submits f to the pool, blocking until a worker picks it up.
func (p *Pool) Do(f func()) {
	p.input <- f
}

// CloseAndWait stops accepting new work and blocks until every
// submitted task has finished.
func (p *Pool) CloseAndWait() {
	close(p.input)
	p.wg.Wait()
}
