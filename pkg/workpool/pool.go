// Package workpool serializes concurrent kernel-compile requests onto a
// bounded set of goroutines. Command queues are not safe for concurrent
// enqueue; bounding the compile stage keeps upstream callers from piling
// onto a single stream at once.
package workpool

import (
	"sync"

	"github.com/kestrel-hpc/gemmforge/pkg/driver"
)

// Config controls pool sizing. Disabling runs jobs inline on the calling
// goroutine, useful for debugging deadlocks without a separate pool.
type Config struct {
	Enabled bool
	Workers int
}

var globalConfig = Config{Enabled: true, Workers: 4}

// Configure sets the default configuration new pools are created with.
// Not safe to call concurrently with pool creation; call during init.
func Configure(c Config) {
	globalConfig = c
}

type job struct {
	fn     func() (driver.Program, error)
	result chan<- jobResult
}

type jobResult struct {
	prog driver.Program
	err  error
}

// Pool is a fixed-size goroutine pool executing kernel-compile jobs. It
// satisfies gemm.CompileQueue.
type Pool struct {
	jobs    chan job
	wg      sync.WaitGroup
	enabled bool
}

// New starts a pool using the global configuration.
func New() *Pool {
	return NewWithConfig(globalConfig)
}

// NewWithConfig starts a pool with an explicit configuration.
func NewWithConfig(c Config) *Pool {
	p := &Pool{enabled: c.Enabled}
	if !c.Enabled {
		return p
	}
	workers := c.Workers
	if workers < 1 {
		workers = 1
	}
	p.jobs = make(chan job, workers*2)
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		prog, err := j.fn()
		j.result <- jobResult{prog: prog, err: err}
	}
}

// Submit runs fn on a pool worker and blocks until it completes. When the
// pool was constructed with Enabled=false, fn runs inline instead.
func (p *Pool) Submit(fn func() (driver.Program, error)) (driver.Program, error) {
	if !p.enabled {
		return fn()
	}
	result := make(chan jobResult, 1)
	p.jobs <- job{fn: fn, result: result}
	r := <-result
	return r.prog, r.err
}

// Close stops accepting new jobs and waits for in-flight jobs to finish.
func (p *Pool) Close() {
	if !p.enabled {
		return
	}
	close(p.jobs)
	p.wg.Wait()
}
