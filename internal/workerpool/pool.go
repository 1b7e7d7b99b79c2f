// Package workerpool runs the host's periodic background jobs alongside
// its blocking master frame loop: logging a metrics snapshot and flushing
// the palette cache back to disk. Both are named JobKinds rather than bare
// closures so the pool's own logs and counters can tell a stuck palette
// flush from a stuck metrics tick without the caller threading a label
// through every Submit. The protocol and frame loop themselves stay
// single-threaded and cooperative; this pool is strictly ambient
// infrastructure at the cmd/spilink-host layer.
package workerpool

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/lanternops/spilink/internal/logging"
)

var log = logging.L("workerpool")

// JobKind identifies what a Job does, for logging and the per-kind
// counters Stats reports.
type JobKind int

const (
	JobMetrics JobKind = iota
	JobPaletteFlush
	numJobKinds
)

func (k JobKind) String() string {
	switch k {
	case JobMetrics:
		return "metrics"
	case JobPaletteFlush:
		return "palette_flush"
	default:
		return "unknown"
	}
}

// Job is a unit of background work submitted to the pool.
type Job struct {
	Kind JobKind
	Run  func()
}

// Pool is a bounded goroutine pool with a fixed-size job queue, tracking
// completed and rejected counts per JobKind.
type Pool struct {
	maxWorkers int
	queue      chan Job
	wg         sync.WaitGroup
	accepting  atomic.Bool
	stopOnce   sync.Once
	closeOnce  sync.Once
	stopChan   chan struct{}

	completed [numJobKinds]atomic.Uint64
	rejected  [numJobKinds]atomic.Uint64
	panicked  [numJobKinds]atomic.Uint64
}

// New creates a pool with maxWorkers goroutines and a job queue of queueSize.
func New(maxWorkers, queueSize int) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	p := &Pool{
		maxWorkers: maxWorkers,
		queue:      make(chan Job, queueSize),
		stopChan:   make(chan struct{}),
	}
	p.accepting.Store(true)

	for i := 0; i < maxWorkers; i++ {
		go p.worker()
	}

	log.Info("worker pool started", "workers", maxWorkers, "queueSize", queueSize)
	return p
}

// Submit enqueues a job. Returns false if the pool is stopped or the
// queue is full. wg.Add is called here (before enqueue) to prevent a race
// with Drain.
func (p *Pool) Submit(job Job) bool {
	if !p.accepting.Load() {
		return false
	}

	p.wg.Add(1)
	select {
	case p.queue <- job:
		return true
	default:
		p.wg.Done()
		p.rejected[job.Kind].Add(1)
		log.Warn("worker pool queue full, job rejected", "kind", job.Kind)
		return false
	}
}

// StopAccepting prevents new jobs from being submitted.
func (p *Pool) StopAccepting() {
	p.accepting.Store(false)
}

// Drain waits for all in-flight and queued jobs to complete, respecting
// the context deadline. Call StopAccepting first to prevent new
// submissions. After Drain returns, the queue channel is closed so worker
// goroutines exit.
func (p *Pool) Drain(ctx context.Context) {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("worker pool drained", "metricsRuns", p.completed[JobMetrics].Load(), "paletteFlushRuns", p.completed[JobPaletteFlush].Load())
	case <-ctx.Done():
		log.Warn("worker pool drain timed out")
	}

	p.closeOnce.Do(func() {
		close(p.queue)
	})
}

func (p *Pool) worker() {
	for {
		select {
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			p.runJob(job)
		case <-p.stopChan:
			for {
				select {
				case job, ok := <-p.queue:
					if !ok {
						return
					}
					p.runJob(job)
				default:
					return
				}
			}
		}
	}
}

// runJob executes a single job with panic recovery. wg.Done is called
// here to match the wg.Add in Submit.
func (p *Pool) runJob(job Job) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.panicked[job.Kind].Add(1)
			log.Error("job panicked", "kind", job.Kind, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	job.Run()
	p.completed[job.Kind].Add(1)
}

// Stats reports completed/rejected/panicked counts per JobKind, keyed by
// JobKind.String(). Used by cmd/spilink-host's metrics job to fold the
// pool's own health into the same log line as the protocol counters.
func (p *Pool) Stats() map[string]uint64 {
	out := make(map[string]uint64, 3*numJobKinds)
	for k := JobKind(0); k < numJobKinds; k++ {
		out[k.String()+"_completed"] = p.completed[k].Load()
		out[k.String()+"_rejected"] = p.rejected[k].Load()
		out[k.String()+"_panicked"] = p.panicked[k].Load()
	}
	return out
}
