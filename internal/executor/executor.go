// Package executor schedules tile kernel invocations across a pool of
// lanes. A lane is an ordered task queue bound to one kernel context: on the
// CPU every lane shares the stateless host kernel set, on the GPU each lane
// owns a stream and its library handles. Tasks are issued round-robin;
// ordering between tasks on different lanes comes only from the dependency
// tokens they wait on.
package executor

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/samcharles93/trellis/internal/kernel"
	"github.com/samcharles93/trellis/internal/tile"
)

// queueDepth bounds each lane's pending task queue. Schedule blocks when a
// lane is full; the lanes keep draining, so issue order alone guarantees
// progress as long as every dependency is scheduled before its consumer.
const queueDepth = 256

type task struct {
	op   string
	deps []*tile.Token
	fn   func(kernel.Kernels) error
	out  *tile.Token
}

type lane struct {
	id    int
	ks    kernel.Kernels
	tasks chan task
}

func (l *lane) run(wg *sync.WaitGroup) {
	defer wg.Done()
	for t := range l.tasks {
		if err := tile.WaitAll(t.deps...); err != nil {
			// A failed dependency poisons everything downstream; the
			// original error propagates unchanged so the caller sees the
			// root cause.
			t.out.Resolve(err)
			continue
		}
		if err := t.fn(l.ks); err != nil {
			t.out.Resolve(fmt.Errorf("%s: %w", t.op, err))
			continue
		}
		t.out.Resolve(nil)
	}
}

// Pool is the executor over a fixed set of lanes.
type Pool struct {
	lanes  []*lane
	next   atomic.Uint64
	wg     sync.WaitGroup
	closed bool
}

// NewPool builds a pool with one lane per kernel context.
func NewPool(contexts []kernel.Kernels) *Pool {
	if len(contexts) == 0 {
		panic("executor: no kernel contexts")
	}
	p := &Pool{lanes: make([]*lane, len(contexts))}
	for i, ks := range contexts {
		p.lanes[i] = &lane{id: i, ks: ks, tasks: make(chan task, queueDepth)}
		p.wg.Add(1)
		go p.lanes[i].run(&p.wg)
	}
	return p
}

// Schedule queues one kernel invocation and returns the token that resolves
// when it completes. The invocation runs once every dependency token has
// resolved; if any dependency failed, the invocation is skipped and its
// token carries the dependency's error. Every dependency must already have
// been scheduled.
func (p *Pool) Schedule(op string, fn func(kernel.Kernels) error, deps ...*tile.Token) *tile.Token {
	out := tile.NewToken()
	l := p.lanes[p.next.Add(1)%uint64(len(p.lanes))]
	l.tasks <- task{op: op, deps: deps, fn: fn, out: out}
	return out
}

// Lanes returns the number of lanes.
func (p *Pool) Lanes() int {
	return len(p.lanes)
}

// Close drains and stops every lane. Scheduling after Close panics.
func (p *Pool) Close() {
	if p.closed {
		return
	}
	p.closed = true
	for _, l := range p.lanes {
		close(l.tasks)
	}
	p.wg.Wait()
}
