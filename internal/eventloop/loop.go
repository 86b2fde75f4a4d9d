// Package eventloop provides the engine's single logical thread: a
// single-consumer queue of functions. All cache and directory mutation happens
// on this loop; callbacks arriving from other goroutines (an SDK worker, a
// crypto pool) are posted onto it, never executed inline.
package eventloop

import (
	"context"
	"sync"
)

// Loop is a single-consumer function queue. The queue is unbounded: loop
// callbacks themselves post follow-up work (subscription cancels, settled name
// groups; tearing down one large group queues a function per member), so a
// Post that blocked on the consuming goroutine would deadlock the engine.
type Loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
}

func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post enqueues fn for execution on the loop goroutine. Safe to call from any
// goroutine, including the loop's own; it never blocks.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) pop() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		l.queue = nil
		return nil
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn
}

// Run consumes and executes posted functions until ctx is cancelled. It must
// be called from exactly one goroutine.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
			for {
				fn := l.pop()
				if fn == nil {
					break
				}
				fn()
			}
		}
	}
}

// RunPending synchronously executes everything queued so far and returns the
// number of functions run. Functions posted while draining are executed too.
// Intended for callers that drive the loop themselves (tests, shells that own
// the thread).
func (l *Loop) RunPending() int {
	n := 0
	for {
		fn := l.pop()
		if fn == nil {
			return n
		}
		fn()
		n++
	}
}
