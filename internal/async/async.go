// Package async implements the cancellation-safe continuation pattern used
// throughout the engine. Every multi-step asynchronous operation may outlive
// the object that issued it (a room deleted mid-invite, a client terminated
// mid-login), so continuations observe a liveness flag owned by that object
// and silently no-op once it dies. Dying is not an error.
package async

import (
	"sync/atomic"

	"github.com/aperturetechnology/MEGAchat/internal/eventloop"
)

// Dispatcher starts blocking work off the loop. The default spawns a
// goroutine; tests substitute an inline dispatcher for determinism.
type Dispatcher func(fn func())

// Go is the default Dispatcher.
func Go(fn func()) { go fn() }

// Inline runs fn on the calling goroutine. Only meaningful in tests, where
// the loop is drained explicitly.
func Inline(fn func()) { fn() }

// Tracker is a liveness flag owned by an object and observed weakly by its
// outstanding continuations. Kill is called exactly once, when the owner is
// destroyed; it is safe to call Alive from any goroutine.
type Tracker struct {
	dead atomic.Bool
}

func NewTracker() *Tracker { return &Tracker{} }

func (t *Tracker) Alive() bool { return !t.dead.Load() }

func (t *Tracker) Kill() { t.dead.Store(true) }

// Run posts fn onto the loop; fn is dropped without running if the tracker
// died in the meantime. This is the only sanctioned way for off-loop callbacks
// to touch engine state.
func Run(loop *eventloop.Loop, t *Tracker, fn func()) {
	loop.Post(func() {
		if !t.Alive() {
			return
		}
		fn()
	})
}

// Group tracks a set of pending asynchronous steps and runs a callback on the
// loop once all of them settled. The callback is always deferred onto the
// loop, even when the group is already settled when Done is registered, so an
// object still mid-construction never observes the callback inline.
type Group struct {
	loop    *eventloop.Loop
	tracker *Tracker
	pending int
	settled bool
	waiters []func()
}

func NewGroup(loop *eventloop.Loop, t *Tracker) *Group {
	return &Group{loop: loop, tracker: t}
}

// Add registers one more pending step. Must be called on the loop.
func (g *Group) Add() {
	g.pending++
	g.settled = false
}

// Settle marks one pending step complete. Must be called on the loop.
func (g *Group) Settle() {
	if g.pending > 0 {
		g.pending--
	}
	if g.pending == 0 {
		g.fire()
	}
}

// Done runs fn on the loop once no steps are pending. Must be called on the
// loop.
func (g *Group) Done(fn func()) {
	g.waiters = append(g.waiters, fn)
	if g.pending == 0 {
		g.fire()
	}
}

func (g *Group) fire() {
	g.settled = true
	waiters := g.waiters
	g.waiters = nil
	for _, fn := range waiters {
		Run(g.loop, g.tracker, fn)
	}
}
