// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package grpcsync implements the synchronization context: a single
// worker goroutine draining a serialized queue of callbacks, used by the
// cluster-manager balancer so that no two callbacks (resolver updates,
// timer firings, picker publication) ever interleave.
package grpcsync // import "github.com/grpcruntime/core/internal/grpcsync"

import (
	"context"
	"sync"
)

// CallbackSerializer provides a mechanism to schedule callbacks in a
// manner that is free of races. It is modeled on the single-goroutine
// loop pattern the teacher uses in loadPrioritizer.run: one goroutine
// reads a channel and executes whatever arrives, so callers never
// observe partial state.
type CallbackSerializer struct {
	done chan struct{}

	mu       sync.Mutex
	q        []func(context.Context)
	pending  int
	idleCond *sync.Cond
	wake     chan struct{}
	closed   bool
	ctx      context.Context
	cancel   context.CancelFunc
	drained  chan struct{}
}

// NewCallbackSerializer returns a CallbackSerializer that stops
// accepting new callbacks once ctx is canceled; it finishes executing
// any already-scheduled callback before exiting. Callers should drain
// Done() to know when the serializer has fully shut down.
func NewCallbackSerializer(ctx context.Context) *CallbackSerializer {
	ctx, cancel := context.WithCancel(ctx)
	cs := &CallbackSerializer{
		done:    make(chan struct{}),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		drained: make(chan struct{}),
	}
	cs.idleCond = sync.NewCond(&cs.mu)
	go cs.run()
	return cs
}

// TrySchedule enqueues f to run on the serializer's goroutine. It
// returns false if the serializer is already closed or its context is
// canceled, in which case f is never invoked.
func (cs *CallbackSerializer) TrySchedule(f func(context.Context)) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.closed || cs.ctx.Err() != nil {
		return false
	}
	cs.q = append(cs.q, f)
	cs.pending++
	select {
	case cs.wake <- struct{}{}:
	default:
	}
	return true
}

// WaitIdle blocks until every callback scheduled so far — including any
// callback a running callback itself schedules — has finished running.
// Unlike waiting for one marker callback to run, this is immune to the
// race where a callback's own nested Schedule call lands in a later
// batch than a marker enqueued alongside it: pending only reaches zero
// once nothing remains queued or in flight.
func (cs *CallbackSerializer) WaitIdle() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for cs.pending > 0 {
		cs.idleCond.Wait()
	}
}

// Schedule is TrySchedule without the ok return, for call sites that
// don't care whether the serializer has already shut down.
func (cs *CallbackSerializer) Schedule(f func(context.Context)) {
	cs.TrySchedule(f)
}

// Close stops the serializer. Callbacks already enqueued still run;
// Close does not wait for them (see Done).
func (cs *CallbackSerializer) Close() {
	cs.mu.Lock()
	cs.closed = true
	cs.mu.Unlock()
	cs.cancel()
}

// Done closes once the serializer's goroutine has drained its queue and
// exited.
func (cs *CallbackSerializer) Done() <-chan struct{} {
	return cs.drained
}

func (cs *CallbackSerializer) run() {
	defer close(cs.drained)
	for {
		cs.mu.Lock()
		q := cs.q
		cs.q = nil
		cs.mu.Unlock()

		cs.runBatch(q)

		select {
		case <-cs.ctx.Done():
			// Drain whatever raced in before closing, then exit.
			cs.mu.Lock()
			q := cs.q
			cs.q = nil
			cs.mu.Unlock()
			cs.runBatch(q)
			return
		case <-cs.wake:
		}
	}
}

// runBatch executes q in order, marking each callback as no-longer-
// pending only once it returns, so a callback's own nested Schedule
// call is counted before its parent's completion could let pending
// reach zero.
func (cs *CallbackSerializer) runBatch(q []func(context.Context)) {
	for _, f := range q {
		f(cs.ctx)
		cs.mu.Lock()
		cs.pending--
		if cs.pending == 0 {
			cs.idleCond.Broadcast()
		}
		cs.mu.Unlock()
	}
}
