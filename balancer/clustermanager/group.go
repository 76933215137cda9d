// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package clustermanager // import "github.com/grpcruntime/core/balancer/clustermanager"

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/connectivity"

	"github.com/grpcruntime/core/clock"
	"github.com/grpcruntime/core/internal/grpcsync"
)

// DeletionTimeout is the fixed deferred-deletion delay of spec §4.6.
const DeletionTimeout = 15 * time.Minute

// BuilderLookup resolves a policy provider name (ClusterConfig.PolicyProvider)
// to a ChildBuilder. Returning (nil, false) fails the update for that key.
type BuilderLookup func(policyProvider string) (ChildBuilder, bool)

// child is the registry's private record, corresponding to spec's ChildLb
// entity. All fields are touched only from the synchronization context.
type child struct {
	key      string
	builder  ChildBuilder
	balancer ChildBalancer
	picker   Picker

	deactivated bool
	timer       *pendingTimer
}

// Group is the child-balancer registry with deferred deletion (spec
// §4.6). All mutation of its children happens on a single
// grpcsync.CallbackSerializer (the synchronization context of spec
// §4.8); picker snapshots published via onNewPicker are read-only and
// safe for concurrent pick threads.
type Group struct {
	serializer *grpcsync.CallbackSerializer
	clk        clock.Clock
	logger     *zap.Logger
	lookup     BuilderLookup
	onNewPicker func(Picker)

	deletionTimeout time.Duration

	mu       sync.Mutex // guards children against concurrent Shutdown/inspection only
	children map[string]*child
}

// NewGroup constructs a Group. ctx bounds the lifetime of the internal
// synchronization context; cancel it (or call Shutdown) to stop it.
func NewGroup(ctx context.Context, clk clock.Clock, logger *zap.Logger, lookup BuilderLookup, onNewPicker func(Picker)) *Group {
	if clk == nil {
		clk = clock.Real
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Group{
		serializer:      grpcsync.NewCallbackSerializer(ctx),
		clk:             clk,
		logger:          logger,
		lookup:          lookup,
		onNewPicker:     onNewPicker,
		deletionTimeout: DeletionTimeout,
		children:        map[string]*child{},
	}
}

// pendingTimer wraps the clock.Timer backing a deactivated child's
// deletion countdown (spec §9: timer handles are weak with respect to
// registry membership — see onDeletionFired).
type pendingTimer struct {
	timer clock.Timer
}

func (p *pendingTimer) cancel() {
	p.timer.Stop()
}

// UpdateClusterMap is acceptResolvedAddresses (spec §4.6): it schedules
// the update to run on the synchronization context and returns
// immediately. Use Sync to wait for it (and any prior work) to drain,
// which tests rely on for determinism.
func (g *Group) UpdateClusterMap(update Update) {
	g.serializer.Schedule(func(ctx context.Context) {
		g.applyUpdate(update)
	})
}

// Sync blocks until every callback scheduled so far — including any
// further callback one of those schedules in turn, such as a child's
// deferred UpdateState publishing its first picker — has finished
// running. It exists for deterministic testing of an otherwise
// asynchronous registry.
func (g *Group) Sync() {
	g.serializer.WaitIdle()
}

func (g *Group) applyUpdate(update Update) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for key, cfg := range update {
		c, exists := g.children[key]
		switch {
		case !exists:
			builder, ok := g.lookup(cfg.PolicyProvider)
			if !ok {
				g.logger.Error("cluster manager: unknown policy provider",
					zap.String("cluster", key), zap.String("policy", cfg.PolicyProvider))
				continue
			}
			c = &child{key: key, builder: builder}
			c.balancer = builder.Build(key, &childClientConn{group: g, key: key})
			g.children[key] = c
			if err := c.balancer.UpdateClientConnState(cfg.PolicyConfig, nil); err != nil {
				g.logger.Error("cluster manager: child rejected config", zap.String("cluster", key), zap.Error(err))
			}

		case c.deactivated:
			// Reactivation MUST cancel the timer before any new
			// picker state is published (spec invariant 5).
			c.timer.cancel()
			c.timer = nil
			c.deactivated = false
			if err := c.balancer.UpdateClientConnState(cfg.PolicyConfig, nil); err != nil {
				g.logger.Error("cluster manager: child rejected config", zap.String("cluster", key), zap.Error(err))
			}

		default:
			if err := c.balancer.UpdateClientConnState(cfg.PolicyConfig, nil); err != nil {
				g.logger.Error("cluster manager: child rejected config", zap.String("cluster", key), zap.Error(err))
			}
		}
	}

	for key, c := range g.children {
		if _, stillPresent := update[key]; !stillPresent && !c.deactivated {
			c.deactivated = true
			c.timer = g.startDeletionTimer(key)
		}
	}

	g.publishLocked()
}

// startDeletionTimer arms the 15-minute countdown via clock.AfterFunc
// rather than a timer channel plus a separate watcher goroutine: the
// fired callback schedules the actual removal directly, so on a Fake
// clock it is already enqueued on the serializer by the time Advance
// returns, with nothing left for a caller's Sync to race against.
func (g *Group) startDeletionTimer(key string) *pendingTimer {
	pt := &pendingTimer{}
	pt.timer = g.clk.AfterFunc(g.deletionTimeout, func() {
		g.serializer.Schedule(func(context.Context) { g.onDeletionFired(key, pt) })
	})
	return pt
}

// onDeletionFired shuts down and removes a deactivated child. A fired
// timer whose child was already reactivated or removed is a no-op
// (spec §9).
func (g *Group) onDeletionFired(key string, pt *pendingTimer) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.children[key]
	if !ok || c.timer != pt {
		return
	}
	c.balancer.Close()
	delete(g.children, key)
	g.publishLocked()
}

// ResolverError forwards a name-resolution failure to every active
// child; if every child is deactivated (including none at all), it
// publishes a TRANSIENT_FAILURE picker carrying the error (spec §4.6).
func (g *Group) ResolverError(err error) {
	g.serializer.Schedule(func(context.Context) {
		g.mu.Lock()
		defer g.mu.Unlock()

		anyActive := false
		for _, c := range g.children {
			if !c.deactivated {
				anyActive = true
				c.balancer.ResolverError(err)
			}
		}
		if !anyActive {
			if g.onNewPicker != nil {
				g.onNewPicker(errorPicker{err: err})
			}
		}
	})
}

// Shutdown stops every child balancer, cancels pending timers, and
// stops the synchronization context.
func (g *Group) Shutdown() {
	done := make(chan struct{})
	g.serializer.Schedule(func(context.Context) {
		g.mu.Lock()
		for key, c := range g.children {
			if c.timer != nil {
				c.timer.cancel()
			}
			c.balancer.Close()
			delete(g.children, key)
		}
		g.mu.Unlock()
		close(done)
	})
	<-done
	g.serializer.Close()
}

func (g *Group) publishLocked() {
	if g.onNewPicker == nil {
		return
	}
	snapshot := make(map[string]Picker, len(g.children))
	for key, c := range g.children {
		if c.deactivated || c.picker == nil {
			continue
		}
		snapshot[key] = c.picker
	}
	g.onNewPicker(NewClusterPicker(snapshot))
}

// childClientConn is the ChildClientConn a built ChildBalancer uses to
// publish its picker; updates are funneled back onto the
// synchronization context so state mutation never races with a
// registry-driven update.
type childClientConn struct {
	group *Group
	key   string
}

func (c *childClientConn) UpdateState(state State) {
	c.group.serializer.Schedule(func(context.Context) {
		c.group.mu.Lock()
		defer c.group.mu.Unlock()

		ch, ok := c.group.children[c.key]
		if !ok {
			return
		}
		ch.picker = state.Picker
		if state.ConnectivityState == connectivity.Shutdown {
			return
		}
		c.group.publishLocked()
	})
}

// errorPicker always fails picks with the latched name-resolution
// error, used when every child has been deactivated (spec §4.6).
type errorPicker struct {
	err error
}

func (p errorPicker) Pick(PickInfo) (PickResult, error) {
	return PickResult{}, fmt.Errorf("cluster manager: name resolution error: %w", p.err)
}
