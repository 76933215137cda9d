// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metrics // import "github.com/grpcruntime/core/metrics"

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/grpc/codes"

	"github.com/grpcruntime/core/clock"
)

// CallAttemptsTracerFactory is the per-logical-call aggregator of spec
// §4.4: it mints an AttemptTracer for every attempt (including
// transparent retries), and on callEnded records the call-level
// duration plus, where needed, a synthetic zero-sized attempt record.
type CallAttemptsTracerFactory struct {
	is     *InstrumentSet
	method string
	clk    clock.Clock

	callStart time.Time
	ended     atomic.Bool

	mu           sync.Mutex
	attemptCount uint32
	onlyAttempt  *AttemptTracer // valid only while attemptCount <= 1
}

// NewCallAttemptsTracerFactory creates the factory at call-start time;
// its creation instant anchors the call-duration measurement.
func NewCallAttemptsTracerFactory(is *InstrumentSet, method string, clk clock.Clock) *CallAttemptsTracerFactory {
	if clk == nil {
		clk = clock.Real
	}
	return &CallAttemptsTracerFactory{
		is:        is,
		method:    method,
		clk:       clk,
		callStart: clk.Now(),
	}
}

// NewClientStreamTracer mints a fresh AttemptTracer and increments
// grpc.client.attempt.started by 1, regardless of whether info marks a
// transparent retry (spec §4.4, §8 invariant 1).
func (f *CallAttemptsTracerFactory) NewClientStreamTracer(ctx context.Context, info StreamInfo) *AttemptTracer {
	f.is.clientAttemptStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grpc.method", f.method),
	))

	at := newAttemptTracer(f.is, f.method, f.clk, info)

	f.mu.Lock()
	f.attemptCount++
	if f.attemptCount == 1 {
		f.onlyAttempt = at
	} else {
		f.onlyAttempt = nil
	}
	f.mu.Unlock()

	return at
}

// CallEnded records exactly one grpc.client.call.duration point. When no
// attempt tracer was ever created, or the only one never reached
// outboundHeaders and has not recorded its own points, it also records
// the synthetic zero-sized attempt record described in §4.4; with no
// attempt tracer at all, that synthetic attempt is also counted once on
// grpc.client.attempt.started. A second call is a no-op.
func (f *CallAttemptsTracerFactory) CallEnded(ctx context.Context, status codes.Code) {
	if !f.ended.CompareAndSwap(false, true) {
		return
	}

	f.mu.Lock()
	count := f.attemptCount
	only := f.onlyAttempt
	f.mu.Unlock()

	if count == 0 {
		f.is.clientAttemptStarted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("grpc.method", f.method),
		))
	}
	if count == 0 || (count == 1 && only != nil && !only.HeadersSent() && !only.sealed()) {
		f.emitSyntheticAttempt(ctx, status)
	}

	attrs := metric.WithAttributes(
		attribute.String("grpc.method", f.method),
		attribute.String("grpc.status", StatusName(status)),
	)
	f.is.clientCallDuration.Record(ctx, f.clk.Now().Sub(f.callStart).Seconds(), attrs)
}

// emitSyntheticAttempt records a zero-sized, zero-duration attempt point
// carrying the call's terminal status, for calls that never produced a
// real attempt emission (spec §4.4 "Zero-stream case", §8 scenario 3).
func (f *CallAttemptsTracerFactory) emitSyntheticAttempt(ctx context.Context, status codes.Code) {
	attrs := metric.WithAttributes(
		attribute.String("grpc.method", f.method),
		attribute.String("grpc.status", StatusName(status)),
	)
	f.is.clientAttemptDuration.Record(ctx, 0, attrs)
	f.is.clientAttemptSent.Record(ctx, 0, attrs)
	f.is.clientAttemptRcvd.Record(ctx, 0, attrs)
}
