// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metrics // import "github.com/grpcruntime/core/metrics"

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/grpc/codes"

	"github.com/grpcruntime/core/clock"
)

// StreamInfo carries the per-attempt facts that newTracer needs but that
// don't arrive as later events: whether this attempt is a transparent
// retry, and how long name resolution delayed it, per spec §4.2.
type StreamInfo struct {
	IsTransparentRetry  bool
	NameResolutionDelay time.Duration // zero means "not carried"
}

// AttemptTracer records one network attempt of a client call. Byte
// counters are lock-free atomics written from a single transport thread
// at a time (spec §9 "Design Notes"); the closed/emitted transition is a
// single atomic CAS so a duplicate streamClosed is a safe no-op.
type AttemptTracer struct {
	is     *InstrumentSet
	method string
	clk    clock.Clock

	startTime time.Time
	info      StreamInfo

	sentBytes atomic.Uint64
	rcvdBytes atomic.Uint64

	headersSent atomic.Bool
	closed      atomic.Bool

	status codes.Code
}

func newAttemptTracer(is *InstrumentSet, method string, clk clock.Clock, info StreamInfo) *AttemptTracer {
	return &AttemptTracer{
		is:        is,
		method:    method,
		clk:       clk,
		startTime: clk.Now(),
		info:      info,
	}
}

// OutboundHeaders marks that the attempt transmitted request headers,
// i.e. it reached the network and is no longer eligible to be
// transparently retried away. It carries no direct metric emission
// (spec §4.2) but is observable by the owning factory via HeadersSent.
func (a *AttemptTracer) OutboundHeaders() {
	a.headersSent.Store(true)
}

// HeadersSent reports whether OutboundHeaders was ever called.
func (a *AttemptTracer) HeadersSent() bool {
	return a.headersSent.Load()
}

// OutboundMessage is a lifecycle marker; message counts are not used by
// the metric contract (spec §4.2) so this is intentionally a no-op
// beyond documenting the call in the stream's event order.
func (a *AttemptTracer) OutboundMessage(seq uint64) {}

// InboundMessage is the inbound counterpart of OutboundMessage.
func (a *AttemptTracer) InboundMessage(seq uint64) {}

// OutboundWireSize accumulates n into the attempt's sent-bytes total.
func (a *AttemptTracer) OutboundWireSize(n int64) {
	if n > 0 {
		a.sentBytes.Add(uint64(n))
	}
}

// InboundWireSize accumulates n into the attempt's received-bytes total.
func (a *AttemptTracer) InboundWireSize(n int64) {
	if n > 0 {
		a.rcvdBytes.Add(uint64(n))
	}
}

// StreamClosed seals the attempt with its terminal status and records
// exactly three histogram points. A second call is a no-op (spec §4.2,
// §8 idempotence).
func (a *AttemptTracer) StreamClosed(ctx context.Context, status codes.Code) {
	if !a.closed.CompareAndSwap(false, true) {
		return
	}
	a.status = status
	a.emit(ctx, a.clk.Now().Sub(a.startTime))
}

// emit records the three attempt-level points with {method, status}
// attributes. StreamClosed calls it once, after the closed/emitted latch.
func (a *AttemptTracer) emit(ctx context.Context, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("grpc.method", a.method),
		attribute.String("grpc.status", StatusName(a.status)),
	)
	a.is.clientAttemptDuration.Record(ctx, duration.Seconds(), attrs)
	a.is.clientAttemptSent.Record(ctx, int64(a.sentBytes.Load()), attrs)
	a.is.clientAttemptRcvd.Record(ctx, int64(a.rcvdBytes.Load()), attrs)
}

// sealed reports whether StreamClosed has already run, used by the call
// factory to decide whether this attempt needs a synthetic record.
func (a *AttemptTracer) sealed() bool {
	return a.closed.Load()
}
