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

// ServerTracer is the server-side analogue of AttemptTracer, simplified
// because a server call has no retries (spec §4.3).
type ServerTracer struct {
	is     *InstrumentSet
	method string
	clk    clock.Clock

	startTime time.Time
	sentBytes atomic.Uint64
	rcvdBytes atomic.Uint64
	closed    atomic.Bool
}

// NewServerTracer constructs the tracer and increments
// grpc.server.call.started with {method}.
func NewServerTracer(ctx context.Context, is *InstrumentSet, method string, clk clock.Clock) *ServerTracer {
	if clk == nil {
		clk = clock.Real
	}
	is.serverCallStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grpc.method", method),
	))
	return &ServerTracer{
		is:        is,
		method:    method,
		clk:       clk,
		startTime: clk.Now(),
	}
}

// ServerCallStarted is a no-op: the method is fixed at construction and
// is not changed here. It exists for symmetry with the client side's
// event stream (spec §4.3).
func (s *ServerTracer) ServerCallStarted(method string) {}

// OutboundMessage is a lifecycle marker; see AttemptTracer.OutboundMessage.
func (s *ServerTracer) OutboundMessage(seq uint64) {}

// InboundMessage is a lifecycle marker; see AttemptTracer.InboundMessage.
func (s *ServerTracer) InboundMessage(seq uint64) {}

// OutboundWireSize accumulates n into the call's sent-bytes total.
func (s *ServerTracer) OutboundWireSize(n int64) {
	if n > 0 {
		s.sentBytes.Add(uint64(n))
	}
}

// InboundWireSize accumulates n into the call's received-bytes total.
func (s *ServerTracer) InboundWireSize(n int64) {
	if n > 0 {
		s.rcvdBytes.Add(uint64(n))
	}
}

// StreamClosed seals the call tracer, recording duration/sent/rcvd with
// {method, status}. A second call is a no-op.
func (s *ServerTracer) StreamClosed(ctx context.Context, status codes.Code) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("grpc.method", s.method),
		attribute.String("grpc.status", StatusName(status)),
	)
	s.is.serverCallDuration.Record(ctx, s.clk.Now().Sub(s.startTime).Seconds(), attrs)
	s.is.serverCallSent.Record(ctx, int64(s.sentBytes.Load()), attrs)
	s.is.serverCallRcvd.Record(ctx, int64(s.rcvdBytes.Load()), attrs)
}
