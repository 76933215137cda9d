// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metrics // import "github.com/grpcruntime/core/metrics"

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/stats"
	"google.golang.org/grpc/status"

	"github.com/grpcruntime/core/clock"
)

// ClientStatsHandler and ServerStatsHandler bridge a real *grpc.ClientConn
// / *grpc.Server onto the tracer types above, grounded directly on
// netstats.NetworkReporter's grpc/stats.Handler implementation
// (TagRPC stashes the method name in the context; HandleRPC switches on
// the concrete stats.RPCStats type). Install with grpc.WithStatsHandler /
// grpc.StatsHandler.

type methodKey struct{}
type attemptKey struct{}

// ClientStatsHandler drives one CallAttemptsTracerFactory and one
// AttemptTracer per TagRPC invocation. A retry that re-enters TagRPC for
// the same logical call is recorded as a separate call with its own
// single attempt.
type ClientStatsHandler struct {
	Instruments *InstrumentSet
	Clock       clock.Clock
}

var _ stats.Handler = (*ClientStatsHandler)(nil)

// TagRPC stores the full method name for later HandleRPC calls and
// starts a fresh attempt tracer for this attempt.
func (h *ClientStatsHandler) TagRPC(ctx context.Context, info *stats.RPCTagInfo) context.Context {
	ctx = context.WithValue(ctx, methodKey{}, info.FullMethodName)
	factory := NewCallAttemptsTracerFactory(h.Instruments, info.FullMethodName, h.clockOrReal())
	at := factory.NewClientStreamTracer(ctx, StreamInfo{})
	return context.WithValue(ctx, attemptKey{}, &clientAttemptState{factory: factory, attempt: at})
}

type clientAttemptState struct {
	factory *CallAttemptsTracerFactory
	attempt *AttemptTracer
}

// HandleRPC dispatches wire-level events to the attempt tracer, and on
// the attempt's End event finalizes both the attempt and (since this
// handler treats each TagRPC invocation as a standalone call, matching
// the common case of retry support disabled) the call.
func (h *ClientStatsHandler) HandleRPC(ctx context.Context, rs stats.RPCStats) {
	st, _ := ctx.Value(attemptKey{}).(*clientAttemptState)
	if st == nil {
		return
	}
	switch ev := rs.(type) {
	case *stats.OutHeader:
		st.attempt.OutboundHeaders()
	case *stats.OutPayload:
		st.attempt.OutboundWireSize(int64(ev.WireLength))
	case *stats.InPayload:
		st.attempt.InboundWireSize(int64(ev.WireLength))
	case *stats.End:
		code := codes.OK
		if ev.Error != nil {
			code = status.Code(ev.Error)
		}
		st.attempt.StreamClosed(ctx, code)
		st.factory.CallEnded(ctx, code)
	}
}

func (h *ClientStatsHandler) TagConn(ctx context.Context, _ *stats.ConnTagInfo) context.Context { return ctx }
func (h *ClientStatsHandler) HandleConn(context.Context, stats.ConnStats)                       {}

func (h *ClientStatsHandler) clockOrReal() clock.Clock {
	if h.Clock != nil {
		return h.Clock
	}
	return clock.Real
}

// ServerStatsHandler is the server-side counterpart, one ServerTracer
// per inbound call.
type ServerStatsHandler struct {
	Instruments *InstrumentSet
	Clock       clock.Clock
}

var _ stats.Handler = (*ServerStatsHandler)(nil)

func (h *ServerStatsHandler) TagRPC(ctx context.Context, info *stats.RPCTagInfo) context.Context {
	ctx = context.WithValue(ctx, methodKey{}, info.FullMethodName)
	clk := h.Clock
	if clk == nil {
		clk = clock.Real
	}
	tr := NewServerTracer(ctx, h.Instruments, info.FullMethodName, clk)
	return context.WithValue(ctx, attemptKey{}, tr)
}

func (h *ServerStatsHandler) HandleRPC(ctx context.Context, rs stats.RPCStats) {
	tr, _ := ctx.Value(attemptKey{}).(*ServerTracer)
	if tr == nil {
		return
	}
	switch ev := rs.(type) {
	case *stats.InPayload:
		tr.InboundWireSize(int64(ev.WireLength))
	case *stats.OutPayload:
		tr.OutboundWireSize(int64(ev.WireLength))
	case *stats.End:
		code := codes.OK
		if ev.Error != nil {
			code = status.Code(ev.Error)
		}
		tr.StreamClosed(ctx, code)
	}
}

func (h *ServerStatsHandler) TagConn(ctx context.Context, _ *stats.ConnTagInfo) context.Context { return ctx }
func (h *ServerStatsHandler) HandleConn(context.Context, stats.ConnStats)                       {}
