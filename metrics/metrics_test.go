// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"google.golang.org/grpc/codes"

	"github.com/grpcruntime/core/clock"
)

func attrKey(set attribute.Set) string {
	var key string
	for _, kv := range set.ToSlice() {
		key += string(kv.Key) + "=" + kv.Value.Emit() + ";"
	}
	return key
}

// collect gathers every data point into name -> attrsKey -> (sum, count)
// so tests can assert on cumulative histogram/counter state the way
// netstats_test.go's metricValues helper does.
type point struct {
	sum   float64
	count uint64
}

func collect(t *testing.T, reader metric.Reader) map[string]map[string]point {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]map[string]point{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			byAttr := map[string]point{}
			switch d := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range d.DataPoints {
					byAttr[attrKey(dp.Attributes)] = point{sum: float64(dp.Value), count: 1}
				}
			case metricdata.Histogram[int64]:
				for _, dp := range d.DataPoints {
					byAttr[attrKey(dp.Attributes)] = point{sum: float64(dp.Sum), count: dp.Count}
				}
			case metricdata.Histogram[float64]:
				for _, dp := range d.DataPoints {
					byAttr[attrKey(dp.Attributes)] = point{sum: dp.Sum, count: dp.Count}
				}
			}
			out[m.Name] = byAttr
		}
	}
	return out
}

func newTestInstruments(t *testing.T) (*InstrumentSet, metric.Reader) {
	t.Helper()
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	is, err := NewInstrumentSet(mp.Meter("test"))
	require.NoError(t, err)
	return is, reader
}

func TestBasicSuccessfulClientCall(t *testing.T) {
	clk := clock.NewFake()
	is, reader := newTestInstruments(t)
	ctx := context.Background()

	factory := NewCallAttemptsTracerFactory(is, "pkg.Svc/Method", clk)
	at := factory.NewClientStreamTracer(ctx, StreamInfo{})

	clk.Advance(30 * time.Millisecond)
	at.OutboundHeaders()

	clk.Advance(100 * time.Millisecond) // t=130
	at.OutboundMessage(0)
	at.OutboundWireSize(1028)

	clk.Advance(16 * time.Millisecond) // t=146
	at.InboundMessage(0)
	at.OutboundMessage(1)
	at.OutboundWireSize(99)

	clk.Advance(24 * time.Millisecond) // t=170
	at.InboundWireSize(154)
	at.StreamClosed(ctx, codes.OK)
	factory.CallEnded(ctx, codes.OK)

	data := collect(t, reader)

	require.Len(t, data["grpc.client.attempt.started"], 1)
	for _, p := range data["grpc.client.attempt.started"] {
		require.Equal(t, float64(1), p.sum)
	}
	for _, p := range data["grpc.client.attempt.duration"] {
		require.InDelta(t, 0.170, p.sum, 1e-9)
	}
	for _, p := range data["grpc.client.attempt.sent_total_compressed_message_size"] {
		require.Equal(t, float64(1127), p.sum)
	}
	for _, p := range data["grpc.client.attempt.rcvd_total_compressed_message_size"] {
		require.Equal(t, float64(154), p.sum)
	}
	for _, p := range data["grpc.client.call.duration"] {
		require.InDelta(t, 0.170, p.sum, 1e-9)
	}
}

func TestRetryThenTransparentRetryThenSuccess(t *testing.T) {
	clk := clock.NewFake()
	is, reader := newTestInstruments(t)
	ctx := context.Background()

	factory := NewCallAttemptsTracerFactory(is, "pkg.Svc/Method", clk)

	statuses := []codes.Code{codes.Unavailable, codes.NotFound, codes.Unavailable, codes.OK}
	transparent := []bool{false, true, true, true}

	for i, status := range statuses {
		at := factory.NewClientStreamTracer(ctx, StreamInfo{IsTransparentRetry: transparent[i]})
		at.OutboundHeaders()
		clk.Advance(10 * time.Millisecond)
		at.StreamClosed(ctx, status)
	}
	factory.CallEnded(ctx, codes.OK)

	data := collect(t, reader)

	var started float64
	for _, p := range data["grpc.client.attempt.started"] {
		started += p.sum
	}
	require.Equal(t, float64(4), started)

	var totalDurationPoints uint64
	for _, p := range data["grpc.client.attempt.duration"] {
		totalDurationPoints += p.count
	}
	require.Equal(t, uint64(4), totalDurationPoints)
}

func TestCallEndsBeforeAnyStream(t *testing.T) {
	clk := clock.NewFake()
	is, reader := newTestInstruments(t)
	ctx := context.Background()

	factory := NewCallAttemptsTracerFactory(is, "pkg.Svc/Method", clk)
	clk.Advance(3000 * time.Millisecond)
	factory.CallEnded(ctx, codes.DeadlineExceeded)

	data := collect(t, reader)

	var started float64
	for _, p := range data["grpc.client.attempt.started"] {
		started += p.sum
	}
	require.Equal(t, float64(1), started)

	for _, p := range data["grpc.client.attempt.duration"] {
		require.Equal(t, float64(0), p.sum)
	}
	for _, p := range data["grpc.client.attempt.sent_total_compressed_message_size"] {
		require.Equal(t, float64(0), p.sum)
	}
	for _, p := range data["grpc.client.call.duration"] {
		require.InDelta(t, 3.0, p.sum, 1e-9)
	}
}

func TestCallEndedIsIdempotent(t *testing.T) {
	clk := clock.NewFake()
	is, reader := newTestInstruments(t)
	ctx := context.Background()

	factory := NewCallAttemptsTracerFactory(is, "pkg.Svc/Method", clk)
	factory.CallEnded(ctx, codes.OK)
	clk.Advance(time.Second)
	factory.CallEnded(ctx, codes.Internal)

	data := collect(t, reader)
	for _, p := range data["grpc.client.call.duration"] {
		require.Equal(t, uint64(1), p.count)
	}
}

func TestStreamClosedIsIdempotent(t *testing.T) {
	clk := clock.NewFake()
	is, reader := newTestInstruments(t)
	ctx := context.Background()

	factory := NewCallAttemptsTracerFactory(is, "pkg.Svc/Method", clk)
	at := factory.NewClientStreamTracer(ctx, StreamInfo{})
	at.OutboundHeaders()
	at.StreamClosed(ctx, codes.OK)
	at.StreamClosed(ctx, codes.Internal)

	data := collect(t, reader)
	for _, p := range data["grpc.client.attempt.duration"] {
		require.Equal(t, uint64(1), p.count)
	}
}

func TestServerCallCancelledMidStream(t *testing.T) {
	clk := clock.NewFake()
	is, reader := newTestInstruments(t)
	ctx := context.Background()

	tr := NewServerTracer(ctx, is, "pkg.Svc/Method", clk)
	tr.InboundMessage(0)
	tr.InboundWireSize(34)

	clk.Advance(100 * time.Millisecond)
	tr.OutboundMessage(0)
	tr.OutboundWireSize(1028)

	clk.Advance(16 * time.Millisecond)
	tr.InboundWireSize(154)
	tr.OutboundWireSize(99)

	clk.Advance(24 * time.Millisecond)
	tr.StreamClosed(ctx, codes.Canceled)

	data := collect(t, reader)

	var started float64
	for _, p := range data["grpc.server.call.started"] {
		started += p.sum
	}
	require.Equal(t, float64(1), started)

	for _, p := range data["grpc.server.call.duration"] {
		require.InDelta(t, 0.140, p.sum, 1e-9)
	}
	for _, p := range data["grpc.server.call.sent_total_compressed_message_size"] {
		require.Equal(t, float64(1127), p.sum)
	}
	for _, p := range data["grpc.server.call.rcvd_total_compressed_message_size"] {
		require.Equal(t, float64(188), p.sum)
	}
}
