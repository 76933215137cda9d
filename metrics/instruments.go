// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics records per-attempt and per-call gRPC client/server
// metrics as OpenTelemetry instruments. It mirrors the shape of
// netstats.NetworkReporter from the teacher (instruments built once from
// a Meter, a nil Meter falls back to no-op instruments, errors from
// instrument construction are aggregated with multierr) generalized to the full
// attempt/call/retry state machine described by this module.
package metrics // import "github.com/grpcruntime/core/metrics"

import (
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/multierr"
)

// Instrumentation scope identifier the instruments are created under.
const scopeName = "github.com/grpcruntime/core/metrics"

const (
	bytesUnit  = "By"
	secUnit    = "s"
	attemptU   = "{attempt}"
	callU      = "{call}"
)

// InstrumentSet holds the nine client/server instruments of spec §4.1,
// created once per process from a Meter and shared by every tracer.
type InstrumentSet struct {
	clientAttemptStarted  metric.Int64Counter
	clientAttemptDuration metric.Float64Histogram
	clientAttemptSent     metric.Int64Histogram
	clientAttemptRcvd     metric.Int64Histogram
	clientCallDuration    metric.Float64Histogram

	serverCallStarted  metric.Int64Counter
	serverCallDuration metric.Float64Histogram
	serverCallSent     metric.Int64Histogram
	serverCallRcvd     metric.Int64Histogram
}

// NewInstrumentSet constructs the instrument set from meter. A nil meter
// yields an InstrumentSet backed entirely by no-op instruments, the same
// fallback netstats.NewExporterNetworkReporter uses at LevelBasic.
func NewInstrumentSet(meter metric.Meter) (*InstrumentSet, error) {
	if meter == nil {
		meter = noopmetric.Meter{}
	}

	is := &InstrumentSet{}
	var errs error
	var err error

	is.clientAttemptStarted, err = meter.Int64Counter(
		"grpc.client.attempt.started",
		metric.WithUnit(attemptU),
		metric.WithDescription("Number of client call attempts started."),
	)
	errs = multierr.Append(errs, err)

	is.clientAttemptDuration, err = meter.Float64Histogram(
		"grpc.client.attempt.duration",
		metric.WithUnit(secUnit),
		metric.WithDescription("End-to-end time taken to complete a client call attempt."),
	)
	errs = multierr.Append(errs, err)

	is.clientAttemptSent, err = meter.Int64Histogram(
		"grpc.client.attempt.sent_total_compressed_message_size",
		metric.WithUnit(bytesUnit),
		metric.WithDescription("Compressed message bytes sent per client call attempt."),
	)
	errs = multierr.Append(errs, err)

	is.clientAttemptRcvd, err = meter.Int64Histogram(
		"grpc.client.attempt.rcvd_total_compressed_message_size",
		metric.WithUnit(bytesUnit),
		metric.WithDescription("Compressed message bytes received per client call attempt."),
	)
	errs = multierr.Append(errs, err)

	is.clientCallDuration, err = meter.Float64Histogram(
		"grpc.client.call.duration",
		metric.WithUnit(secUnit),
		metric.WithDescription("End-to-end time taken to complete a client call, across all attempts."),
	)
	errs = multierr.Append(errs, err)

	is.serverCallStarted, err = meter.Int64Counter(
		"grpc.server.call.started",
		metric.WithUnit(callU),
		metric.WithDescription("Number of server calls started."),
	)
	errs = multierr.Append(errs, err)

	is.serverCallDuration, err = meter.Float64Histogram(
		"grpc.server.call.duration",
		metric.WithUnit(secUnit),
		metric.WithDescription("End-to-end time taken to complete a server call."),
	)
	errs = multierr.Append(errs, err)

	is.serverCallSent, err = meter.Int64Histogram(
		"grpc.server.call.sent_total_compressed_message_size",
		metric.WithUnit(bytesUnit),
		metric.WithDescription("Compressed message bytes sent per server call."),
	)
	errs = multierr.Append(errs, err)

	is.serverCallRcvd, err = meter.Int64Histogram(
		"grpc.server.call.rcvd_total_compressed_message_size",
		metric.WithUnit(bytesUnit),
		metric.WithDescription("Compressed message bytes received per server call."),
	)
	errs = multierr.Append(errs, err)

	return is, errs
}
