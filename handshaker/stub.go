// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package handshaker adapts a long-lived bidirectional gRPC stream into a
// blocking send(req) -> resp primitive, used to talk to an external
// handshaker service one request/response exchange at a time (spec
// §4.5). The shape — a writer goroutine fed by a channel, a reader that
// unblocks waiters, a single terminal-error latch — follows the
// teacher's Stream type in
// exporter/otelarrowexporter/internal/arrow (née gen/exporter/.../stream.go),
// generalized from "one arrow batch in flight per stream slot" to a
// literal one-request-one-response rendezvous with a capacity-1 buffer.
// Background errors that have nowhere else to go (a failed CloseSend,
// the stream's terminal error) are logged through a *zap.Logger rather
// than silently dropped, the way Stream.logStreamError does.
package handshaker // import "github.com/grpcruntime/core/handshaker"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// streamDeadline is the fixed RPC deadline applied when the stream is
// lazily opened (spec §4.5, §5).
const streamDeadline = 20 * time.Second

// Stream is the bidirectional RPC the stub drives. It is satisfied by a
// generated gRPC client stream (Req/Resp are the generated message
// types).
type Stream[Req, Resp any] interface {
	Send(Req) error
	Recv() (Resp, error)
	CloseSend() error
}

// OpenFunc establishes the stream. The stub calls it once, on the first
// Send, with a context that already carries streamDeadline; the stub
// cancels that context on Close.
type OpenFunc[Req, Resp any] func(ctx context.Context) (Stream[Req, Resp], error)

// UnexpectedResponseError is returned when onNext observes a response
// while the one-slot buffer already holds one, per spec §4.5 and the
// ErrorTaxonomy's UnexpectedHandshakerResponse.
type UnexpectedResponseError struct{}

func (UnexpectedResponseError) Error() string {
	return "handshaker: unexpected response, one-slot buffer already full"
}

// StreamTerminatedError is latched when the stream ends (onError or
// onCompleted) while a send may have been waiting, per spec §4.5 and the
// ErrorTaxonomy's HandshakerStreamTerminated.
type StreamTerminatedError struct {
	// Cause is the transport error for onError, or nil for a clean
	// onCompleted (the stream simply ran out of responses).
	Cause error
}

func (e StreamTerminatedError) Error() string {
	if e.Cause == nil {
		return "handshaker: response stream closed"
	}
	return fmt.Sprintf("handshaker: terminating error: %v", e.Cause)
}

func (e StreamTerminatedError) Unwrap() error { return e.Cause }

// BufferFullError is returned by Send when a previous response is still
// sitting unread in the one-slot buffer — the "at most one in-flight
// request" invariant (spec §3, §4.5) being violated by the caller.
var BufferFullError = errors.New("handshaker: previous response not yet consumed")

// ErrClosed is returned by Send after Close has been called.
var ErrClosed = errors.New("handshaker: stub closed")

// Stub serializes one request/response exchange at a time over a
// bidirectional stream. The zero value is not usable; construct with
// New.
type Stub[Req, Resp any] struct {
	open   OpenFunc[Req, Resp]
	logger *zap.Logger

	// sendMu makes Send caller-serial, matching spec §5 ("caller
	// threads invoke send serially per stub").
	sendMu sync.Mutex

	// openOnce lazily opens the stream on the first Send.
	openOnce sync.Once
	openErr  error
	stream   Stream[Req, Resp]
	cancel   context.CancelFunc

	// slot is the capacity-1 response buffer; closing it is the
	// "push a None sentinel" action of spec §4.5.
	mu        sync.Mutex
	slot      chan Resp
	slotOpen  bool
	termErr   error
	termOnce  sync.Once
	closeOnce sync.Once
}

// New constructs a Stub that opens streams via open, logging swallowed
// background errors to logger (or discarding them if logger is nil).
func New[Req, Resp any](open OpenFunc[Req, Resp], logger *zap.Logger) *Stub[Req, Resp] {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Stub[Req, Resp]{
		open:     open,
		logger:   logger,
		slot:     make(chan Resp, 1),
		slotOpen: true,
	}
	return s
}

// logStreamError decides how to log a background error: EOF and
// Canceled indicate ordinary shutdown and log at Debug, everything
// else logs at Error, following the teacher's Stream.logStreamError.
func (s *Stub[Req, Resp]) logStreamError(which string, err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		s.logger.Debug("handshaker stream shutdown", zap.String("which", which), zap.Error(err))
		return
	}
	s.logger.Error("handshaker stream error", zap.String("which", which), zap.Error(err))
}

func (s *Stub[Req, Resp]) latchError(err error) {
	s.termOnce.Do(func() {
		s.mu.Lock()
		s.termErr = err
		s.mu.Unlock()
	})
}

func (s *Stub[Req, Resp]) latchedError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.termErr
}

// closeSlot is the "push None" action: closes the response channel so
// any blocked Send wakes with ok=false. Safe to call more than once.
func (s *Stub[Req, Resp]) closeSlot() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slotOpen {
		s.slotOpen = false
		close(s.slot)
	}
}

// ensureOpen lazily opens the stream with the fixed deadline. Only the
// first caller actually dials; subsequent callers observe the same
// result.
func (s *Stub[Req, Resp]) ensureOpen(ctx context.Context) error {
	s.openOnce.Do(func() {
		dctx, cancel := context.WithTimeout(ctx, streamDeadline)
		stream, err := s.open(dctx)
		if err != nil {
			cancel()
			s.openErr = err
			return
		}
		s.cancel = cancel
		s.stream = stream
	})
	return s.openErr
}

// OnNext is invoked by the stream's reader with each inbound response.
// It places resp in the slot, or — if the slot is already full —
// latches UnexpectedResponseError and half-closes the writer (spec
// §4.5).
func (s *Stub[Req, Resp]) OnNext(resp Resp) {
	select {
	case s.slot <- resp:
	default:
		s.latchError(UnexpectedResponseError{})
		s.closeWriter()
	}
}

// OnError is invoked by the stream's reader when the stream fails. It
// logs the cause, latches a StreamTerminatedError, and unblocks any
// waiting Send.
func (s *Stub[Req, Resp]) OnError(err error) {
	s.logStreamError("reader", err)
	s.latchError(StreamTerminatedError{Cause: err})
	s.closeSlot()
}

// OnCompleted is invoked by the stream's reader when the server closes
// the stream cleanly. It latches a StreamTerminatedError (nil cause) and
// unblocks any waiting Send.
func (s *Stub[Req, Resp]) OnCompleted() {
	s.latchError(StreamTerminatedError{})
	s.closeSlot()
}

func (s *Stub[Req, Resp]) closeWriter() {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream != nil {
		if err := stream.CloseSend(); err != nil {
			s.logStreamError("writer", err)
		}
	}
}

// Send writes req onto the stream and blocks for the single response.
// It fails immediately if the stub is latched with a terminal error, or
// if a prior response is still sitting unread in the response slot
// (spec §4.5, §8 invariant 7).
func (s *Stub[Req, Resp]) Send(ctx context.Context, req Req) (Resp, error) {
	var zero Resp

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := s.latchedError(); err != nil {
		return zero, err
	}

	select {
	case resp, ok := <-s.slot:
		// A response was sitting unread: restore it (so OnNext's
		// invariant still holds for the *next* exchange) and fail
		// this Send, per spec.
		if ok {
			s.mu.Lock()
			if s.slotOpen {
				s.slot <- resp
			}
			s.mu.Unlock()
		}
		return zero, BufferFullError
	default:
	}

	if err := s.ensureOpen(ctx); err != nil {
		return zero, err
	}

	if err := s.stream.Send(req); err != nil {
		s.latchError(err)
		return zero, err
	}

	select {
	case resp, ok := <-s.slot:
		if !ok {
			return zero, s.latchedError()
		}
		return resp, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close idempotently half-closes the writer, if a stream was ever
// opened.
func (s *Stub[Req, Resp]) Close() {
	s.closeOnce.Do(func() {
		s.closeWriter()
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}
