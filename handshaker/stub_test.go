// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package handshaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testTimeout = time.Second
	testTick    = time.Millisecond
)

type fakeStream struct {
	sent   []string
	sendErr error
	closed bool
}

func (f *fakeStream) Send(req string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeStream) Recv() (string, error) { panic("unused: driven via OnNext in tests") }

func (f *fakeStream) CloseSend() error {
	f.closed = true
	return nil
}

func newTestStub(t *testing.T) (*Stub[string, string], *fakeStream) {
	t.Helper()
	fs := &fakeStream{}
	stub := New[string, string](func(ctx context.Context) (Stream[string, string], error) {
		return fs, nil
	}, zaptest.NewLogger(t))
	return stub, fs
}

func TestSendReceivesMatchingResponse(t *testing.T) {
	stub, fs := newTestStub(t)
	done := make(chan struct{})
	var resp string
	var err error
	go func() {
		resp, err = stub.Send(context.Background(), "req1")
		close(done)
	}()

	require.Eventually(t, func() bool { return len(fs.sent) == 1 }, testTimeout, testTick)
	stub.OnNext("resp1")

	<-done
	require.NoError(t, err)
	require.Equal(t, "resp1", resp)
}

func TestSecondSendFailsWhileResponseUnread(t *testing.T) {
	stub, _ := newTestStub(t)

	// Place a response into the slot with no Send in flight to consume
	// it (an out-of-rhythm / stale response).
	stub.OnNext("stale")

	_, err := stub.Send(context.Background(), "req")
	require.ErrorIs(t, err, BufferFullError)
}

func TestUnexpectedSecondResponseLatchesError(t *testing.T) {
	stub, fs := newTestStub(t)

	// Complete one exchange so the stream (and its writer) is open.
	done := make(chan struct{})
	go func() {
		_, _ = stub.Send(context.Background(), "req0")
		close(done)
	}()
	require.Eventually(t, func() bool { return len(fs.sent) == 1 }, testTimeout, testTick)
	stub.OnNext("resp0")
	<-done

	stub.OnNext("first")  // fills the slot
	stub.OnNext("second") // slot still full: latches UnexpectedResponseError

	_, err := stub.Send(context.Background(), "req")
	var unexpected UnexpectedResponseError
	require.ErrorAs(t, err, &unexpected)
	require.True(t, fs.closed, "writer should be half-closed on unexpected response")
}

func TestOnErrorUnblocksWaitingSend(t *testing.T) {
	stub, fs := newTestStub(t)
	done := make(chan struct{})
	var err error
	go func() {
		_, err = stub.Send(context.Background(), "req")
		close(done)
	}()

	require.Eventually(t, func() bool { return len(fs.sent) == 1 }, testTimeout, testTick)
	cause := errors.New("transport reset")
	stub.OnError(cause)

	<-done
	var terminated StreamTerminatedError
	require.ErrorAs(t, err, &terminated)
	require.Equal(t, cause, terminated.Cause)
}

func TestOnCompletedUnblocksWaitingSend(t *testing.T) {
	stub, fs := newTestStub(t)
	done := make(chan struct{})
	var err error
	go func() {
		_, err = stub.Send(context.Background(), "req")
		close(done)
	}()

	require.Eventually(t, func() bool { return len(fs.sent) == 1 }, testTimeout, testTick)
	stub.OnCompleted()

	<-done
	var terminated StreamTerminatedError
	require.ErrorAs(t, err, &terminated)
	require.Nil(t, terminated.Cause)
}

func TestSendAfterLatchedErrorFailsImmediately(t *testing.T) {
	stub, _ := newTestStub(t)
	stub.OnCompleted()

	_, err := stub.Send(context.Background(), "req")
	require.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	stub, fs := newTestStub(t)
	done := make(chan struct{})
	go func() {
		_, _ = stub.Send(context.Background(), "req")
		close(done)
	}()
	require.Eventually(t, func() bool { return len(fs.sent) == 1 }, testTimeout, testTick)
	stub.OnNext("resp")
	<-done

	stub.Close()
	stub.Close()
	require.True(t, fs.closed)
}
