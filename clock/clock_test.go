// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeAfterFuncFiresDuringAdvance(t *testing.T) {
	f := NewFake()
	fired := false
	f.AfterFunc(time.Minute, func() { fired = true })

	f.Advance(30 * time.Second)
	require.False(t, fired, "must not fire before its deadline")

	f.Advance(30 * time.Second)
	require.True(t, fired, "must have fired synchronously by the time Advance returns")
}

func TestFakeAfterFuncStopPreventsFire(t *testing.T) {
	f := NewFake()
	fired := false
	timer := f.AfterFunc(time.Minute, func() { fired = true })

	require.True(t, timer.Stop())
	f.Advance(time.Hour)
	require.False(t, fired)

	require.False(t, timer.Stop(), "stopping twice reports it was already stopped")
}

func TestFakeNewTimerChannelFire(t *testing.T) {
	f := NewFake()
	timer := f.NewTimer(time.Minute)

	f.Advance(time.Minute)
	select {
	case <-timer.C():
	default:
		t.Fatal("expected timer channel to have fired")
	}
}
