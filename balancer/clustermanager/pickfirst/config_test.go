// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pickfirst

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(json.RawMessage(`{"shuffleAddressList": true}`))
	require.NoError(t, err)
	require.True(t, cfg.ShuffleAddressList)
}

func TestParseConfigEmptyDefaultsFalse(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)
	require.False(t, cfg.ShuffleAddressList)
}

func TestNewPickFirstEnabled(t *testing.T) {
	cases := map[string]bool{
		"":      false,
		"true":  true,
		"TRUE":  true,
		"False": false,
		"1":     true,
		"0":     false,
		"nope":  false,
	}
	for v, want := range cases {
		t.Setenv("GRPC_EXPERIMENTAL_ENABLE_NEW_PICK_FIRST", v)
		require.Equal(t, want, NewPickFirstEnabled(), "value %q", v)
	}
}
