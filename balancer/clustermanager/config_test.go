// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package clustermanager

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigRoundTrip(t *testing.T) {
	raw := json.RawMessage(`{
		"clusterA": {"policyProvider": "pick_first", "policyConfig": {"shuffleAddressList": true}},
		"clusterB": {"policyProvider": "xds_cluster_resolver", "policyConfig": {}}
	}`)

	update, err := ParseConfig(raw)
	require.NoError(t, err)
	require.Len(t, update, 2)
	require.Equal(t, "pick_first", update["clusterA"].PolicyProvider)

	reencoded, err := MarshalConfig(update)
	require.NoError(t, err)

	roundTripped, err := ParseConfig(reencoded)
	require.NoError(t, err)
	require.Equal(t, update["clusterA"].PolicyProvider, roundTripped["clusterA"].PolicyProvider)
	require.Equal(t, update["clusterB"].PolicyProvider, roundTripped["clusterB"].PolicyProvider)
}

func TestConfigRejectsMalformedJSON(t *testing.T) {
	_, err := ParseConfig(json.RawMessage(`not json`))
	require.Error(t, err)
}
