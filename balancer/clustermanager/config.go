// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package clustermanager // import "github.com/grpcruntime/core/balancer/clustermanager"

import "encoding/json"

// ParseConfig decodes the balancer-config JSON schema of spec §6: a
// top-level object of cluster name -> {policyProvider, policyConfig}.
func ParseConfig(raw json.RawMessage) (Update, error) {
	var update Update
	if err := json.Unmarshal(raw, &update); err != nil {
		return nil, err
	}
	return update, nil
}

// MarshalConfig re-serializes an Update back to the wire schema, used by
// round-trip tests and by callers constructing a config programmatically.
func MarshalConfig(update Update) (json.RawMessage, error) {
	return json.Marshal(update)
}
