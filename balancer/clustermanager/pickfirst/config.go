// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package pickfirst holds just the pick_first policy's JSON config
// schema and its experimental-feature gate (spec §6, §9); the policy
// itself ("every balancer policy") is out of this spec's scope.
package pickfirst // import "github.com/grpcruntime/core/balancer/clustermanager/pickfirst"

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

// envEnableNewPickFirst is the experimental gate named in spec §9.
const envEnableNewPickFirst = "GRPC_EXPERIMENTAL_ENABLE_NEW_PICK_FIRST"

// Config is the pick_first policy's JSON configuration.
type Config struct {
	ShuffleAddressList bool `json:"shuffleAddressList"`
}

// ParseConfig decodes a pick_first policyConfig blob.
func ParseConfig(raw json.RawMessage) (Config, error) {
	var cfg Config
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NewPickFirstEnabled reports whether GRPC_EXPERIMENTAL_ENABLE_NEW_PICK_FIRST
// is set to a truthy value, case-insensitively. Unset or unparseable
// values are treated as false.
func NewPickFirstEnabled() bool {
	v := strings.TrimSpace(os.Getenv(envEnableNewPickFirst))
	if v == "" {
		return false
	}
	enabled, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return false
	}
	return enabled
}
