// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package clustermanager // import "github.com/grpcruntime/core/balancer/clustermanager"

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// clusterSelectionKey is the context key carrying the cluster-selection
// call option of spec §6.
type clusterSelectionKey struct{}

// WithClusterSelection attaches the target cluster name to ctx, the way
// a CDS-aware interceptor would before a call reaches the picker.
func WithClusterSelection(ctx context.Context, cluster string) context.Context {
	return context.WithValue(ctx, clusterSelectionKey{}, cluster)
}

// ClusterSelectionFromContext retrieves the cluster name set by
// WithClusterSelection, if any.
func ClusterSelectionFromContext(ctx context.Context) (string, bool) {
	cluster, ok := ctx.Value(clusterSelectionKey{}).(string)
	return cluster, ok
}

// ChildAbsentError reports that the call's selected cluster has no
// active child balancer to pick from — either it was never configured,
// or it has been deactivated pending deletion (spec §8 scenario 5).
type ChildAbsentError struct {
	Cluster string
}

func (e ChildAbsentError) Error() string {
	return "CDS encountered error: unable to find available subchannel for cluster " + e.Cluster
}

// ClusterPicker dispatches each pick to the child selected by the
// call's cluster-selection context value, using a fixed snapshot of
// active children's pickers (spec §4.7).
type ClusterPicker struct {
	byCluster map[string]Picker
}

// NewClusterPicker builds a ClusterPicker over an immutable snapshot.
// Callers must not mutate snapshot afterward.
func NewClusterPicker(snapshot map[string]Picker) *ClusterPicker {
	return &ClusterPicker{byCluster: snapshot}
}

func (p *ClusterPicker) Pick(info PickInfo) (PickResult, error) {
	cluster, ok := ClusterSelectionFromContext(info.Ctx)
	if !ok || cluster == "" {
		return PickResult{}, status.Error(codes.Unavailable, "CDS encountered error: no cluster selected for call")
	}
	child, ok := p.byCluster[cluster]
	if !ok {
		return PickResult{}, status.Error(codes.Unavailable, ChildAbsentError{Cluster: cluster}.Error())
	}
	return child.Pick(info)
}
