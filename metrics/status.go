// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metrics // import "github.com/grpcruntime/core/metrics"

import "google.golang.org/grpc/codes"

// canonicalStatusNames maps gRPC status codes to the upper-snake-case
// names used as the grpc.status attribute value (§4.1, §9). codes.Code's
// own String() method returns mixed-case names ("NotFound") rather than
// the canonical wire names ("NOT_FOUND"), so this table is kept
// independently of it.
var canonicalStatusNames = map[codes.Code]string{
	codes.OK:                 "OK",
	codes.Canceled:           "CANCELLED",
	codes.Unknown:            "UNKNOWN",
	codes.InvalidArgument:    "INVALID_ARGUMENT",
	codes.DeadlineExceeded:   "DEADLINE_EXCEEDED",
	codes.NotFound:           "NOT_FOUND",
	codes.AlreadyExists:      "ALREADY_EXISTS",
	codes.PermissionDenied:   "PERMISSION_DENIED",
	codes.ResourceExhausted:  "RESOURCE_EXHAUSTED",
	codes.FailedPrecondition: "FAILED_PRECONDITION",
	codes.Aborted:            "ABORTED",
	codes.OutOfRange:         "OUT_OF_RANGE",
	codes.Unimplemented:      "UNIMPLEMENTED",
	codes.Internal:           "INTERNAL",
	codes.Unavailable:        "UNAVAILABLE",
	codes.DataLoss:           "DATA_LOSS",
	codes.Unauthenticated:    "UNAUTHENTICATED",
}

// StatusName returns the canonical upper-snake-case name of a gRPC status
// code, e.g. NotFound -> "NOT_FOUND". Unrecognized codes fall back to
// "UNKNOWN".
func StatusName(c codes.Code) string {
	if name, ok := canonicalStatusNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}
