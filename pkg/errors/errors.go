// Copyright 2025 VeloxVOIP.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"errors"
	"net/http"

	"github.com/livekit/psrpc"
)

var (
	ErrNoConfig           = psrpc.NewErrorf(psrpc.Internal, "missing config")
	ErrSessionNotFound    = psrpc.NewErrorf(psrpc.NotFound, "session not found")
	ErrCallLogNotFound    = psrpc.NewErrorf(psrpc.NotFound, "call log not found")
	ErrSessionClosed      = psrpc.NewErrorf(psrpc.FailedPrecondition, "session closed")
	ErrUnauthorized       = psrpc.NewErrorf(psrpc.Unauthenticated, "unauthorized")
	ErrForbidden          = psrpc.NewErrorf(psrpc.PermissionDenied, "source address not allowed")
	ErrAtCapacity         = psrpc.NewErrorf(psrpc.ResourceExhausted, "too many concurrent calls")
	ErrStreamNotStarted   = psrpc.NewErrorf(psrpc.FailedPrecondition, "media stream closed before start")
	ErrUnknownLogDriver   = psrpc.NewErrorf(psrpc.InvalidArgument, "unknown call log driver")
	ErrMissingRealtimeKey = psrpc.NewErrorf(psrpc.InvalidArgument, "realtime api key is required")
	ErrNoActiveResponse   = psrpc.NewErrorf(psrpc.FailedPrecondition, "no response in progress")
)

func ErrCouldNotParseConfig(err error) psrpc.Error {
	return psrpc.NewErrorf(psrpc.InvalidArgument, "could not parse config: %v", err)
}

func ErrInvalidRequest(msg string) psrpc.Error {
	return psrpc.NewErrorf(psrpc.InvalidArgument, "%s", msg)
}

// HTTPStatus maps an error produced by this package to an HTTP status code.
func HTTPStatus(err error) int {
	var perr psrpc.Error
	if !errors.As(err, &perr) {
		return http.StatusInternalServerError
	}
	switch perr.Code() {
	case psrpc.NotFound:
		return http.StatusNotFound
	case psrpc.InvalidArgument, psrpc.MalformedRequest:
		return http.StatusBadRequest
	case psrpc.Unauthenticated:
		return http.StatusUnauthorized
	case psrpc.PermissionDenied:
		return http.StatusForbidden
	case psrpc.FailedPrecondition:
		return http.StatusConflict
	case psrpc.ResourceExhausted:
		return http.StatusTooManyRequests
	case psrpc.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case psrpc.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
