// Copyright 2025 VeloxVoIP
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

package voice

import (
	"errors"
	"fmt"
)

type Leg string

const (
	LegTelephony Leg = "telephony"
	LegRealtime  Leg = "realtime"
)

// LegError is a connection-level failure on one leg. It ends the session.
type LegError struct {
	Leg Leg
	Op  string // e.g. "read", "send_media", "append_audio"
	Err error
}

func (e *LegError) Error() string {
	return fmt.Sprintf("%s leg error [%s]: %v", e.Leg, e.Op, e.Err)
}

func (e *LegError) Unwrap() error {
	return e.Err
}

func newLegError(leg Leg, op string, err error) error {
	if err == nil {
		return nil
	}
	return &LegError{Leg: leg, Op: op, Err: err}
}

// ProtocolError is a single bad or unexpected message. The session logs it and continues.
type ProtocolError struct {
	Leg  Leg
	Kind string
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s protocol error [%s]: %v", e.Leg, e.Kind, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must end the session.
func IsFatal(err error) bool {
	var le *LegError
	return errors.As(err, &le)
}

// fatalRealtimeCodes are counterparty error codes after which the session cannot continue.
var fatalRealtimeCodes = map[string]struct{}{
	"session_expired":   {},
	"invalid_api_key":   {},
	"session_not_found": {},
}

type panicError struct {
	v any
}

func (p panicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", p.v)
}
