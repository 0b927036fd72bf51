// Copyright 2023 LiveKit, Inc.
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

package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/livekit/protocol/logger"
)

var ErrClosed = errors.New("counterparty closed")

// Counterparty is the real-time conversational AI leg of a call.
//
// Audio Flow:
//
//	telephony media (base64 g711) → AppendAudio → AI WebSocket
//	AI WebSocket → Events() (KindAudioDelta) → telephony media + mark
//
// Events are delivered in receipt order. Closed is signalled when the
// connection is gone; Err then reports why, or nil after a local Close.
type Counterparty interface {
	// Run connects to the service. It returns once the connection is established.
	Run(ctx context.Context) error

	Events() <-chan ServerEvent
	Closed() <-chan struct{}
	Err() error
	Close() error

	UpdateSession(conf SessionConfig) error
	AppendAudio(payload string) error
	CommitAudio() error
	ClearAudio() error

	CreateResponse() error
	CancelResponse(responseID string) error

	// CreateMessage adds a text message item with the given role ("user", "system").
	CreateMessage(role, text string) error
	CreateFunctionOutput(callID, output string) error
	TruncateItem(itemID string, contentIndex int, audioEndMs int64) error
}

// GetCounterpartyFunc creates a Counterparty for one call.
type GetCounterpartyFunc func(log logger.Logger) (Counterparty, error)

// ToolSchema describes a callable tool to the AI counterparty.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Threshold       float64
	PrefixPadding   time.Duration
	SilenceDuration time.Duration
	// Interrupt lets the service cancel its own response on caller speech.
	Interrupt bool
}

// SessionConfig is pushed to the counterparty at call start and on admin updates.
type SessionConfig struct {
	Instructions       string
	Voice              string
	Temperature        float64
	InputAudioFormat   string
	OutputAudioFormat  string
	TranscriptionModel string
	TurnDetection      TurnDetection
	Tools              []ToolSchema
}
