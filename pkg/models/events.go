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

package models

import "encoding/json"

// EventKind is the closed set of counterparty events the bridge understands.
type EventKind int

const (
	KindUnknown EventKind = iota

	KindSessionCreated
	KindSessionUpdated

	KindInputAudioCommitted
	KindInputAudioCleared
	KindSpeechStarted
	KindSpeechStopped

	KindItemCreated
	KindItemTruncated
	KindItemDeleted
	KindInputTranscriptionCompleted
	KindInputTranscriptionFailed

	KindResponseCreated
	KindResponseDone
	KindOutputItemAdded
	KindOutputItemDone
	KindContentPartAdded
	KindContentPartDone
	KindAudioDelta
	KindAudioDone
	KindAudioTranscriptDelta
	KindAudioTranscriptDone
	KindTextDelta
	KindTextDone

	KindFunctionCallArgumentsDelta
	KindFunctionCallArgumentsDone

	KindRateLimitsUpdated
	KindError
)

var kindNames = [...]string{
	KindUnknown:                     "unknown",
	KindSessionCreated:              "session_created",
	KindSessionUpdated:              "session_updated",
	KindInputAudioCommitted:         "input_audio_committed",
	KindInputAudioCleared:           "input_audio_cleared",
	KindSpeechStarted:               "speech_started",
	KindSpeechStopped:               "speech_stopped",
	KindItemCreated:                 "item_created",
	KindItemTruncated:               "item_truncated",
	KindItemDeleted:                 "item_deleted",
	KindInputTranscriptionCompleted: "input_transcription_completed",
	KindInputTranscriptionFailed:    "input_transcription_failed",
	KindResponseCreated:             "response_created",
	KindResponseDone:                "response_done",
	KindOutputItemAdded:             "output_item_added",
	KindOutputItemDone:              "output_item_done",
	KindContentPartAdded:            "content_part_added",
	KindContentPartDone:             "content_part_done",
	KindAudioDelta:                  "audio_delta",
	KindAudioDone:                   "audio_done",
	KindAudioTranscriptDelta:        "audio_transcript_delta",
	KindAudioTranscriptDone:         "audio_transcript_done",
	KindTextDelta:                   "text_delta",
	KindTextDone:                    "text_done",
	KindFunctionCallArgumentsDelta:  "function_call_arguments_delta",
	KindFunctionCallArgumentsDone:   "function_call_arguments_done",
	KindRateLimitsUpdated:           "rate_limits_updated",
	KindError:                       "error",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

// Response terminal statuses.
const (
	ResponseCompleted  = "completed"
	ResponseCancelled  = "cancelled"
	ResponseFailed     = "failed"
	ResponseIncomplete = "incomplete"
)

// Conversation item types and roles.
const (
	ItemMessage            = "message"
	ItemFunctionCall       = "function_call"
	ItemFunctionCallOutput = "function_call_output"

	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Item is the part of a conversation item the bridge keeps track of.
type Item struct {
	ID     string
	Type   string
	Role   string
	Status string
	// Set for function_call items.
	Name   string
	CallID string
}

type RateLimit struct {
	Name         string  `json:"name"`
	Limit        int     `json:"limit"`
	Remaining    int     `json:"remaining"`
	ResetSeconds float64 `json:"reset_seconds"`
}

type ErrorInfo struct {
	Type    string
	Code    string
	Message string
	Param   string
}

// ServerEvent is a decoded counterparty event. Which fields are set depends on Kind;
// Type keeps the wire name so unknown events can still be logged.
type ServerEvent struct {
	Kind    EventKind
	Type    string
	EventID string

	Item         *Item
	ItemID       string
	ContentIndex int
	AudioEndMs   int64

	ResponseID     string
	ResponseStatus string
	StatusReason   string

	Delta      string
	Transcript string
	Text       string

	Name      string
	CallID    string
	Arguments string

	RateLimits []RateLimit
	Error      *ErrorInfo

	Raw json.RawMessage
}
