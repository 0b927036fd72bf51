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
	"time"

	"github.com/veloxvoip/voicebridge/pkg/calllog"
	"github.com/veloxvoip/voicebridge/pkg/models"
)

type State string

const (
	StateActive State = "active"
	StateEnded  State = "ended"
)

// Summary is the lightweight view of a session used for listings.
type Summary struct {
	CallID       string    `json:"call_id"`
	StreamID     string    `json:"stream_id"`
	CallerNumber string    `json:"caller_number,omitempty"`
	State        State     `json:"state"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at,omitempty"`
	EndReason    string    `json:"end_reason,omitempty"`

	ResponseInProgress bool   `json:"response_in_progress"`
	CurrentResponseID  string `json:"current_response_id,omitempty"`
	Interrupting       bool   `json:"interrupting"`
	AudioBytesSent     int64  `json:"audio_bytes_sent"`
	PlayedMillis       int64  `json:"played_ms"`
	PendingMarks       int    `json:"pending_marks"`
	AckedBytes         int64  `json:"acked_bytes"`
	PendingTools       int    `json:"pending_tools"`
	Items              int    `json:"items"`
	Turns              int    `json:"turns"`
	ToolCalls          int    `json:"tool_calls"`

	RateLimits []models.RateLimit   `json:"rate_limits,omitempty"`
	Stats      SessionStatsSnapshot `json:"stats"`
}

// Detail adds the transcript and tool log. Analytics fields are set once the call ended.
type Detail struct {
	Summary

	Transcript   []calllog.Utterance `json:"transcript"`
	Tools        []calllog.ToolUse   `json:"tools"`
	ToolCounts   map[string]int      `json:"tool_counts,omitempty"`
	Conversation []ItemRecord        `json:"conversation,omitempty"`

	Sentiment calllog.Sentiment `json:"sentiment,omitempty"`
	LeadScore *int              `json:"lead_score,omitempty"`
	Outcomes  *calllog.Outcomes `json:"outcomes,omitempty"`
}
