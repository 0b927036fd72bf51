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

package calllog

import (
	"context"
	"sort"
	"time"
)

type Speaker string

const (
	SpeakerCaller    Speaker = "caller"
	SpeakerAssistant Speaker = "assistant"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Utterance is one finalized transcript line.
type Utterance struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	ItemID  string    `json:"item_id,omitempty"`
	At      time.Time `json:"at"`
}

// ToolUse records one attempted tool invocation, successful or not.
type ToolUse struct {
	Name      string        `json:"name"`
	CallID    string        `json:"call_id"`
	Arguments string        `json:"arguments,omitempty"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	At        time.Time     `json:"at"`
}

func (t ToolUse) Failed() bool {
	return t.Status != "ok"
}

type Outcomes struct {
	Escalated      bool `json:"escalated"`
	Conversion     bool `json:"conversion"`
	FollowUpNeeded bool `json:"follow_up_needed"`
}

// Record is the call log entry written once per call at teardown.
type Record struct {
	ID           string    `json:"id"`
	CallID       string    `json:"call_id"`
	StreamID     string    `json:"stream_id"`
	CallerNumber string    `json:"caller_number,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	DurationMs   int64     `json:"duration_ms"`
	EndReason    string    `json:"end_reason,omitempty"`

	Transcript []Utterance `json:"transcript"`
	Tools      []ToolUse   `json:"tools"`

	Sentiment Sentiment `json:"sentiment"`
	LeadScore int       `json:"lead_score"`
	Outcomes  Outcomes  `json:"outcomes"`
}

// Turns is the number of transcript lines across both channels.
func (r *Record) Turns() int {
	return len(r.Transcript)
}

// ToolCounts returns invocations per tool name.
func (r *Record) ToolCounts() map[string]int {
	return CountTools(r.Tools)
}

func CountTools(uses []ToolUse) map[string]int {
	counts := make(map[string]int, len(uses))
	for _, t := range uses {
		counts[t.Name]++
	}
	return counts
}

// MergeTranscripts interleaves the caller and assistant channels by time.
// Lines with equal timestamps keep caller-before-assistant order.
func MergeTranscripts(caller, assistant []Utterance) []Utterance {
	out := make([]Utterance, 0, len(caller)+len(assistant))
	out = append(out, caller...)
	out = append(out, assistant...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].At.Before(out[j].At)
	})
	return out
}

// Store persists finished call logs. Implementations must be safe for concurrent use.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, callID string) (*Record, error)
	Close() error
}
