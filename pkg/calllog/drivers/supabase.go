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

package drivers

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/supabase-community/supabase-go"

	"github.com/veloxvoip/voicebridge/pkg/calllog"
	perrors "github.com/veloxvoip/voicebridge/pkg/errors"
)

// supabaseRow mirrors the call_logs table. transcript and tools are jsonb columns.
type supabaseRow struct {
	ID             string              `json:"id"`
	CallID         string              `json:"call_id"`
	StreamID       string              `json:"stream_id"`
	CallerNumber   string              `json:"caller_number"`
	StartedAt      time.Time           `json:"started_at"`
	EndedAt        time.Time           `json:"ended_at"`
	DurationMs     int64               `json:"duration_ms"`
	EndReason      string              `json:"end_reason"`
	Sentiment      string              `json:"sentiment"`
	LeadScore      int                 `json:"lead_score"`
	Escalated      bool                `json:"escalated"`
	Conversion     bool                `json:"conversion"`
	FollowUpNeeded bool                `json:"follow_up_needed"`
	Transcript     []calllog.Utterance `json:"transcript"`
	Tools          []calllog.ToolUse   `json:"tools"`
}

// SupabaseStore writes call logs through the Supabase REST API.
type SupabaseStore struct {
	client *supabase.Client
	table  string
}

var _ calllog.Store = (*SupabaseStore)(nil)

func NewSupabaseStore(url, apiKey, table string) (*SupabaseStore, error) {
	if url == "" {
		return nil, perrors.ErrInvalidRequest("supabase URL is required")
	}
	if apiKey == "" {
		return nil, perrors.ErrInvalidRequest("supabase API key is required")
	}
	if table == "" {
		table = "call_logs"
	}
	client, err := supabase.NewClient(url, apiKey, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create supabase client")
	}
	return &SupabaseStore{client: client, table: table}, nil
}

func (s *SupabaseStore) Save(_ context.Context, rec *calllog.Record) error {
	if rec == nil || rec.CallID == "" {
		return perrors.ErrInvalidRequest("call log requires a call id")
	}
	row := supabaseRow{
		ID:             rec.ID,
		CallID:         rec.CallID,
		StreamID:       rec.StreamID,
		CallerNumber:   rec.CallerNumber,
		StartedAt:      rec.StartedAt.UTC(),
		EndedAt:        rec.EndedAt.UTC(),
		DurationMs:     rec.DurationMs,
		EndReason:      rec.EndReason,
		Sentiment:      string(rec.Sentiment),
		LeadScore:      rec.LeadScore,
		Escalated:      rec.Outcomes.Escalated,
		Conversion:     rec.Outcomes.Conversion,
		FollowUpNeeded: rec.Outcomes.FollowUpNeeded,
		Transcript:     rec.Transcript,
		Tools:          rec.Tools,
	}
	_, _, err := s.client.From(s.table).
		Insert(row, false, "", "minimal", "").
		Execute()
	if err != nil {
		return errors.Wrapf(err, "save call log %s", rec.CallID)
	}
	return nil
}

func (s *SupabaseStore) Get(_ context.Context, callID string) (*calllog.Record, error) {
	var rows []supabaseRow
	_, err := s.client.From(s.table).
		Select("*", "", false).
		Eq("call_id", callID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, errors.Wrapf(err, "get call log %s", callID)
	}
	if len(rows) == 0 {
		return nil, perrors.ErrCallLogNotFound
	}
	r := rows[0]
	return &calllog.Record{
		ID:           r.ID,
		CallID:       r.CallID,
		StreamID:     r.StreamID,
		CallerNumber: r.CallerNumber,
		StartedAt:    r.StartedAt,
		EndedAt:      r.EndedAt,
		DurationMs:   r.DurationMs,
		EndReason:    r.EndReason,
		Transcript:   r.Transcript,
		Tools:        r.Tools,
		Sentiment:    calllog.Sentiment(r.Sentiment),
		LeadScore:    r.LeadScore,
		Outcomes: calllog.Outcomes{
			Escalated:      r.Escalated,
			Conversion:     r.Conversion,
			FollowUpNeeded: r.FollowUpNeeded,
		},
	}, nil
}

func (s *SupabaseStore) Close() error {
	return nil
}
