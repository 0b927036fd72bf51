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

package voice

import "sync/atomic"

// SessionStatsSnapshot is a point-in-time copy of SessionStats.
type SessionStatsSnapshot struct {
	InputPackets uint64 `json:"input_packets"`
	InputBytes   uint64 `json:"input_bytes"`
	DTMFPackets  uint64 `json:"dtmf_packets"`

	OutputChunks uint64 `json:"output_chunks"`
	OutputBytes  uint64 `json:"output_bytes"`

	MarksSent  uint64 `json:"marks_sent"`
	MarksAcked uint64 `json:"marks_acked"`

	Interruptions  uint64 `json:"interruptions"`
	ToolCalls      uint64 `json:"tool_calls"`
	ProtocolErrors uint64 `json:"protocol_errors"`

	Closed bool `json:"closed"`
}

// SessionStats are per-call counters. They are written by the session loop and may be
// read from any goroutine.
type SessionStats struct {
	InputPackets atomic.Uint64
	InputBytes   atomic.Uint64
	DTMFPackets  atomic.Uint64

	OutputChunks atomic.Uint64
	OutputBytes  atomic.Uint64

	MarksSent  atomic.Uint64
	MarksAcked atomic.Uint64

	Interruptions  atomic.Uint64
	ToolCalls      atomic.Uint64
	ProtocolErrors atomic.Uint64

	Closed atomic.Bool
}

func (s *SessionStats) Load() SessionStatsSnapshot {
	return SessionStatsSnapshot{
		InputPackets:   s.InputPackets.Load(),
		InputBytes:     s.InputBytes.Load(),
		DTMFPackets:    s.DTMFPackets.Load(),
		OutputChunks:   s.OutputChunks.Load(),
		OutputBytes:    s.OutputBytes.Load(),
		MarksSent:      s.MarksSent.Load(),
		MarksAcked:     s.MarksAcked.Load(),
		Interruptions:  s.Interruptions.Load(),
		ToolCalls:      s.ToolCalls.Load(),
		ProtocolErrors: s.ProtocolErrors.Load(),
		Closed:         s.Closed.Load(),
	}
}
