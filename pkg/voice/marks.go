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

import "time"

// Mark is a checkpoint emitted with an outbound audio chunk.
type Mark struct {
	Label     string    `json:"label"`
	BytesSent int64     `json:"bytes_sent"`
	At        time.Time `json:"at"`
}

// MarkQueue holds emitted marks in send order. Acknowledgements arrive in order but may
// batch, so acking a mark drops it together with every earlier one.
type MarkQueue struct {
	marks []Mark
	acked int64
}

func (q *MarkQueue) Push(m Mark) {
	q.marks = append(q.marks, m)
}

// Ack removes every mark up to and including label. It returns false for unknown labels,
// which happen after a reset.
func (q *MarkQueue) Ack(label string) (Mark, bool) {
	for i, m := range q.marks {
		if m.Label != label {
			continue
		}
		n := copy(q.marks, q.marks[i+1:])
		q.marks = q.marks[:n]
		q.acked = m.BytesSent
		return m, true
	}
	return Mark{}, false
}

func (q *MarkQueue) Len() int {
	return len(q.marks)
}

// PlayedBytes is the byte count of the latest acknowledged mark. It is diagnostic only.
func (q *MarkQueue) PlayedBytes() int64 {
	return q.acked
}

func (q *MarkQueue) Reset() {
	q.marks = q.marks[:0]
	q.acked = 0
}
