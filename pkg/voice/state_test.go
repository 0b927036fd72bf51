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
	"testing"
	"time"

	"github.com/veloxvoip/voicebridge/pkg/models"
)

func TestMarkQueue(t *testing.T) {
	var q MarkQueue
	for i, label := range []string{"a", "b", "c", "d"} {
		q.Push(Mark{Label: label, BytesSent: int64(i+1) * 160})
	}

	if _, ok := q.Ack("zz"); ok {
		t.Fatalf("unknown label acknowledged")
	}
	if q.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", q.Len())
	}

	// Batched acknowledgement drops every earlier mark too.
	m, ok := q.Ack("b")
	if !ok || m.BytesSent != 320 {
		t.Fatalf("Ack(b) = %+v, %v", m, ok)
	}
	if q.Len() != 2 || q.PlayedBytes() != 320 {
		t.Errorf("after ack: Len() = %d PlayedBytes() = %d", q.Len(), q.PlayedBytes())
	}
	if _, ok = q.Ack("a"); ok {
		t.Errorf("already dropped mark acknowledged again")
	}

	if m, ok = q.Ack("c"); !ok || m.BytesSent != 480 || q.Len() != 1 {
		t.Errorf("Ack(c) = %+v, %v with %d left", m, ok, q.Len())
	}

	q.Reset()
	if q.Len() != 0 || q.PlayedBytes() != 0 {
		t.Errorf("Reset() left Len() = %d PlayedBytes() = %d", q.Len(), q.PlayedBytes())
	}
	if _, ok = q.Ack("d"); ok {
		t.Errorf("mark from before reset acknowledged")
	}
}

func TestItemStore(t *testing.T) {
	s := NewItemStore()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	s.Add(models.Item{}, at)
	s.Add(models.Item{ID: "item_1", Type: models.ItemMessage, Role: models.RoleUser}, at)
	s.Add(models.Item{ID: "item_fc", Type: models.ItemFunctionCall, Status: "in_progress"}, at.Add(time.Second))
	s.Add(models.Item{ID: "item_fc", Name: "get_pricing", CallID: "call_1", Status: "completed"}, at.Add(2*time.Second))

	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	fc, ok := s.Get("item_fc")
	if !ok {
		t.Fatal("item_fc missing")
	}
	if fc.Type != models.ItemFunctionCall || fc.Name != "get_pricing" || fc.CallID != "call_1" || fc.Status != "completed" {
		t.Errorf("merged item = %+v", fc)
	}
	if !fc.CreatedAt.Equal(at.Add(time.Second)) {
		t.Errorf("CreatedAt = %v, want first sighting", fc.CreatedAt)
	}

	if !s.MarkTruncated("item_1", 840) || s.MarkTruncated("nope", 1) {
		t.Errorf("MarkTruncated() results unexpected")
	}
	if it, _ := s.Get("item_1"); !it.Truncated || it.AudioEndMs != 840 {
		t.Errorf("truncation not recorded: %+v", it)
	}

	if !s.MarkDeleted("item_1") || s.MarkDeleted("nope") {
		t.Errorf("MarkDeleted() results unexpected")
	}
	if s.Len() != 1 {
		t.Errorf("Len() after delete = %d, want 1", s.Len())
	}
	list := s.List()
	if len(list) != 2 || list[0].ID != "item_1" || !list[0].Deleted || list[1].ID != "item_fc" {
		t.Errorf("List() = %+v", list)
	}
}
