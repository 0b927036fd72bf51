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

	"github.com/veloxvoip/voicebridge/pkg/models"
)

type ItemRecord struct {
	models.Item
	CreatedAt  time.Time
	Truncated  bool
	AudioEndMs int64
	Deleted    bool
}

// ItemStore tracks the counterparty's conversation items by id. Items are never
// removed; a delete event only marks them.
type ItemStore struct {
	byID  map[string]*ItemRecord
	order []string
}

func NewItemStore() *ItemStore {
	return &ItemStore{byID: make(map[string]*ItemRecord)}
}

// Add records a new item. Repeated notifications for a known id fill in fields that
// were empty before.
func (s *ItemStore) Add(it models.Item, at time.Time) {
	if it.ID == "" {
		return
	}
	if rec, ok := s.byID[it.ID]; ok {
		if rec.Type == "" {
			rec.Type = it.Type
		}
		if rec.Role == "" {
			rec.Role = it.Role
		}
		if rec.Name == "" {
			rec.Name = it.Name
		}
		if rec.CallID == "" {
			rec.CallID = it.CallID
		}
		if it.Status != "" {
			rec.Status = it.Status
		}
		return
	}
	s.byID[it.ID] = &ItemRecord{Item: it, CreatedAt: at}
	s.order = append(s.order, it.ID)
}

func (s *ItemStore) Get(id string) (ItemRecord, bool) {
	rec, ok := s.byID[id]
	if !ok {
		return ItemRecord{}, false
	}
	return *rec, true
}

func (s *ItemStore) MarkTruncated(id string, audioEndMs int64) bool {
	rec, ok := s.byID[id]
	if !ok {
		return false
	}
	rec.Truncated = true
	rec.AudioEndMs = audioEndMs
	return true
}

func (s *ItemStore) MarkDeleted(id string) bool {
	rec, ok := s.byID[id]
	if !ok {
		return false
	}
	rec.Deleted = true
	return true
}

// Len counts items that have not been deleted.
func (s *ItemStore) Len() int {
	n := 0
	for _, rec := range s.byID {
		if !rec.Deleted {
			n++
		}
	}
	return n
}

// List returns all items in creation order, deleted ones included.
func (s *ItemStore) List() []ItemRecord {
	out := make([]ItemRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}
