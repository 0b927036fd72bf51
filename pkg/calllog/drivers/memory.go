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
	"sync"

	"github.com/veloxvoip/voicebridge/pkg/calllog"
	"github.com/veloxvoip/voicebridge/pkg/errors"
)

// MemoryStore keeps call logs in process memory. Useful for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]calllog.Record
}

var _ calllog.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]calllog.Record)}
}

func (s *MemoryStore) Save(_ context.Context, rec *calllog.Record) error {
	if rec == nil || rec.CallID == "" {
		return errors.ErrInvalidRequest("call log requires a call id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.CallID] = *rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, callID string) (*calllog.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[callID]
	if !ok {
		return nil, errors.ErrCallLogNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) Close() error {
	return nil
}
