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
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/veloxvoip/voicebridge/pkg/errors"
)

// Registry is the process-wide set of live sessions keyed by call id. It also keeps
// the final detail of recently ended calls for the admin surface.
type Registry struct {
	active sync.Map // map[string]*Session
	count  atomic.Int64
	ended  *expirable.LRU[string, *Detail]
}

func NewRegistry(recentSize int, recentTTL time.Duration) *Registry {
	return &Registry{
		ended: expirable.NewLRU[string, *Detail](recentSize, nil, recentTTL),
	}
}

func (r *Registry) Register(s *Session) error {
	if _, loaded := r.active.LoadOrStore(s.CallID(), s); loaded {
		return errors.ErrInvalidRequest("call " + s.CallID() + " is already active")
	}
	r.count.Add(1)
	return nil
}

func (r *Registry) Lookup(callID string) (*Session, bool) {
	v, ok := r.active.Load(callID)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Remove drops an active session and remembers its final detail. It returns false if
// the call was not registered.
func (r *Registry) Remove(callID string, final *Detail) bool {
	if _, ok := r.active.LoadAndDelete(callID); !ok {
		return false
	}
	r.count.Add(-1)
	if final != nil {
		r.ended.Add(callID, final)
	}
	return true
}

// Ended returns the final detail of a recently ended call.
func (r *Registry) Ended(callID string) (*Detail, bool) {
	return r.ended.Get(callID)
}

func (r *Registry) Len() int {
	return int(r.count.Load())
}

// List returns summaries of active and recently ended calls, newest first.
func (r *Registry) List() []Summary {
	var out []Summary
	r.active.Range(func(_, value any) bool {
		if s, ok := value.(*Session); ok && s != nil {
			out = append(out, s.Summary())
		}
		return true
	})

	for _, d := range r.ended.Values() {
		out = append(out, d.Summary)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].CallID < out[j].CallID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Sample returns up to limit active call ids for shutdown logging.
func (r *Registry) Sample(limit int) []string {
	var ids []string
	r.active.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return len(ids) < limit
	})
	sort.Strings(ids)
	return ids
}

// CloseAll asks every active session to end.
func (r *Registry) CloseAll() {
	r.active.Range(func(_, value any) bool {
		if s, ok := value.(*Session); ok && s != nil {
			s.Close()
		}
		return true
	})
}
