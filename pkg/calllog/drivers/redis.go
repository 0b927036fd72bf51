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
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/veloxvoip/voicebridge/pkg/calllog"
	perrors "github.com/veloxvoip/voicebridge/pkg/errors"
)

const callLogKeyPrefix = "calllog:"

// RedisStore stores each call log as a JSON value with a TTL.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ calllog.Store = (*RedisStore)(nil)

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) key(callID string) string {
	return callLogKeyPrefix + callID
}

func (s *RedisStore) Save(ctx context.Context, rec *calllog.Record) error {
	if rec == nil || rec.CallID == "" {
		return perrors.ErrInvalidRequest("call log requires a call id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal call log")
	}
	if err = s.client.Set(ctx, s.key(rec.CallID), data, s.ttl).Err(); err != nil {
		return errors.Wrapf(err, "save call log %s", rec.CallID)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, callID string) (*calllog.Record, error) {
	data, err := s.client.Get(ctx, s.key(callID)).Bytes()
	if err == redis.Nil {
		return nil, perrors.ErrCallLogNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get call log %s", callID)
	}
	var rec calllog.Record
	if err = json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(err, "unmarshal call log")
	}
	return &rec, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
