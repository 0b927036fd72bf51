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

	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/redis"

	"github.com/veloxvoip/voicebridge/pkg/calllog"
	"github.com/veloxvoip/voicebridge/pkg/config"
	"github.com/veloxvoip/voicebridge/pkg/errors"
)

const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverSupabase = "supabase"
)

// New builds the call log store selected by conf.CallLog.Driver.
func New(ctx context.Context, conf *config.Config) (calllog.Store, error) {
	if conf == nil {
		return nil, errors.ErrNoConfig
	}
	lc := conf.CallLog
	log := logger.GetLogger().WithComponent("calllog")

	switch lc.Driver {
	case "", DriverMemory:
		log.Infow("using in-memory call log store")
		return NewMemoryStore(), nil

	case DriverRedis:
		if conf.Redis == nil {
			return nil, errors.ErrInvalidRequest("redis configuration is required for the redis call log driver")
		}
		rc, err := redis.GetRedisClient(conf.Redis)
		if err != nil {
			return nil, err
		}
		if rc == nil {
			return nil, errors.ErrInvalidRequest("redis is not configured")
		}
		if err = rc.Ping(ctx).Err(); err != nil {
			_ = rc.Close()
			return nil, err
		}
		log.Infow("using redis call log store", "ttl", lc.TTL)
		return NewRedisStore(rc, lc.TTL), nil

	case DriverSQLite, DriverPostgres:
		s, err := NewGormStore(lc.Driver, lc.DSN, lc.Table)
		if err != nil {
			return nil, err
		}
		log.Infow("using sql call log store", "driver", lc.Driver, "table", lc.Table)
		return s, nil

	case DriverSupabase:
		s, err := NewSupabaseStore(lc.SupabaseURL, lc.SupabaseKey, lc.Table)
		if err != nil {
			return nil, err
		}
		log.Infow("using supabase call log store", "table", lc.Table)
		return s, nil

	default:
		return nil, errors.ErrUnknownLogDriver
	}
}
