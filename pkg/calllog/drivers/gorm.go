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
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/veloxvoip/voicebridge/pkg/calllog"
	perrors "github.com/veloxvoip/voicebridge/pkg/errors"
)

const defaultSQLiteDSN = "voicebridge.db"

type callLogRow struct {
	ID             string `gorm:"primaryKey;size:64"`
	CallID         string `gorm:"uniqueIndex;size:128;not null"`
	StreamID       string `gorm:"size:128"`
	CallerNumber   string `gorm:"size:64"`
	StartedAt      time.Time
	EndedAt        time.Time
	DurationMs     int64
	EndReason      string `gorm:"size:64"`
	Sentiment      string `gorm:"size:16;index"`
	LeadScore      int    `gorm:"index"`
	Escalated      bool
	Conversion     bool
	FollowUpNeeded bool
	TranscriptJSON string `gorm:"type:text"`
	ToolsJSON      string `gorm:"type:text"`
	CreatedAt      time.Time
}

// GormStore writes call logs to a SQL table through gorm (sqlite or postgres).
type GormStore struct {
	db    *gorm.DB
	table string
}

var _ calllog.Store = (*GormStore)(nil)

func openGorm(driver, dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	switch driver {
	case "sqlite":
		if dsn == "" {
			dsn = defaultSQLiteDSN
		}
		if err := ensureSQLiteDirectory(dsn); err != nil {
			return nil, err
		}
		return gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	case "postgres":
		if dsn == "" {
			return nil, perrors.ErrInvalidRequest("dsn is required for the postgres call log driver")
		}
		return gorm.Open(postgres.Open(dsn), &gorm.Config{})
	default:
		return nil, perrors.ErrUnknownLogDriver
	}
}

func ensureSQLiteDirectory(dsn string) error {
	lower := strings.ToLower(dsn)
	if lower == ":memory:" || strings.HasPrefix(lower, "file::memory:") || strings.Contains(lower, "mode=memory") {
		return nil
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create sqlite db dir")
	}
	return nil
}

func NewGormStore(driver, dsn, table string) (*GormStore, error) {
	db, err := openGorm(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open call log database")
	}
	if table == "" {
		table = "call_logs"
	}
	s := &GormStore{db: db, table: table}
	if err = s.db.Table(s.table).AutoMigrate(&callLogRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate call log table")
	}
	return s, nil
}

func (s *GormStore) Save(ctx context.Context, rec *calllog.Record) error {
	if rec == nil || rec.CallID == "" {
		return perrors.ErrInvalidRequest("call log requires a call id")
	}
	row, err := rowFromRecord(rec)
	if err != nil {
		return err
	}
	if err = s.db.WithContext(ctx).Table(s.table).Create(&row).Error; err != nil {
		return errors.Wrapf(err, "save call log %s", rec.CallID)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, callID string) (*calllog.Record, error) {
	var row callLogRow
	err := s.db.WithContext(ctx).
		Table(s.table).
		Where("call_id = ?", callID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, perrors.ErrCallLogNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get call log %s", callID)
	}
	return row.toRecord()
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "get sql db")
	}
	return sqlDB.Close()
}

func rowFromRecord(rec *calllog.Record) (callLogRow, error) {
	transcript, err := json.Marshal(rec.Transcript)
	if err != nil {
		return callLogRow{}, errors.Wrap(err, "marshal transcript")
	}
	tools, err := json.Marshal(rec.Tools)
	if err != nil {
		return callLogRow{}, errors.Wrap(err, "marshal tool usage")
	}
	return callLogRow{
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
		TranscriptJSON: string(transcript),
		ToolsJSON:      string(tools),
	}, nil
}

func (r callLogRow) toRecord() (*calllog.Record, error) {
	rec := &calllog.Record{
		ID:           r.ID,
		CallID:       r.CallID,
		StreamID:     r.StreamID,
		CallerNumber: r.CallerNumber,
		StartedAt:    r.StartedAt,
		EndedAt:      r.EndedAt,
		DurationMs:   r.DurationMs,
		EndReason:    r.EndReason,
		Sentiment:    calllog.Sentiment(r.Sentiment),
		LeadScore:    r.LeadScore,
		Outcomes: calllog.Outcomes{
			Escalated:      r.Escalated,
			Conversion:     r.Conversion,
			FollowUpNeeded: r.FollowUpNeeded,
		},
	}
	if r.TranscriptJSON != "" {
		if err := json.Unmarshal([]byte(r.TranscriptJSON), &rec.Transcript); err != nil {
			return nil, errors.Wrap(err, "unmarshal transcript")
		}
	}
	if r.ToolsJSON != "" {
		if err := json.Unmarshal([]byte(r.ToolsJSON), &rec.Tools); err != nil {
			return nil, errors.Wrap(err, "unmarshal tool usage")
		}
	}
	return rec, nil
}
