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

package config

import (
	"net/http"
	"testing"
	"time"

	"github.com/veloxvoip/voicebridge/pkg/errors"
)

func TestNewConfig(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("VOICEBRIDGE_ADMIN_TOKEN", "")

	conf, err := NewConfig(`
http_port: 9000
realtime:
  voice: verse
  instructions: You answer the phone for a dental clinic.
  vad:
    silence_duration: 700ms
session:
  interrupt_debounce: 250ms
call_log:
  driver: " SQLite "
  dsn: /tmp/calls.db
tool_hosts:
  - name: crm
    base_url: http://crm.internal:8081
admin:
  token: from-file
`)
	if err != nil {
		t.Fatalf("NewConfig() error: %v", err)
	}
	conf.ApplyDefaults()

	if conf.HTTPPort != 9000 || conf.Realtime.Voice != "verse" {
		t.Errorf("file values not applied: port=%d voice=%s", conf.HTTPPort, conf.Realtime.Voice)
	}
	if conf.Realtime.APIKey != "sk-env" {
		t.Errorf("APIKey = %q, want env value", conf.Realtime.APIKey)
	}
	if conf.Admin.Token != "from-file" {
		t.Errorf("Admin.Token = %q", conf.Admin.Token)
	}
	if conf.Realtime.VAD.SilenceDuration != 700*time.Millisecond || conf.Realtime.VAD.PrefixPadding != DefaultVADPrefixPadding {
		t.Errorf("VAD = %+v", conf.Realtime.VAD)
	}
	if conf.Session.InterruptDebounce != 250*time.Millisecond || conf.Session.ToolTimeout != DefaultToolTimeout {
		t.Errorf("Session = %+v", conf.Session)
	}
	if conf.CallLog.Driver != "sqlite" || conf.CallLog.Table != "call_logs" {
		t.Errorf("CallLog = %+v", conf.CallLog)
	}
	if len(conf.ToolHosts) != 1 || conf.ToolHosts[0].Timeout != DefaultToolTimeout {
		t.Errorf("ToolHosts = %+v", conf.ToolHosts)
	}
	if conf.Analytics.BaseScore != 50 || conf.Analytics.TurnCap != 10 || conf.Analytics.SentimentMargin != 2 {
		t.Errorf("Analytics = %+v", conf.Analytics)
	}
}

func TestNewConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid yaml", "realtime: [unterminated"},
		{"redis driver without redis", "call_log:\n  driver: redis\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfig(tt.body)
			if err == nil {
				t.Fatal("NewConfig() expected error")
			}
			if errors.HTTPStatus(err) != http.StatusBadRequest {
				t.Errorf("error %v does not map to 400", err)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	conf := &Config{}
	conf.ApplyDefaults()

	if conf.Realtime.InputAudioFormat != DefaultAudioFormat || conf.Realtime.OutputAudioFormat != DefaultAudioFormat {
		t.Errorf("audio formats = %s/%s", conf.Realtime.InputAudioFormat, conf.Realtime.OutputAudioFormat)
	}
	if conf.Session.InterruptDebounce != DefaultInterruptDebounce {
		t.Errorf("InterruptDebounce = %s", conf.Session.InterruptDebounce)
	}
	if conf.CallLog.Driver != DefaultCallLogDriver || conf.Telephony.StreamPath != "/media-stream" {
		t.Errorf("driver=%s streamPath=%s", conf.CallLog.Driver, conf.Telephony.StreamPath)
	}
	if conf.MaxConcurrentCalls != DefaultMaxConcurrentCalls || conf.RecentSessions.Size != DefaultRecentSessionsCache {
		t.Errorf("limits = %d/%d", conf.MaxConcurrentCalls, conf.RecentSessions.Size)
	}
}

func TestInitRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	conf, err := NewConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if err = conf.Init(); errors.HTTPStatus(err) != http.StatusBadRequest {
		t.Errorf("Init() = %v, want missing key", err)
	}
	if conf.NodeID == "" {
		t.Errorf("NodeID not assigned")
	}
}

func TestAnalyticsZeroWeightsKept(t *testing.T) {
	conf, err := NewConfig(`
analytics:
  base_score: 0
  sentiment_margin: 0
`)
	if err != nil {
		t.Fatal(err)
	}
	conf.ApplyDefaults()

	a := conf.Analytics
	if a.BaseScore != 0 || a.SentimentMargin != 0 {
		t.Errorf("explicit zeros replaced: base=%d margin=%d", a.BaseScore, a.SentimentMargin)
	}
	if a.PerToolPoints != 5 || a.HighValueBonus != 15 || len(a.HighValueTools) != 2 {
		t.Errorf("unset weights not defaulted: %+v", a)
	}
}

func TestAnalyticsValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative per tool points", "analytics:\n  per_tool_points: -3\n"},
		{"negative high value bonus", "analytics:\n  high_value_bonus: -10\n"},
		{"negative sentiment margin", "analytics:\n  sentiment_margin: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OPENAI_API_KEY", "sk-env")
			conf, err := NewConfig(tt.body)
			if err != nil {
				t.Fatal(err)
			}
			if err = conf.Init(); errors.HTTPStatus(err) != http.StatusBadRequest {
				t.Errorf("Init() = %v, want a 400 config error", err)
			}
		})
	}

	def := DefaultAnalyticsConfig()
	if err := def.Validate(); err != nil {
		t.Errorf("default weights rejected: %v", err)
	}
}
