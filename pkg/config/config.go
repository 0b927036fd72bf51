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

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/redis"
	"github.com/livekit/protocol/utils/guid"

	"github.com/veloxvoip/voicebridge/pkg/errors"
)

const (
	DefaultHTTPPort            = 8080
	DefaultRealtimeURL         = "wss://api.openai.com/v1/realtime"
	DefaultRealtimeModel       = "gpt-4o-realtime-preview"
	DefaultVoice               = "alloy"
	DefaultAudioFormat         = "g711_ulaw"
	DefaultTranscriptionModel  = "whisper-1"
	DefaultInterruptDebounce   = 100 * time.Millisecond
	DefaultToolTimeout         = 30 * time.Second
	DefaultMaxCallDuration     = 30 * time.Minute
	DefaultVADThreshold        = 0.5
	DefaultVADPrefixPadding    = 300 * time.Millisecond
	DefaultVADSilenceDuration  = 500 * time.Millisecond
	DefaultRecentSessionsCache = 256
	DefaultRecentSessionsTTL   = 15 * time.Minute
	DefaultCallLogDriver       = "memory"
	DefaultCallLogTTL          = 30 * 24 * time.Hour
	DefaultCallLogWriteTimeout = 10 * time.Second
	DefaultMaxConcurrentCalls  = 100
)

// RealtimeConfig configures the conversational AI counterparty.
type RealtimeConfig struct {
	URL                string        `yaml:"url"`
	APIKey             string        `yaml:"api_key"` // env OPENAI_API_KEY
	Model              string        `yaml:"model"`
	Voice              string        `yaml:"voice"`
	Instructions       string        `yaml:"instructions"`
	Temperature        float64       `yaml:"temperature"`
	InputAudioFormat   string        `yaml:"input_audio_format"`
	OutputAudioFormat  string        `yaml:"output_audio_format"`
	TranscriptionModel string        `yaml:"transcription_model"`
	VAD                VADConfig     `yaml:"vad"`
	DialTimeout        time.Duration `yaml:"dial_timeout"`
	// Greeting, when set, is injected as the first caller-side instruction so the assistant speaks first.
	Greeting string `yaml:"greeting"`
}

// VADConfig configures server-side voice activity detection.
type VADConfig struct {
	Threshold         float64       `yaml:"threshold"`
	PrefixPadding     time.Duration `yaml:"prefix_padding"`
	SilenceDuration   time.Duration `yaml:"silence_duration"`
	DisableInterrupts bool          `yaml:"disable_interrupts"`
}

// SessionConfig holds per-call behavior knobs.
type SessionConfig struct {
	InterruptDebounce time.Duration `yaml:"interrupt_debounce"`
	ToolTimeout       time.Duration `yaml:"tool_timeout"`
	MaxCallDuration   time.Duration `yaml:"max_call_duration"`
	// Caller keypad digits that end the caller's turn or discard it. Empty disables.
	CommitDigit string `yaml:"commit_digit"`
	ClearDigit  string `yaml:"clear_digit"`
}

// AnalyticsConfig holds the end-of-call heuristics weights.
type AnalyticsConfig struct {
	BaseScore       int      `yaml:"base_score"`
	PerToolPoints   int      `yaml:"per_tool_points"`
	HighValueBonus  int      `yaml:"high_value_bonus"`
	HighValueTools  []string `yaml:"high_value_tools"`
	TurnPoints      int      `yaml:"turn_points"`
	TurnCap         int      `yaml:"turn_cap"`
	SentimentMargin int      `yaml:"sentiment_margin"`
	PositiveWords   []string `yaml:"positive_words"`
	NegativeWords   []string `yaml:"negative_words"`
	EscalationTools []string `yaml:"escalation_tools"`
	ConversionTools []string `yaml:"conversion_tools"`
}

// DefaultAnalyticsConfig returns the stock weights. NewConfig starts from these so a
// zero in the file is kept as zero.
func DefaultAnalyticsConfig() AnalyticsConfig {
	return AnalyticsConfig{
		BaseScore:       50,
		PerToolPoints:   5,
		HighValueBonus:  15,
		HighValueTools:  []string{"create_booking", "schedule_appointment"},
		TurnPoints:      1,
		TurnCap:         10,
		SentimentMargin: 2,
		EscalationTools: []string{"transfer_to_human", "escalate"},
		ConversionTools: []string{"create_booking", "schedule_appointment", "create_order"},
	}
}

func (a *AnalyticsConfig) isZero() bool {
	return a.BaseScore == 0 && a.PerToolPoints == 0 && a.HighValueBonus == 0 &&
		a.TurnPoints == 0 && a.TurnCap == 0 && a.SentimentMargin == 0 &&
		len(a.HighValueTools) == 0 && len(a.PositiveWords) == 0 && len(a.NegativeWords) == 0 &&
		len(a.EscalationTools) == 0 && len(a.ConversionTools) == 0
}

// Validate rejects weights that would let a tool call lower the lead score.
func (a *AnalyticsConfig) Validate() error {
	switch {
	case a.PerToolPoints < 0:
		return fmt.Errorf("analytics.per_tool_points must not be negative")
	case a.HighValueBonus < 0:
		return fmt.Errorf("analytics.high_value_bonus must not be negative")
	case a.TurnPoints < 0 || a.TurnCap < 0:
		return fmt.Errorf("analytics turn weights must not be negative")
	case a.SentimentMargin < 0:
		return fmt.Errorf("analytics.sentiment_margin must not be negative")
	}
	return nil
}

// CallLogConfig selects the persistence driver for finished calls.
type CallLogConfig struct {
	Driver       string        `yaml:"driver"` // memory, redis, sqlite, postgres, supabase
	DSN          string        `yaml:"dsn"`
	TTL          time.Duration `yaml:"ttl"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	SupabaseURL  string        `yaml:"supabase_url"`
	SupabaseKey  string        `yaml:"supabase_key"`
	Table        string        `yaml:"table"`
}

// ToolHostConfig is a business tool host speaking the discovery/call protocol.
type ToolHostConfig struct {
	Name    string        `yaml:"name"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// AdminConfig protects the out-of-band administrative surface.
type AdminConfig struct {
	Token      string   `yaml:"token"` // env VOICEBRIDGE_ADMIN_TOKEN
	AllowedIPs []string `yaml:"allowed_ips"`
}

// TelephonyConfig restricts which hosts may open media streams.
type TelephonyConfig struct {
	AllowedIPs []string `yaml:"allowed_ips"`
	StreamPath string   `yaml:"stream_path"`
}

type Config struct {
	Redis *redis.RedisConfig `yaml:"redis"` // required by the redis call log driver

	HTTPPort           int           `yaml:"http_port"`
	HealthPort         int           `yaml:"health_port"`
	PrometheusPort     int           `yaml:"prometheus_port"`
	PProfPort          int           `yaml:"pprof_port"`
	Logging            logger.Config `yaml:"logging"`
	MaxConcurrentCalls int           `yaml:"max_concurrent_calls"`

	Realtime  RealtimeConfig   `yaml:"realtime"`
	Session   SessionConfig    `yaml:"session"`
	Analytics AnalyticsConfig  `yaml:"analytics"`
	CallLog   CallLogConfig    `yaml:"call_log"`
	ToolHosts []ToolHostConfig `yaml:"tool_hosts"`
	Admin     AdminConfig      `yaml:"admin"`
	Telephony TelephonyConfig  `yaml:"telephony"`

	RecentSessions struct {
		Size int           `yaml:"size"`
		TTL  time.Duration `yaml:"ttl"`
	} `yaml:"recent_sessions"`

	// internal
	ServiceName string `yaml:"-"`
	NodeID      string `yaml:"-"` // Do not provide, will be overwritten
}

func NewConfig(confString string) (*Config, error) {
	conf := &Config{
		ServiceName: "voicebridge",
		Analytics:   DefaultAnalyticsConfig(),
	}
	if confString != "" {
		if err := yaml.Unmarshal([]byte(confString), conf); err != nil {
			return nil, errors.ErrCouldNotParseConfig(err)
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && conf.Realtime.APIKey == "" {
		conf.Realtime.APIKey = key
	}
	if token := os.Getenv("VOICEBRIDGE_ADMIN_TOKEN"); token != "" && conf.Admin.Token == "" {
		conf.Admin.Token = token
	}

	driver := strings.ToLower(strings.TrimSpace(conf.CallLog.Driver))
	if driver == "redis" && conf.Redis == nil {
		return nil, errors.ErrCouldNotParseConfig(fmt.Errorf("redis configuration is required for the redis call log driver"))
	}

	return conf, nil
}

func (c *Config) Init() error {
	c.NodeID = guid.New("NE_")
	c.ApplyDefaults()
	if err := c.Analytics.Validate(); err != nil {
		return errors.ErrCouldNotParseConfig(err)
	}

	if err := c.InitLogger(); err != nil {
		return err
	}
	if c.Realtime.APIKey == "" {
		return errors.ErrMissingRealtimeKey
	}
	return nil
}

// ApplyDefaults fills every unset field with its default. It is separate from Init so
// tests can build a usable Config without touching the global logger.
func (c *Config) ApplyDefaults() {
	if c.HTTPPort == 0 {
		c.HTTPPort = DefaultHTTPPort
	}
	if c.MaxConcurrentCalls <= 0 {
		c.MaxConcurrentCalls = DefaultMaxConcurrentCalls
	}

	rt := &c.Realtime
	if rt.URL == "" {
		rt.URL = DefaultRealtimeURL
	}
	if rt.Model == "" {
		rt.Model = DefaultRealtimeModel
	}
	if rt.Voice == "" {
		rt.Voice = DefaultVoice
	}
	if rt.InputAudioFormat == "" {
		rt.InputAudioFormat = DefaultAudioFormat
	}
	if rt.OutputAudioFormat == "" {
		rt.OutputAudioFormat = DefaultAudioFormat
	}
	if rt.TranscriptionModel == "" {
		rt.TranscriptionModel = DefaultTranscriptionModel
	}
	if rt.Temperature <= 0 {
		rt.Temperature = 0.8
	}
	if rt.VAD.Threshold <= 0 {
		rt.VAD.Threshold = DefaultVADThreshold
	}
	if rt.VAD.PrefixPadding <= 0 {
		rt.VAD.PrefixPadding = DefaultVADPrefixPadding
	}
	if rt.VAD.SilenceDuration <= 0 {
		rt.VAD.SilenceDuration = DefaultVADSilenceDuration
	}
	if rt.DialTimeout <= 0 {
		rt.DialTimeout = 10 * time.Second
	}

	if c.Session.InterruptDebounce <= 0 {
		c.Session.InterruptDebounce = DefaultInterruptDebounce
	}
	if c.Session.ToolTimeout <= 0 {
		c.Session.ToolTimeout = DefaultToolTimeout
	}
	if c.Session.MaxCallDuration <= 0 {
		c.Session.MaxCallDuration = DefaultMaxCallDuration
	}

	if c.Analytics.isZero() {
		c.Analytics = DefaultAnalyticsConfig()
	}

	if c.CallLog.Driver == "" {
		c.CallLog.Driver = DefaultCallLogDriver
	}
	c.CallLog.Driver = strings.ToLower(strings.TrimSpace(c.CallLog.Driver))
	if c.CallLog.TTL <= 0 {
		c.CallLog.TTL = DefaultCallLogTTL
	}
	if c.CallLog.WriteTimeout <= 0 {
		c.CallLog.WriteTimeout = DefaultCallLogWriteTimeout
	}
	if c.CallLog.Table == "" {
		c.CallLog.Table = "call_logs"
	}

	if c.Telephony.StreamPath == "" {
		c.Telephony.StreamPath = "/media-stream"
	}
	if c.RecentSessions.Size <= 0 {
		c.RecentSessions.Size = DefaultRecentSessionsCache
	}
	if c.RecentSessions.TTL <= 0 {
		c.RecentSessions.TTL = DefaultRecentSessionsTTL
	}
	for i := range c.ToolHosts {
		if c.ToolHosts[i].Timeout <= 0 {
			c.ToolHosts[i].Timeout = c.Session.ToolTimeout
		}
	}
}

func (c *Config) InitLogger(values ...interface{}) error {
	zl, err := logger.NewZapLogger(&c.Logging)
	if err != nil {
		return err
	}

	values = append(c.GetLoggerValues(), values...)
	l := zl.WithValues(values...)
	logger.SetLogger(l, c.ServiceName)

	return nil
}

// To use with zap logger
func (c *Config) GetLoggerValues() []interface{} {
	if c.NodeID == "" {
		return nil
	}
	return []interface{}{"nodeID", c.NodeID}
}
