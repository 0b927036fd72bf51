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
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frostbyte73/core"
	"github.com/google/uuid"

	"github.com/livekit/protocol/logger"

	"github.com/veloxvoip/voicebridge/pkg/analytics"
	"github.com/veloxvoip/voicebridge/pkg/audio"
	"github.com/veloxvoip/voicebridge/pkg/calllog"
	"github.com/veloxvoip/voicebridge/pkg/config"
	"github.com/veloxvoip/voicebridge/pkg/models"
	"github.com/veloxvoip/voicebridge/pkg/stats"
	"github.com/veloxvoip/voicebridge/pkg/telephony"
	"github.com/veloxvoip/voicebridge/pkg/tools"
)

// End reasons recorded in the call log.
const (
	EndStreamStopped   = "stream_stopped"
	EndTelephonyClosed = "telephony_closed"
	EndRealtimeClosed  = "realtime_closed"
	EndRealtimeError   = "realtime_error"
	EndSendFailed      = "send_failed"
	EndMaxDuration     = "max_duration"
	EndClosed          = "closed"
	EndSetupFailed     = "setup_failed"
)

// TelephonyLeg is the media-stream side of a call.
type TelephonyLeg interface {
	Events() <-chan telephony.Event
	Closed() <-chan struct{}
	Err() error
	Close() error

	SendMedia(streamID, payload string) error
	SendMark(streamID, name string) error
	SendClear(streamID string) error
}

var _ TelephonyLeg = (*telephony.Conn)(nil)

type SessionOption func(*Session)

func WithTools(r *tools.Registry) SessionOption {
	return func(s *Session) {
		s.tools = r
	}
}

func WithStore(st calllog.Store) SessionOption {
	return func(s *Session) {
		s.store = st
	}
}

func WithRegistry(r *Registry) SessionOption {
	return func(s *Session) {
		s.registry = r
	}
}

func WithMonitor(mon *stats.Monitor) SessionOption {
	return func(s *Session) {
		s.mon = mon
	}
}

func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) {
		s.now = now
	}
}

type toolCompletion struct {
	callID    string
	arguments string
	result    tools.Result
	at        time.Time
}

// Session bridges one call. All conversation state below the marker is owned by the
// goroutine running Run and must not be touched from anywhere else; other goroutines
// reach it through commands.
type Session struct {
	log      logger.Logger
	conf     *config.Config
	info     telephony.StartInfo
	phone    TelephonyLeg
	ai       models.Counterparty
	tools    *tools.Registry
	store    calllog.Store
	registry *Registry
	analyzer *analytics.Analyzer
	mon      *stats.Monitor
	now      func() time.Time
	stats    SessionStats

	toolDone chan toolCompletion
	commands chan func()
	closeReq core.Fuse
	done     core.Fuse
	teardown sync.Once
	summary  atomic.Pointer[Summary]
	final    atomic.Pointer[Detail]
	err      error

	// loop-owned
	ctx       context.Context
	cancel    context.CancelFunc
	startedAt time.Time
	sessConf  models.SessionConfig
	items     *ItemStore
	marks     MarkQueue

	currentResponseID  string
	responseInProgress bool
	pendingResponse    bool

	// audio still in flight for an interrupted response is dropped
	cancelledResponseID string
	cancelledItemID     string

	lastAssistantItemID string
	audioBytesSent      int64
	audioStartTime      time.Time
	responseStartTS     int64
	responseStartSet    bool
	latestMediaTS       int64

	interrupting bool
	debounce     *time.Timer
	debounceC    <-chan time.Time

	pendingTools   int
	toolsUsed      []calllog.ToolUse
	callerLines    []calllog.Utterance
	assistantLines []calllog.Utterance
	rateLimits     []models.RateLimit
	endReason      string
}

func NewSession(
	log logger.Logger, conf *config.Config, info telephony.StartInfo,
	phone TelephonyLeg, ai models.Counterparty, opts ...SessionOption,
) *Session {
	if log == nil {
		log = logger.GetLogger()
	}
	s := &Session{
		log:      log.WithValues("callID", info.CallID, "streamID", info.StreamID),
		conf:     conf,
		info:     info,
		phone:    phone,
		ai:       ai,
		now:      time.Now,
		toolDone: make(chan toolCompletion, 16),
		commands: make(chan func()),
		items:    NewItemStore(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tools == nil {
		s.tools = tools.NewRegistry(s.log, conf.Session.ToolTimeout)
	}
	s.analyzer = analytics.New(conf.Analytics)
	s.startedAt = s.now()
	s.publish()
	return s
}

func (s *Session) CallID() string {
	return s.info.CallID
}

func (s *Session) StreamID() string {
	return s.info.StreamID
}

// Done is closed once teardown has finished.
func (s *Session) Done() <-chan struct{} {
	return s.done.Watch()
}

// Close asks the session to end. It does not wait.
func (s *Session) Close() {
	s.closeReq.Break()
}

func (s *Session) Stats() *SessionStats {
	return &s.stats
}

// Summary is safe to call from any goroutine.
func (s *Session) Summary() Summary {
	if d := s.final.Load(); d != nil {
		return d.Summary
	}
	return *s.summary.Load()
}

// Final returns the detail captured at teardown, or nil while the call is active.
func (s *Session) Final() *Detail {
	return s.final.Load()
}

// Run drives the session until either leg ends, the context is cancelled or Close is
// called. It always tears down before returning and reports the fatal error, if any.
func (s *Session) Run(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()

	s.log.Infow("voice session started", "caller", s.info.CallerNumber)
	if err := s.configure(); err != nil {
		s.log.Errorw("could not configure realtime session", err)
		s.finish(EndSetupFailed, err)
		return err
	}

	var maxDur <-chan time.Time
	if d := s.conf.Session.MaxCallDuration; d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		maxDur = t.C
	}

	phoneEvents := s.phone.Events()
	aiEvents := s.ai.Events()
	for {
		var err error
		select {
		case <-s.ctx.Done():
			s.finish(EndClosed, nil)
		case <-s.closeReq.Watch():
			s.finish(EndClosed, nil)
		case <-maxDur:
			s.log.Infow("max call duration reached", "limit", s.conf.Session.MaxCallDuration)
			s.finish(EndMaxDuration, nil)
		case ev := <-phoneEvents:
			err = s.safeHandle(LegTelephony, ev.Kind.String(), func() error {
				return s.handleTelephony(ev)
			})
		case ev := <-aiEvents:
			err = s.safeHandle(LegRealtime, ev.Kind.String(), func() error {
				return s.handleRealtime(ev)
			})
		case c := <-s.toolDone:
			err = s.safeHandle(LegRealtime, "tool_result", func() error {
				return s.onToolDone(c)
			})
		case fn := <-s.commands:
			fn()
		case <-s.debounceC:
			err = s.safeHandle(LegRealtime, "interrupt", s.interrupt)
		case <-s.phone.Closed():
			if !s.drainTelephony() {
				s.finish(EndTelephonyClosed, newLegError(LegTelephony, "read", s.phone.Err()))
			}
		case <-s.ai.Closed():
			if !s.drainRealtime() {
				s.finish(EndRealtimeClosed, newLegError(LegRealtime, "read", s.ai.Err()))
			}
		}

		if err != nil {
			s.fail(err)
		}
		if s.done.IsBroken() {
			return s.err
		}
		s.publish()
	}
}

// drainTelephony processes events the leg buffered before it closed, so a trailing
// stop is still seen. It reports whether the session ended while draining.
func (s *Session) drainTelephony() bool {
	for {
		select {
		case ev := <-s.phone.Events():
			err := s.safeHandle(LegTelephony, ev.Kind.String(), func() error {
				return s.handleTelephony(ev)
			})
			if err != nil {
				s.fail(err)
			}
			if s.done.IsBroken() {
				return true
			}
		default:
			return false
		}
	}
}

// drainRealtime processes events the counterparty read before its socket dropped, so
// final transcripts and tool calls still reach the call log.
func (s *Session) drainRealtime() bool {
	for {
		select {
		case ev := <-s.ai.Events():
			err := s.safeHandle(LegRealtime, ev.Kind.String(), func() error {
				return s.handleRealtime(ev)
			})
			if err != nil {
				s.fail(err)
			}
			if s.done.IsBroken() {
				return true
			}
		default:
			return false
		}
	}
}

// safeHandle runs one handler, converting panics into protocol errors.
func (s *Session) safeHandle(leg Leg, kind string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &ProtocolError{Leg: leg, Kind: kind, Err: panicError{p}}
		}
	}()
	return fn()
}

func (s *Session) fail(err error) {
	if IsFatal(err) {
		s.log.Warnw("session leg failed", err)
		reason := EndSendFailed
		var le *LegError
		if errors.As(err, &le) && le.Op == "error_event" {
			reason = EndRealtimeError
		}
		s.finish(reason, err)
		return
	}
	s.stats.ProtocolErrors.Add(1)
	leg := string(LegRealtime)
	var pe *ProtocolError
	if errors.As(err, &pe) {
		leg = string(pe.Leg)
	}
	s.mon.ProtocolError(leg)
	s.log.Warnw("skipping event", err)
}

// configure pushes the initial session configuration and the optional greeting.
func (s *Session) configure() error {
	s.sessConf = NewSessionConfig(&s.conf.Realtime, s.tools.Schemas())
	if err := s.ai.UpdateSession(s.sessConf); err != nil {
		return newLegError(LegRealtime, "session_update", err)
	}
	if greeting := s.conf.Realtime.Greeting; greeting != "" {
		if err := s.ai.CreateMessage(models.RoleUser, greeting); err != nil {
			return newLegError(LegRealtime, "greeting", err)
		}
		if err := s.ai.CreateResponse(); err != nil {
			return newLegError(LegRealtime, "response_create", err)
		}
	}
	return nil
}

// NewSessionConfig builds the counterparty configuration from service settings.
func NewSessionConfig(rt *config.RealtimeConfig, schemas []models.ToolSchema) models.SessionConfig {
	return models.SessionConfig{
		Instructions:       rt.Instructions,
		Voice:              rt.Voice,
		Temperature:        rt.Temperature,
		InputAudioFormat:   rt.InputAudioFormat,
		OutputAudioFormat:  rt.OutputAudioFormat,
		TranscriptionModel: rt.TranscriptionModel,
		TurnDetection: models.TurnDetection{
			Threshold:       rt.VAD.Threshold,
			PrefixPadding:   rt.VAD.PrefixPadding,
			SilenceDuration: rt.VAD.SilenceDuration,
			Interrupt:       !rt.VAD.DisableInterrupts,
		},
		Tools: schemas,
	}
}

func (s *Session) playedMillis() int64 {
	return audio.PlayedMillis(s.latestMediaTS, s.responseStartTS, s.responseStartSet)
}

func (s *Session) resetAccounting() {
	s.audioBytesSent = 0
	s.audioStartTime = time.Time{}
	s.responseStartTS = 0
	s.responseStartSet = false
	s.lastAssistantItemID = ""
	s.marks.Reset()
}

func (s *Session) snapshot(state State) Summary {
	return Summary{
		CallID:             s.info.CallID,
		StreamID:           s.info.StreamID,
		CallerNumber:       s.info.CallerNumber,
		State:              state,
		StartedAt:          s.startedAt,
		EndReason:          s.endReason,
		ResponseInProgress: s.responseInProgress,
		CurrentResponseID:  s.currentResponseID,
		Interrupting:       s.interrupting,
		AudioBytesSent:     s.audioBytesSent,
		PlayedMillis:       s.playedMillis(),
		PendingMarks:       s.marks.Len(),
		AckedBytes:         s.marks.PlayedBytes(),
		PendingTools:       s.pendingTools,
		Items:              s.items.Len(),
		Turns:              len(s.callerLines) + len(s.assistantLines),
		ToolCalls:          len(s.toolsUsed),
		RateLimits:         s.rateLimits,
		Stats:              s.stats.Load(),
	}
}

func (s *Session) publish() {
	sum := s.snapshot(StateActive)
	s.summary.Store(&sum)
}

func (s *Session) detail(state State) *Detail {
	return &Detail{
		Summary:      s.snapshot(state),
		Transcript:   calllog.MergeTranscripts(s.callerLines, s.assistantLines),
		Tools:        append([]calllog.ToolUse(nil), s.toolsUsed...),
		ToolCounts:   calllog.CountTools(s.toolsUsed),
		Conversation: s.items.List(),
	}
}

// finish tears the session down exactly once: both legs are closed, analytics are
// derived, the call log is written and the session leaves the registry.
func (s *Session) finish(reason string, cause error) {
	s.teardown.Do(func() {
		endedAt := s.now()
		s.endReason = reason
		s.err = cause
		if s.debounce != nil {
			s.debounce.Stop()
			s.debounce, s.debounceC = nil, nil
		}
		s.interrupting = false
		if s.cancel != nil {
			s.cancel()
		}
		_ = s.ai.Close()
		_ = s.phone.Close()
		s.stats.Closed.Store(true)

		d := s.detail(StateEnded)
		d.EndedAt = endedAt
		rec := &calllog.Record{
			ID:           uuid.NewString(),
			CallID:       s.info.CallID,
			StreamID:     s.info.StreamID,
			CallerNumber: s.info.CallerNumber,
			StartedAt:    s.startedAt,
			EndedAt:      endedAt,
			DurationMs:   endedAt.Sub(s.startedAt).Milliseconds(),
			EndReason:    reason,
			Transcript:   d.Transcript,
			Tools:        d.Tools,
		}
		s.analyzer.Apply(rec)
		d.Sentiment = rec.Sentiment
		d.LeadScore = &rec.LeadScore
		d.Outcomes = &rec.Outcomes

		if s.store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), s.conf.CallLog.WriteTimeout)
			err := s.store.Save(ctx, rec)
			cancel()
			s.mon.CallLogWrite(err)
			if err != nil {
				s.log.Errorw("could not write call log", err)
			}
		}

		s.final.Store(d)
		if s.registry != nil {
			s.registry.Remove(s.info.CallID, d)
		}
		s.mon.CallEnded(reason, endedAt.Sub(s.startedAt))
		s.done.Break()

		s.log.Infow("voice session ended",
			"reason", reason,
			"duration", endedAt.Sub(s.startedAt).Round(time.Millisecond),
			"turns", rec.Turns(),
			"tools", rec.ToolCounts(),
			"sentiment", rec.Sentiment,
			"leadScore", rec.LeadScore,
			"error", cause,
		)
	})
}
