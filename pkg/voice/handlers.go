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
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/livekit/protocol/utils/guid"

	"github.com/veloxvoip/voicebridge/pkg/calllog"
	"github.com/veloxvoip/voicebridge/pkg/models"
	"github.com/veloxvoip/voicebridge/pkg/telephony"
)

const markPrefix = "MK_"

func (s *Session) handleTelephony(ev telephony.Event) error {
	switch ev.Kind {
	case telephony.KindConnected:
		s.log.Debugw("media stream connected")
	case telephony.KindStart:
		s.log.Warnw("ignoring repeated stream start", nil, "streamID", ev.StreamID)
	case telephony.KindMedia:
		return s.onInboundMedia(ev.Media)
	case telephony.KindMark:
		if m, ok := s.marks.Ack(ev.Mark); ok {
			s.stats.MarksAcked.Add(1)
			s.log.Debugw("mark acknowledged", "mark", m.Label, "bytes", m.BytesSent, "pending", s.marks.Len())
		} else {
			s.log.Debugw("ignoring stale mark", "mark", ev.Mark)
		}
	case telephony.KindDTMF:
		s.stats.DTMFPackets.Add(1)
		s.log.Infow("dtmf received", "digit", ev.Digit)
		return s.onDigit(ev.Digit)
	case telephony.KindStop:
		s.log.Infow("media stream stopped")
		s.finish(EndStreamStopped, nil)
	default:
		s.log.Debugw("ignoring unknown media stream event", "event", ev.Name)
	}
	return nil
}

// onDigit maps the configured keypad digits to manual turn control.
func (s *Session) onDigit(digit string) error {
	if digit == "" {
		return nil
	}
	switch digit {
	case s.conf.Session.CommitDigit:
		if err := s.ai.CommitAudio(); err != nil {
			return newLegError(LegRealtime, "audio_commit", err)
		}
		if s.responseInProgress {
			s.pendingResponse = true
			return nil
		}
		if err := s.ai.CreateResponse(); err != nil {
			return newLegError(LegRealtime, "response_create", err)
		}
	case s.conf.Session.ClearDigit:
		if err := s.ai.ClearAudio(); err != nil {
			return newLegError(LegRealtime, "audio_clear", err)
		}
	}
	return nil
}

func (s *Session) onInboundMedia(m *telephony.Media) error {
	if m == nil {
		return &ProtocolError{Leg: LegTelephony, Kind: "media", Err: fmt.Errorf("missing media body")}
	}
	if m.Track != "" && m.Track != "inbound" {
		return nil
	}
	s.latestMediaTS = m.Timestamp
	n := base64.StdEncoding.DecodedLen(len(m.Payload))
	s.stats.InputPackets.Add(1)
	s.stats.InputBytes.Add(uint64(n))
	s.mon.AudioBytes("inbound", n)
	if err := s.ai.AppendAudio(m.Payload); err != nil {
		return newLegError(LegRealtime, "append_audio", err)
	}
	return nil
}

func (s *Session) handleRealtime(ev models.ServerEvent) error {
	switch ev.Kind {
	case models.KindSessionCreated, models.KindSessionUpdated:
		s.log.Debugw("realtime session configured", "event", ev.Type)

	case models.KindInputAudioCommitted, models.KindInputAudioCleared:
		s.log.Debugw("input audio buffer", "event", ev.Type, "itemID", ev.ItemID)
	case models.KindSpeechStarted:
		s.onSpeechStarted()
	case models.KindSpeechStopped:
		s.log.Debugw("caller stopped speaking", "audioEndMs", ev.AudioEndMs)

	case models.KindItemCreated:
		if ev.Item != nil {
			s.items.Add(*ev.Item, s.now())
		}
	case models.KindItemTruncated:
		s.items.MarkTruncated(ev.ItemID, ev.AudioEndMs)
	case models.KindItemDeleted:
		s.items.MarkDeleted(ev.ItemID)
	case models.KindInputTranscriptionCompleted:
		s.addUtterance(calllog.SpeakerCaller, ev.ItemID, ev.Transcript)
	case models.KindInputTranscriptionFailed:
		s.log.Warnw("caller transcription failed", realtimeErr(ev), "itemID", ev.ItemID)

	case models.KindResponseCreated:
		s.currentResponseID = ev.ResponseID
		s.responseInProgress = true
	case models.KindResponseDone:
		return s.onResponseDone(ev)
	case models.KindOutputItemAdded, models.KindOutputItemDone:
		if ev.Item != nil {
			s.items.Add(*ev.Item, s.now())
		}
	case models.KindContentPartAdded, models.KindContentPartDone, models.KindAudioDone:
		// no state
	case models.KindAudioDelta:
		return s.onAudioDelta(ev)
	case models.KindAudioTranscriptDelta, models.KindTextDelta, models.KindFunctionCallArgumentsDelta:
		// only final values are kept
	case models.KindAudioTranscriptDone:
		s.addUtterance(calllog.SpeakerAssistant, ev.ItemID, ev.Transcript)
	case models.KindTextDone:
		s.addUtterance(calllog.SpeakerAssistant, ev.ItemID, ev.Text)

	case models.KindFunctionCallArgumentsDone:
		s.dispatchTool(ev)

	case models.KindRateLimitsUpdated:
		s.rateLimits = ev.RateLimits
		s.mon.RateLimitsUpdated()
		for _, rl := range ev.RateLimits {
			if rl.Limit > 0 && rl.Remaining == 0 {
				s.log.Warnw("realtime rate limit exhausted", nil, "limit", rl.Name, "resetSeconds", rl.ResetSeconds)
			}
		}
	case models.KindError:
		return s.onRealtimeError(ev)

	default:
		s.log.Debugw("ignoring unknown realtime event", "event", ev.Type)
	}
	return nil
}

func (s *Session) addUtterance(speaker calllog.Speaker, itemID, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	u := calllog.Utterance{Speaker: speaker, Text: text, ItemID: itemID, At: s.now()}
	if speaker == calllog.SpeakerCaller {
		s.callerLines = append(s.callerLines, u)
	} else {
		s.assistantLines = append(s.assistantLines, u)
	}
	s.log.Debugw("transcript", "speaker", speaker, "text", text)
}

// onResponseDone clears the in-progress flag only for the current response. A done
// for a response the interruption already reset is a no-op.
func (s *Session) onResponseDone(ev models.ServerEvent) error {
	if ev.ResponseID != "" && ev.ResponseID == s.cancelledResponseID {
		s.cancelledResponseID = ""
		s.cancelledItemID = ""
	}
	if !s.responseInProgress || ev.ResponseID != s.currentResponseID {
		s.log.Debugw("ignoring stale response done", "responseID", ev.ResponseID, "status", ev.ResponseStatus)
		return nil
	}
	s.responseInProgress = false
	s.currentResponseID = ""

	switch ev.ResponseStatus {
	case models.ResponseFailed:
		s.log.Warnw("response failed", realtimeErr(ev), "responseID", ev.ResponseID)
	case models.ResponseIncomplete:
		s.log.Infow("response incomplete", "responseID", ev.ResponseID, "reason", ev.StatusReason)
	}

	if s.pendingResponse {
		s.pendingResponse = false
		if err := s.ai.CreateResponse(); err != nil {
			return newLegError(LegRealtime, "response_create", err)
		}
	}
	return nil
}

// onAudioDelta forwards assistant audio to the caller and updates playback accounting.
func (s *Session) onAudioDelta(ev models.ServerEvent) error {
	if ev.Delta == "" {
		return nil
	}
	if s.isCancelledAudio(ev) {
		s.log.Debugw("dropping audio of interrupted response", "responseID", ev.ResponseID, "itemID", ev.ItemID)
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(ev.Delta)
	if err != nil {
		return &ProtocolError{Leg: LegRealtime, Kind: "audio_delta", Err: err}
	}

	if ev.ItemID != "" && ev.ItemID != s.lastAssistantItemID {
		s.lastAssistantItemID = ev.ItemID
		s.responseStartSet = false
	}
	now := s.now()
	if !s.responseStartSet {
		s.responseStartTS = s.latestMediaTS
		s.responseStartSet = true
		s.audioStartTime = now
	}
	s.audioBytesSent += int64(len(data))

	if err = s.phone.SendMedia(s.info.StreamID, ev.Delta); err != nil {
		return newLegError(LegTelephony, "send_media", err)
	}
	s.stats.OutputChunks.Add(1)
	s.stats.OutputBytes.Add(uint64(len(data)))
	s.mon.AudioBytes("outbound", len(data))

	label := guid.New(markPrefix)
	s.marks.Push(Mark{Label: label, BytesSent: s.audioBytesSent, At: now})
	if err = s.phone.SendMark(s.info.StreamID, label); err != nil {
		return newLegError(LegTelephony, "send_mark", err)
	}
	s.stats.MarksSent.Add(1)
	return nil
}

func (s *Session) isCancelledAudio(ev models.ServerEvent) bool {
	if ev.ResponseID != "" && ev.ResponseID == s.cancelledResponseID {
		return true
	}
	return ev.ItemID != "" && ev.ItemID == s.cancelledItemID
}

func (s *Session) onRealtimeError(ev models.ServerEvent) error {
	err := realtimeErr(ev)
	if ev.Error != nil {
		if _, ok := fatalRealtimeCodes[ev.Error.Code]; ok {
			return newLegError(LegRealtime, "error_event", err)
		}
		if ev.Error.Code == "response_cancel_not_active" {
			s.log.Debugw("cancel raced with response completion")
			return nil
		}
	}
	s.log.Warnw("realtime error", err)
	return nil
}

func realtimeErr(ev models.ServerEvent) error {
	if ev.Error == nil {
		if ev.StatusReason != "" {
			return fmt.Errorf("%s", ev.StatusReason)
		}
		return fmt.Errorf("%s", ev.Type)
	}
	if ev.Error.Code != "" {
		return fmt.Errorf("%s: %s", ev.Error.Code, ev.Error.Message)
	}
	return fmt.Errorf("%s: %s", ev.Error.Type, ev.Error.Message)
}
