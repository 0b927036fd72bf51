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

import "time"

// onSpeechStarted arms the interruption debounce while the assistant is responding.
// A trigger inside the window restarts the timer, so a burst of triggers yields one action.
func (s *Session) onSpeechStarted() {
	if !s.responseInProgress {
		s.log.Debugw("caller started speaking")
		return
	}
	delay := s.conf.Session.InterruptDebounce
	if s.debounce != nil {
		if !s.debounce.Stop() {
			select {
			case <-s.debounce.C:
			default:
			}
		}
		s.debounce.Reset(delay)
		s.log.Debugw("interruption debounce restarted")
		return
	}
	s.interrupting = true
	s.debounce = time.NewTimer(delay)
	s.debounceC = s.debounce.C
	s.log.Debugw("caller barge-in detected", "responseID", s.currentResponseID, "debounce", delay)
}

// interrupt cancels the assistant's turn and cuts it where the caller stopped hearing it.
func (s *Session) interrupt() error {
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce, s.debounceC = nil, nil
	defer func() {
		s.interrupting = false
	}()

	played := s.playedMillis()
	itemID := s.lastAssistantItemID
	responseID := s.currentResponseID

	if s.responseInProgress {
		if err := s.ai.CancelResponse(responseID); err != nil {
			return newLegError(LegRealtime, "response_cancel", err)
		}
	}
	if err := s.phone.SendClear(s.info.StreamID); err != nil {
		return newLegError(LegTelephony, "send_clear", err)
	}
	if played > 0 && itemID != "" {
		if err := s.ai.TruncateItem(itemID, 0, played); err != nil {
			return newLegError(LegRealtime, "item_truncate", err)
		}
	}

	if s.responseInProgress {
		s.cancelledResponseID = responseID
	}
	s.cancelledItemID = itemID
	s.resetAccounting()
	s.responseInProgress = false
	s.currentResponseID = ""
	s.pendingResponse = false

	s.stats.Interruptions.Add(1)
	s.mon.Interruption()
	s.log.Infow("assistant interrupted", "responseID", responseID, "itemID", itemID, "playedMs", played)
	return nil
}
