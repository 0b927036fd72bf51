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
	"strings"

	"github.com/veloxvoip/voicebridge/pkg/calllog"
	"github.com/veloxvoip/voicebridge/pkg/errors"
	"github.com/veloxvoip/voicebridge/pkg/models"
)

// ConfigUpdate changes a live session. Nil fields are left as they are.
type ConfigUpdate struct {
	Instructions *string  `json:"instructions,omitempty"`
	Voice        *string  `json:"voice,omitempty"`
	Tools        []string `json:"tools,omitempty"`
}

// do runs fn on the session goroutine and waits for its result.
func (s *Session) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	cmd := func() {
		err := s.safeHandle(LegRealtime, "command", fn)
		if IsFatal(err) {
			s.fail(err)
		}
		errc <- err
	}

	select {
	case s.commands <- cmd:
	case <-s.done.Watch():
		return errors.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelResponse force-cancels the assistant's current response, exactly like a
// caller barge-in.
func (s *Session) CancelResponse(ctx context.Context) error {
	return s.do(ctx, func() error {
		if !s.responseInProgress && s.debounce == nil {
			return errors.ErrNoActiveResponse
		}
		return s.interrupt()
	})
}

// Inject adds a synthetic caller message and optionally asks for a response to it.
func (s *Session) Inject(ctx context.Context, text string, respond bool) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.ErrInvalidRequest("text is required")
	}
	return s.do(ctx, func() error {
		if err := s.ai.CreateMessage(models.RoleUser, text); err != nil {
			return newLegError(LegRealtime, "item_create", err)
		}
		s.addUtterance(calllog.SpeakerCaller, "", text)
		if !respond {
			return nil
		}
		if s.responseInProgress {
			s.pendingResponse = true
			return nil
		}
		if err := s.ai.CreateResponse(); err != nil {
			return newLegError(LegRealtime, "response_create", err)
		}
		return nil
	})
}

// UpdateConfig pushes new instructions, voice or tool set to the counterparty. A non-nil
// empty tool list clears the tool set.
func (s *Session) UpdateConfig(ctx context.Context, upd ConfigUpdate) error {
	schemas := []models.ToolSchema{}
	if len(upd.Tools) > 0 {
		schemas = s.tools.Schemas(upd.Tools...)
		if len(schemas) != len(upd.Tools) {
			return errors.ErrInvalidRequest("unknown tool in " + strings.Join(upd.Tools, ", "))
		}
	}
	return s.do(ctx, func() error {
		next := s.sessConf
		if upd.Instructions != nil {
			next.Instructions = *upd.Instructions
		}
		if upd.Voice != nil {
			next.Voice = *upd.Voice
		}
		if upd.Tools != nil {
			next.Tools = schemas
		}
		if err := s.ai.UpdateSession(next); err != nil {
			return newLegError(LegRealtime, "session_update", err)
		}
		s.sessConf = next
		s.log.Infow("session configuration updated", "tools", len(next.Tools))
		return nil
	})
}

// Detail returns the transcript and tool log. Ended sessions return their final detail.
func (s *Session) Detail(ctx context.Context) (*Detail, error) {
	if d := s.final.Load(); d != nil {
		return d, nil
	}
	var d *Detail
	err := s.do(ctx, func() error {
		d = s.detail(StateActive)
		return nil
	})
	if err != nil {
		if fd := s.final.Load(); fd != nil {
			return fd, nil
		}
		return nil, err
	}
	return d, nil
}
