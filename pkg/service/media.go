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

package service

import (
	"context"
	"net/http"

	"github.com/veloxvoip/voicebridge/pkg/errors"
	"github.com/veloxvoip/voicebridge/pkg/telephony"
	"github.com/veloxvoip/voicebridge/pkg/voice"
)

// handleMediaStream accepts one telephony media stream and bridges it for the lifetime
// of the call.
func (s *Service) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	log := s.log.WithValues("remote", r.RemoteAddr)
	if !s.streamAllow.Allows(r.RemoteAddr) {
		s.mon.StreamRejected()
		log.Warnw("rejecting media stream from disallowed address", nil)
		writeError(w, errors.ErrForbidden)
		return
	}
	if s.shutdown.IsBroken() || !s.mon.CanAccept() {
		s.mon.StreamRejected()
		log.Warnw("rejecting media stream", nil, "health", s.Health(), "active", s.registry.Len())
		writeError(w, errors.ErrAtCapacity)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnw("media stream upgrade failed", err)
		return
	}
	s.calls.Add(1)
	defer s.calls.Done()

	conn := telephony.NewConn(log.WithComponent("telephony"), ws)
	conn.Start()
	s.serveCall(context.WithoutCancel(r.Context()), conn)
}

func (s *Service) serveCall(ctx context.Context, conn *telephony.Conn) {
	startCtx, cancel := context.WithTimeout(ctx, streamStartTimeout)
	info, err := conn.AwaitStart(startCtx)
	cancel()
	if err != nil {
		s.log.Warnw("media stream ended before start", err)
		_ = conn.Close()
		return
	}
	log := s.log.WithValues("callID", info.CallID, "streamID", info.StreamID)

	ai, err := s.newAI(log.WithComponent("realtime"))
	if err == nil {
		err = ai.Run(ctx)
	}
	if err != nil {
		log.Errorw("could not connect to realtime service", err)
		_ = conn.Close()
		return
	}

	sess := voice.NewSession(s.log, s.conf, *info, conn, ai,
		voice.WithTools(s.tools),
		voice.WithStore(s.store),
		voice.WithRegistry(s.registry),
		voice.WithMonitor(s.mon),
	)
	if err = s.registry.Register(sess); err != nil {
		log.Warnw("rejecting duplicate call", err)
		_ = ai.Close()
		_ = conn.Close()
		return
	}
	s.mon.CallStarted()

	if err = sess.Run(ctx); err != nil {
		log.Warnw("voice session ended with error", err, "reason", sess.Summary().EndReason)
	}
}
