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
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/veloxvoip/voicebridge/pkg/errors"
	"github.com/veloxvoip/voicebridge/pkg/voice"
)

const (
	adminCommandTimeout = 5 * time.Second
	maxAdminBody        = 64 << 10
)

type injectRequest struct {
	Text    string `json:"text"`
	Respond bool   `json:"respond"`
}

type sessionList struct {
	Active   int             `json:"active"`
	Sessions []voice.Summary `json:"sessions"`
}

func (s *Service) adminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /admin/sessions", s.adminRoute("list_sessions", s.listSessions))
	mux.Handle("GET /admin/sessions/{callID}", s.adminRoute("get_session", s.getSession))
	mux.Handle("POST /admin/sessions/{callID}/cancel", s.adminRoute("cancel_response", s.cancelResponse))
	mux.Handle("POST /admin/sessions/{callID}/inject", s.adminRoute("inject_message", s.injectMessage))
	mux.Handle("POST /admin/sessions/{callID}/config", s.adminRoute("update_config", s.updateConfig))
	mux.Handle("GET /admin/calls/{callID}", s.adminRoute("get_call_log", s.getCallLog))
	return s.adminAuth(mux)
}

// adminAuth requires an allowed source address and the configured bearer token.
func (s *Service) adminAuth(next http.Handler) http.Handler {
	want := []byte("Bearer " + s.conf.Admin.Token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.adminAllow.Allows(r.RemoteAddr) {
			s.mon.AdminRequest("auth", http.StatusForbidden)
			writeError(w, errors.ErrForbidden)
			return
		}
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			s.mon.AdminRequest("auth", http.StatusUnauthorized)
			writeError(w, errors.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type adminFunc func(r *http.Request) (any, error)

func (s *Service) adminRoute(route string, fn adminFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v, err := fn(r)
		code := http.StatusOK
		if err != nil {
			code = errors.HTTPStatus(err)
			if code >= http.StatusInternalServerError {
				s.log.Warnw("admin request failed", err, "route", route, "callID", r.PathValue("callID"))
			}
			writeError(w, err)
		} else {
			writeJSON(w, code, v)
		}
		s.mon.AdminRequest(route, code)
	})
}

func (s *Service) listSessions(*http.Request) (any, error) {
	return sessionList{
		Active:   s.registry.Len(),
		Sessions: s.registry.List(),
	}, nil
}

func (s *Service) lookup(r *http.Request) (*voice.Session, error) {
	sess, ok := s.registry.Lookup(r.PathValue("callID"))
	if !ok {
		return nil, errors.ErrSessionNotFound
	}
	return sess, nil
}

func (s *Service) getSession(r *http.Request) (any, error) {
	callID := r.PathValue("callID")
	sess, ok := s.registry.Lookup(callID)
	if !ok {
		if d, ok := s.registry.Ended(callID); ok {
			return d, nil
		}
		return nil, errors.ErrSessionNotFound
	}
	ctx, cancel := context.WithTimeout(r.Context(), adminCommandTimeout)
	defer cancel()
	return sess.Detail(ctx)
}

func (s *Service) cancelResponse(r *http.Request) (any, error) {
	sess, err := s.lookup(r)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(r.Context(), adminCommandTimeout)
	defer cancel()
	if err = sess.CancelResponse(ctx); err != nil {
		return nil, err
	}
	return sess.Summary(), nil
}

func (s *Service) injectMessage(r *http.Request) (any, error) {
	sess, err := s.lookup(r)
	if err != nil {
		return nil, err
	}
	var req injectRequest
	if err = decodeBody(r, &req); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(r.Context(), adminCommandTimeout)
	defer cancel()
	if err = sess.Inject(ctx, req.Text, req.Respond); err != nil {
		return nil, err
	}
	return sess.Summary(), nil
}

func (s *Service) updateConfig(r *http.Request) (any, error) {
	sess, err := s.lookup(r)
	if err != nil {
		return nil, err
	}
	var upd voice.ConfigUpdate
	if err = decodeBody(r, &upd); err != nil {
		return nil, err
	}
	if upd.Instructions == nil && upd.Voice == nil && upd.Tools == nil {
		return nil, errors.ErrInvalidRequest("nothing to update")
	}
	ctx, cancel := context.WithTimeout(r.Context(), adminCommandTimeout)
	defer cancel()
	if err = sess.UpdateConfig(ctx, upd); err != nil {
		return nil, err
	}
	return sess.Summary(), nil
}

func (s *Service) getCallLog(r *http.Request) (any, error) {
	ctx, cancel := context.WithTimeout(r.Context(), s.conf.CallLog.WriteTimeout)
	defer cancel()
	return s.store.Get(ctx, r.PathValue("callID"))
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxAdminBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.ErrInvalidRequest("invalid request body: " + strings.TrimSpace(err.Error()))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errors.HTTPStatus(err), map[string]string{"error": err.Error()})
}
