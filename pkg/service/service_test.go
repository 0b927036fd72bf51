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
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/frostbyte73/core"
	"github.com/gorilla/websocket"

	"github.com/livekit/protocol/logger"

	"github.com/veloxvoip/voicebridge/pkg/calllog/drivers"
	"github.com/veloxvoip/voicebridge/pkg/config"
	"github.com/veloxvoip/voicebridge/pkg/models"
	"github.com/veloxvoip/voicebridge/pkg/stats"
	"github.com/veloxvoip/voicebridge/pkg/tools"
	"github.com/veloxvoip/voicebridge/pkg/voice"
)

const testToken = "s3cret"

// stubAI is a realtime counterparty that only records what it was asked to do.
type stubAI struct {
	events chan models.ServerEvent
	closed core.Fuse

	mu        sync.Mutex
	messages  []string
	responses int
	cancels   int
	updates   int
}

func (a *stubAI) Run(context.Context) error         { return nil }
func (a *stubAI) Events() <-chan models.ServerEvent { return a.events }
func (a *stubAI) Closed() <-chan struct{}           { return a.closed.Watch() }
func (a *stubAI) Err() error                        { return nil }
func (a *stubAI) AppendAudio(string) error          { return nil }
func (a *stubAI) CommitAudio() error                { return nil }
func (a *stubAI) ClearAudio() error                 { return nil }

func (a *stubAI) Close() error {
	a.closed.Break()
	return nil
}

func (a *stubAI) UpdateSession(models.SessionConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.updates++
	return nil
}

func (a *stubAI) CreateResponse() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.responses++
	return nil
}

func (a *stubAI) CancelResponse(string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancels++
	return nil
}

func (a *stubAI) CreateMessage(_, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, text)
	return nil
}

func (a *stubAI) CreateFunctionOutput(string, string) error { return nil }
func (a *stubAI) TruncateItem(string, int, int64) error     { return nil }

type testService struct {
	svc   *Service
	conf  *config.Config
	mon   *stats.Monitor
	reg   *voice.Registry
	store *drivers.MemoryStore
	ai    chan *stubAI
}

func newTestService(t *testing.T, edit func(*config.Config)) *testService {
	t.Helper()
	conf := &config.Config{}
	conf.Realtime.APIKey = "sk-test"
	conf.Admin.Token = testToken
	if edit != nil {
		edit(conf)
	}
	conf.ApplyDefaults()

	mon, err := stats.NewMonitor(conf)
	if err != nil {
		t.Fatal(err)
	}
	ts := &testService{
		conf:  conf,
		mon:   mon,
		reg:   voice.NewRegistry(conf.RecentSessions.Size, conf.RecentSessions.TTL),
		store: drivers.NewMemoryStore(),
		ai:    make(chan *stubAI, 4),
	}
	newAI := func(logger.Logger) (models.Counterparty, error) {
		a := &stubAI{events: make(chan models.ServerEvent)}
		ts.ai <- a
		return a, nil
	}
	toolReg := tools.NewRegistry(logger.GetLogger(), time.Second)
	ts.svc, err = NewService(conf, logger.GetLogger(), ts.reg, ts.store, toolReg, newAI, mon)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(ts.reg.CloseAll)
	return ts
}

func (ts *testService) do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewServiceInvalidAllowlist(t *testing.T) {
	conf := &config.Config{}
	conf.Telephony.AllowedIPs = []string{"10.0.0.0/99"}
	conf.ApplyDefaults()
	if _, err := NewService(conf, logger.GetLogger(), nil, nil, nil, nil, nil); err == nil {
		t.Fatal("NewService() with an invalid allowlist should fail")
	}
}

func TestHealth(t *testing.T) {
	ts := newTestService(t, func(c *config.Config) { c.MaxConcurrentCalls = 1 })
	h := ts.svc.Handler()

	check := func(want int) {
		t.Helper()
		rec := ts.do(t, h, http.MethodGet, "/healthz", "")
		if rec.Code != want {
			t.Errorf("health = %d %q, want %d", rec.Code, rec.Body.String(), want)
		}
	}
	check(http.StatusOK)
	ts.mon.CallStarted()
	check(http.StatusTooManyRequests)
	ts.mon.CallEnded("closed", time.Second)
	ts.svc.Stop(false)
	check(http.StatusServiceUnavailable)
}

func TestMediaStreamRejected(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*config.Config)
		setup func(*testService)
		want  int
	}{
		{
			name: "address not allowed",
			edit: func(c *config.Config) { c.Telephony.AllowedIPs = []string{"10.0.0.0/8"} },
			want: http.StatusForbidden,
		},
		{
			name:  "at capacity",
			edit:  func(c *config.Config) { c.MaxConcurrentCalls = 1 },
			setup: func(ts *testService) { ts.mon.CallStarted() },
			want:  http.StatusTooManyRequests,
		},
		{
			name:  "shutting down",
			setup: func(ts *testService) { ts.svc.Stop(false) },
			want:  http.StatusTooManyRequests,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestService(t, tt.edit)
			if tt.setup != nil {
				tt.setup(ts)
			}
			rec := ts.do(t, ts.svc.Handler(), http.MethodGet, ts.conf.Telephony.StreamPath, "")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAdminAuth(t *testing.T) {
	ts := newTestService(t, func(c *config.Config) { c.Admin.AllowedIPs = []string{"192.0.2.0/24"} })
	h := ts.svc.Handler()

	tests := []struct {
		name   string
		auth   string
		remote string
		want   int
	}{
		{"valid token", "Bearer " + testToken, "192.0.2.10:4000", http.StatusOK},
		{"missing token", "", "192.0.2.10:4000", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", "192.0.2.10:4000", http.StatusUnauthorized},
		{"disallowed address", "Bearer " + testToken, "198.51.100.1:4000", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/sessions", nil)
			req.RemoteAddr = tt.remote
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	ts := newTestService(t, func(c *config.Config) { c.Admin.Token = "" })
	rec := ts.do(t, ts.svc.Handler(), http.MethodGet, "/admin/sessions", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAdminUnknownCall(t *testing.T) {
	ts := newTestService(t, nil)
	h := ts.svc.Handler()
	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/admin/sessions/CA404", ""},
		{http.MethodPost, "/admin/sessions/CA404/cancel", ""},
		{http.MethodPost, "/admin/sessions/CA404/inject", `{"text":"hi"}`},
		{http.MethodPost, "/admin/sessions/CA404/config", `{"voice":"verse"}`},
		{http.MethodGet, "/admin/calls/CA404", ""},
	} {
		rec := ts.do(t, h, tc.method, tc.path, tc.body)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", tc.method, tc.path, rec.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
			t.Errorf("%s %s: body %q is not an error object", tc.method, tc.path, rec.Body.String())
		}
	}
}

func TestCallEndToEnd(t *testing.T) {
	ts := newTestService(t, nil)
	h := ts.svc.Handler()
	srv := httptest.NewServer(h)
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+ts.conf.Telephony.StreamPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	send := func(msg string) {
		t.Helper()
		if err := client.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatal(err)
		}
	}
	send(`{"event":"connected","protocol":"Call"}`)
	send(`{"event":"start","streamSid":"MZ7","start":{"streamSid":"MZ7","callSid":"CA7","customParameters":{"callerNumber":"+15550107"}}}`)

	var ai *stubAI
	select {
	case ai = <-ts.ai:
	case <-time.After(5 * time.Second):
		t.Fatal("realtime leg not created")
	}
	waitFor(t, "session registered", func() bool {
		_, ok := ts.reg.Lookup("CA7")
		return ok
	})

	rec := ts.do(t, h, http.MethodGet, "/admin/sessions", "")
	var list sessionList
	if err = json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if list.Active != 1 || len(list.Sessions) != 1 || list.Sessions[0].CallerNumber != "+15550107" {
		t.Errorf("session list = %+v", list)
	}

	if rec = ts.do(t, h, http.MethodPost, "/admin/sessions/CA7/cancel", ""); rec.Code != http.StatusConflict {
		t.Errorf("cancel without response = %d, want 409", rec.Code)
	}
	select {
	case ai.events <- models.ServerEvent{Kind: models.KindResponseCreated, ResponseID: "resp_1"}:
	case <-time.After(time.Second):
		t.Fatal("session did not take event")
	}
	if rec = ts.do(t, h, http.MethodPost, "/admin/sessions/CA7/cancel", ""); rec.Code != http.StatusOK {
		t.Errorf("cancel = %d %s", rec.Code, rec.Body.String())
	}

	if rec = ts.do(t, h, http.MethodPost, "/admin/sessions/CA7/inject", `{"text":"Do you open on Sundays?","respond":true}`); rec.Code != http.StatusOK {
		t.Errorf("inject = %d %s", rec.Code, rec.Body.String())
	}
	if rec = ts.do(t, h, http.MethodPost, "/admin/sessions/CA7/inject", `{"text":""}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty inject = %d, want 400", rec.Code)
	}
	if rec = ts.do(t, h, http.MethodPost, "/admin/sessions/CA7/config", `{"instructions":"Answer in Portuguese."}`); rec.Code != http.StatusOK {
		t.Errorf("config = %d %s", rec.Code, rec.Body.String())
	}
	if rec = ts.do(t, h, http.MethodPost, "/admin/sessions/CA7/config", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty config = %d, want 400", rec.Code)
	}
	if rec = ts.do(t, h, http.MethodPost, "/admin/sessions/CA7/config", `{"tools":["nope"]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown tool config = %d, want 400", rec.Code)
	}

	ai.mu.Lock()
	cancels, responses, updates, messages := ai.cancels, ai.responses, ai.updates, len(ai.messages)
	ai.mu.Unlock()
	if cancels != 1 || responses != 1 || updates != 2 || messages != 1 {
		t.Errorf("realtime calls: cancels=%d responses=%d updates=%d messages=%d", cancels, responses, updates, messages)
	}

	send(`{"event":"stop","streamSid":"MZ7"}`)
	waitFor(t, "call log", func() bool {
		_, err := ts.store.Get(context.Background(), "CA7")
		return err == nil
	})

	rec = ts.do(t, h, http.MethodGet, "/admin/calls/CA7", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Do you open on Sundays?") {
		t.Errorf("call log = %d %s", rec.Code, rec.Body.String())
	}
	waitFor(t, "session removed", func() bool { return ts.reg.Len() == 0 })
	rec = ts.do(t, h, http.MethodGet, "/admin/sessions/CA7", "")
	var d voice.Detail
	if err = json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || d.State != voice.StateEnded || d.EndReason != voice.EndStreamStopped {
		t.Errorf("ended session = %d %+v", rec.Code, d.Summary)
	}
	waitFor(t, "active calls gauge", func() bool { return ts.mon.ActiveCalls() == 0 })
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
