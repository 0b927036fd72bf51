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
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/frostbyte73/core"

	"github.com/livekit/protocol/logger"

	"github.com/veloxvoip/voicebridge/pkg/calllog"
	"github.com/veloxvoip/voicebridge/pkg/config"
	"github.com/veloxvoip/voicebridge/pkg/models"
	"github.com/veloxvoip/voicebridge/pkg/telephony"
)

var errFakeClosed = errors.New("fake leg closed")

type fakePhone struct {
	events chan telephony.Event
	closed core.Fuse

	mu     sync.Mutex
	err    error
	media  []string
	marks  []string
	clears int
	closes int
}

var _ TelephonyLeg = (*fakePhone)(nil)

func newFakePhone() *fakePhone {
	return &fakePhone{events: make(chan telephony.Event)}
}

func (p *fakePhone) Events() <-chan telephony.Event { return p.events }
func (p *fakePhone) Closed() <-chan struct{}        { return p.closed.Watch() }

func (p *fakePhone) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakePhone) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	p.closed.Break()
	return nil
}

// drop simulates the far end going away.
func (p *fakePhone) drop(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	p.closed.Break()
}

func (p *fakePhone) SendMedia(_, payload string) error {
	if p.closed.IsBroken() {
		return errFakeClosed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.media = append(p.media, payload)
	return nil
}

func (p *fakePhone) SendMark(_, name string) error {
	if p.closed.IsBroken() {
		return errFakeClosed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marks = append(p.marks, name)
	return nil
}

func (p *fakePhone) SendClear(string) error {
	if p.closed.IsBroken() {
		return errFakeClosed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clears++
	return nil
}

func (p *fakePhone) counts() (media, marks, clears int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.media), len(p.marks), p.clears
}

func (p *fakePhone) markLabels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.marks...)
}

type truncateCall struct {
	itemID       string
	contentIndex int
	audioEndMs   int64
}

type functionOutput struct {
	callID string
	output string
}

type aiCalls struct {
	updates   []models.SessionConfig
	appended  int
	commits   int
	clears    int
	responses int
	cancels   []string
	truncates []truncateCall
	messages  []string
	outputs   []functionOutput
	closes    int
}

type fakeAI struct {
	events chan models.ServerEvent
	closed core.Fuse

	mu    sync.Mutex
	err   error
	calls aiCalls
}

var _ models.Counterparty = (*fakeAI)(nil)

func newFakeAI() *fakeAI {
	return &fakeAI{events: make(chan models.ServerEvent)}
}

func (a *fakeAI) Run(context.Context) error         { return nil }
func (a *fakeAI) Events() <-chan models.ServerEvent { return a.events }
func (a *fakeAI) Closed() <-chan struct{}           { return a.closed.Watch() }

func (a *fakeAI) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *fakeAI) Close() error {
	a.mu.Lock()
	a.calls.closes++
	a.mu.Unlock()
	a.closed.Break()
	return nil
}

func (a *fakeAI) drop(err error) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
	a.closed.Break()
}

func (a *fakeAI) record(fn func()) error {
	if a.closed.IsBroken() {
		return models.ErrClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	fn()
	return nil
}

func (a *fakeAI) UpdateSession(conf models.SessionConfig) error {
	return a.record(func() { a.calls.updates = append(a.calls.updates, conf) })
}

func (a *fakeAI) AppendAudio(string) error {
	return a.record(func() { a.calls.appended++ })
}

func (a *fakeAI) CommitAudio() error {
	return a.record(func() { a.calls.commits++ })
}

func (a *fakeAI) ClearAudio() error {
	return a.record(func() { a.calls.clears++ })
}

func (a *fakeAI) CreateResponse() error {
	return a.record(func() { a.calls.responses++ })
}

func (a *fakeAI) CancelResponse(responseID string) error {
	return a.record(func() { a.calls.cancels = append(a.calls.cancels, responseID) })
}

func (a *fakeAI) CreateMessage(_, text string) error {
	return a.record(func() { a.calls.messages = append(a.calls.messages, text) })
}

func (a *fakeAI) CreateFunctionOutput(callID, output string) error {
	return a.record(func() { a.calls.outputs = append(a.calls.outputs, functionOutput{callID, output}) })
}

func (a *fakeAI) TruncateItem(itemID string, contentIndex int, audioEndMs int64) error {
	return a.record(func() {
		a.calls.truncates = append(a.calls.truncates, truncateCall{itemID, contentIndex, audioEndMs})
	})
}

func (a *fakeAI) snapshot() aiCalls {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.calls
	c.updates = append([]models.SessionConfig(nil), c.updates...)
	c.cancels = append([]string(nil), c.cancels...)
	c.truncates = append([]truncateCall(nil), c.truncates...)
	c.messages = append([]string(nil), c.messages...)
	c.outputs = append([]functionOutput(nil), c.outputs...)
	return c
}

type countingStore struct {
	mu      sync.Mutex
	records []*calllog.Record
}

func (s *countingStore) Save(_ context.Context, rec *calllog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *countingStore) Get(_ context.Context, callID string) (*calllog.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.CallID == callID {
			return r, nil
		}
	}
	return nil, errors.New("not found")
}

func (s *countingStore) Close() error { return nil }

func (s *countingStore) saved() []*calllog.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*calllog.Record(nil), s.records...)
}

type harness struct {
	t      *testing.T
	conf   *config.Config
	s      *Session
	phone  *fakePhone
	ai     *fakeAI
	store  *countingStore
	reg    *Registry
	runErr chan error
}

func testConfig() *config.Config {
	conf := &config.Config{}
	conf.Realtime.APIKey = "sk-test"
	conf.ApplyDefaults()
	conf.Session.InterruptDebounce = 30 * time.Millisecond
	conf.Session.ToolTimeout = time.Second
	return conf
}

func newHarness(t *testing.T, conf *config.Config, opts ...SessionOption) *harness {
	t.Helper()
	return newHarnessWithAI(t, conf, newFakeAI(), opts...)
}

func newHarnessWithAI(t *testing.T, conf *config.Config, ai *fakeAI, opts ...SessionOption) *harness {
	t.Helper()
	if conf == nil {
		conf = testConfig()
	}
	h := &harness{
		t:      t,
		conf:   conf,
		phone:  newFakePhone(),
		ai:     ai,
		store:  &countingStore{},
		reg:    NewRegistry(16, time.Minute),
		runErr: make(chan error, 1),
	}
	info := telephony.StartInfo{StreamID: "MZ1", CallID: "CA1", CallerNumber: "+15550100"}
	opts = append([]SessionOption{WithStore(h.store), WithRegistry(h.reg)}, opts...)
	h.s = NewSession(logger.GetLogger(), conf, info, h.phone, h.ai, opts...)
	if err := h.reg.Register(h.s); err != nil {
		t.Fatalf("Register: %v", err)
	}
	go func() {
		h.runErr <- h.s.Run(context.Background())
	}()
	t.Cleanup(func() {
		h.s.Close()
		select {
		case <-h.s.Done():
		case <-time.After(2 * time.Second):
			t.Errorf("session did not end")
		}
	})
	return h
}

func (h *harness) phoneEvent(ev telephony.Event) {
	h.t.Helper()
	select {
	case h.phone.events <- ev:
	case <-time.After(time.Second):
		h.t.Fatalf("session did not take telephony event %s", ev.Kind)
	}
}

func (h *harness) aiEvent(ev models.ServerEvent) {
	h.t.Helper()
	select {
	case h.ai.events <- ev:
	case <-time.After(time.Second):
		h.t.Fatalf("session did not take realtime event %s", ev.Kind)
	}
}

// detail doubles as a barrier: commands run only after every event sent before them.
func (h *harness) detail() *Detail {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := h.s.Detail(ctx)
	if err != nil {
		h.t.Fatalf("Detail: %v", err)
	}
	return d
}

func (h *harness) wait() error {
	h.t.Helper()
	select {
	case err := <-h.runErr:
		return err
	case <-time.After(2 * time.Second):
		h.t.Fatal("session did not end")
		return nil
	}
}

func (h *harness) media(ts int64) {
	h.phoneEvent(telephony.Event{
		Kind:     telephony.KindMedia,
		Name:     "media",
		StreamID: "MZ1",
		Media:    &telephony.Media{Track: "inbound", Timestamp: ts, Payload: audioPayload(160)},
	})
}

func (h *harness) audioDelta(itemID string, n int) {
	h.responseAudio("resp_1", itemID, n)
}

func (h *harness) responseAudio(responseID, itemID string, n int) {
	h.aiEvent(models.ServerEvent{
		Kind:       models.KindAudioDelta,
		Type:       "response.audio.delta",
		ItemID:     itemID,
		ResponseID: responseID,
		Delta:      audioPayload(n),
	})
}

func audioPayload(n int) string {
	return base64.StdEncoding.EncodeToString(make([]byte, n))
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
