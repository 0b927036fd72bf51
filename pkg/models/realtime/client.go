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

package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/frostbyte73/core"
	"github.com/gorilla/websocket"

	"github.com/livekit/protocol/logger"

	"github.com/veloxvoip/voicebridge/pkg/config"
	"github.com/veloxvoip/voicebridge/pkg/models"
)

const eventBufferSize = 256

// Client is a Counterparty speaking the OpenAI Realtime websocket protocol.
type Client struct {
	log    logger.Logger
	conf   *config.RealtimeConfig
	dialer *websocket.Dialer

	conn    atomic.Pointer[websocket.Conn]
	writeMu sync.Mutex

	events chan models.ServerEvent
	closed core.Fuse
	errMu  sync.Mutex
	err    error
}

var _ models.Counterparty = (*Client)(nil)

type ClientOption func(*Client)

func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

func NewClient(log logger.Logger, conf *config.RealtimeConfig, opts ...ClientOption) *Client {
	if log == nil {
		log = logger.GetLogger().WithComponent("realtime")
	}
	c := &Client{
		log:    log,
		conf:   conf,
		dialer: websocket.DefaultDialer,
		events: make(chan models.ServerEvent, eventBufferSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewCounterpartyFunc creates a GetCounterpartyFunc backed by realtime Clients.
func NewCounterpartyFunc(conf *config.RealtimeConfig, opts ...ClientOption) models.GetCounterpartyFunc {
	return func(log logger.Logger) (models.Counterparty, error) {
		return NewClient(log, conf, opts...), nil
	}
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.conf.URL)
	if err != nil {
		return "", err
	}
	if c.conf.Model != "" {
		q := u.Query()
		q.Set("model", c.conf.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Run dials the service and starts the read loop.
func (c *Client) Run(ctx context.Context) error {
	if c.closed.IsBroken() {
		return models.ErrClosed
	}
	u, err := c.dialURL()
	if err != nil {
		return err
	}
	if c.conf.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.conf.DialTimeout)
		defer cancel()
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.conf.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := c.dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			c.log.Errorw("realtime handshake rejected", err, "status", resp.StatusCode)
		}
		return err
	}
	c.conn.Store(conn)

	go c.readLoop(conn)

	c.log.Infow("realtime connected", "model", c.conf.Model)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.IsBroken() {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Errorw("realtime read error", err)
			}
			c.fail(err)
			return
		}
		if messageType != websocket.TextMessage {
			c.log.Debugw("ignoring non-text realtime message", "type", messageType)
			continue
		}

		ev, err := DecodeEvent(message)
		if err != nil {
			// One bad message must not end the call.
			c.log.Warnw("dropping malformed realtime event", err, "size", len(message))
			continue
		}

		select {
		case c.events <- ev:
		case <-c.closed.Watch():
			return
		}
	}
}

func (c *Client) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
	_ = c.Close()
}

func (c *Client) Events() <-chan models.ServerEvent {
	return c.events
}

func (c *Client) Closed() <-chan struct{} {
	return c.closed.Watch()
}

func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) Close() error {
	if c.closed.IsBroken() {
		return nil
	}
	c.closed.Break()

	conn := c.conn.Load()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *Client) send(v any) error {
	if c.closed.IsBroken() {
		return models.ErrClosed
	}
	conn := c.conn.Load()
	if conn == nil {
		return errors.New("realtime not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (c *Client) UpdateSession(conf models.SessionConfig) error {
	return c.send(newSessionUpdate(conf))
}

func (c *Client) AppendAudio(payload string) error {
	return c.send(audioAppendEvent{Type: "input_audio_buffer.append", Audio: payload})
}

func (c *Client) CommitAudio() error {
	return c.send(clientEvent{Type: "input_audio_buffer.commit"})
}

func (c *Client) ClearAudio() error {
	return c.send(clientEvent{Type: "input_audio_buffer.clear"})
}

func (c *Client) CreateResponse() error {
	return c.send(clientEvent{Type: "response.create"})
}

func (c *Client) CancelResponse(responseID string) error {
	return c.send(responseCancelEvent{Type: "response.cancel", ResponseID: responseID})
}

func (c *Client) CreateMessage(role, text string) error {
	return c.send(newMessageItem(role, text))
}

func (c *Client) CreateFunctionOutput(callID, output string) error {
	return c.send(newFunctionOutputItem(callID, output))
}

func (c *Client) TruncateItem(itemID string, contentIndex int, audioEndMs int64) error {
	return c.send(itemTruncateEvent{
		Type:         "conversation.item.truncate",
		ItemID:       itemID,
		ContentIndex: contentIndex,
		AudioEndMs:   audioEndMs,
	})
}
