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

package telephony

import (
	"context"
	"sync"

	"github.com/frostbyte73/core"
	"github.com/gorilla/websocket"

	"github.com/livekit/protocol/logger"

	"github.com/veloxvoip/voicebridge/pkg/errors"
)

const eventBufferSize = 256

// Conn is the server side of one media-stream websocket.
type Conn struct {
	log logger.Logger
	ws  *websocket.Conn

	writeMu sync.Mutex
	events  chan Event
	closed  core.Fuse
	errMu   sync.Mutex
	err     error
}

func NewConn(log logger.Logger, ws *websocket.Conn) *Conn {
	if log == nil {
		log = logger.GetLogger().WithComponent("telephony")
	}
	return &Conn{
		log:    log,
		ws:     ws,
		events: make(chan Event, eventBufferSize),
	}
}

// Start launches the read loop.
func (c *Conn) Start() {
	go c.readLoop()
}

func (c *Conn) readLoop() {
	for {
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			if c.closed.IsBroken() {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Errorw("media stream read error", err)
			}
			c.fail(err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		ev, err := Decode(message)
		if err != nil {
			c.log.Warnw("dropping malformed media stream event", err, "size", len(message))
			continue
		}

		select {
		case c.events <- ev:
		case <-c.closed.Watch():
			return
		}
	}
}

func (c *Conn) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
	_ = c.Close()
}

// AwaitStart consumes events until the stream start notification arrives.
func (c *Conn) AwaitStart(ctx context.Context) (*StartInfo, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.closed.Watch():
			if err := c.Err(); err != nil {
				return nil, err
			}
			return nil, errors.ErrStreamNotStarted
		case ev := <-c.events:
			switch ev.Kind {
			case KindStart:
				return ev.Start, nil
			case KindConnected:
				c.log.Debugw("media stream connected")
			case KindStop:
				return nil, errors.ErrStreamNotStarted
			default:
				c.log.Debugw("ignoring event before stream start", "event", ev.Name)
			}
		}
	}
}

func (c *Conn) Events() <-chan Event {
	return c.events
}

func (c *Conn) Closed() <-chan struct{} {
	return c.closed.Watch()
}

func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) Close() error {
	if c.closed.IsBroken() {
		return nil
	}
	c.closed.Break()

	c.writeMu.Lock()
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.ws.Close()
}

func (c *Conn) write(v any) error {
	if c.closed.IsBroken() {
		return errors.ErrSessionClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// SendMedia forwards a base64 audio payload for playback on the stream.
func (c *Conn) SendMedia(streamID, payload string) error {
	m := outMedia{Event: "media", StreamSid: streamID}
	m.Media.Payload = payload
	return c.write(m)
}

// SendMark asks the far end to echo name once all audio sent before it has played.
func (c *Conn) SendMark(streamID, name string) error {
	m := outMark{Event: "mark", StreamSid: streamID}
	m.Mark.Name = name
	return c.write(m)
}

// SendClear discards audio queued on the far end but not yet played.
func (c *Conn) SendClear(streamID string) error {
	return c.write(outClear{Event: "clear", StreamSid: streamID})
}
