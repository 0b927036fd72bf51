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

// Package telephony speaks the media-stream websocket protocol used by the
// carrier: JSON envelopes carrying base64 G.711 audio, playback marks and
// stream lifecycle notifications.
package telephony

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type EventKind int

const (
	KindUnknown EventKind = iota
	KindConnected
	KindStart
	KindMedia
	KindMark
	KindDTMF
	KindStop
)

func (k EventKind) String() string {
	switch k {
	case KindConnected:
		return "connected"
	case KindStart:
		return "start"
	case KindMedia:
		return "media"
	case KindMark:
		return "mark"
	case KindDTMF:
		return "dtmf"
	case KindStop:
		return "stop"
	default:
		return "unknown"
	}
}

// StartInfo describes the call a stream belongs to.
type StartInfo struct {
	StreamID         string
	CallID           string
	AccountID        string
	CallerNumber     string
	CustomParameters map[string]string
	Encoding         string
	SampleRate       int
}

// Media is one inbound audio chunk. Timestamp is milliseconds since stream start.
type Media struct {
	Track     string
	Chunk     int64
	Timestamp int64
	Payload   string
}

// Event is a decoded inbound message. Exactly one of the kind-specific fields is set.
type Event struct {
	Kind     EventKind
	Name     string
	StreamID string
	Sequence int64

	Start *StartInfo
	Media *Media
	Mark  string
	Digit string
}

// millis accepts both the quoted and the bare numeric encoding.
type millis int64

func (m *millis) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*m = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", s, err)
	}
	*m = millis(v)
	return nil
}

type wireEvent struct {
	Event          string `json:"event"`
	StreamSid      string `json:"streamSid"`
	SequenceNumber millis `json:"sequenceNumber"`
	Start          *struct {
		AccountSid       string            `json:"accountSid"`
		StreamSid        string            `json:"streamSid"`
		CallSid          string            `json:"callSid"`
		CustomParameters map[string]string `json:"customParameters"`
		MediaFormat      struct {
			Encoding   string `json:"encoding"`
			SampleRate int    `json:"sampleRate"`
		} `json:"mediaFormat"`
	} `json:"start"`
	Media *struct {
		Track     string `json:"track"`
		Chunk     millis `json:"chunk"`
		Timestamp millis `json:"timestamp"`
		Payload   string `json:"payload"`
	} `json:"media"`
	Mark *struct {
		Name string `json:"name"`
	} `json:"mark"`
	DTMF *struct {
		Digit string `json:"digit"`
	} `json:"dtmf"`
}

// callerKeys are the custom parameter names checked, in order, for the caller identity.
var callerKeys = []string{"callerNumber", "caller_number", "from", "From"}

// Decode parses one inbound message. Unknown event names decode to KindUnknown.
func Decode(raw []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Event{}, fmt.Errorf("decode media stream event: %w", err)
	}
	ev := Event{
		Name:     w.Event,
		StreamID: w.StreamSid,
		Sequence: int64(w.SequenceNumber),
	}
	switch w.Event {
	case "connected":
		ev.Kind = KindConnected
	case "start":
		if w.Start == nil {
			return Event{}, fmt.Errorf("decode media stream event: start without payload")
		}
		ev.Kind = KindStart
		info := &StartInfo{
			StreamID:         w.Start.StreamSid,
			CallID:           w.Start.CallSid,
			AccountID:        w.Start.AccountSid,
			CustomParameters: w.Start.CustomParameters,
			Encoding:         w.Start.MediaFormat.Encoding,
			SampleRate:       w.Start.MediaFormat.SampleRate,
		}
		if info.StreamID == "" {
			info.StreamID = w.StreamSid
		}
		for _, k := range callerKeys {
			if v := strings.TrimSpace(info.CustomParameters[k]); v != "" {
				info.CallerNumber = v
				break
			}
		}
		ev.Start = info
		if ev.StreamID == "" {
			ev.StreamID = info.StreamID
		}
	case "media":
		if w.Media == nil {
			return Event{}, fmt.Errorf("decode media stream event: media without payload")
		}
		ev.Kind = KindMedia
		ev.Media = &Media{
			Track:     w.Media.Track,
			Chunk:     int64(w.Media.Chunk),
			Timestamp: int64(w.Media.Timestamp),
			Payload:   w.Media.Payload,
		}
	case "mark":
		if w.Mark == nil || w.Mark.Name == "" {
			return Event{}, fmt.Errorf("decode media stream event: mark without name")
		}
		ev.Kind = KindMark
		ev.Mark = w.Mark.Name
	case "dtmf":
		ev.Kind = KindDTMF
		if w.DTMF != nil {
			ev.Digit = w.DTMF.Digit
		}
	case "stop":
		ev.Kind = KindStop
	case "":
		return Event{}, fmt.Errorf("decode media stream event: missing event name")
	default:
		ev.Kind = KindUnknown
	}
	return ev, nil
}

// Outbound messages.

type outMedia struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

type outMark struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Mark      struct {
		Name string `json:"name"`
	} `json:"mark"`
}

type outClear struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}
