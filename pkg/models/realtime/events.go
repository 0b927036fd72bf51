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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/veloxvoip/voicebridge/pkg/models"
)

// Server event names, including the aliases used by the GA protocol revision.
var serverKinds = map[string]models.EventKind{
	"session.created": models.KindSessionCreated,
	"session.updated": models.KindSessionUpdated,

	"input_audio_buffer.committed":      models.KindInputAudioCommitted,
	"input_audio_buffer.cleared":        models.KindInputAudioCleared,
	"input_audio_buffer.speech_started": models.KindSpeechStarted,
	"input_audio_buffer.speech_stopped": models.KindSpeechStopped,

	"conversation.item.created":                             models.KindItemCreated,
	"conversation.item.added":                               models.KindItemCreated,
	"conversation.item.truncated":                           models.KindItemTruncated,
	"conversation.item.deleted":                             models.KindItemDeleted,
	"conversation.item.input_audio_transcription.completed": models.KindInputTranscriptionCompleted,
	"conversation.item.input_audio_transcription.failed":    models.KindInputTranscriptionFailed,

	"response.created":                       models.KindResponseCreated,
	"response.done":                          models.KindResponseDone,
	"response.output_item.added":             models.KindOutputItemAdded,
	"response.output_item.done":              models.KindOutputItemDone,
	"response.content_part.added":            models.KindContentPartAdded,
	"response.content_part.done":             models.KindContentPartDone,
	"response.audio.delta":                   models.KindAudioDelta,
	"response.output_audio.delta":            models.KindAudioDelta,
	"response.audio.done":                    models.KindAudioDone,
	"response.output_audio.done":             models.KindAudioDone,
	"response.audio_transcript.delta":        models.KindAudioTranscriptDelta,
	"response.output_audio_transcript.delta": models.KindAudioTranscriptDelta,
	"response.audio_transcript.done":         models.KindAudioTranscriptDone,
	"response.output_audio_transcript.done":  models.KindAudioTranscriptDone,
	"response.text.delta":                    models.KindTextDelta,
	"response.output_text.delta":             models.KindTextDelta,
	"response.text.done":                     models.KindTextDone,
	"response.output_text.done":              models.KindTextDone,
	"response.function_call_arguments.delta": models.KindFunctionCallArgumentsDelta,
	"response.function_call_arguments.done":  models.KindFunctionCallArgumentsDone,

	"rate_limits.updated": models.KindRateLimitsUpdated,
	"error":               models.KindError,
}

type wireItem struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Role   string `json:"role"`
	Status string `json:"status"`
	Name   string `json:"name"`
	CallID string `json:"call_id"`
}

type wireResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	StatusDetails *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
		Error  *struct {
			Type string `json:"type"`
			Code string `json:"code"`
		} `json:"error"`
	} `json:"status_details"`
}

type wireError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
}

// wireEvent is the union of the fields the bridge reads from any server event.
type wireEvent struct {
	Type         string             `json:"type"`
	EventID      string             `json:"event_id"`
	Item         *wireItem          `json:"item"`
	ItemID       string             `json:"item_id"`
	ContentIndex int                `json:"content_index"`
	AudioEndMs   int64              `json:"audio_end_ms"`
	ResponseID   string             `json:"response_id"`
	Response     *wireResponse      `json:"response"`
	Delta        string             `json:"delta"`
	Transcript   string             `json:"transcript"`
	Text         string             `json:"text"`
	Name         string             `json:"name"`
	CallID       string             `json:"call_id"`
	Arguments    string             `json:"arguments"`
	RateLimits   []models.RateLimit `json:"rate_limits"`
	Error        *wireError         `json:"error"`
}

// DecodeEvent parses one server message. Unrecognised types decode to KindUnknown
// with Type set; only malformed JSON is an error.
func DecodeEvent(raw []byte) (models.ServerEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return models.ServerEvent{}, fmt.Errorf("decode realtime event: %w", err)
	}
	if strings.TrimSpace(w.Type) == "" {
		return models.ServerEvent{}, fmt.Errorf("decode realtime event: missing type")
	}

	ev := models.ServerEvent{
		Kind:         serverKinds[w.Type],
		Type:         w.Type,
		EventID:      w.EventID,
		ItemID:       w.ItemID,
		ContentIndex: w.ContentIndex,
		AudioEndMs:   w.AudioEndMs,
		ResponseID:   w.ResponseID,
		Delta:        w.Delta,
		Transcript:   w.Transcript,
		Text:         w.Text,
		Name:         w.Name,
		CallID:       w.CallID,
		Arguments:    w.Arguments,
		RateLimits:   w.RateLimits,
		Raw:          json.RawMessage(raw),
	}
	if w.Item != nil {
		ev.Item = &models.Item{
			ID:     w.Item.ID,
			Type:   w.Item.Type,
			Role:   w.Item.Role,
			Status: w.Item.Status,
			Name:   w.Item.Name,
			CallID: w.Item.CallID,
		}
		if ev.ItemID == "" {
			ev.ItemID = w.Item.ID
		}
	}
	if r := w.Response; r != nil {
		ev.ResponseID = r.ID
		ev.ResponseStatus = r.Status
		if d := r.StatusDetails; d != nil {
			ev.StatusReason = d.Reason
			if d.Error != nil && ev.StatusReason == "" {
				ev.StatusReason = d.Error.Code
			}
		}
	}
	if e := w.Error; e != nil {
		ev.Error = &models.ErrorInfo{
			Type:    e.Type,
			Code:    e.Code,
			Message: e.Message,
			Param:   e.Param,
		}
	}
	return ev, nil
}

// Client events.

type clientEvent struct {
	Type string `json:"type"`
}

type sessionUpdateEvent struct {
	Type    string          `json:"type"`
	Session wireSessionConf `json:"session"`
}

type wireTurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int64   `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int64   `json:"silence_duration_ms,omitempty"`
	CreateResponse    bool    `json:"create_response"`
	InterruptResponse bool    `json:"interrupt_response"`
}

type wireTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireTranscription struct {
	Model string `json:"model"`
}

type wireSessionConf struct {
	Modalities              []string           `json:"modalities"`
	Instructions            string             `json:"instructions,omitempty"`
	Voice                   string             `json:"voice,omitempty"`
	Temperature             float64            `json:"temperature,omitempty"`
	InputAudioFormat        string             `json:"input_audio_format"`
	OutputAudioFormat       string             `json:"output_audio_format"`
	InputAudioTranscription *wireTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           wireTurnDetection  `json:"turn_detection"`
	Tools                   []wireTool         `json:"tools"`
	ToolChoice              string             `json:"tool_choice"`
}

func newSessionUpdate(conf models.SessionConfig) sessionUpdateEvent {
	s := wireSessionConf{
		Modalities:        []string{"text", "audio"},
		Instructions:      conf.Instructions,
		Voice:             conf.Voice,
		Temperature:       conf.Temperature,
		InputAudioFormat:  conf.InputAudioFormat,
		OutputAudioFormat: conf.OutputAudioFormat,
		TurnDetection: wireTurnDetection{
			Type:              "server_vad",
			Threshold:         conf.TurnDetection.Threshold,
			PrefixPaddingMs:   conf.TurnDetection.PrefixPadding.Milliseconds(),
			SilenceDurationMs: conf.TurnDetection.SilenceDuration.Milliseconds(),
			CreateResponse:    true,
			InterruptResponse: conf.TurnDetection.Interrupt,
		},
		Tools:      make([]wireTool, 0, len(conf.Tools)),
		ToolChoice: "auto",
	}
	if conf.TranscriptionModel != "" {
		s.InputAudioTranscription = &wireTranscription{Model: conf.TranscriptionModel}
	}
	for _, t := range conf.Tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		s.Tools = append(s.Tools, wireTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return sessionUpdateEvent{Type: "session.update", Session: s}
}

type audioAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type responseCancelEvent struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
}

type itemTruncateEvent struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int64  `json:"audio_end_ms"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type createItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []contentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

type itemCreateEvent struct {
	Type string     `json:"type"`
	Item createItem `json:"item"`
}

func newMessageItem(role, text string) itemCreateEvent {
	partType := "input_text"
	if role == models.RoleAssistant {
		partType = "text"
	}
	return itemCreateEvent{
		Type: "conversation.item.create",
		Item: createItem{
			Type:    models.ItemMessage,
			Role:    role,
			Content: []contentPart{{Type: partType, Text: text}},
		},
	}
}

func newFunctionOutputItem(callID, output string) itemCreateEvent {
	return itemCreateEvent{
		Type: "conversation.item.create",
		Item: createItem{
			Type:   models.ItemFunctionCallOutput,
			CallID: callID,
			Output: output,
		},
	}
}
