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
	"github.com/veloxvoip/voicebridge/pkg/calllog"
	"github.com/veloxvoip/voicebridge/pkg/models"
)

// dispatchTool runs the requested tool off the session goroutine. The result comes
// back through toolDone and is handled in order with every other event.
func (s *Session) dispatchTool(ev models.ServerEvent) {
	name, callID := ev.Name, ev.CallID
	if it, ok := s.items.Get(ev.ItemID); ok {
		if name == "" {
			name = it.Name
		}
		if callID == "" {
			callID = it.CallID
		}
	}
	arguments := ev.Arguments
	s.pendingTools++
	s.log.Infow("invoking tool", "tool", name, "toolCallID", callID)

	ctx := s.ctx
	go func() {
		res := s.tools.Invoke(ctx, name, arguments)
		c := toolCompletion{callID: callID, arguments: arguments, result: res, at: s.now()}
		select {
		case s.toolDone <- c:
		case <-s.done.Watch():
		}
	}()
}

// onToolDone logs the invocation, returns its output to the counterparty and asks for
// the next response, deferring it if one is already being generated.
func (s *Session) onToolDone(c toolCompletion) error {
	s.pendingTools--
	res := c.result
	s.toolsUsed = append(s.toolsUsed, calllog.ToolUse{
		Name:      res.Name,
		CallID:    c.callID,
		Arguments: c.arguments,
		Status:    string(res.Status),
		Error:     res.Error,
		Duration:  res.Duration,
		At:        c.at,
	})
	s.stats.ToolCalls.Add(1)
	s.mon.ToolCall(res.Name, string(res.Status), res.Duration)
	if !res.OK() {
		s.log.Infow("tool returned an error", "tool", res.Name, "status", res.Status, "error", res.Error)
	}

	if err := s.ai.CreateFunctionOutput(c.callID, res.Payload()); err != nil {
		return newLegError(LegRealtime, "function_output", err)
	}
	if s.responseInProgress {
		s.pendingResponse = true
		return nil
	}
	if err := s.ai.CreateResponse(); err != nil {
		return newLegError(LegRealtime, "response_create", err)
	}
	return nil
}
