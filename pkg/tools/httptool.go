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

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/utils/guid"

	"github.com/veloxvoip/voicebridge/pkg/config"
	"github.com/veloxvoip/voicebridge/pkg/models"
)

const (
	toolHostProtocolVersion = "v1"
	maxToolHostResponse     = 1 << 20
)

type hostToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type hostDiscoveryResponse struct {
	Tools []hostToolDefinition `json:"tools"`
}

type hostCallRequest struct {
	Version   string          `json:"version"`
	CallID    string          `json:"call_id"`
	ToolName  string          `json:"tool_name"`
	Args      json.RawMessage `json:"args"`
	TimeoutMS int64           `json:"timeout_ms,omitempty"`
	Context   hostCallContext `json:"context"`
}

type hostCallContext struct {
	SessionID string `json:"session_id,omitempty"`
	Platform  string `json:"platform"`
}

type hostCallError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type hostCallResponse struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *hostCallError  `json:"error,omitempty"`
}

// ToolHost is a remote service exposing business tools over HTTP:
// GET {base}/v1/tools for discovery and POST {base}/v1/tools/call to invoke.
type ToolHost struct {
	log        logger.Logger
	name       string
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

type ToolHostOption func(*ToolHost)

func WithHTTPClient(client *http.Client) ToolHostOption {
	return func(h *ToolHost) {
		if client != nil {
			h.httpClient = client
		}
	}
}

func NewToolHost(log logger.Logger, conf config.ToolHostConfig, opts ...ToolHostOption) *ToolHost {
	if log == nil {
		log = logger.GetLogger()
	}
	h := &ToolHost{
		log:     log.WithValues("toolHost", conf.Name),
		name:    strings.TrimSpace(conf.Name),
		baseURL: strings.TrimSuffix(strings.TrimSpace(conf.BaseURL), "/"),
		timeout: conf.Timeout,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	if h.timeout > 0 {
		h.httpClient.Timeout = h.timeout
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *ToolHost) Discover(ctx context.Context) ([]models.ToolSchema, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/v1/tools", nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discover tools on %s: %w", h.name, err)
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return nil, fmt.Errorf("discover tools on %s: %w", h.name, err)
	}

	var parsed hostDiscoveryResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxToolHostResponse)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode discovery response from %s: %w", h.name, err)
	}
	out := make([]models.ToolSchema, 0, len(parsed.Tools))
	for _, t := range parsed.Tools {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			continue
		}
		out = append(out, models.ToolSchema{
			Name:        name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}
	return out, nil
}

// Func binds one remote tool to a Registry entry.
func (h *ToolHost) Func(name string) Func {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		return h.Call(ctx, name, args)
	}
}

func (h *ToolHost) Call(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	callReq := hostCallRequest{
		Version:  toolHostProtocolVersion,
		CallID:   guid.New("TC_"),
		ToolName: name,
		Args:     args,
		Context:  hostCallContext{Platform: "voice"},
	}
	if deadline, ok := ctx.Deadline(); ok {
		callReq.TimeoutMS = time.Until(deadline).Milliseconds()
	}
	body, err := json.Marshal(callReq)
	if err != nil {
		return nil, fmt.Errorf("marshal tool call request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/v1/tools/call", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build tool call request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call tool host: %w", err)
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return nil, err
	}

	var parsed hostCallResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxToolHostResponse)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode tool call response: %w", err)
	}
	switch parsed.Status {
	case "ok":
		if len(parsed.Result) == 0 {
			return json.RawMessage(`{}`), nil
		}
		return parsed.Result, nil
	default:
		msg := parsed.Status
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return nil, fmt.Errorf("%s: %s", name, msg)
	}
}

func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxToolHostResponse))
	message := strings.TrimSpace(string(body))
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("tool host status %d: %s", resp.StatusCode, message)
}

// RegisterHosts discovers every configured host and registers its tools. A host
// that cannot be reached is logged and skipped; duplicate names keep the first host.
func RegisterHosts(ctx context.Context, reg *Registry, hosts []config.ToolHostConfig, opts ...ToolHostOption) int {
	registered := 0
	for _, conf := range hosts {
		if strings.TrimSpace(conf.BaseURL) == "" {
			continue
		}
		h := NewToolHost(reg.log, conf, opts...)
		schemas, err := h.Discover(ctx)
		if err != nil {
			reg.log.Warnw("tool discovery failed", err, "host", conf.Name, "url", conf.BaseURL)
			continue
		}
		for _, s := range schemas {
			if err := reg.Register(Tool{Schema: s, Call: h.Func(s.Name)}); err != nil {
				reg.log.Warnw("skipping tool", err, "host", conf.Name, "tool", s.Name)
				continue
			}
			registered++
		}
		reg.log.Infow("tool host registered", "host", conf.Name, "tools", len(schemas))
	}
	return registered
}
