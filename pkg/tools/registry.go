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
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/livekit/protocol/logger"

	"github.com/veloxvoip/voicebridge/pkg/models"
)

// Func is a business tool. args is the JSON object produced by the model.
type Func func(ctx context.Context, args json.RawMessage) (any, error)

type Tool struct {
	Schema models.ToolSchema
	Call   Func
}

type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
	StatusUnknown Status = "unknown"
)

// Result is the outcome of one invocation. It never carries a Go error so the
// conversation can always continue.
type Result struct {
	Name     string
	Status   Status
	Output   any
	Error    string
	Duration time.Duration
}

func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Payload is the function-call output sent back to the model.
func (r Result) Payload() string {
	if r.Status == StatusOK {
		if r.Output == nil {
			return `{"ok":true}`
		}
		if s, ok := r.Output.(string); ok {
			return s
		}
		data, err := json.Marshal(r.Output)
		if err == nil {
			return string(data)
		}
		r.Error = fmt.Sprintf("tool %s returned an unserializable result: %v", r.Name, err)
	}
	data, _ := json.Marshal(map[string]string{"error": r.Error})
	return string(data)
}

// Registry maps tool names to implementations. It is populated at startup and
// safe for concurrent use by many sessions.
type Registry struct {
	log     logger.Logger
	timeout time.Duration

	mu     sync.RWMutex
	byName map[string]Tool
}

func NewRegistry(log logger.Logger, timeout time.Duration) *Registry {
	if log == nil {
		log = logger.GetLogger().WithComponent("tools")
	}
	return &Registry{
		log:     log,
		timeout: timeout,
		byName:  make(map[string]Tool),
	}
}

func (r *Registry) Register(t Tool) error {
	name := strings.TrimSpace(t.Schema.Name)
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if t.Call == nil {
		return fmt.Errorf("tool %s has no implementation", name)
	}
	t.Schema.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.byName[name] = t
	return nil
}

// RegisterFunc is a shorthand for tools without a parameter schema.
func (r *Registry) RegisterFunc(name, description string, fn Func) error {
	return r.Register(Tool{
		Schema: models.ToolSchema{Name: name, Description: description},
		Call:   fn,
	})
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Schemas returns the schemas of the named tools, or of every tool when names is empty.
// Unknown names are skipped.
func (r *Registry) Schemas(names ...string) []models.ToolSchema {
	if len(names) == 0 {
		names = r.Names()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolSchema, 0, len(names))
	for _, name := range names {
		if t, ok := r.byName[name]; ok {
			out = append(out, t.Schema)
		}
	}
	return out
}

// Invoke runs the named tool with a bounded timeout. Unknown tools, invalid
// arguments, errors, panics and timeouts all produce an error Result.
func (r *Registry) Invoke(ctx context.Context, name, arguments string) Result {
	start := time.Now()
	res := Result{Name: name}

	t, ok := r.Lookup(name)
	if !ok {
		res.Status = StatusUnknown
		res.Error = "unknown tool: " + name
		return res
	}

	args := json.RawMessage(strings.TrimSpace(arguments))
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if !json.Valid(args) {
		res.Status = StatusError
		res.Error = fmt.Sprintf("invalid arguments for %s: not valid JSON", name)
		return res
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	type outcome struct {
		out any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", p)}
			}
		}()
		out, err := t.Call(ctx, args)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		res.Duration = time.Since(start)
		if o.err != nil {
			res.Status = StatusError
			res.Error = o.err.Error()
			r.log.Warnw("tool failed", o.err, "tool", name, "duration", res.Duration)
			return res
		}
		res.Status = StatusOK
		res.Output = o.out
		r.log.Debugw("tool completed", "tool", name, "duration", res.Duration)
		return res
	case <-ctx.Done():
		res.Duration = time.Since(start)
		if ctx.Err() == context.Canceled {
			res.Status = StatusError
			res.Error = fmt.Sprintf("tool %s cancelled", name)
			return res
		}
		res.Status = StatusTimeout
		res.Error = fmt.Sprintf("tool %s timed out after %s", name, res.Duration.Round(time.Millisecond))
		r.log.Warnw("tool timed out", ctx.Err(), "tool", name)
		return res
	}
}
