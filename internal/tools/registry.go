package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"zakai/pkg"
)

// ErrUnknownTool signals a routing inconsistency: the model named a tool
// that was never registered. This is a defect, not a user-facing error.
var ErrUnknownTool = errors.New("unknown tool")

// ErrNoToolCall is returned when a tool call was expected but the model's
// output does not contain one. It feeds the fallback rephrase path.
var ErrNoToolCall = errors.New("tool call predicted but not present in model response")

// TurnContext carries per-turn request data that tools need beyond the
// model-extracted arguments.
type TurnContext struct {
	Utterance string
	Timestamp time.Time
	Location  *pkg.Location
	Token     string
}

// Handler is one registered tool. Execute returns a textual result; an error
// return is converted to a user-facing failure string at the registry
// boundary and never propagates further.
type Handler interface {
	Name() string
	Description() string
	Execute(ctx context.Context, args map[string]any, turn TurnContext) (string, error)
}

// Registry maps tool names to handlers. It is built once at startup so an
// unregistered name can only mean a router/dispatcher mismatch.
type Registry struct {
	handlers map[string]Handler
	order    []string
	log      zerolog.Logger
}

// NewRegistry builds a registry from the given handlers, rejecting empty and
// duplicate names.
func NewRegistry(log zerolog.Logger, handlers ...Handler) (*Registry, error) {
	r := &Registry{
		handlers: make(map[string]Handler, len(handlers)),
		log:      log,
	}
	for _, h := range handlers {
		name := h.Name()
		if name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if _, exists := r.handlers[name]; exists {
			return nil, fmt.Errorf("duplicate tool registration: %s", name)
		}
		r.handlers[name] = h
		r.order = append(r.order, name)
	}
	return r, nil
}

// Execute dispatches a tool call. Handler failures come back as
// human-readable text with a nil error; only an unknown tool name returns an
// error.
func (r *Registry) Execute(ctx context.Context, call pkg.ToolCall, turn TurnContext) (string, error) {
	h, ok := r.handlers[call.Name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}

	result, err := h.Execute(ctx, call.Arguments, turn)
	if err != nil {
		r.log.Warn().Err(err).Str("tool", call.Name).Msg("tool execution failed")
		return fmt.Sprintf("Sorry, I couldn't complete that request: %v.", err), nil
	}
	return result, nil
}

// Prompt renders the registered tools for the tool-selection system prompt.
func (r *Registry) Prompt() string {
	var b strings.Builder
	for _, name := range r.order {
		b.WriteString("- " + name + ": " + r.handlers[name].Description() + "\n")
	}
	return b.String()
}

// ParseToolCall extracts a structured tool invocation from raw model output.
// Absence of one is a distinguishable condition (ErrNoToolCall), not a
// generic failure.
func ParseToolCall(content string) (pkg.ToolCall, error) {
	raw := extractJSON(content)
	if raw == "" {
		return pkg.ToolCall{}, ErrNoToolCall
	}

	var call pkg.ToolCall
	if err := sonic.Unmarshal([]byte(raw), &call); err != nil || call.Name == "" {
		return pkg.ToolCall{}, ErrNoToolCall
	}
	if call.Arguments == nil {
		call.Arguments = map[string]any{}
	}
	return call, nil
}

func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
