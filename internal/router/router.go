package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"zakai/internal/llm"
	"zakai/pkg"
)

// Classification rubric. Ambiguous requests lean toward tool_call: anything
// that plausibly needs external data, multi-step reasoning, or knowledge of
// the assistant's own capabilities is a tool call.
const classifyInstruction = `You are a request router for a personal assistant.
Classify the user's latest request into one of two MODES:

1. "tool_call" - the assistant needs external tools, structured data, context
gathering, or multi-step reasoning. This also includes any request that
requires knowledge of the assistant's own tools, abilities, or features, for
example "What can you do?", "Show me your capabilities", or requests that may
involve sending emails or fetching weather. ANY request that requires
reasoning about tools, functions, or external resources falls under this
mode, including ambiguous cases.

2. "direct_response" - pure conversational mode. The assistant should respond
directly without tools: greetings, opinions, jokes, cultural explanations,
emotional support, or simple factual questions.

Respond with ONLY a JSON object, no other text:
{"request_type": "tool_call" or "direct_response", "confidence_score": <float between 0 and 1>, "description": "<cleaned description of the request>"}`

// Router classifies the next turn using the chat model.
type Router struct {
	model       llm.Generator
	maxMessages int
	log         zerolog.Logger
}

// New creates a router over the given chat model. maxMessages bounds how
// much conversation context the classifier sees.
func New(model llm.Generator, maxMessages int, log zerolog.Logger) *Router {
	return &Router{
		model:       model,
		maxMessages: maxMessages,
		log:         log,
	}
}

// Classify routes the conversation's latest turn. On any model or parse
// failure it returns an error; the caller is expected to fail soft into a
// direct response.
func (r *Router) Classify(ctx context.Context, conversation []*schema.Message) (pkg.RoutingDecision, error) {
	messages := []*schema.Message{
		schema.SystemMessage(classifyInstruction),
		schema.UserMessage(buildContext(conversation, r.maxMessages)),
	}

	out, err := r.model.Generate(ctx, messages)
	if err != nil {
		return pkg.RoutingDecision{}, fmt.Errorf("routing call failed: %w", err)
	}

	decision, err := parseDecision(out.Content)
	if err != nil {
		return pkg.RoutingDecision{}, err
	}

	r.log.Debug().
		Str("request_type", string(decision.RequestType)).
		Float64("confidence", decision.ConfidenceScore).
		Msg("routing decision")

	return decision, nil
}

// parseDecision extracts a RoutingDecision from raw model output. The model
// sometimes wraps JSON in fences or prose, so only the outermost object is
// considered.
func parseDecision(content string) (pkg.RoutingDecision, error) {
	raw := extractJSON(content)
	if raw == "" {
		return pkg.RoutingDecision{}, fmt.Errorf("no JSON object in routing output: %q", content)
	}

	var decision pkg.RoutingDecision
	if err := sonic.Unmarshal([]byte(raw), &decision); err != nil {
		return pkg.RoutingDecision{}, fmt.Errorf("malformed routing output: %w", err)
	}
	if !decision.RequestType.Valid() {
		return pkg.RoutingDecision{}, fmt.Errorf("unknown request type: %q", decision.RequestType)
	}
	return decision, nil
}

// buildContext renders the most recent conversation turns the way the NLU
// context is built: one line per message, system instruction excluded.
func buildContext(messages []*schema.Message, maxMessages int) string {
	recent := messages
	if len(recent) > 0 && recent[0].Role == schema.System {
		recent = recent[1:]
	}
	if len(recent) > maxMessages {
		recent = recent[len(recent)-maxMessages:]
	}

	var b strings.Builder
	b.WriteString("<conversation_context>\n")
	for _, msg := range recent {
		switch msg.Role {
		case schema.User:
			b.WriteString("UserMessage(" + msg.Content + ")\n")
		case schema.Assistant:
			b.WriteString("AssistantMessage(" + msg.Content + ")\n")
		}
	}
	b.WriteString("</conversation_context>")
	return b.String()
}

// extractJSON returns the outermost {...} span of s, or "" when absent.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
