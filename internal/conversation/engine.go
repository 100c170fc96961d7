package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"zakai/internal/llm"
	"zakai/internal/tools"
	"zakai/pkg"
)

// genericErrorReply is returned for any failure the turn cannot recover
// from. It must never be replaced by a raised error: nothing in a turn is
// allowed to crash the process or reach the caller as a failure.
const genericErrorReply = "error, please try again"

const rephrasePrompt = "The following response was generated as a fallback from a tool call:\n\n%s\n\n" +
	"Your task: Either improve and rephrase this message to sound natural, conversational, and helpful, " +
	"OR if you are able to answer the user's query more accurately yourself, do so instead of just rephrasing. " +
	"Make sure the response is friendly and clear."

// Classifier decides whether the next turn is a tool call or a direct
// conversational reply.
type Classifier interface {
	Classify(ctx context.Context, conversation []*schema.Message) (pkg.RoutingDecision, error)
}

// Dispatcher executes classified tool calls.
type Dispatcher interface {
	Execute(ctx context.Context, call pkg.ToolCall, turn tools.TurnContext) (string, error)
	Prompt() string
}

// Config wires an Engine's collaborators.
type Config struct {
	MaxHistory int
	Model      llm.Generator
	Router     Classifier
	Tools      Dispatcher
	Log        zerolog.Logger
	Clock      func() time.Time
}

// Engine owns one user's ordered conversation and drives each turn:
// append user message, route, dispatch tool or respond directly, append the
// assistant reply. Index 0 of the conversation is the system instruction and
// is never evicted by trimming.
type Engine struct {
	mu         sync.Mutex
	messages   []*schema.Message
	maxHistory int
	model      llm.Generator
	router     Classifier
	tools      Dispatcher
	clock      func() time.Time
	log        zerolog.Logger
}

// NewEngine creates an engine with an empty conversation. Call SeedHistory
// before the first turn.
func NewEngine(cfg Config) *Engine {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		maxHistory: cfg.MaxHistory,
		model:      cfg.Model,
		router:     cfg.Router,
		tools:      cfg.Tools,
		clock:      clock,
		log:        cfg.Log,
	}
}

// SeedHistory installs the system instruction at index 0 and replays any
// persisted history through the trimming append.
func (e *Engine) SeedHistory(loc *pkg.Location, history []pkg.HistoryMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.messages = []*schema.Message{schema.SystemMessage(systemInstruction(loc, e.clock()))}
	for _, msg := range history {
		e.append(toSchema(msg))
	}
}

// GenerateResponse runs one full turn and always returns a reply: any
// unexpected failure yields the generic error string with the user's
// message left appended.
func (e *Engine) GenerateResponse(ctx context.Context, userMessage string, loc *pkg.Location, token string) (reply string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Any("panic", r).Msg("turn failed unexpectedly")
			reply = genericErrorReply
		}
	}()

	e.append(schema.UserMessage(userMessage))

	turn := tools.TurnContext{
		Utterance: userMessage,
		Timestamp: e.clock(),
		Location:  loc,
		Token:     token,
	}

	decision, err := e.router.Classify(ctx, e.messages)
	if err != nil {
		e.log.Warn().Err(err).Msg("routing failed, serving direct response")
		decision = pkg.RoutingDecision{RequestType: pkg.RequestTypeDirectResponse}
	}

	if decision.RequestType == pkg.RequestTypeToolCall {
		return e.toolCallTurn(ctx, turn)
	}
	return e.directTurn(ctx)
}

// AppendExchange records an externally produced user/assistant exchange,
// e.g. an image caption, applying the usual trimming.
func (e *Engine) AppendExchange(userText, reply string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.append(schema.UserMessage(userText))
	e.append(schema.AssistantMessage(reply, nil))
}

// Snapshot returns the conversation in wire form, system instruction
// excluded, for persistence.
func (e *Engine) Snapshot() []pkg.HistoryMessage {
	e.mu.Lock()
	defer e.mu.Unlock()

	history := make([]pkg.HistoryMessage, 0, len(e.messages))
	for i, msg := range e.messages {
		if i == 0 {
			continue
		}
		history = append(history, fromSchema(msg))
	}
	return history
}

// Len returns the current conversation length including the system message.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.messages)
}

// directTurn generates a reply over the full conversation.
func (e *Engine) directTurn(ctx context.Context) string {
	out, err := e.model.Generate(ctx, e.messages)
	if err != nil {
		e.log.Error().Err(err).Msg("direct generation failed")
		return genericErrorReply
	}
	e.append(schema.AssistantMessage(out.Content, nil))
	return out.Content
}

// toolCallTurn asks the model to pick a tool. When the expected tool call is
// absent from the output, the raw text feeds exactly one rephrase attempt.
func (e *Engine) toolCallTurn(ctx context.Context, turn tools.TurnContext) string {
	messages := make([]*schema.Message, 0, len(e.messages))
	messages = append(messages, schema.SystemMessage(toolSelectPrompt(e.tools.Prompt())))
	messages = append(messages, e.messages[1:]...)

	out, err := e.model.Generate(ctx, messages)
	if err != nil {
		e.log.Warn().Err(err).Msg("tool selection call failed")
		return e.directTurn(ctx)
	}

	call, err := tools.ParseToolCall(out.Content)
	if err != nil {
		if !errors.Is(err, tools.ErrNoToolCall) {
			e.log.Warn().Err(err).Msg("tool call parsing failed")
		}
		return e.fallbackTurn(ctx, out.Content)
	}

	result, err := e.tools.Execute(ctx, call, turn)
	if err != nil {
		// Unknown tool name: the router and dispatcher disagree. Treat as a
		// defect and recover through the fallback path.
		e.log.Error().Err(err).Str("tool", call.Name).Msg("tool dispatch inconsistency")
		return e.fallbackTurn(ctx, out.Content)
	}

	e.append(schema.AssistantMessage(result, nil))
	return result
}

// fallbackTurn wraps the model's raw output in a rephrase instruction and
// re-invokes direct generation. On failure it degrades to a plain direct
// response over current history.
func (e *Engine) fallbackTurn(ctx context.Context, rawText string) string {
	e.log.Debug().Msg("expected tool call absent, rephrasing raw output")

	e.append(schema.UserMessage(fmt.Sprintf(rephrasePrompt, rawText)))
	out, err := e.model.Generate(ctx, e.messages)
	if err != nil {
		e.log.Warn().Err(err).Msg("fallback rephrase failed")
		return e.directTurn(ctx)
	}

	e.append(schema.AssistantMessage(out.Content, nil))
	return out.Content
}

// append adds a message and trims the oldest non-system entry when the
// conversation exceeds the configured maximum.
func (e *Engine) append(msg *schema.Message) {
	e.messages = append(e.messages, msg)
	if e.maxHistory > 0 && len(e.messages) > e.maxHistory {
		e.messages = append(e.messages[:1], e.messages[2:]...)
	}
}

func toolSelectPrompt(toolList string) string {
	return "You are a personal assistant with access to external tools.\n\n" +
		"Available tools:\n" + toolList + "\n" +
		"If the user's request should be handled by one of these tools, respond with ONLY a JSON object:\n" +
		`{"tool": "tool_name", "params": {"param": "value"}}` + "\n\n" +
		"Extract all parameter values from the user's messages; do not ask the user to re-enter them.\n" +
		"If no tool fits, answer the user directly in natural language."
}

// systemInstruction builds the persona message seeded at index 0.
func systemInstruction(loc *pkg.Location, now time.Time) string {
	location := "unknown"
	if loc != nil {
		location = fmt.Sprintf("latitude %.4f, longitude %.4f", loc.Latitude, loc.Longitude)
	}
	return fmt.Sprintf(
		"Your name is ZakAi and you are a daily personal assistant. "+
			"The user's location is: %s, current time is: %s. "+
			"Use this location, date, and time to improve the accuracy, relevance, and personalization of your responses. "+
			"If the user's request benefits from local context (e.g. suggestions, history, culture, language, events), "+
			"adapt the answer accordingly. Only skip using location if it is clearly unrelated to the query. "+
			"Note: Do not include or mention the user's location in your response unless the user explicitly asks for it.",
		location, now.Format("2006-01-02 15:04:05"))
}

func toSchema(msg pkg.HistoryMessage) *schema.Message {
	if msg.Role == pkg.RoleModel {
		return schema.AssistantMessage(msg.Content, nil)
	}
	return schema.UserMessage(msg.Content)
}

func fromSchema(msg *schema.Message) pkg.HistoryMessage {
	role := pkg.RoleUser
	if msg.Role == schema.Assistant {
		role = pkg.RoleModel
	}
	return pkg.HistoryMessage{Role: role, Content: msg.Content}
}
