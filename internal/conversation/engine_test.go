package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zakai/internal/tools"
	"zakai/pkg"
)

type scriptedModel struct {
	replies []string
	errs    []error
	calls   int
	panics  bool
}

func (m *scriptedModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if m.panics {
		panic("scripted panic")
	}
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	reply := "default reply"
	if i < len(m.replies) {
		reply = m.replies[i]
	}
	return schema.AssistantMessage(reply, nil), nil
}

type stubRouter struct {
	decision pkg.RoutingDecision
	err      error
}

func (r *stubRouter) Classify(ctx context.Context, conversation []*schema.Message) (pkg.RoutingDecision, error) {
	return r.decision, r.err
}

type stubDispatcher struct {
	result   string
	err      error
	lastCall pkg.ToolCall
	executed int
}

func (d *stubDispatcher) Execute(ctx context.Context, call pkg.ToolCall, turn tools.TurnContext) (string, error) {
	d.executed++
	d.lastCall = call
	return d.result, d.err
}

func (d *stubDispatcher) Prompt() string { return "- weather_request: weather lookups\n" }

func newTestEngine(m *scriptedModel, r *stubRouter, d *stubDispatcher, maxHistory int) *Engine {
	e := NewEngine(Config{
		MaxHistory: maxHistory,
		Model:      m,
		Router:     r,
		Tools:      d,
		Log:        zerolog.Nop(),
		Clock:      func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	})
	e.SeedHistory(&pkg.Location{Latitude: 30.0444, Longitude: 31.2357}, nil)
	return e
}

func TestSeedHistoryInstallsSystemMessage(t *testing.T) {
	e := newTestEngine(&scriptedModel{}, &stubRouter{}, &stubDispatcher{}, 50)

	require.Equal(t, 1, e.Len())
	assert.Equal(t, schema.System, e.messages[0].Role)
	assert.Contains(t, e.messages[0].Content, "ZakAi")
	assert.Contains(t, e.messages[0].Content, "30.0444")
}

func TestSeedHistoryReplaysPersistedTurns(t *testing.T) {
	e := newTestEngine(&scriptedModel{}, &stubRouter{}, &stubDispatcher{}, 50)
	e.SeedHistory(nil, []pkg.HistoryMessage{
		{Role: pkg.RoleUser, Content: "hello"},
		{Role: pkg.RoleModel, Content: "hi there"},
	})

	require.Equal(t, 3, e.Len())
	assert.Equal(t, schema.User, e.messages[1].Role)
	assert.Equal(t, schema.Assistant, e.messages[2].Role)
	assert.Equal(t, "hi there", e.messages[2].Content)
}

func TestTrimmingKeepsSystemMessage(t *testing.T) {
	e := newTestEngine(&scriptedModel{}, &stubRouter{}, &stubDispatcher{}, 5)

	for i := 0; i < 10; i++ {
		e.AppendExchange("question", "answer")
	}

	assert.Equal(t, 5, e.Len())
	assert.Equal(t, schema.System, e.messages[0].Role)
	// The newest exchange survives trimming.
	assert.Equal(t, "answer", e.messages[len(e.messages)-1].Content)
}

func TestDirectResponseTurn(t *testing.T) {
	m := &scriptedModel{replies: []string{"sure, here you go"}}
	r := &stubRouter{decision: pkg.RoutingDecision{RequestType: pkg.RequestTypeDirectResponse}}
	e := newTestEngine(m, r, &stubDispatcher{}, 50)

	reply := e.GenerateResponse(context.Background(), "tell me a joke", nil, "token")

	assert.Equal(t, "sure, here you go", reply)
	require.Equal(t, 3, e.Len())
	assert.Equal(t, "tell me a joke", e.messages[1].Content)
	assert.Equal(t, "sure, here you go", e.messages[2].Content)
}

func TestRoutingFailureFallsBackToDirect(t *testing.T) {
	m := &scriptedModel{replies: []string{"plain answer"}}
	r := &stubRouter{err: errors.New("routing model unavailable")}
	d := &stubDispatcher{}
	e := newTestEngine(m, r, d, 50)

	reply := e.GenerateResponse(context.Background(), "what's up", nil, "token")

	assert.Equal(t, "plain answer", reply)
	assert.Zero(t, d.executed)
}

func TestToolCallTurnDispatchesTool(t *testing.T) {
	m := &scriptedModel{replies: []string{`{"tool": "weather_request", "params": {}}`}}
	r := &stubRouter{decision: pkg.RoutingDecision{RequestType: pkg.RequestTypeToolCall}}
	d := &stubDispatcher{result: "It is 25C and sunny in Cairo."}
	e := newTestEngine(m, r, d, 50)

	reply := e.GenerateResponse(context.Background(), "weather in cairo?", nil, "token")

	assert.Equal(t, "It is 25C and sunny in Cairo.", reply)
	assert.Equal(t, 1, d.executed)
	assert.Equal(t, "weather_request", d.lastCall.Name)
	assert.Equal(t, "It is 25C and sunny in Cairo.", e.messages[len(e.messages)-1].Content)
}

func TestMissingToolCallTriggersSingleRephrase(t *testing.T) {
	m := &scriptedModel{replies: []string{
		"I think the weather is nice today.",
		"The weather looks lovely today!",
	}}
	r := &stubRouter{decision: pkg.RoutingDecision{RequestType: pkg.RequestTypeToolCall}}
	d := &stubDispatcher{}
	e := newTestEngine(m, r, d, 50)

	reply := e.GenerateResponse(context.Background(), "weather?", nil, "token")

	assert.Equal(t, "The weather looks lovely today!", reply)
	assert.Equal(t, 2, m.calls)
	assert.Zero(t, d.executed)
	// The rephrase instruction stays in history as a user turn.
	assert.Contains(t, e.messages[2].Content, "fallback from a tool call")
}

func TestRephraseFailureDegradesToDirect(t *testing.T) {
	m := &scriptedModel{
		replies: []string{"no json here", "", "recovered answer"},
		errs:    []error{nil, errors.New("model overloaded"), nil},
	}
	r := &stubRouter{decision: pkg.RoutingDecision{RequestType: pkg.RequestTypeToolCall}}
	e := newTestEngine(m, r, &stubDispatcher{}, 50)

	reply := e.GenerateResponse(context.Background(), "weather?", nil, "token")

	assert.Equal(t, "recovered answer", reply)
	assert.Equal(t, 3, m.calls)
}

func TestUnknownToolRecoversThroughFallback(t *testing.T) {
	m := &scriptedModel{replies: []string{
		`{"tool": "calendar", "params": {}}`,
		"I can't manage calendars yet, sorry!",
	}}
	r := &stubRouter{decision: pkg.RoutingDecision{RequestType: pkg.RequestTypeToolCall}}
	d := &stubDispatcher{err: tools.ErrUnknownTool}
	e := newTestEngine(m, r, d, 50)

	reply := e.GenerateResponse(context.Background(), "add a meeting", nil, "token")

	assert.Equal(t, "I can't manage calendars yet, sorry!", reply)
	assert.Equal(t, 1, d.executed)
}

func TestPanicYieldsGenericError(t *testing.T) {
	m := &scriptedModel{panics: true}
	r := &stubRouter{decision: pkg.RoutingDecision{RequestType: pkg.RequestTypeDirectResponse}}
	e := newTestEngine(m, r, &stubDispatcher{}, 50)

	reply := e.GenerateResponse(context.Background(), "hello", nil, "token")

	assert.Equal(t, "error, please try again", reply)
	// The user's message is still recorded.
	assert.Equal(t, "hello", e.messages[1].Content)
}

func TestDirectGenerationFailureYieldsGenericError(t *testing.T) {
	m := &scriptedModel{errs: []error{errors.New("connection refused")}}
	r := &stubRouter{decision: pkg.RoutingDecision{RequestType: pkg.RequestTypeDirectResponse}}
	e := newTestEngine(m, r, &stubDispatcher{}, 50)

	reply := e.GenerateResponse(context.Background(), "hello", nil, "token")

	assert.Equal(t, "error, please try again", reply)
}

type grantedAuth struct{}

func (grantedAuth) AuthDetails(ctx context.Context, token string) (pkg.AuthDetails, error) {
	return pkg.AuthDetails{IsAuthenticated: true, Email: "user@example.com"}, nil
}

type recordingMail struct {
	to, subject, body string
}

func (m *recordingMail) Send(ctx context.Context, token string, creds pkg.AuthDetails, to, subject, body string) (string, error) {
	m.to, m.subject, m.body = to, subject, body
	return "Email sent to " + to + ".", nil
}

func (m *recordingMail) ReadUnread(ctx context.Context, token string, creds pkg.AuthDetails, max int) (string, error) {
	return "", nil
}

func TestSendEmailTurnEndToEnd(t *testing.T) {
	mail := &recordingMail{}
	registry, err := tools.NewRegistry(zerolog.Nop(),
		tools.NewEmailHandler(grantedAuth{}, mail, "http://127.0.0.1:8000/auth", zerolog.Nop()))
	require.NoError(t, err)

	m := &scriptedModel{replies: []string{
		`{"tool": "email_requests", "params": {"functionality": "send", "to_email": "friend@example.com", "subject": "Congrats", "body": "Well done on graduating!"}}`,
	}}
	r := &stubRouter{decision: pkg.RoutingDecision{RequestType: pkg.RequestTypeToolCall}}
	e := NewEngine(Config{
		MaxHistory: 50,
		Model:      m,
		Router:     r,
		Tools:      registry,
		Log:        zerolog.Nop(),
	})
	e.SeedHistory(nil, nil)

	reply := e.GenerateResponse(context.Background(), "send a congratulations mail to friend@example.com for graduating", nil, "Bearer tok")

	assert.Equal(t, "Email sent to friend@example.com.", reply)
	assert.Equal(t, "friend@example.com", mail.to)
	assert.Equal(t, "Congrats", mail.subject)
	// Both the user turn and the tool result landed in history.
	require.Equal(t, 3, e.Len())
	assert.Equal(t, schema.Assistant, e.messages[2].Role)
	assert.Equal(t, reply, e.messages[2].Content)
}

func TestSnapshotExcludesSystemMessage(t *testing.T) {
	e := newTestEngine(&scriptedModel{}, &stubRouter{}, &stubDispatcher{}, 50)
	e.AppendExchange("describe this photo", "A cat sleeping on a keyboard.")

	snapshot := e.Snapshot()

	require.Len(t, snapshot, 2)
	assert.Equal(t, pkg.RoleUser, snapshot[0].Role)
	assert.Equal(t, pkg.RoleModel, snapshot[1].Role)
	assert.Equal(t, "A cat sleeping on a keyboard.", snapshot[1].Content)
}
