package pkg

import (
	"time"
)

// Core request/response types shared across the assistant backend.

// RequestType classifies how a turn should be handled.
type RequestType string

const (
	// RequestTypeToolCall means the request needs external tools, structured
	// data, or knowledge of the assistant's own capabilities.
	RequestTypeToolCall RequestType = "tool_call"
	// RequestTypeDirectResponse means pure conversation: greetings, opinions,
	// jokes, or self-contained factual answers.
	RequestTypeDirectResponse RequestType = "direct_response"
)

// Valid reports whether the request type is one of the two known modes.
func (t RequestType) Valid() bool {
	return t == RequestTypeToolCall || t == RequestTypeDirectResponse
}

// RoutingDecision is the router's classification of the next turn. It is
// produced and consumed within a single request and never persisted.
type RoutingDecision struct {
	RequestType     RequestType `json:"request_type"`
	ConfidenceScore float64     `json:"confidence_score"`
	Description     string      `json:"description"`
}

// ToolCall is a structured instruction to invoke an external capability,
// extracted from the model's output by the conversation engine.
type ToolCall struct {
	Name      string         `json:"tool"`
	Arguments map[string]any `json:"params"`
}

// HistoryMessage is one persisted conversation turn. The wire format keeps
// the upstream role names: "user" and "model".
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History roles as stored by the user service.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// AuthDetails describes a caller's email authorization state as reported by
// the auth gateway.
type AuthDetails struct {
	IsAuthenticated   bool      `json:"is_authenticated"`
	Email             string    `json:"email"`
	AccessToken       string    `json:"access_token"`
	RefreshToken      string    `json:"refresh_token"`
	AccessTokenExpiry time.Time `json:"access_token_expiry"`
}

// Location is the caller's reported position, used to personalize the system
// instruction and as a weather fallback.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// UserError is a failure whose message is addressed to the end user, such as
// an unresolvable city name. Tool handlers surface it verbatim instead of a
// generic failure reply.
type UserError struct {
	Msg string
}

func (e *UserError) Error() string { return e.Msg }
