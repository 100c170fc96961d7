package gateway

import (
	"context"

	"zakai/pkg"
)

// HistoryStore persists ordered conversation history for an identity token.
// A nil error from Save means the write is durable; the idle sweep relies on
// that to decide whether a session may be evicted.
type HistoryStore interface {
	Load(ctx context.Context, token string) ([]pkg.HistoryMessage, error)
	Save(ctx context.Context, token string, history []pkg.HistoryMessage) error
}

// AuthProvider reports a caller's email authorization state.
type AuthProvider interface {
	AuthDetails(ctx context.Context, token string) (pkg.AuthDetails, error)
}

// OAuthSaver stores refreshed OAuth credentials back to the user service.
type OAuthSaver interface {
	SaveOAuth(ctx context.Context, token string, details pkg.AuthDetails) error
}
