package tools

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"zakai/internal/gateway"
	"zakai/pkg"
)

// MailBackend performs email operations on behalf of an authenticated
// caller.
type MailBackend interface {
	Send(ctx context.Context, token string, creds pkg.AuthDetails, to, subject, body string) (string, error)
	ReadUnread(ctx context.Context, token string, creds pkg.AuthDetails, max int) (string, error)
}

// EmailHandler gates email operations on the caller's authorization state
// and branches on the requested functionality.
type EmailHandler struct {
	auth    gateway.AuthProvider
	mail    MailBackend
	authURL string
	log     zerolog.Logger
}

// NewEmailHandler creates the email tool. authURL is where unauthenticated
// users are sent to authorize.
func NewEmailHandler(auth gateway.AuthProvider, mail MailBackend, authURL string, log zerolog.Logger) *EmailHandler {
	return &EmailHandler{auth: auth, mail: mail, authURL: authURL, log: log}
}

func (h *EmailHandler) Name() string { return "email_requests" }

func (h *EmailHandler) Description() string {
	return "Performs email operations: send, read. " +
		"The 'send' functionality sends an email using the recipient (to_email), subject, and body " +
		"extracted from the user's message; infer subject and body from context when not stated explicitly. " +
		"The 'read' functionality retrieves unread emails. This feature needs authentication first, " +
		"so the user is told to authenticate if not done yet. " +
		`Parameters: {"functionality": "send"|"read", "num_of_mails": <integer, default 10>, "to_email": "<recipient>", "subject": "<subject>", "body": "<body>"}`
}

// Execute resolves auth state first: an unauthenticated caller gets a fixed
// instructional reply and no backend call is attempted.
func (h *EmailHandler) Execute(ctx context.Context, args map[string]any, turn TurnContext) (string, error) {
	parsed, err := DecodeEmailArgs(args)
	if err != nil {
		return "", err
	}

	details, err := h.auth.AuthDetails(ctx, turn.Token)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to fetch email auth status")
		return "Error fetching user email auth status.", nil
	}

	if !details.IsAuthenticated {
		return fmt.Sprintf("You need to authenticate your email account first. Please visit %s to authorize.", h.authURL), nil
	}

	switch parsed.Functionality {
	case "read":
		result, err := h.mail.ReadUnread(ctx, turn.Token, details, parsed.NumOfMails)
		if err != nil {
			h.log.Warn().Err(err).Msg("email read failed")
			return "Error reading emails, please try again.", nil
		}
		return result, nil
	case "send":
		result, err := h.mail.Send(ctx, turn.Token, details, parsed.ToEmail, parsed.Subject, parsed.Body)
		if err != nil {
			h.log.Warn().Err(err).Msg("email send failed")
			return "Error sending email, please try again.", nil
		}
		return result, nil
	default:
		// DecodeEmailArgs already rejects anything else.
		return "", fmt.Errorf("unsupported email functionality: %s", parsed.Functionality)
	}
}
