package email

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"zakai/internal/config"
	"zakai/internal/gateway"
	"zakai/internal/logger"
	"zakai/pkg"
)

// Client talks to the Gmail REST API with per-user OAuth credentials. An
// expired access token is refreshed before the call and the refreshed
// credentials are written back through the OAuth saver.
type Client struct {
	http         *http.Client
	clientID     string
	clientSecret string
	tokenURI     string
	apiBaseURL   string
	oauth        gateway.OAuthSaver
	clock        func() time.Time
	log          zerolog.Logger
}

// NewClient creates a Gmail client from configuration.
func NewClient(cfg config.EmailConfig, oauth gateway.OAuthSaver) *Client {
	return &Client{
		http:         &http.Client{Timeout: 15 * time.Second},
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		tokenURI:     cfg.TokenURI,
		apiBaseURL:   strings.TrimRight(cfg.APIBaseURL, "/"),
		oauth:        oauth,
		clock:        time.Now,
		log:          logger.With("email"),
	}
}

// Send builds an RFC 2822 message, base64url-encodes it, and posts it to the
// Gmail send endpoint as the authenticated user.
func (c *Client) Send(ctx context.Context, token string, creds pkg.AuthDetails, to, subject, body string) (string, error) {
	creds, err := c.ensureToken(ctx, token, creds)
	if err != nil {
		return "", fmt.Errorf("refreshing access token: %w", err)
	}

	mime := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		creds.Email, to, subject, body)
	payload := map[string]string{
		"raw": base64.URLEncoding.EncodeToString([]byte(mime)),
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, http.MethodPost, c.apiBaseURL+"/users/me/messages/send", creds.AccessToken, payload, &resp); err != nil {
		return "", fmt.Errorf("sending email: %w", err)
	}

	c.log.Info().Str("message_id", resp.ID).Msg("email sent")
	return fmt.Sprintf("Email sent to %s.", to), nil
}

// ReadUnread lists the newest unread messages and renders them as one
// readable block.
func (c *Client) ReadUnread(ctx context.Context, token string, creds pkg.AuthDetails, max int) (string, error) {
	creds, err := c.ensureToken(ctx, token, creds)
	if err != nil {
		return "", fmt.Errorf("refreshing access token: %w", err)
	}

	query := url.Values{
		"q":          {"is:unread"},
		"maxResults": {strconv.Itoa(max)},
	}
	var list struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := c.call(ctx, http.MethodGet, c.apiBaseURL+"/users/me/messages?"+query.Encode(), creds.AccessToken, nil, &list); err != nil {
		return "", fmt.Errorf("listing unread emails: %w", err)
	}
	if len(list.Messages) == 0 {
		return "No unread emails.", nil
	}

	var rendered []string
	for _, item := range list.Messages {
		var msg message
		if err := c.call(ctx, http.MethodGet, c.apiBaseURL+"/users/me/messages/"+item.ID, creds.AccessToken, nil, &msg); err != nil {
			return "", fmt.Errorf("fetching email %s: %w", item.ID, err)
		}
		rendered = append(rendered, msg.render())
	}
	return strings.Join(rendered, "\n"), nil
}

// ensureToken refreshes the access token when expired and persists the new
// credentials so the next turn does not refresh again.
func (c *Client) ensureToken(ctx context.Context, token string, creds pkg.AuthDetails) (pkg.AuthDetails, error) {
	if c.clock().Before(creds.AccessTokenExpiry) {
		return creds, nil
	}
	c.log.Debug().Msg("access token expired, refreshing")

	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"refresh_token": {creds.RefreshToken},
		"grant_type":    {"refresh_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return pkg.AuthDetails{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return pkg.AuthDetails{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return pkg.AuthDetails{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return pkg.AuthDetails{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, body)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := sonic.Unmarshal(body, &tokenResp); err != nil {
		return pkg.AuthDetails{}, fmt.Errorf("decoding token response: %w", err)
	}
	if tokenResp.ExpiresIn == 0 {
		tokenResp.ExpiresIn = 3600
	}

	creds.AccessToken = tokenResp.AccessToken
	creds.AccessTokenExpiry = c.clock().Add(time.Duration(tokenResp.ExpiresIn) * time.Second).UTC()
	creds.IsAuthenticated = true

	if err := c.oauth.SaveOAuth(ctx, token, creds); err != nil {
		c.log.Warn().Err(err).Msg("failed to persist refreshed credentials")
	}
	return creds, nil
}

// call performs an authenticated Gmail API request and decodes the response
// into out.
func (c *Client) call(ctx context.Context, method, rawURL, accessToken string, payload, out any) error {
	var reqBody io.Reader
	if payload != nil {
		data, err := sonic.Marshal(payload)
		if err != nil {
			return err
		}
		reqBody = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gmail api returned %d: %s", resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	return sonic.Unmarshal(body, out)
}

// message is the subset of the Gmail message resource the tool needs.
type message struct {
	Snippet string  `json:"snippet"`
	Payload payload `json:"payload"`
}

type payload struct {
	MimeType string `json:"mimeType"`
	Headers  []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"headers"`
	Body struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []payload `json:"parts"`
}

func (m message) render() string {
	body := m.Payload.extractBody()
	if strings.TrimSpace(body) == "" {
		body = m.Snippet
	}
	if strings.TrimSpace(body) == "" {
		body = "(No body)"
	}
	return fmt.Sprintf("From: %s\nSubject: %s\nDate: %s\n\n%s\n==============================",
		m.Payload.header("From"), m.Payload.header("Subject"), m.Payload.header("Date"), strings.TrimSpace(body))
}

func (p payload) header(name string) string {
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// extractBody walks the MIME tree and returns the first text/plain part.
func (p payload) extractBody() string {
	for _, part := range p.Parts {
		if body := part.extractBody(); body != "" {
			return body
		}
	}
	if p.MimeType != "text/plain" || p.Body.Data == "" {
		return ""
	}
	decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(strings.TrimRight(p.Body.Data, "="))
	if err != nil {
		return ""
	}
	return string(decoded)
}
