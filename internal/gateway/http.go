package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"zakai/pkg"
)

// HTTPClient talks to the user service that owns persistent chat history,
// auth state and OAuth credentials. All calls carry the caller's bearer
// token and a per-call timeout.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a gateway client for the given user-service base URL,
// e.g. "http://localhost:5000/api/v1/fastapi".
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type userDataResponse struct {
	Data struct {
		User struct {
			ChatHistory []pkg.HistoryMessage `json:"chatHistory"`
		} `json:"user"`
	} `json:"data"`
}

// Load fetches the persisted conversation history for the caller.
func (c *HTTPClient) Load(ctx context.Context, token string) ([]pkg.HistoryMessage, error) {
	body, err := c.do(ctx, http.MethodGet, "/user-data", token, nil)
	if err != nil {
		return nil, err
	}

	var resp userDataResponse
	if err := sonic.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode user data: %w", err)
	}
	return resp.Data.User.ChatHistory, nil
}

// Save persists the conversation history. A nil return means the user
// service confirmed a durable write.
func (c *HTTPClient) Save(ctx context.Context, token string, history []pkg.HistoryMessage) error {
	payload := map[string]any{"history": history}
	_, err := c.do(ctx, http.MethodPost, "/save-chat-history", token, payload)
	return err
}

type authDetailsResponse struct {
	Data pkg.AuthDetails `json:"data"`
}

// AuthDetails fetches the caller's email authorization state.
func (c *HTTPClient) AuthDetails(ctx context.Context, token string) (pkg.AuthDetails, error) {
	body, err := c.do(ctx, http.MethodGet, "/getUserAuthDetails", token, nil)
	if err != nil {
		return pkg.AuthDetails{}, err
	}

	var resp authDetailsResponse
	if err := sonic.Unmarshal(body, &resp); err != nil {
		return pkg.AuthDetails{}, fmt.Errorf("failed to decode auth details: %w", err)
	}
	return resp.Data, nil
}

// SaveOAuth stores refreshed OAuth credentials for the caller.
func (c *HTTPClient) SaveOAuth(ctx context.Context, token string, details pkg.AuthDetails) error {
	payload := map[string]any{
		"access_token":        details.AccessToken,
		"refresh_token":       details.RefreshToken,
		"access_token_expiry": details.AccessTokenExpiry.UTC().Format(time.RFC3339),
		"is_authenticated":    details.IsAuthenticated,
	}
	_, err := c.do(ctx, http.MethodPost, "/setUserOAuthInfo", token, payload)
	return err
}

func (c *HTTPClient) do(ctx context.Context, method, path, token string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := sonic.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user service request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read user service response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("user service returned status %d for %s", resp.StatusCode, path)
	}
	return data, nil
}
