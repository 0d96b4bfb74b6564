package scheduling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/appointment-desk/backend/internal/session"
	"go.uber.org/zap"
)

// Cookie and header names used by the API's session and CSRF middleware.
const (
	SessionCookie = "sessionid"
	CSRFCookie    = "csrftoken"
	CSRFHeader    = "X-CSRFToken"
)

// Client is a client for the scheduling API.
type Client struct {
	config     Config
	httpClient *http.Client
	sessions   session.Provider
	logger     *zap.Logger
}

// NewClient creates a new scheduling API client. httpClient may be nil, in
// which case a client with the configured timeout is used.
func NewClient(config Config, httpClient *http.Client, sessions session.Provider, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		config:     config,
		httpClient: httpClient,
		sessions:   sessions,
		logger:     logger,
	}
}

// Location returns the location used for API wall-clock values.
func (c *Client) Location() *time.Location {
	return c.config.location()
}

// Get performs a GET and decodes the JSON body into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out, false)
}

// Send performs a mutating request. The current session must carry an
// anti-forgery token; otherwise ErrMissingToken is returned without any
// network I/O. out may be nil.
func (c *Client) Send(ctx context.Context, method, path string, body any, out any) error {
	return c.do(ctx, method, path, body, out, true)
}

// Probe returns true if the API answers at all.
// Any status below 500 counts as reachable.
func (c *Client) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.config.BaseURL+"/", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

// FetchSession resolves a session id through the API's session endpoint.
// The CSRF token is taken from the csrftoken cookie when the API sets one.
func (c *Client) FetchSession(ctx context.Context, sessionID string) (session.Context, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/session/", nil)
	if err != nil {
		return session.Context{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: sessionID})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return session.Context{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return session.Context{}, statusError(req, resp)
	}

	var out session.Context
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return session.Context{}, fmt.Errorf("decoding response: %w", err)
	}
	out.SessionID = sessionID
	for _, ck := range resp.Cookies() {
		switch ck.Name {
		case CSRFCookie:
			out.CSRFToken = ck.Value
		case SessionCookie:
			out.SessionID = ck.Value
		}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any, mutating bool) error {
	sess := c.currentSession()
	if mutating && !sess.HasToken() {
		return ErrMissingToken
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, reader, sess)
	if err != nil {
		return err
	}
	if mutating {
		req.Header.Set(CSRFHeader, sess.CSRFToken)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("api request failed",
			zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(req, resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) currentSession() session.Context {
	if c.sessions == nil {
		return session.Context{}
	}
	return c.sessions.Current()
}

// newRequest creates a new HTTP request carrying the session cookies.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, sess session.Context) (*http.Request, error) {
	url := c.config.BaseURL + path

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sess.SessionID != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: sess.SessionID})
	}
	if sess.CSRFToken != "" {
		req.AddCookie(&http.Cookie{Name: CSRFCookie, Value: sess.CSRFToken})
	}

	return req, nil
}

// statusError builds a StatusError from a non-2xx response. The API answers
// errors with plain text or with a JSON object carrying detail, error or
// message.
func statusError(req *http.Request, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return &StatusError{
		Method:  req.Method,
		Path:    req.URL.Path,
		Status:  resp.StatusCode,
		Message: errorMessage(body, resp.Status),
	}
}

func errorMessage(body []byte, fallback string) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return fallback
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"detail", "error", "message"} {
			if v, ok := payload[key].(string); ok && v != "" {
				return v
			}
		}
	}
	return trimmed
}
