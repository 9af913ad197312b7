package egauge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultHTTPTimeout = 15 * time.Second

// Client executes authenticated requests against a single device. It owns
// the cached bearer token: a single shared slot, last-write-wins. Concurrent
// requests that both observe an expired token may each refresh it; the worst
// case is one redundant authentication round trip, never a stale credential
// on the wire.
type Client struct {
	deviceID string
	username string
	password string

	baseURL       string
	httpClient    *http.Client
	auth          *authenticator
	renewalBuffer time.Duration
	now           func() time.Time
	logger        zerolog.Logger

	mu    sync.Mutex
	token string
}

// NewClient creates a request executor for the given device identity.
func NewClient(deviceID, username, password string, opts ...ClientOption) *Client {
	logger := log.With().Str("component", "egauge").Str("device", deviceID).Logger()

	c := &Client{
		deviceID:      deviceID,
		username:      username,
		password:      password,
		baseURL:       fmt.Sprintf("https://%s.d.egauge.net/api", deviceID),
		httpClient:    &http.Client{Timeout: defaultHTTPTimeout},
		renewalBuffer: DefaultRenewalBuffer,
		now:           time.Now,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.auth = &authenticator{
		baseURL:    c.baseURL,
		httpClient: c.httpClient,
		logger:     c.logger,
	}

	return c
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the device base URL. Used by tests and for devices
// reachable on a local address instead of the vendor proxy.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRenewalBuffer overrides the token expiry offset.
func WithRenewalBuffer(buffer time.Duration) ClientOption {
	return func(c *Client) {
		c.renewalBuffer = buffer
	}
}

// withClock overrides the time source for tests.
func withClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// DeviceID returns the device identifier this client talks to.
func (c *Client) DeviceID() string {
	return c.deviceID
}

// Get issues an authenticated GET and returns the raw JSON body.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, endpoint, params, nil)
}

// Post issues an authenticated POST with an optional JSON body.
func (c *Client) Post(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, endpoint, nil, body)
}

// do executes one logical request: attach a fresh-enough token, send, and on
// a 401 force exactly one re-authentication and one retry. A second 401 is
// surfaced as a typed error, not retried again.
func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, body any) (json.RawMessage, error) {
	token, err := c.currentToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, raw, err := c.send(ctx, method, endpoint, params, body, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Debug().Str("endpoint", endpoint).Msg("Token rejected, re-authenticating")
		token, err = c.refreshToken(ctx)
		if err != nil {
			return nil, err
		}
		resp, raw, err = c.send(ctx, method, endpoint, params, body, token)
		if err != nil {
			return nil, err
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			Kind:       classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Body:       string(raw),
		}
	}

	// A success body that is not JSON is treated as empty; the caller
	// decides whether that is acceptable.
	if len(raw) == 0 || !json.Valid(raw) {
		return nil, nil
	}
	return json.RawMessage(raw), nil
}

// send performs a single HTTP exchange and drains the body.
func (c *Client) send(ctx context.Context, method, endpoint string, params url.Values, body any, token string) (*http.Response, []byte, error) {
	reqURL := c.baseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response from %s: %w", endpoint, err)
	}

	return resp, raw, nil
}

// currentToken returns the cached token when still fresh, refreshing it
// otherwise.
func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	if token != "" && !tokenExpired(token, c.renewalBuffer, c.now()) {
		return token, nil
	}
	return c.refreshToken(ctx)
}

// refreshToken performs a full authentication exchange and replaces the
// cached token. A failed exchange leaves the previous token untouched.
func (c *Client) refreshToken(ctx context.Context) (string, error) {
	token, err := c.auth.fetchToken(ctx, c.username, c.password)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	return token, nil
}
