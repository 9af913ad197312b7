package egauge

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
)

// API endpoint paths.
const (
	apiPathUnauthorized = "/auth/unauthorized"
	apiPathLogin        = "/auth/login"
	apiPathRegister     = "/register"
	apiPathEpoch        = "/config/db/epoch"
	apiPathTime         = "/sys/time"
	apiPathUptime       = "/sys/uptime"
	apiPathReboot       = "/cmd/reboot"
)

// authChallenge is the device's response to the unauthorized endpoint.
type authChallenge struct {
	Realm string `json:"rlm"`
	Nonce string `json:"nnc"`
}

// loginRequest is the digest login payload.
type loginRequest struct {
	User        string `json:"usr"`
	Realm       string `json:"rlm"`
	Nonce       string `json:"nnc"`
	ClientNonce string `json:"cnnc"`
	Hash        string `json:"hash"`
}

// loginResponse carries the issued bearer token.
type loginResponse struct {
	JWT string `json:"jwt"`
}

// authenticator performs the two-step challenge/response exchange with the
// device. It keeps no state between calls; retry policy belongs to the
// request executor.
type authenticator struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// fetchToken obtains a fresh bearer token for the given credentials. The two
// round trips are strictly sequential: a challenge failure never reaches the
// login step.
func (a *authenticator) fetchToken(ctx context.Context, username, password string) (string, error) {
	challenge, err := a.fetchChallenge(ctx)
	if err != nil {
		return "", err
	}

	clientNonce, err := newClientNonce()
	if err != nil {
		return "", err
	}

	ha1 := digest(username, challenge.Realm, password)
	ha2 := digest(ha1, challenge.Nonce, clientNonce)

	token, err := a.login(ctx, loginRequest{
		User:        username,
		Realm:       challenge.Realm,
		Nonce:       challenge.Nonce,
		ClientNonce: clientNonce,
		Hash:        ha2,
	})
	if err != nil {
		return "", err
	}

	a.logger.Debug().Str("realm", challenge.Realm).Msg("Obtained bearer token")
	return token, nil
}

// fetchChallenge retrieves the realm and server nonce.
func (a *authenticator) fetchChallenge(ctx context.Context) (*authChallenge, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+apiPathUnauthorized, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create challenge request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("challenge request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read challenge response: %w", err)
	}

	var challenge authChallenge
	if err := json.Unmarshal(body, &challenge); err != nil {
		return nil, &ParseError{Endpoint: apiPathUnauthorized, Err: err}
	}
	if challenge.Realm == "" || challenge.Nonce == "" {
		return nil, &ParseError{Endpoint: apiPathUnauthorized, Err: fmt.Errorf("challenge missing realm or nonce")}
	}

	return &challenge, nil
}

// login posts the digest payload and extracts the issued token.
func (a *authenticator) login(ctx context.Context, payload loginRequest) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode login payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+apiPathLogin, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("login request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read login response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{
			Kind:       classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Endpoint:   apiPathLogin,
			Body:       string(body),
		}
	}

	var login loginResponse
	if err := json.Unmarshal(body, &login); err != nil {
		return "", &ParseError{Endpoint: apiPathLogin, Err: err}
	}
	if login.JWT == "" {
		return "", &ParseError{Endpoint: apiPathLogin, Err: fmt.Errorf("login response missing jwt")}
	}

	return login.JWT, nil
}

// newClientNonce returns 16 random bytes rendered as hex.
func newClientNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate client nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
