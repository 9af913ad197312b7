package egauge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testRealm    = "eGauge Administration"
	testNonce    = "5f2b"
	testUsername = "owner"
	testPassword = "secret"
)

// fakeDevice emulates the meter's JSON API: challenge endpoint, digest
// login, and bearer-protected resource endpoints. Handlers registered per
// path serve authenticated requests.
type fakeDevice struct {
	t   *testing.T
	srv *httptest.Server

	tokenTTL time.Duration

	mu         sync.Mutex
	loginCount int
	hits       map[string]int
	issued     map[string]bool
	handlers   map[string]http.HandlerFunc
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()

	f := &fakeDevice{
		t:        t,
		tokenTTL: time.Hour,
		hits:     make(map[string]int),
		issued:   make(map[string]bool),
		handlers: make(map[string]http.HandlerFunc),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeDevice) url() string {
	return f.srv.URL
}

// handle registers a handler for a bearer-protected path.
func (f *fakeDevice) handle(path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[path] = h
}

func (f *fakeDevice) logins() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginCount
}

func (f *fakeDevice) hitCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func (f *fakeDevice) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits[r.URL.Path]++
	f.mu.Unlock()

	switch r.URL.Path {
	case apiPathUnauthorized:
		writeJSON(w, map[string]string{"rlm": testRealm, "nnc": testNonce})
	case apiPathLogin:
		f.serveLogin(w, r)
	default:
		f.serveResource(w, r)
	}
}

func (f *fakeDevice) serveLogin(w http.ResponseWriter, r *http.Request) {
	var payload loginRequest
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&payload))

	ha1 := digest(payload.User, testRealm, testPassword)
	want := digest(ha1, testNonce, payload.ClientNonce)
	if payload.User != testUsername || payload.Hash != want {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(f.tokenTTL).Unix(),
		"iat": time.Now().UnixNano(),
	}).SignedString([]byte("device-key"))
	require.NoError(f.t, err)

	f.mu.Lock()
	f.loginCount++
	f.issued[token] = true
	f.mu.Unlock()

	writeJSON(w, map[string]string{"jwt": token})
}

func (f *fakeDevice) serveResource(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	f.mu.Lock()
	valid := ok && f.issued[token]
	handler := f.handlers[r.URL.Path]
	f.mu.Unlock()

	if !valid {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if handler == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	handler(w, r)
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		return "", false
	}
	return auth[len(prefix):], true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
