// Command egauge-sim runs a local HTTP server that mimics an eGauge
// meter's JSON API. It implements the challenge/response login flow,
// issues short-lived JWTs, and serves register data with slowly
// drifting counter values so the collector can be exercised without a
// physical device.
package main

import (
	"crypto/md5" //nolint:gosec // the device protocol mandates MD5
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	mathrand "math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
)

const simRealm = "eGauge Administration"

// simulator holds the fake meter state. Counters accumulate at a fixed
// per-second rate plus a little jitter so successive readings differ.
type simulator struct {
	username string
	password string
	verbose  bool

	mu       sync.Mutex
	nonces   map[string]bool
	key      []byte
	epoch    time.Time
	counters map[string]float64
	rates    map[string]float64
	lastTick time.Time
	logins   int
}

func newSimulator(username, password string, verbose bool) *simulator {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		log.Fatalf("failed to generate signing key: %v", err)
	}
	now := time.Now()
	return &simulator{
		username: username,
		password: password,
		verbose:  verbose,
		nonces:   make(map[string]bool),
		key:      key,
		epoch:    now.Add(-30 * 24 * time.Hour),
		counters: map[string]float64{"P": 1.2e9, "S": 1.3e9, "E": 4.5e12},
		rates:    map[string]float64{"P": 1500, "S": 1600, "E": 450000},
		lastTick: now,
	}
}

func md5Join(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, ":"))) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

func newNonce() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("failed to generate nonce: %v", err)
	}
	return hex.EncodeToString(buf)
}

// advance rolls the counters forward to now.
func (s *simulator) advance() {
	now := time.Now()
	elapsed := now.Sub(s.lastTick).Seconds()
	if elapsed <= 0 {
		return
	}
	for name, rate := range s.rates {
		jitter := 1 + (mathrand.Float64()-0.5)*0.1
		s.counters[name] += rate * jitter * elapsed
	}
	s.lastTick = now
}

func (s *simulator) issueToken() (string, error) {
	claims := jwt.MapClaims{
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(10 * time.Minute).Unix(),
		"sub": s.username,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.key)
}

func (s *simulator) validToken(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	raw := strings.TrimPrefix(header, "Bearer ")
	_, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	return err == nil
}

func (s *simulator) handleUnauthorized(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	nonce := newNonce()
	s.nonces[nonce] = true
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"rlm": simRealm, "nnc": nonce})
}

func (s *simulator) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string `json:"usr"`
		Realm       string `json:"rlm"`
		Nonce       string `json:"nnc"`
		ClientNonce string `json:"cnnc"`
		Hash        string `json:"hash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed login request"})
		return
	}

	s.mu.Lock()
	known := s.nonces[req.Nonce]
	delete(s.nonces, req.Nonce)
	s.mu.Unlock()

	ha1 := md5Join(s.username, simRealm, s.password)
	expected := md5Join(ha1, req.Nonce, req.ClientNonce)
	if !known || req.Username != s.username || req.Hash != expected {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication failed"})
		return
	}

	token, err := s.issueToken()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token generation failed"})
		return
	}

	s.mu.Lock()
	s.logins++
	logins := s.logins
	s.mu.Unlock()
	if s.verbose {
		log.Printf("login #%d for %s", logins, req.Username)
	}
	writeJSON(w, http.StatusOK, map[string]string{"jwt": token})
}

func (s *simulator) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.validToken(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing or invalid token"})
			return
		}
		next(w, r)
	}
}

// handleRegister serves both instantaneous (rate=) and interval (time=)
// queries in the device's register format.
func (s *simulator) handleRegister(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()

	names := []string{"P", "S", "E"}
	registers := make([]map[string]interface{}, 0, len(names))
	for i, name := range names {
		reg := map[string]interface{}{"name": name, "type": name, "idx": i}
		if r.URL.Query().Has("rate") {
			reg["rate"] = s.rates[name]
		}
		registers = append(registers, reg)
	}

	resp := map[string]interface{}{
		"ts":        strconv.FormatInt(time.Now().Unix(), 10),
		"registers": registers,
	}

	if spec := r.URL.Query().Get("time"); spec != "" {
		rng, ok := s.buildRange(spec, names)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed time specification"})
			return
		}
		resp["ranges"] = []interface{}{rng}
	}

	writeJSON(w, http.StatusOK, resp)
}

// buildRange synthesizes rows for a start:interval:end query. Rows are
// newest first, as the device reports them.
func (s *simulator) buildRange(spec string, names []string) (map[string]interface{}, bool) {
	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return nil, false
	}
	start, err1 := strconv.ParseInt(parts[0], 10, 64)
	interval, err2 := strconv.ParseInt(parts[1], 10, 64)
	end, err3 := strconv.ParseInt(parts[2], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil || interval <= 0 || end < start {
		return nil, false
	}

	var rows [][]string
	for ts := end; ts >= start; ts -= interval {
		back := time.Since(time.Unix(ts, 0)).Seconds()
		row := make([]string, 0, len(names))
		for _, name := range names {
			value := s.counters[name] - s.rates[name]*back
			row = append(row, strconv.FormatFloat(value, 'f', 0, 64))
		}
		rows = append(rows, row)
	}

	return map[string]interface{}{
		"ts":    strconv.FormatInt(end, 10),
		"delta": interval,
		"rows":  rows,
	}, true
}

func (s *simulator) handleEpoch(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"result": strconv.FormatInt(s.epoch.Unix(), 10),
	})
}

func (s *simulator) handleTime(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"result": strconv.FormatInt(time.Now().Unix(), 10),
	})
}

func (s *simulator) handleUptime(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"result": strconv.FormatInt(int64(time.Since(s.epoch).Seconds()), 10),
	})
}

func (s *simulator) handleReboot(w http.ResponseWriter, _ *http.Request) {
	log.Printf("reboot requested, resetting uptime")
	s.mu.Lock()
	s.epoch = time.Now()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "rebooting"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *simulator) router() *mux.Router {
	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/unauthorized", s.handleUnauthorized).Methods(http.MethodGet)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/register", s.requireAuth(s.handleRegister)).Methods(http.MethodGet)
	api.HandleFunc("/config/db/epoch", s.requireAuth(s.handleEpoch)).Methods(http.MethodGet)
	api.HandleFunc("/sys/time", s.requireAuth(s.handleTime)).Methods(http.MethodGet)
	api.HandleFunc("/sys/uptime", s.requireAuth(s.handleUptime)).Methods(http.MethodGet)
	api.HandleFunc("/cmd/reboot", s.requireAuth(s.handleReboot)).Methods(http.MethodPost)
	return router
}

func main() {
	var (
		addr     = flag.String("addr", "localhost:8810", "Listen address (host:port)")
		username = flag.String("user", "owner", "Username expected at login")
		password = flag.String("password", "secret", "Password expected at login")
		verbose  = flag.Bool("verbose", false, "Log each login and request")
		help     = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *help {
		fmt.Printf("eGauge meter simulator\n\n")
		fmt.Printf("Serves the meter's JSON API on a local port so the collector\n")
		fmt.Printf("can be tested without a physical device. Point the collector at\n")
		fmt.Printf("it with a custom base URL of http://<addr>/api.\n\n")
		fmt.Printf("Usage:\n")
		flag.PrintDefaults()
		fmt.Printf("\nExample:\n")
		fmt.Printf("  %s -addr localhost:8810 -user owner -password secret -verbose\n", os.Args[0])
		os.Exit(0)
	}

	sim := newSimulator(*username, *password, *verbose)

	log.Printf("Starting eGauge meter simulator on %s", *addr)
	log.Printf("  Login: %s / %s", *username, strings.Repeat("*", len(*password)))
	log.Printf("  Base URL: http://%s/api", *addr)
	log.Printf("Press Ctrl+C to stop...")

	server := &http.Server{
		Addr:              *addr,
		Handler:           sim.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("simulator error: %v", err)
	}
}
