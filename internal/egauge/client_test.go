package egauge

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(fake *fakeDevice, opts ...ClientOption) *Client {
	opts = append([]ClientOption{WithBaseURL(fake.url())}, opts...)
	return NewClient("meter1", testUsername, testPassword, opts...)
}

func TestClientTokenReuse(t *testing.T) {
	fake := newFakeDevice(t)
	fake.handle(apiPathTime, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]int64{"result": 1000})
	})

	client := newTestClient(fake)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		raw, err := client.Get(ctx, apiPathTime, nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{"result":1000}`, string(raw))
	}

	assert.Equal(t, 1, fake.logins(), "a fresh token is authenticated once and reused")
}

func TestClientRefreshesExpiredToken(t *testing.T) {
	fake := newFakeDevice(t)
	fake.handle(apiPathTime, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]int64{"result": 1000})
	})

	now := time.Now()
	client := newTestClient(fake, withClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := client.Get(ctx, apiPathTime, nil)
	require.NoError(t, err)
	require.Equal(t, 1, fake.logins())

	// Move past the token's expiry plus the renewal buffer; the next
	// request must authenticate again before going on the wire.
	now = now.Add(2 * time.Hour)
	_, err = client.Get(ctx, apiPathTime, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.logins())
}

func TestClientRetryOn401(t *testing.T) {
	t.Run("401Then200", func(t *testing.T) {
		fake := newFakeDevice(t)
		calls := 0
		fake.handle(apiPathUptime, func(w http.ResponseWriter, _ *http.Request) {
			calls++
			if calls == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			writeJSON(w, map[string]int64{"result": 42})
		})

		client := newTestClient(fake)
		raw, err := client.Get(context.Background(), apiPathUptime, nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{"result":42}`, string(raw))
		assert.Equal(t, 2, calls, "exactly one retry")
		assert.Equal(t, 2, fake.logins(), "exactly one re-authentication")
	})

	t.Run("401Then401", func(t *testing.T) {
		fake := newFakeDevice(t)
		calls := 0
		fake.handle(apiPathUptime, func(w http.ResponseWriter, _ *http.Request) {
			calls++
			w.WriteHeader(http.StatusUnauthorized)
		})

		client := newTestClient(fake)
		_, err := client.Get(context.Background(), apiPathUptime, nil)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
		assert.Equal(t, 2, calls, "no third attempt after a second 401")
	})
}

func TestClientStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		kind   ErrorKind
	}{
		{http.StatusBadRequest, ErrorKindBadRequest},
		{http.StatusForbidden, ErrorKindForbidden},
		{http.StatusNotFound, ErrorKindNotFound},
		{http.StatusInternalServerError, ErrorKindServer},
		{http.StatusTeapot, ErrorKindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			fake := newFakeDevice(t)
			fake.handle(apiPathEpoch, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("diagnostic detail"))
			})

			client := newTestClient(fake)
			_, err := client.Get(context.Background(), apiPathEpoch, nil)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.kind, apiErr.Kind)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, "diagnostic detail", apiErr.Body)
		})
	}
}

func TestClientNonJSONSuccessBody(t *testing.T) {
	fake := newFakeDevice(t)
	fake.handle(apiPathReboot, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	client := newTestClient(fake)
	raw, err := client.Post(context.Background(), apiPathReboot, nil)
	require.NoError(t, err)
	assert.Nil(t, raw, "an empty success body is nil, not an error")
}

func TestClientAuthFailurePropagates(t *testing.T) {
	fake := newFakeDevice(t)
	client := NewClient("meter1", testUsername, "wrong", WithBaseURL(fake.url()))

	_, err := client.Get(context.Background(), apiPathTime, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 0, fake.hitCount(apiPathTime), "failed login never reaches the resource")
}
