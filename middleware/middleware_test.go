package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestClerkAuthMiddlewareRejectsBadHeaders(t *testing.T) {
	h := ClerkAuthMiddleware(okHandler)

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "missing", header: "", want: "Authorization header required"},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz", want: "Invalid authorization format. Use 'Bearer <token>'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/user", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, http.StatusUnauthorized, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.want, body["error"])
		})
	}
}

func TestGetClerkID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, ok := GetClerkID(req.Context())
	assert.False(t, ok)

	_, ok = GetClerkID(WithClerkID(req.Context(), ""))
	assert.False(t, ok)

	id, ok := GetClerkID(WithClerkID(req.Context(), "user_1"))
	assert.True(t, ok)
	assert.Equal(t, "user_1", id)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, nil)
	h := rl.Middleware(okHandler)

	call := func(remote, clerkID string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/credits", nil)
		req.RemoteAddr = remote
		if clerkID != "" {
			req = req.WithContext(WithClerkID(req.Context(), clerkID))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1:1234", ""))
	assert.Equal(t, http.StatusOK, call("10.0.0.1:1234", ""))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:1234", ""))

	// Separate buckets per client.
	assert.Equal(t, http.StatusOK, call("10.0.0.2:1234", ""))
	assert.Equal(t, http.StatusOK, call("10.0.0.1:1234", "user_1"))
}

func TestRateLimiterEvictsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.getLimiter("ip:10.0.0.1")
	require.Len(t, rl.visitors, 1)

	rl.evictIdle(time.Now().Add(visitorIdleTimeout / 2))
	assert.Len(t, rl.visitors, 1)

	rl.evictIdle(time.Now().Add(2 * visitorIdleTimeout))
	assert.Empty(t, rl.visitors)
}

func TestClientKey(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "ip:192.0.2.1", rl.clientKey(req))

	assert.Equal(t, "user:user_7", rl.clientKey(req.WithContext(WithClerkID(req.Context(), "user_7"))))
}

func TestClientKeyIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	rl := NewRateLimiter(1, 1, trusted)
	h := rl.Middleware(okHandler)

	// A direct client rotating the header still shares one bucket.
	codes := make([]int, 0, 3)
	for _, fwd := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/plans", nil)
		req.RemoteAddr = "198.51.100.7:4000"
		req.Header.Set("X-Forwarded-For", fwd)
		assert.Equal(t, "ip:198.51.100.7", rl.clientKey(req))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}

func TestClientKeyBehindTrustedProxy(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8", "172.16.0.5"})
	require.NoError(t, err)
	rl := NewRateLimiter(1, 1, trusted)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"

	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "ip:203.0.113.9", rl.clientKey(req))

	// Only the hops appended by trusted proxies are skipped; a spoofed
	// left-most entry is not reached.
	req.Header.Set("X-Forwarded-For", "1.1.1.1, 203.0.113.9, 172.16.0.5")
	assert.Equal(t, "ip:203.0.113.9", rl.clientKey(req))

	req.Header.Set("X-Forwarded-For", "garbage")
	assert.Equal(t, "ip:10.1.2.3", rl.clientKey(req))

	req.Header.Del("X-Forwarded-For")
	assert.Equal(t, "ip:10.1.2.3", rl.clientKey(req))
}

func TestParseTrustedProxies(t *testing.T) {
	prefixes, err := ParseTrustedProxies([]string{" 10.0.0.0/8 ", "", "::1", "192.168.1.7/16"})
	require.NoError(t, err)
	require.Len(t, prefixes, 3)
	assert.Equal(t, "10.0.0.0/8", prefixes[0].String())
	assert.Equal(t, "::1/128", prefixes[1].String())
	assert.Equal(t, "192.168.0.0/16", prefixes[2].String())

	_, err = ParseTrustedProxies([]string{"not-an-ip"})
	assert.Error(t, err)
}

func TestBasicAuth(t *testing.T) {
	h := BasicAuth("admin", "s3cret")(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.SetBasicAuth("admin", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBasicAuthWithoutCredentialsIsClosed(t *testing.T) {
	h := BasicAuth("", "")(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("", "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMonitorMiddlewareUsesRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(MonitorMiddleware)

	var seen string
	r.HandleFunc("/api/v1/images/{requestId}", func(w http.ResponseWriter, r *http.Request) {
		seen = routeTemplate(r)
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/images/req_123", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "/api/v1/images/{requestId}", seen)
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	h := RequestLogger(logger)(okHandler)
	req := httptest.NewRequest(http.MethodGet, "/health?token=secret", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "/health", entry["path"])
	assert.Equal(t, float64(http.StatusOK), entry["status"])
	assert.NotEmpty(t, entry["req_id"])
	assert.NotContains(t, buf.String(), "secret")
}
