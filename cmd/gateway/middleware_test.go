package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/syranol/inference-gateway/config"
	"github.com/syranol/inference-gateway/internal/ctxkeys"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("ok"))
})

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestSecurityHeaders(t *testing.T) {
	w := serve(SecurityHeaders()(okHandler), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'none'", w.Header().Get("Content-Security-Policy"))
}

func TestChain_OrderAndNilSkipping(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(okHandler, mark("a"), nil, mark("b"))
	serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ctxkeys.RequestID(r.Context())
	}))

	w := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 32)
	assert.Equal(t, seen, w.Header().Get("X-Request-ID"))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "client-id_1.2")
	w = serve(h, r)
	assert.Equal(t, "client-id_1.2", seen)
	assert.Equal(t, "client-id_1.2", w.Header().Get("X-Request-ID"))

	for _, bad := range []string{"has space", "<script>", strings.Repeat("a", maxRequestIDLen+1)} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Request-ID", bad)
		serve(h, r)
		assert.NotEqual(t, bad, seen)
		assert.Len(t, seen, 32)
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(zaptest.NewLogger(t))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestStatusWriter_PreservesFlusher(t *testing.T) {
	flushed := false
	h := RequestLogger(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		require.True(t, ok, "SSE needs http.Flusher through the middleware chain")
		_, _ = w.Write([]byte("data: x\n\n"))
		f.Flush()
		flushed = true
	}))

	w := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, flushed)
	assert.True(t, w.Flushed)
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/healthz":                   "/healthz",
		"/v1/chat/completions":       "/v1/chat/completions",
		"/v1/chat/ws":                "/v1/chat/ws",
		"/v1/sessions/4f1cb0aa9e2d4": "/v1/sessions/:id",
		"/v1/sessions/":              "other",
		"/wp-admin/setup.php":        "other",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizePath(in), in)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	h := APIKeyAuth([]string{"k1", "k2"}, []string{"/healthz"}, zap.NewNop())(okHandler)

	w := serve(h, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "UNAUTHORIZED")

	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	r.Header.Set("X-API-Key", "k2")
	assert.Equal(t, http.StatusOK, serve(h, r).Code)

	r = httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	r.Header.Set("X-API-Key", "k3")
	assert.Equal(t, http.StatusUnauthorized, serve(h, r).Code)

	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
}

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestJWTAuth(t *testing.T) {
	cfg := config.JWTConfig{Secret: "s3cret", Issuer: "gw-test"}
	var subject string
	h := JWTAuth(cfg, []string{"/healthz"}, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ = ctxkeys.Subject(r.Context())
	}))

	valid := signHS256(t, "s3cret", jwt.MapClaims{
		"sub": "alice",
		"iss": "gw-test",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	r.Header.Set("Authorization", "Bearer "+valid)
	assert.Equal(t, http.StatusOK, serve(h, r).Code)
	assert.Equal(t, "alice", subject)

	cases := map[string]string{
		"missing header": "",
		"wrong secret":   "Bearer " + signHS256(t, "other", jwt.MapClaims{"sub": "x", "iss": "gw-test"}),
		"wrong issuer":   "Bearer " + signHS256(t, "s3cret", jwt.MapClaims{"sub": "x", "iss": "evil"}),
		"expired": "Bearer " + signHS256(t, "s3cret", jwt.MapClaims{
			"sub": "x", "iss": "gw-test", "exp": time.Now().Add(-time.Hour).Unix(),
		}),
		"not bearer": "Basic abc",
	}
	for name, header := range cases {
		r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		assert.Equal(t, http.StatusUnauthorized, serve(h, r).Code, name)
	}

	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := RateLimiter(ctx, 1, 2, zap.NewNop())(okHandler)

	req := func(remote string) int {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = remote
		return serve(h, r).Code
	}

	assert.Equal(t, http.StatusOK, req("10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, req("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, req("10.0.0.1:1002"))
	assert.Equal(t, http.StatusOK, req("10.0.0.2:1000"), "other clients have their own bucket")
}

func TestLimiterKey_PrefersSubject(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	assert.Equal(t, "ip:10.0.0.9", limiterKey(r))

	r = r.WithContext(ctxkeys.WithSubject(r.Context(), "bob"))
	assert.Equal(t, "sub:bob", limiterKey(r))
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(okHandler)

	r := httptest.NewRequest(http.MethodOptions, "/v1/chat/completions", nil)
	r.Header.Set("Origin", "https://app.example")
	w := serve(h, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodOptions, "/v1/chat/completions", nil)
	r.Header.Set("Origin", "https://evil.example")
	assert.Equal(t, http.StatusForbidden, serve(h, r).Code)

	r = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.Header.Set("Origin", "https://evil.example")
	w = serve(h, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_NoOriginsConfigured(t *testing.T) {
	h := CORS(nil)(okHandler)

	r := httptest.NewRequest(http.MethodOptions, "/", nil)
	r.Header.Set("Origin", "https://app.example")
	assert.Equal(t, http.StatusForbidden, serve(h, r).Code)

	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
}
