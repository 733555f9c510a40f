package fingerprint_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/gatekeeper/pkg/fingerprint"
)

func TestTokenHashes(t *testing.T) {
	t.Parallel()

	assert.Len(t, fingerprint.Token("abc"), 64)
	assert.Equal(t, fingerprint.Token("abc"), fingerprint.Token("abc"))
	assert.NotEqual(t, fingerprint.Token("abc"), fingerprint.Token("abd"))

	pair := fingerprint.TokenPair("access", "refresh")
	assert.Len(t, pair, 64)
	assert.NotEqual(t, pair, fingerprint.TokenPair("refresh", "access"))
	assert.NotEqual(t, fingerprint.TokenPair("ab", "c"), fingerprint.TokenPair("a", "bc"))

	assert.True(t, fingerprint.Equal(pair, fingerprint.TokenPair("access", "refresh")))
	assert.False(t, fingerprint.Equal(pair, fingerprint.Token("access")))
	assert.False(t, fingerprint.Equal("", ""))
}

func TestDevice(t *testing.T) {
	t.Parallel()

	newReq := func(ua, remote string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = remote
		r.Header.Set("User-Agent", ua)
		r.Header.Set("Accept-Language", "en-US")
		r.Header.Set("X-Request-ID", remote)
		return r
	}

	a := fingerprint.Device(newReq("Firefox/121.0", "203.0.113.1:1"))
	assert.Len(t, a, 32)
	assert.Equal(t, a, fingerprint.Device(newReq("Firefox/121.0", "198.51.100.2:2")),
		"address and unstable headers do not change the fingerprint")
	assert.NotEqual(t, a, fingerprint.Device(newReq("Chrome/120.0", "203.0.113.1:1")))

	var got string
	h := fingerprint.Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = fingerprint.DeviceFromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), newReq("Firefox/121.0", "203.0.113.1:1"))
	assert.Equal(t, a, got)
}
