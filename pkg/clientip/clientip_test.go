package clientip_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/gatekeeper/pkg/clientip"
)

func TestResolverIP(t *testing.T) {
	t.Parallel()
	r, err := clientip.New([]string{"10.0.0.0/8", "192.168.1.1"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"direct", "203.0.113.7:5000", nil, "203.0.113.7"},
		{"untrusted peer headers ignored", "203.0.113.7:5000", map[string]string{"X-Forwarded-For": "1.2.3.4"}, "203.0.113.7"},
		{"trusted cloudflare", "10.1.2.3:443", map[string]string{"CF-Connecting-IP": "198.51.100.2"}, "198.51.100.2"},
		{"forwarded rightmost untrusted", "10.1.2.3:443", map[string]string{"X-Forwarded-For": "6.6.6.6, 198.51.100.9, 10.0.0.5"}, "198.51.100.9"},
		{"forwarded all trusted", "10.1.2.3:443", map[string]string{"X-Forwarded-For": "10.0.0.7"}, "10.1.2.3"},
		{"real ip", "192.168.1.1:80", map[string]string{"X-Real-IP": "198.51.100.3"}, "198.51.100.3"},
		{"garbage header falls through", "10.1.2.3:443", map[string]string{"CF-Connecting-IP": "nope", "X-Real-IP": "198.51.100.4"}, "198.51.100.4"},
		{"ipv6 peer", "[2001:db8::1]:443", nil, "2001:db8::1"},
		{"mapped ipv4", "[::ffff:203.0.113.8]:443", nil, "203.0.113.8"},
		{"bare remote", "203.0.113.9", nil, "203.0.113.9"},
		{"invalid remote", "not-an-ip", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, r.IP(req))
		})
	}
}

func TestNewRejectsBadProxies(t *testing.T) {
	t.Parallel()
	_, err := clientip.New([]string{"10.0.0.0/33"})
	assert.ErrorIs(t, err, clientip.ErrInvalidProxy)
	_, err = clientip.New([]string{"proxy.local"})
	assert.ErrorIs(t, err, clientip.ErrInvalidProxy)
}

func TestMiddleware(t *testing.T) {
	t.Parallel()
	r, err := clientip.New(nil)
	require.NoError(t, err)

	var got string
	h := r.Middleware(http.HandlerFunc(func(_ http.ResponseWriter, req *http.Request) {
		got = clientip.FromContext(req.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:5000"
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "203.0.113.7", got)
	assert.Empty(t, clientip.FromContext(t.Context()))
}
