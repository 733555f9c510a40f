package requestid_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/gatekeeper/pkg/requestid"
)

// serve runs Middleware over a request carrying header (unless empty) and
// returns the id the handler saw and the id echoed in the response.
func serve(t *testing.T, header string) (seen, echoed string) {
	t.Helper()
	h := requestid.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestid.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
	if header != "" {
		req.Header.Set(requestid.Header, header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	return seen, rec.Header().Get(requestid.Header)
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		reused bool
	}{
		{name: "missing", header: ""},
		{name: "uuid from a gateway", header: "550e8400-e29b-41d4-a716-446655440000", reused: true},
		{name: "client token", header: "ABC-123_xyz", reused: true},
		{name: "at length limit", header: strings.Repeat("a", 128), reused: true},
		{name: "over length limit", header: strings.Repeat("a", 129)},
		{name: "spaces", header: "login attempt 1"},
		{name: "log injection", header: "abc\nlevel=ERROR"},
		{name: "markup", header: "<script>alert(1)</script>"},
		{name: "path", header: "a/b/c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			seen, echoed := serve(t, tt.header)
			require.NotEmpty(t, seen)
			assert.Equal(t, seen, echoed)
			if tt.reused {
				assert.Equal(t, tt.header, seen)
				return
			}
			assert.NotEqual(t, tt.header, seen)
			assert.Len(t, seen, 36)
		})
	}
}

func TestEnsure(t *testing.T) {
	t.Parallel()

	t.Run("keeps an existing id", func(t *testing.T) {
		t.Parallel()
		ctx := requestid.WithContext(context.Background(), "req-1")
		got, id := requestid.Ensure(ctx)
		assert.Equal(t, "req-1", id)
		assert.Equal(t, ctx, got)
	})

	t.Run("attaches a fresh id", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, requestid.FromContext(context.Background()))
		ctx, id := requestid.Ensure(context.Background())
		require.NotEmpty(t, id)
		assert.Equal(t, id, requestid.FromContext(ctx))

		_, other := requestid.Ensure(context.Background())
		assert.NotEqual(t, id, other, "each run gets its own id")
	})
}

func TestNew(t *testing.T) {
	t.Parallel()
	a, b := requestid.New(), requestid.New()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
	assert.Less(t, a, b, "ids are time ordered")
}
