package fingerprint

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"slices"
	"strings"
)

// Token hashes one token. Sessions store hashes, never raw tokens.
func Token(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// TokenPair hashes an access and refresh token together.
func TokenPair(access, refresh string) string {
	h := sha256.New()
	h.Write([]byte(access))
	h.Write([]byte{0})
	h.Write([]byte(refresh))
	return hex.EncodeToString(h.Sum(nil))
}

// Equal compares two hex hashes in constant time.
func Equal(a, b string) bool {
	return a != "" && hmac.Equal([]byte(a), []byte(b))
}

// stableHeaders are present on nearly every browser request, so their set
// distinguishes clients without flapping between requests.
var stableHeaders = []string{
	"accept", "accept-encoding", "accept-language", "cache-control",
	"connection", "sec-fetch-dest", "sec-fetch-mode", "sec-fetch-site",
	"upgrade-insecure-requests", "user-agent",
}

// Device derives a 32 character identifier of the requesting browser from
// its User-Agent, Accept headers and the set of stable headers present. The
// client IP is left out: it changes as mobile clients roam.
func Device(r *http.Request) string {
	var present []string
	for name := range r.Header {
		if n := strings.ToLower(name); slices.Contains(stableHeaders, n) {
			present = append(present, n)
		}
	}
	slices.Sort(present)

	parts := []string{
		r.UserAgent(),
		r.Header.Get("Accept-Language"),
		r.Header.Get("Accept-Encoding"),
		r.Header.Get("Accept"),
		strings.Join(present, ","),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:16])
}
