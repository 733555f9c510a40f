package clientip

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

var ErrInvalidProxy = errors.New("clientip.invalid_trusted_proxy")

// DefaultHeaders are consulted in order when the peer is a trusted proxy.
var DefaultHeaders = []string{"CF-Connecting-IP", "X-Forwarded-For", "X-Real-IP"}

// Resolver extracts the client address of a request. Forwarding headers are
// honoured only when the direct peer is a trusted proxy, so clients cannot
// spoof their address to dodge login throttling.
type Resolver struct {
	trusted []netip.Prefix
	headers []string
}

// New builds a resolver trusting the given CIDRs or bare addresses. With no
// headers, DefaultHeaders are used.
func New(trustedProxies []string, headers ...string) (*Resolver, error) {
	r := &Resolver{headers: headers}
	if len(r.headers) == 0 {
		r.headers = DefaultHeaders
	}
	for _, raw := range trustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrInvalidProxy, raw)
			}
			r.trusted = append(r.trusted, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidProxy, raw)
		}
		r.trusted = append(r.trusted, p.Masked())
	}
	return r, nil
}

// IP returns the normalized client address, or "" when none can be parsed.
func (r *Resolver) IP(req *http.Request) string {
	peer := parse(hostOf(req.RemoteAddr))
	if !peer.IsValid() {
		return ""
	}
	if !r.isTrusted(peer) {
		return peer.String()
	}

	for _, h := range r.headers {
		v := req.Header.Get(h)
		if v == "" {
			continue
		}
		if !strings.EqualFold(h, "X-Forwarded-For") {
			if addr := parse(v); addr.IsValid() {
				return addr.String()
			}
			continue
		}
		// Walk right to left, skipping our own proxies: the rightmost
		// untrusted hop is the first address nobody upstream could forge.
		hops := strings.Split(v, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			addr := parse(hops[i])
			if !addr.IsValid() {
				break
			}
			if !r.isTrusted(addr) {
				return addr.String()
			}
		}
	}
	return peer.String()
}

func (r *Resolver) isTrusted(addr netip.Addr) bool {
	for _, p := range r.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func hostOf(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}

func parse(s string) netip.Addr {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}
	}
	return addr.Unmap().WithZone("")
}
