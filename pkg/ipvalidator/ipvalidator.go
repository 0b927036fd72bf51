package ipvalidator

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Allowlist validates remote addresses against a list of allowed IPs/CIDRs.
// An empty Allowlist places no restriction.
type Allowlist struct {
	prefixes []netip.Prefix
}

// New accepts both CIDR ranges and single IPs.
func New(allowed []string) (*Allowlist, error) {
	a := &Allowlist{
		prefixes: make([]netip.Prefix, 0, len(allowed)),
	}
	for _, s := range allowed {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.Contains(s, "/") {
			addr, err := netip.ParseAddr(s)
			if err != nil {
				return nil, fmt.Errorf("invalid IP address: %s", s)
			}
			addr = addr.Unmap()
			a.prefixes = append(a.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("invalid IP/CIDR '%s': %w", s, err)
		}
		a.prefixes = append(a.prefixes, p.Masked())
	}
	return a, nil
}

// Restricted reports whether any prefix is configured.
func (a *Allowlist) Restricted() bool {
	return a != nil && len(a.prefixes) > 0
}

// Allows checks an address, optionally in "IP:port" form as found in RemoteAddr.
func (a *Allowlist) Allows(addr string) bool {
	if !a.Restricted() {
		return true
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip, err := netip.ParseAddr(strings.TrimSpace(host))
	if err != nil {
		return false
	}
	ip = ip.Unmap()
	for _, p := range a.prefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// Middleware rejects requests whose remote address is not allowed.
func (a *Allowlist) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Allows(r.RemoteAddr) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Prefixes returns the parsed networks, for logging.
func (a *Allowlist) Prefixes() []string {
	if a == nil {
		return nil
	}
	out := make([]string, len(a.prefixes))
	for i, p := range a.prefixes {
		out[i] = p.String()
	}
	return out
}
