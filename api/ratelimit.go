package api

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/sushazhi/fnos-logmanager/audit"
)

// RateLimit counts every request against the fixed-window limiter keyed by
// client address. Refusals carry Retry-After and the first refusal of a
// window is audited.
func (a *API) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := a.clientIP(r)
		d := a.limiter.Allow(ip)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(a.limiter.Limit()))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			a.metrics.gate(gateRateLimit, false)
			if d.FirstRejection {
				a.record(r, audit.ActionRateLimited, map[string]any{"path": r.URL.Path})
			}
			writeRateLimited(w, d.ResetAt.Sub(a.clock.Now()), errRateLimited)
			return
		}
		a.metrics.gate(gateRateLimit, true)
		next.ServeHTTP(w, r)
	})
}

// writeRateLimited sends a 429 Too Many Requests response.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration, e *apiError) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeAPIError(w, e)
}

func retryAfterString(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// clientIP returns the client address used as the throttle and audit key.
func (a *API) clientIP(r *http.Request) string {
	return extractClientIPWithProxies(r, a.trustedProxies)
}

// ParseTrustedProxies turns CIDRs or bare addresses into prefixes.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, err
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// extractClientIPWithProxies returns the best-effort client IP address.
//
// Proxy headers are only honored if the request's RemoteAddr falls within
// one of the trusted prefixes. Forwarding chains are walked from the nearest
// hop outwards and the first address outside the trusted prefixes wins, so
// entries a client prepends never become its key. A malformed hop ends the
// walk at the last trusted address seen.
//
// Priority when proxy headers are trusted:
// 1. X-Forwarded-For chain
// 2. "for=" values of Forwarded
// 3. X-Real-IP
// 4. RemoteAddr
func extractClientIPWithProxies(r *http.Request, trustedProxies []netip.Prefix) string {
	remoteIP, ok := parseIPCandidate(r.RemoteAddr)
	if !ok {
		return "unknown"
	}
	if !trustedAddr(remoteIP, trustedProxies) {
		return remoteIP
	}

	if hops := forwardedForHops(r.Header.Values("X-Forwarded-For")); len(hops) > 0 {
		return clientFromChain(hops, trustedProxies, remoteIP)
	}
	if hops := forwardedHops(r.Header.Values("Forwarded")); len(hops) > 0 {
		return clientFromChain(hops, trustedProxies, remoteIP)
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		if ip, ok := parseIPCandidate(xrip); ok {
			return ip
		}
	}
	return remoteIP
}

func clientFromChain(hops []string, trustedProxies []netip.Prefix, peer string) string {
	last := peer
	for i := len(hops) - 1; i >= 0; i-- {
		ip, ok := parseIPCandidate(hops[i])
		if !ok {
			return last
		}
		if !trustedAddr(ip, trustedProxies) {
			return ip
		}
		last = ip
	}
	return last
}

func trustedAddr(ip string, trustedProxies []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, prefix := range trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// forwardedForHops flattens repeated X-Forwarded-For headers in order.
func forwardedForHops(values []string) []string {
	var hops []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				hops = append(hops, part)
			}
		}
	}
	return hops
}

// forwardedHops returns one "for=" value per Forwarded element. An element
// without one yields an empty hop so the walk stops there.
func forwardedHops(values []string) []string {
	var hops []string
	for _, v := range values {
		for _, elem := range strings.Split(v, ",") {
			if strings.TrimSpace(elem) == "" {
				continue
			}
			hop := ""
			for _, param := range strings.Split(elem, ";") {
				param = strings.TrimSpace(param)
				if strings.HasPrefix(strings.ToLower(param), "for=") {
					hop = param[4:]
					break
				}
			}
			hops = append(hops, hop)
		}
	}
	return hops
}

func parseIPCandidate(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "\"")
	if s == "" {
		return "", false
	}

	// RFC 7239 quoted IPv6 may appear as [::1]:1234.
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	// Drop zone if any (e.g. fe80::1%eth0).
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}
	// IPv4-mapped IPv6 addresses key the same as their IPv4 form.
	return addr.Unmap().String(), true
}
