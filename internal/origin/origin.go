// Package origin implements the browser Origin admission policy for the
// WebSocket endpoint and the room listing API.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Policy decides whether a browser origin may connect.
//
// With a non-empty allowlist, each entry must be "*" or a normalized origin
// (scheme://host[:port], lowercase, default port stripped). With an empty
// allowlist the policy is same-host: the Origin's host[:port] must equal the
// request's Host header.
type Policy struct {
	allowed []string
}

func NewPolicy(allowedOrigins []string) *Policy {
	normalized := make([]string, 0, len(allowedOrigins))
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" {
			normalized = append(normalized, o)
			continue
		}
		if n, _, ok := Normalize(o); ok {
			normalized = append(normalized, n)
		}
	}
	return &Policy{allowed: normalized}
}

// Allow reports whether a request with the given Origin header and request
// Host may proceed. Requests without an Origin header (non-browser clients)
// are always allowed.
func (p *Policy) Allow(originHeader, requestHost string) bool {
	if strings.TrimSpace(originHeader) == "" {
		return true
	}
	norm, originHost, ok := Normalize(originHeader)
	if !ok {
		return false
	}

	if len(p.allowed) > 0 {
		for _, a := range p.allowed {
			if a == "*" || a == norm {
				return true
			}
		}
		return false
	}

	// Same-host default. Scheme is deliberately ignored: behind a
	// TLS-terminating proxy the request arrives as HTTP while the browser
	// Origin says HTTPS.
	if norm == "null" {
		return false
	}
	scheme := "https"
	if strings.HasPrefix(norm, "http://") {
		scheme = "http"
	}
	reqHost, ok := normalizeHost(requestHost, scheme)
	if !ok {
		return false
	}
	return originHost == reqHost
}

// Normalize validates and canonicalizes an Origin header value. It returns
// the normalized origin and its host[:port] part. The literal "null" origin
// normalizes to itself with an empty host.
func Normalize(originHeader string) (normalized, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || (u.Path != "" && u.Path != "/") {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = normalizeHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// normalizeHost lowercases host[:port], validates the port, brackets IPv6
// literals and strips the scheme's default port.
func normalizeHost(raw, scheme string) (string, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return "", false
	}

	hostname := raw
	portStr := ""
	if strings.HasPrefix(raw, "[") {
		end := strings.IndexByte(raw, ']')
		if end < 0 {
			return "", false
		}
		hostname = raw[1:end]
		rest := raw[end+1:]
		if rest != "" {
			if !strings.HasPrefix(rest, ":") || len(rest) == 1 {
				return "", false
			}
			portStr = rest[1:]
		}
	} else if i := strings.IndexByte(raw, ':'); i >= 0 {
		if strings.Count(raw, ":") > 1 {
			// Unbracketed IPv6 is not a valid authority.
			return "", false
		}
		hostname, portStr = raw[:i], raw[i+1:]
		if hostname == "" || portStr == "" {
			return "", false
		}
	}
	if hostname == "" {
		return "", false
	}

	var port uint64
	if portStr != "" {
		n, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}
