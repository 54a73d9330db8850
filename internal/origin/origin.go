// Package origin validates browser Origin headers for the signaling
// endpoint.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates an Origin header and reduces it to a canonical
// scheme://host[:port] form. Default ports are stripped so that
// "https://a.example:443" and "https://a.example" compare equal. The special
// value "null" is preserved as-is.
func Normalize(header string) (normalized string, ok bool) {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return "", false
	}
	if trimmed == "null" {
		return "null", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	// An Origin is an authority only; anything more means a forged header.
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || (u.Path != "" && u.Path != "/") {
		return "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	host, ok := canonicalHost(u.Host, scheme)
	if !ok {
		return "", false
	}
	return scheme + "://" + host, true
}

// Allowed reports whether a normalized origin may open a signaling
// connection. A non-empty allowlist matches entries exactly, with "*"
// admitting everything. An empty allowlist falls back to same-host: the
// origin's host[:port] must equal the request's Host header. Scheme is not
// compared because a TLS-terminating proxy may downgrade the request to
// plain HTTP.
func Allowed(normalized, requestHost string, allowlist []string) bool {
	for _, entry := range allowlist {
		if entry == "*" || entry == normalized {
			return true
		}
	}
	if len(allowlist) > 0 {
		return false
	}

	scheme, originHost, found := strings.Cut(normalized, "://")
	if !found {
		// "null" and other schemeless values never match a host.
		return false
	}
	reqHost, ok := canonicalHost(strings.ToLower(strings.TrimSpace(requestHost)), scheme)
	if !ok {
		return false
	}
	return originHost == reqHost
}

// canonicalHost lowercases a host[:port] authority, brackets IPv6 literals,
// and strips the scheme's default port.
func canonicalHost(authority, scheme string) (string, bool) {
	hostname, rawPort, ok := splitHostPort(authority)
	if !ok || hostname == "" {
		return "", false
	}
	hostname = strings.ToLower(hostname)

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
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

// splitHostPort splits a host[:port] authority. IPv6 literals are returned
// without brackets; the port is returned unvalidated and empty when absent.
func splitHostPort(authority string) (hostname, port string, ok bool) {
	if authority == "" {
		return "", "", false
	}

	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", "", false
		}
		hostname = authority[1:end]
		rest := authority[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		if !strings.HasPrefix(rest, ":") || len(rest) == 1 {
			return "", "", false
		}
		return hostname, rest[1:], true
	}

	switch strings.Count(authority, ":") {
	case 0:
		return authority, "", true
	case 1:
		hostname, port, _ = strings.Cut(authority, ":")
		if hostname == "" || port == "" {
			return "", "", false
		}
		return hostname, port, true
	default:
		// Unbracketed IPv6 literals are not valid authorities.
		return "", "", false
	}
}
