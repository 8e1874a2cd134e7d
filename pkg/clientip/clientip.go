// Package clientip extracts the originating client IP from HTTP
// requests behind common reverse proxies. The gateway keys its rate
// limiter on this value.
package clientip

import (
	"net"
	"net/http"
	"strings"
)

// GetIP returns the client's IP address. Proxy headers are checked in
// order of trustworthiness before falling back to the socket address:
// X-Forwarded-For (first valid entry), X-Real-IP, RemoteAddr.
func GetIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		for ip := range strings.SplitSeq(forwarded, ",") {
			if parsed := parseIP(strings.TrimSpace(ip)); parsed != "" {
				return parsed
			}
		}
	}

	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if parsed := parseIP(ip); parsed != "" {
			return parsed
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr may already be a bare IP.
		return parseIP(r.RemoteAddr)
	}
	return parseIP(host)
}

// parseIP validates and normalizes an IP string, returning "" if invalid.
func parseIP(s string) string {
	ip := net.ParseIP(s)
	if ip == nil {
		return ""
	}
	return ip.String()
}
