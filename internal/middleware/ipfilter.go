package middleware

import (
	"net"
	"net/http"

	"github.com/docvault/engine/pkg/ipfilter"
)

// IPFilter rejects requests from banned IPs before they reach the
// dispatcher, per spec §4.8.
func IPFilter(filter *ipfilter.Filter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r)
			if filter.IsBanned(ip) {
				http.Error(w, `{"error":"ip banned"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
