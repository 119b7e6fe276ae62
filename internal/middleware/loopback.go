package middleware

import (
	"net"
	"net/http"

	"capture-library/internal/logging"
)

// LoopbackOnly rejects requests whose peer is not a loopback address.
func LoopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
			logging.Warn("Refusing request from non-loopback peer %s", sanitizeLogField(r.RemoteAddr))
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
