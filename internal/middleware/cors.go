package middleware

import "net/http"

// CORS allows cross-origin callers to reach the action dispatcher. The
// wire protocol's verbs are GET, PUT, UPDATE and DELETE (§4.6); UPDATE is
// not a standard HTTP method so it must be explicitly allowed here.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, UPDATE, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Token, Authorization")
		w.Header().Set("Access-Control-Expose-Headers", "Internal-Status, Additional-Information, Ratelimit-Limit, Ratelimit-Remaining, Ratelimit-Reset")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

