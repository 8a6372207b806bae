package middleware

import (
	"net/http"

	"go.uber.org/zap"
)

// Recovery converts a panicking handler into a 500 instead of taking down
// the connection, mirroring §7's "unexpected exceptions are caught at the
// boundary and converted to Internal" rule for failures the dispatcher's
// own error path never sees.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
					http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
