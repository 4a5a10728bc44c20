package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/meridian-cms/audittrail/pkg/contextkeys"
)

// HeaderRequestID carries the request ID across service boundaries.
const HeaderRequestID = "X-Request-Id"

// RequestID assigns every request a UUID (or adopts the one the gateway
// already set) and echoes it back in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, requestID)

		ctx := contextkeys.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
