package middleware

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/upb/agent-governance/internal/shared"
)

// RequestIDHeader carries the request ID on requests and responses.
const RequestIDHeader = "X-Request-ID"

// RequestContext copies the request ID into the shared context key used by
// loggers and audit entries and echoes it to the client. An incoming
// X-Request-ID wins over the one chi generated.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = chimw.GetReqID(ctx)
		}

		if id != "" {
			ctx = shared.WithRequestID(ctx, id)
		}
		ctx, id = shared.EnsureRequestID(ctx)

		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
