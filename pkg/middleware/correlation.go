package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// CorrelationIDHeader is the request header carrying the client-supplied
// correlation id.
const CorrelationIDHeader = "X-Correlation-ID"

type correlationKey struct{}

// CorrelationID returns middleware that ensures every request carries a
// correlation id: the client's if present, a fresh one otherwise. The id is
// stored on the request context and echoed in the response header.
func CorrelationID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(CorrelationIDHeader)
			if id == "" {
				id = uuid.New().String()
			}

			w.Header().Set(CorrelationIDHeader, id)
			ctx := context.WithValue(r.Context(), correlationKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CorrelationIDFrom returns the correlation id stored on the context, or ""
// if the middleware did not run.
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
