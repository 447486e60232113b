// Package http provides HTTP middleware for the bridge's streamable
// transport.
package http

import (
	"net/http"
	"strings"

	"github.com/txn2/mcp-tool-bridge/pkg/mcpcontext"
)

// TokenExtractor returns middleware that copies a bearer credential from
// the Authorization header into the request context, where operation
// handlers pick it up for gate bootstrap. Requests without a credential
// pass through; gating happens per operation, not per request.
func TokenExtractor() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if token, ok := strings.CutPrefix(auth, "Bearer "); ok && token != "" {
				r = r.WithContext(mcpcontext.WithToken(r.Context(), token))
			}
			next.ServeHTTP(w, r)
		})
	}
}
