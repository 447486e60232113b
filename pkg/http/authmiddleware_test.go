package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/txn2/mcp-tool-bridge/pkg/mcpcontext"
)

func TestTokenExtractor(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantToken string
	}{
		{"bearer token extracted", "Bearer tok-1", "tok-1"},
		{"no header", "", ""},
		{"non-bearer scheme ignored", "Basic dXNlcjpwYXNz", ""},
		{"empty bearer ignored", "Bearer ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotToken string
			next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				gotToken = mcpcontext.GetToken(r.Context())
			})

			req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			TokenExtractor()(next).ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.wantToken, gotToken)
		})
	}
}
