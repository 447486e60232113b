// Package mcpcontext provides context helpers for MCP session state.
// These are in a separate package to avoid import cycles between
// middleware and bridge packages.
package mcpcontext

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// contextKey is a private type for context keys.
type contextKey int

const (
	serverSessionKey contextKey = iota
	transportSessionKey
	tokenKey
)

// WithServerSession adds a ServerSession to the context.
func WithServerSession(ctx context.Context, ss *mcp.ServerSession) context.Context {
	return context.WithValue(ctx, serverSessionKey, ss)
}

// GetServerSession retrieves the ServerSession from the context.
func GetServerSession(ctx context.Context) *mcp.ServerSession {
	ss, _ := ctx.Value(serverSessionKey).(*mcp.ServerSession)
	return ss
}

// WithTransportSessionID adds the transport-session id to the context.
func WithTransportSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, transportSessionKey, id)
}

// GetTransportSessionID retrieves the transport-session id, or "" when the
// call arrived outside a tracked conversation.
func GetTransportSessionID(ctx context.Context) string {
	id, _ := ctx.Value(transportSessionKey).(string)
	return id
}

// WithToken adds a bearer credential to the context.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// GetToken retrieves the bearer credential from the context.
func GetToken(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}
