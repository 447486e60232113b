// Package middleware provides MCP protocol-level receiving middleware for
// the bridge: per-call context, transport-session tracking, and call
// logging.
package middleware

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// contextKey is a private type for context keys.
type contextKey int

const bridgeContextKey contextKey = iota

// BridgeContext holds bridge-specific context for one tool call.
type BridgeContext struct {
	// Request identification
	RequestID          string
	TransportSessionID string
	StartTime          time.Time

	// Tool information
	ToolName string

	// Results (populated after the handler)
	Success      bool
	ErrorMessage string
	Duration     time.Duration
}

// NewBridgeContext creates a new bridge context.
func NewBridgeContext(requestID string) *BridgeContext {
	return &BridgeContext{
		RequestID: requestID,
		StartTime: time.Now(),
	}
}

// WithBridgeContext adds bridge context to the context.
func WithBridgeContext(ctx context.Context, bc *BridgeContext) context.Context {
	return context.WithValue(ctx, bridgeContextKey, bc)
}

// GetBridgeContext retrieves bridge context from the context.
func GetBridgeContext(ctx context.Context) *BridgeContext {
	if bc, ok := ctx.Value(bridgeContextKey).(*BridgeContext); ok {
		return bc
	}
	return nil
}

// generateRequestID creates a request ID.
func generateRequestID() string {
	return "req-" + uuid.NewString()
}
