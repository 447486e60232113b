package middleware

// Error categories surfaced to MCP clients.
const (
	ErrCategoryInvalidRequest = "invalid_request"
	ErrCategorySessionClosed  = "session_closed"
)

// BridgeError is an error surfaced to the MCP client with a stable
// category prefix so agents can branch on it.
type BridgeError struct {
	Category string
	Message  string
}

func (e *BridgeError) Error() string {
	if e.Category == "" {
		return e.Message
	}
	return e.Category + ": " + e.Message
}
