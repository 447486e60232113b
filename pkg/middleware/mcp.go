package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-tool-bridge/pkg/mcpcontext"
)

const methodToolsCall = "tools/call"

// SessionTracker resolves transport-session ids for incoming calls.
// Satisfied by *dispatch.Dispatcher.
type SessionTracker interface {
	EnsureSession(id string) (string, error)
}

// MCPToolCallMiddleware creates MCP protocol-level middleware that
// intercepts tools/call requests. For each call it:
//  1. Extracts the tool name from the request
//  2. Derives a stable conversation key for the connection and resolves it
//     through the tracker (a closed id is rejected without reaching the
//     handler)
//  3. Stamps a BridgeContext, the transport-session id, and the server
//     session into the context
func MCPToolCallMiddleware(tracker SessionTracker) mcp.Middleware {
	keys := newSessionKeyTable()
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method != methodToolsCall {
				return next(ctx, method, req)
			}

			toolName, err := extractToolName(req)
			if err != nil {
				return createErrorResult(&BridgeError{
					Category: ErrCategoryInvalidRequest,
					Message:  fmt.Sprintf("invalid request: %v", err),
				}), nil
			}

			transportID, err := tracker.EnsureSession(keys.conversationID(req))
			if err != nil {
				return createErrorResult(&BridgeError{
					Category: ErrCategorySessionClosed,
					Message:  "this conversation has been closed; start a new session and retry",
				}), nil
			}

			bc := NewBridgeContext(generateRequestID())
			bc.ToolName = toolName
			bc.TransportSessionID = transportID
			ctx = WithBridgeContext(ctx, bc)
			ctx = mcpcontext.WithTransportSessionID(ctx, transportID)
			if ss := serverSession(req); ss != nil {
				ctx = mcpcontext.WithServerSession(ctx, ss)
			}

			result, err := next(ctx, method, req)

			bc.Duration = time.Since(bc.StartTime)
			bc.Success = err == nil && !isErrorResult(result)
			if err != nil {
				bc.ErrorMessage = err.Error()
			}
			return result, err
		}
	}
}

// MCPCallLoggingMiddleware logs every tool call with its outcome. Position
// it inner to MCPToolCallMiddleware so BridgeContext is populated.
func MCPCallLoggingMiddleware() mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method != methodToolsCall {
				return next(ctx, method, req)
			}

			start := time.Now()
			result, err := next(ctx, method, req)

			attrs := []any{"duration_ms", time.Since(start).Milliseconds()}
			if bc := GetBridgeContext(ctx); bc != nil {
				attrs = append(attrs,
					"tool", bc.ToolName,
					"request_id", bc.RequestID,
					"transport_session_id", bc.TransportSessionID,
				)
			}
			switch {
			case err != nil:
				slog.Error("tool call failed", append(attrs, "error", err)...)
			case isErrorResult(result):
				slog.Warn("tool call returned error result", attrs...)
			default:
				slog.Info("tool call completed", attrs...)
			}
			return result, err
		}
	}
}

// extractToolName extracts the tool name from a tools/call request.
func extractToolName(req mcp.Request) (string, error) {
	params := req.GetParams()
	if params == nil {
		return "", fmt.Errorf("missing params")
	}

	callParams, ok := params.(*mcp.CallToolParamsRaw)
	if !ok {
		return "", fmt.Errorf("unexpected params type: %T", params)
	}
	// Type assertion can succeed with a nil pointer.
	if callParams == nil {
		return "", fmt.Errorf("missing params")
	}
	if callParams.Name == "" {
		return "", fmt.Errorf("missing tool name")
	}
	return callParams.Name, nil
}

// sessionKeyTable memoizes a generated conversation id per protocol session.
// The stdio and in-memory transports report an empty session id for the whole
// connection, so the session object is the only stable handle; without the
// memo every call would start a new conversation and drop its association
// link. The table holds one entry per id-less connection for the middleware's
// lifetime.
type sessionKeyTable struct {
	mu  sync.Mutex
	ids map[mcp.Session]string
}

func newSessionKeyTable() *sessionKeyTable {
	return &sessionKeyTable{ids: make(map[mcp.Session]string)}
}

// conversationID returns the transport's session id, or a memoized generated
// id when the transport does not carry one. Requests with no session at all
// return "" and the tracker starts a fresh conversation.
func (t *sessionKeyTable) conversationID(req mcp.Request) string {
	ss := req.GetSession()
	if ss == nil {
		return ""
	}
	// The interface can hold a typed nil *ServerSession.
	if sp, ok := ss.(*mcp.ServerSession); ok && sp == nil {
		return ""
	}
	return t.idFor(ss)
}

// idFor returns the session's own id, or a memoized generated one for
// sessions whose transport reports none.
func (t *sessionKeyTable) idFor(ss mcp.Session) string {
	if id := ss.ID(); id != "" {
		return id
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.ids[ss]
	if !ok {
		id = uuid.NewString()
		t.ids[ss] = id
	}
	return id
}

// serverSession returns the request's server session, or nil when the request
// carries none.
func serverSession(req mcp.Request) *mcp.ServerSession {
	ss, ok := req.GetSession().(*mcp.ServerSession)
	if !ok || ss == nil {
		return nil
	}
	return ss
}

// createErrorResult creates an MCP error result from a bridge error.
func createErrorResult(err *BridgeError) mcp.Result {
	result := &mcp.CallToolResult{}
	result.SetError(err)
	return result
}

// isErrorResult reports whether a tools/call result carries an error.
func isErrorResult(result mcp.Result) bool {
	ctr, ok := result.(*mcp.CallToolResult)
	return ok && ctr != nil && ctr.IsError
}
