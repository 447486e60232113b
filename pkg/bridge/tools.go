package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-tool-bridge/pkg/dispatch"
	"github.com/txn2/mcp-tool-bridge/pkg/gate"
	"github.com/txn2/mcp-tool-bridge/pkg/mcpcontext"
	"github.com/txn2/mcp-tool-bridge/pkg/router"
)

// operationInput is the common input shape for operation tools.
type operationInput struct {
	// Args are passed to the backend operation.
	Args map[string]any `json:"args,omitempty"`

	// SessionID is an authentication-session id obtained out-of-band,
	// supplied on the first gated call of a conversation.
	SessionID string `json:"session_id,omitempty"`

	// Token is a raw bearer credential; when present the bridge validates
	// it and establishes a session for this conversation.
	Token string `json:"token,omitempty"`
}

// registerOperationTools exposes every declared operation as an MCP tool.
func (b *Bridge) registerOperationTools() {
	for _, spec := range b.dispatcher.Operations() {
		b.registerOperationTool(spec)
	}
}

func (b *Bridge) registerOperationTool(spec dispatch.OperationSpec) {
	description := spec.Description
	if description == "" {
		description = fmt.Sprintf("Invoke the %s backend operation", spec.Name)
	}
	if spec.Gated {
		description += ". Requires authentication; unauthenticated calls return a denial with a remediation URL."
	}

	mcp.AddTool(b.mcpServer, &mcp.Tool{
		Name:        spec.Name,
		Description: description,
	}, func(ctx context.Context, req *mcp.CallToolRequest, in operationInput) (*mcp.CallToolResult, any, error) {
		return b.handleOperation(ctx, spec.Name, in)
	})
}

// handleOperation dispatches one operation call.
func (b *Bridge) handleOperation(ctx context.Context, operation string, in operationInput) (*mcp.CallToolResult, any, error) {
	token := in.Token
	if token == "" {
		token = mcpcontext.GetToken(ctx)
	}

	out, err := b.dispatcher.Dispatch(ctx, mcpcontext.GetTransportSessionID(ctx), operation, in.Args, gate.Request{
		AuthSessionID: in.SessionID,
		BearerToken:   token,
	})
	if err != nil {
		return errorResult(err), nil, nil
	}
	if out.Denial != nil {
		return jsonResult(out.Denial, true), nil, nil
	}
	return jsonResult(out.Result, false), nil, nil
}

// routeRequestInput is the input for the route_request tool.
type routeRequestInput struct {
	// Request is the natural-language request to classify.
	Request string `json:"request"`
}

// routeResult is the route_request tool output.
type routeResult struct {
	Decision      *router.Decision `json:"decision"`
	Authenticated bool             `json:"authenticated"`
	Denial        *gate.Denial     `json:"denial,omitempty"`
}

// registerRouteTool registers the route_request tool. When the decision
// requires authentication the gate is consulted eagerly, so a multi-step
// workflow cannot proceed on the strength of an unauthenticated routing
// hint.
func (b *Bridge) registerRouteTool() {
	mcp.AddTool(b.mcpServer, &mcp.Tool{
		Name: "route_request",
		Description: "Classify a natural-language request onto a backend operation. " +
			"Returns the chosen operation, confidence, and whether authentication is required. " +
			"Authentication is checked up front when required.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in routeRequestInput) (*mcp.CallToolResult, any, error) {
		return b.handleRouteRequest(ctx, in)
	})
}

func (b *Bridge) handleRouteRequest(ctx context.Context, in routeRequestInput) (*mcp.CallToolResult, any, error) {
	if in.Request == "" {
		return errorResult(fmt.Errorf("request is required")), nil, nil
	}

	decision, err := b.router.Route(ctx, in.Request)
	if err != nil {
		return errorResult(err), nil, nil
	}

	out := routeResult{Decision: decision, Authenticated: true}
	if decision.RequiresAuth {
		res := b.gate.Authenticate(ctx, mcpcontext.GetTransportSessionID(ctx), decision.Operation, gate.Request{})
		out.Authenticated = res.Authenticated
		out.Denial = res.Denial
	}
	return jsonResult(out, out.Denial != nil), nil, nil
}

// sessionStatusInput is empty since this tool has no parameters.
type sessionStatusInput struct{}

// sessionStatus is the session_status tool output. It never carries
// credentials.
type sessionStatus struct {
	TransportSessionID string    `json:"transport_session_id"`
	State              string    `json:"state"`
	Linked             bool      `json:"linked"`
	Identity           string    `json:"identity,omitempty"`
	Scopes             []string  `json:"scopes,omitempty"`
	ExpiresAt          time.Time `json:"expires_at,omitzero"`
}

// registerSessionStatusTool registers the session_status tool.
func (b *Bridge) registerSessionStatusTool() {
	mcp.AddTool(b.mcpServer, &mcp.Tool{
		Name: "session_status",
		Description: "Report the authentication state of the current conversation: " +
			"whether it is linked to a session and, if so, the identity and expiry.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, _ sessionStatusInput) (*mcp.CallToolResult, any, error) {
		return b.handleSessionStatus(ctx)
	})
}

func (b *Bridge) handleSessionStatus(ctx context.Context) (*mcp.CallToolResult, any, error) {
	transportID := mcpcontext.GetTransportSessionID(ctx)

	status := sessionStatus{TransportSessionID: transportID, State: "unknown"}
	if sess := b.dispatcher.Session(transportID); sess != nil {
		status.State = sess.State.String()
	}

	if authID, ok := b.index.Resolve(transportID); ok {
		auth, err := b.store.Get(ctx, authID)
		if err != nil {
			return errorResult(err), nil, nil
		}
		if auth != nil {
			status.Linked = true
			status.Identity = auth.Identity
			status.Scopes = auth.Scopes
			status.ExpiresAt = auth.ExpiresAt
		}
	}
	return jsonResult(status, false), nil, nil
}

// statsInput is empty since this tool has no parameters.
type statsInput struct{}

// bridgeStats is the bridge_stats tool output.
type bridgeStats struct {
	Sessions          any `json:"sessions"`
	Gate              any `json:"gate"`
	TransportSessions int `json:"transport_sessions"`
	LinkedSessions    int `json:"linked_sessions"`
}

// registerStatsTool registers the bridge_stats tool.
func (b *Bridge) registerStatsTool() {
	mcp.AddTool(b.mcpServer, &mcp.Tool{
		Name:        "bridge_stats",
		Description: "Report bridge operational statistics: session counts, gate outcomes, and live conversations.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, _ statsInput) (*mcp.CallToolResult, any, error) {
		return b.handleStats(ctx)
	})
}

func (b *Bridge) handleStats(ctx context.Context) (*mcp.CallToolResult, any, error) {
	storeStats, err := b.store.Stats(ctx)
	if err != nil {
		return errorResult(err), nil, nil
	}
	stats := bridgeStats{
		Sessions:          storeStats,
		Gate:              b.gate.Stats(),
		TransportSessions: b.dispatcher.ActiveSessions(),
		LinkedSessions:    b.index.Linked(),
	}
	return jsonResult(stats, false), nil, nil
}

// authenticateInput is the input for the authenticate tool.
type authenticateInput struct {
	// ServiceKey is a pre-shared key configured on the bridge.
	ServiceKey string `json:"service_key"`
}

// authenticateResult is returned once per exchange; the session id is not
// retrievable afterwards.
type authenticateResult struct {
	SessionID string    `json:"session_id"`
	Identity  string    `json:"identity"`
	Scopes    []string  `json:"scopes,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	Linked    bool      `json:"linked"`
}

// registerAuthenticateTool registers the authenticate tool.
func (b *Bridge) registerAuthenticateTool() {
	mcp.AddTool(b.mcpServer, &mcp.Tool{
		Name: "authenticate",
		Description: "Exchange a service key for an authentication session and link it to this conversation. " +
			"The returned session id is shown once.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in authenticateInput) (*mcp.CallToolResult, any, error) {
		return b.handleAuthenticate(ctx, in)
	})
}

func (b *Bridge) handleAuthenticate(ctx context.Context, in authenticateInput) (*mcp.CallToolResult, any, error) {
	if b.exchanger == nil {
		return errorResult(fmt.Errorf("no service keys configured")), nil, nil
	}
	if in.ServiceKey == "" {
		return errorResult(fmt.Errorf("service_key is required")), nil, nil
	}

	sess, err := b.exchanger.Exchange(ctx, in.ServiceKey)
	if err != nil {
		return errorResult(err), nil, nil
	}
	if sess == nil {
		return jsonResult(&gate.Denial{
			Status:  gate.StatusAuthFailed,
			Message: "The supplied service key was not recognized.",
			Action:  gate.ActionAuthenticate,
		}, true), nil, nil
	}

	out := authenticateResult{
		SessionID: sess.ID,
		Identity:  sess.Identity,
		Scopes:    sess.Scopes,
		ExpiresAt: sess.ExpiresAt,
	}
	if transportID := mcpcontext.GetTransportSessionID(ctx); transportID != "" {
		b.index.Link(transportID, sess.ID)
		out.Linked = true
	} else {
		// Calls routed through the MCP middleware always carry a transport
		// id. Embedders invoking the bridge directly may not; fall back to
		// auto-association, where the first unlinked conversation wins.
		out.Linked = b.index.AutoLink(sess.ID)
	}
	return jsonResult(out, false), nil, nil
}

// jsonResult renders a value as an MCP tool result.
func jsonResult(v any, isError bool) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encoding result: %w", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
		IsError: isError,
	}
}

// errorResult renders an error as an MCP tool result.
func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: "Error: " + err.Error()},
		},
		IsError: true,
	}
}
