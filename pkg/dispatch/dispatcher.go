// Package dispatch owns the operation registry and the transport-session
// table. Every call flows through the dispatcher: it ensures a live
// transport session, consults the authentication gate for gated operations,
// and invokes the operation executor with any resolved credential.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/txn2/mcp-tool-bridge/pkg/assoc"
	"github.com/txn2/mcp-tool-bridge/pkg/gate"
)

var (
	// ErrSessionClosed is returned when a call arrives on a closed
	// transport-session id. Closed ids are never resurrected; the caller
	// must start a new conversation.
	ErrSessionClosed = errors.New("transport session closed")

	// ErrUnknownOperation is returned for a dispatch to an unregistered
	// operation name.
	ErrUnknownOperation = errors.New("unknown operation")
)

// State is a transport session's lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TransportSession is one live conversation, owned exclusively by the
// dispatcher.
type TransportSession struct {
	ID         string
	State      State
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// OperationSpec declares one backend operation.
type OperationSpec struct {
	Name        string
	Description string

	// Gated marks the operation as requiring authentication.
	Gated bool

	// RequiredScope, when set, must be carried by the caller's session.
	RequiredScope string

	// KeyProperties name the argument(s) forming the resource locator, in
	// declared order.
	KeyProperties []string
}

// Executor runs operations against the backend. The credential is non-nil
// only when the gate resolved one; results and errors pass through the
// dispatcher unchanged.
type Executor interface {
	Execute(ctx context.Context, operation string, args map[string]any, credential *gate.Credential) (any, error)
}

// Outcome is the result of one dispatch. Exactly one of Result or Denial is
// meaningful: Denial is set when the gate refused the call and the executor
// was not invoked.
type Outcome struct {
	TransportID string
	Result      any
	Denial      *gate.Denial
}

// Dispatcher routes calls to the executor, gating them first.
type Dispatcher struct {
	mu       sync.RWMutex
	sessions map[string]*TransportSession
	ops      map[string]OperationSpec
	order    []string

	gate     *gate.Gate
	index    *assoc.Index
	executor Executor

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a dispatcher. The index receives Register/Forget calls as
// transport sessions come and go, which feeds auto-association.
func New(g *gate.Gate, index *assoc.Index, executor Executor) *Dispatcher {
	return &Dispatcher{
		sessions: make(map[string]*TransportSession),
		ops:      make(map[string]OperationSpec),
		gate:     g,
		index:    index,
		executor: executor,
	}
}

// Register adds an operation to the registry. Duplicate names are rejected.
func (d *Dispatcher) Register(spec OperationSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("operation name is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.ops[spec.Name]; exists {
		return fmt.Errorf("operation %q already registered", spec.Name)
	}
	d.ops[spec.Name] = spec
	d.order = append(d.order, spec.Name)
	return nil
}

// Operations returns the registered operations in declaration order.
func (d *Dispatcher) Operations() []OperationSpec {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]OperationSpec, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.ops[name])
	}
	return out
}

// Operation returns a registered operation spec by name.
func (d *Dispatcher) Operation(name string) (OperationSpec, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	spec, ok := d.ops[name]
	return spec, ok
}

// EnsureSession looks up or creates the transport session for a call and
// returns its id. An empty id starts a new conversation. A known id still
// in play is idempotent and bumps its idle clock; a closed id is rejected
// with ErrSessionClosed. The first successful call activates the session.
func (d *Dispatcher) EnsureSession(id string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	sess, ok := d.sessions[id]
	if !ok {
		now := time.Now()
		d.sessions[id] = &TransportSession{
			ID:         id,
			State:      StateActive,
			CreatedAt:  now,
			LastSeenAt: now,
		}
		d.index.Register(id)
		slog.Debug("dispatch: transport session created", "transport_session_id", id)
		return id, nil
	}

	switch sess.State {
	case StateClosed:
		return "", fmt.Errorf("%w: %s", ErrSessionClosed, id)
	case StateUninitialized:
		sess.State = StateActive
	}
	sess.LastSeenAt = time.Now()
	return id, nil
}

// Session returns a snapshot of the transport session, or nil when unknown.
func (d *Dispatcher) Session(id string) *TransportSession {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sess, ok := d.sessions[id]
	if !ok {
		return nil
	}
	snapshot := *sess
	return &snapshot
}

// CloseSession transitions a transport session to CLOSED and drops its
// association link. Closing an already-closed or unknown id is a no-op.
// The closed id remains in the table as a tombstone so it cannot be
// resurrected; the reaper deletes tombstones after the idle window passes.
func (d *Dispatcher) CloseSession(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeLocked(id)
}

func (d *Dispatcher) closeLocked(id string) {
	sess, ok := d.sessions[id]
	if !ok || sess.State == StateClosed {
		return
	}
	sess.State = StateClosed
	// The tombstone's retention clock starts at closure.
	sess.LastSeenAt = time.Now()
	d.index.Forget(id)
	slog.Info("dispatch: transport session closed", "transport_session_id", id)
}

// ActiveSessions counts transport sessions not yet closed.
func (d *Dispatcher) ActiveSessions() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, sess := range d.sessions {
		if sess.State != StateClosed {
			n++
		}
	}
	return n
}

// Dispatch executes one operation call. Gated operations consult the gate
// first; a denial is returned in the outcome without invoking the executor.
// Executor results and errors pass through unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, transportID, operation string, args map[string]any, authReq gate.Request) (*Outcome, error) {
	transportID, err := d.EnsureSession(transportID)
	if err != nil {
		return nil, err
	}

	spec, ok := d.Operation(operation)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, operation)
	}

	var credential *gate.Credential
	if spec.Gated {
		res := d.gate.Authenticate(ctx, transportID, operation, authReq)
		if !res.Authenticated {
			slog.Info("dispatch: call denied",
				"operation", operation,
				"transport_session_id", transportID,
				"status", res.Status,
			)
			return &Outcome{TransportID: transportID, Denial: res.Denial}, nil
		}
		credential = res.Credential
	}

	if len(spec.KeyProperties) > 0 {
		locator, err := BuildLocator(spec.KeyProperties, args)
		if err != nil {
			return nil, fmt.Errorf("operation %q: %w", operation, err)
		}
		// Hand the executor its own copy so the caller's map is untouched.
		enriched := make(map[string]any, len(args)+1)
		for k, v := range args {
			enriched[k] = v
		}
		enriched["locator"] = locator
		args = enriched
	}

	result, err := d.executor.Execute(ctx, operation, args, credential)
	if err != nil {
		return nil, err
	}
	return &Outcome{TransportID: transportID, Result: result}, nil
}

// StartReaper launches the idle transport-session reaper. Sessions idle
// longer than maxIdle are closed. Call Close to stop it.
func (d *Dispatcher) StartReaper(interval, maxIdle time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.ReapIdle(maxIdle)
			}
		}
	}()
}

// ReapIdle closes transport sessions idle longer than maxIdle and returns
// how many were closed. Tombstones older than the same window are deleted,
// so resurrection of a closed id is refused only while the tombstone is
// retained; after that a reused id starts a fresh conversation (best-effort
// cleanup, time-bounded).
func (d *Dispatcher) ReapIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	d.mu.Lock()
	defer d.mu.Unlock()
	reaped := 0
	dropped := 0
	for id, sess := range d.sessions {
		if !sess.LastSeenAt.Before(cutoff) {
			continue
		}
		if sess.State == StateClosed {
			delete(d.sessions, id)
			dropped++
			continue
		}
		d.closeLocked(id)
		reaped++
	}
	if reaped > 0 || dropped > 0 {
		slog.Debug("dispatch: idle sessions reaped",
			"closed", reaped, "tombstones_dropped", dropped)
	}
	return reaped
}

// Close stops the reaper and closes all transport sessions.
func (d *Dispatcher) Close() error {
	if d.cancel != nil {
		d.cancel()
		<-d.done
		d.cancel = nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for id := range d.sessions {
		d.closeLocked(id)
	}
	return nil
}
