// Package session implements the Session Endpoint: a Transport plus
// MCP initialize/initialized handshake state.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stephanhaeuslschmid/mcp-proxy/internal/codec"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/transport"
)

// Role is which side of the handshake this Endpoint plays.
type Role int

const (
	// RoleInitiator sends the initialize Request and awaits the Response,
	// i.e. we act as MCP client toward the peer.
	RoleInitiator Role = iota
	// RoleResponder awaits an initialize Request and answers it, i.e. we
	// act as MCP server toward the peer.
	RoleResponder
)

// State is the Session Endpoint's lifecycle.
type State int

const (
	StateUnconfigured State = iota
	StateInitializing
	StateReady
	StateClosed
)

// HandshakeTimeout is the bound on completing initialize/initialized.
// Exceeding it closes the session with ErrHandshakeTimeout.
const HandshakeTimeout = 30 * time.Second

// PendingQueueBound is the maximum number of non-handshake messages
// held while the session is initializing.
const PendingQueueBound = 64

var (
	ErrHandshakeTimeout  = errors.New("session: handshake timeout")
	ErrHandshakeOverflow = errors.New("session: handshake pending queue overflow")
	ErrNotReady          = errors.New("session: not ready")
)

const methodInitialize = "initialize"
const methodInitialized = "notifications/initialized"
const initRequestID = `"mcp-proxy-init"`

// PeerInfo mirrors MCP's clientInfo/serverInfo shape.
type PeerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities"`
	ClientInfo      *PeerInfo       `json:"clientInfo,omitempty"`
}

type initializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities"`
	ServerInfo      *PeerInfo       `json:"serverInfo,omitempty"`
}

// Handshake captures what was negotiated on the counterpart side of
// this Endpoint: its declared capabilities, its identity, and the
// agreed protocol version.
type Handshake struct {
	ProtocolVersion string
	Capabilities    json.RawMessage
	PeerInfo        *PeerInfo
}

// Endpoint wraps a transport.Endpoint with MCP handshake state. After
// reaching Ready, Recv first drains any messages queued while
// initializing, then forwards to the underlying Transport, so callers
// never observe handshake traffic.
type Endpoint struct {
	t    transport.Endpoint
	role Role

	mu        sync.Mutex
	state     State
	handshake Handshake
	pending   []codec.Message
}

// New wraps t for the given role. The Endpoint starts Unconfigured;
// call Initiate or Respond to drive the handshake.
func New(t transport.Endpoint, role Role) *Endpoint {
	return &Endpoint{t: t, role: role, state: StateUnconfigured}
}

func (e *Endpoint) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Handshake returns the negotiated handshake once Ready.
func (e *Endpoint) Handshake() Handshake {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handshake
}

// Initiate performs the Initiator-role handshake: send `initialize`
// with our declared capabilities and clientInfo, await the matching
// Response, send `initialized`, and transition to Ready.
func (e *Endpoint) Initiate(ctx context.Context, ourCapabilities json.RawMessage, clientInfo PeerInfo, protocolVersion string) error {
	e.mu.Lock()
	e.state = StateInitializing
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	params := initializeParams{ProtocolVersion: protocolVersion, Capabilities: ourCapabilities, ClientInfo: &clientInfo}
	req, err := e.buildRequest(methodInitialize, params)
	if err != nil {
		return err
	}
	if err := e.t.Send(ctx, req); err != nil {
		return fmt.Errorf("session: send initialize: %w", err)
	}

	var result initializeResult
	for {
		msg, err := e.recvDuringHandshake(ctx)
		if err != nil {
			return err
		}
		if msg.Kind == codec.KindResponse && string(msg.ID) == initRequestID {
			if err := json.Unmarshal(extractResult(msg.Raw), &result); err != nil {
				return fmt.Errorf("session: decode initialize result: %w", err)
			}
			break
		}
		if err := e.queuePending(msg); err != nil {
			return err
		}
	}

	notif, err := e.buildNotification(methodInitialized, struct{}{})
	if err != nil {
		return err
	}
	if err := e.t.Send(ctx, notif); err != nil {
		return fmt.Errorf("session: send initialized: %w", err)
	}

	e.mu.Lock()
	e.handshake = Handshake{ProtocolVersion: result.ProtocolVersion, Capabilities: result.Capabilities, PeerInfo: result.ServerInfo}
	e.state = StateReady
	e.mu.Unlock()
	return nil
}

// Respond performs the Responder-role handshake: await `initialize`,
// answer with our advertised capabilities and serverInfo, await
// `initialized`, and transition to Ready.
func (e *Endpoint) Respond(ctx context.Context, ourCapabilities json.RawMessage, serverInfo PeerInfo, protocolVersion string) error {
	e.mu.Lock()
	e.state = StateInitializing
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	var params initializeParams
	var reqID json.RawMessage
	for {
		msg, err := e.recvDuringHandshake(ctx)
		if err != nil {
			return err
		}
		if msg.Kind == codec.KindRequest && msg.Method == methodInitialize {
			if err := json.Unmarshal(extractParams(msg.Raw), &params); err != nil {
				return fmt.Errorf("session: decode initialize params: %w", err)
			}
			reqID = msg.ID
			break
		}
		if err := e.queuePending(msg); err != nil {
			return err
		}
	}

	result := initializeResult{ProtocolVersion: protocolVersion, Capabilities: ourCapabilities, ServerInfo: &serverInfo}
	resp, err := e.buildResponse(reqID, result)
	if err != nil {
		return err
	}
	if err := e.t.Send(ctx, resp); err != nil {
		return fmt.Errorf("session: send initialize response: %w", err)
	}

	for {
		msg, err := e.recvDuringHandshake(ctx)
		if err != nil {
			return err
		}
		if msg.Kind == codec.KindNotification && msg.Method == methodInitialized {
			break
		}
		if err := e.queuePending(msg); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.handshake = Handshake{ProtocolVersion: params.ProtocolVersion, Capabilities: params.Capabilities, PeerInfo: params.ClientInfo}
	e.state = StateReady
	e.mu.Unlock()
	return nil
}

func (e *Endpoint) recvDuringHandshake(ctx context.Context) (codec.Message, error) {
	msg, err := e.t.Recv(ctx)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			e.mu.Lock()
			e.state = StateClosed
			e.mu.Unlock()
			return codec.Message{}, fmt.Errorf("%w", ErrHandshakeTimeout)
		}
		return codec.Message{}, err
	}
	return msg, nil
}

func (e *Endpoint) queuePending(msg codec.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) >= PendingQueueBound {
		e.state = StateClosed
		return fmt.Errorf("%w", ErrHandshakeOverflow)
	}
	e.pending = append(e.pending, msg)
	return nil
}

// Send forwards msg to the underlying Transport. The caller must not
// call Send before Ready.
func (e *Endpoint) Send(ctx context.Context, msg codec.Message) error {
	if e.State() != StateReady {
		return ErrNotReady
	}
	return e.t.Send(ctx, msg)
}

// Recv returns the next non-handshake message: first draining any
// queued during initialization (in order), then reading from the
// Transport directly.
func (e *Endpoint) Recv(ctx context.Context) (codec.Message, error) {
	if e.State() != StateReady {
		return codec.Message{}, ErrNotReady
	}
	e.mu.Lock()
	if len(e.pending) > 0 {
		msg := e.pending[0]
		e.pending = e.pending[1:]
		e.mu.Unlock()
		return msg, nil
	}
	e.mu.Unlock()
	return e.t.Recv(ctx)
}

// Close closes the underlying Transport.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	e.state = StateClosed
	e.mu.Unlock()
	return e.t.Close()
}

func (e *Endpoint) buildRequest(method string, params any) (codec.Message, error) {
	raw, err := marshalEnvelope(map[string]any{
		"jsonrpc": "2.0",
		"id":      json.RawMessage(initRequestID),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return codec.Message{}, err
	}
	return codec.Decode(raw)
}

func (e *Endpoint) buildNotification(method string, params any) (codec.Message, error) {
	raw, err := marshalEnvelope(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return codec.Message{}, err
	}
	return codec.Decode(raw)
}

func (e *Endpoint) buildResponse(id json.RawMessage, result any) (codec.Message, error) {
	raw, err := marshalEnvelope(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
	if err != nil {
		return codec.Message{}, err
	}
	return codec.Decode(raw)
}

func marshalEnvelope(v map[string]any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("session: marshal envelope: %w", err)
	}
	return raw, nil
}

func extractParams(raw json.RawMessage) json.RawMessage {
	var env struct {
		Params json.RawMessage `json:"params"`
	}
	_ = json.Unmarshal(raw, &env)
	return env.Params
}

func extractResult(raw json.RawMessage) json.RawMessage {
	var env struct {
		Result json.RawMessage `json:"result"`
	}
	_ = json.Unmarshal(raw, &env)
	return env.Result
}
