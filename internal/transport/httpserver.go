package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/stephanhaeuslschmid/mcp-proxy/internal/codec"
)

// HTTPServerEndpoint is the ingress leg of mode 2 (HTTP server → stdio
// children): a channel-mediated Endpoint that the HTTP Server Front-End
// (internal/httpfrontend) drives from either an SSE GET stream plus a
// companion POST handler, or a single Streamable HTTP POST/GET
// endpoint. The endpoint itself knows nothing about HTTP; the
// front-end calls Push for inbound client messages and drains
// Outbound to deliver messages queued via Send.
type HTTPServerEndpoint struct {
	info Info

	inbound  chan codec.Message
	outbound chan codec.Message

	closeOnce sync.Once
	closed    chan struct{}
}

// NewHTTPServerEndpoint creates a server-role endpoint identified by
// name (for logging/status), with a bounded inbound/outbound queue
// depth of 100.
func NewHTTPServerEndpoint(name string) *HTTPServerEndpoint {
	return &HTTPServerEndpoint{
		info:     Info{Name: name},
		inbound:  make(chan codec.Message, 100),
		outbound: make(chan codec.Message, 100),
		closed:   make(chan struct{}),
	}
}

func (e *HTTPServerEndpoint) Info() Info { return e.info }

// Send queues msg for delivery to the HTTP peer; the front-end's
// SSE/stream handler drains it via Outbound.
func (e *HTTPServerEndpoint) Send(ctx context.Context, msg codec.Message) error {
	select {
	case <-e.closed:
		return fmt.Errorf("%s send: %w", e.info.Name, ErrClosed)
	default:
	}
	select {
	case e.outbound <- msg:
		return nil
	case <-e.closed:
		return fmt.Errorf("%s send: %w", e.info.Name, ErrClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv blocks for the next message pushed by the front-end's POST
// handler.
func (e *HTTPServerEndpoint) Recv(ctx context.Context) (codec.Message, error) {
	select {
	case m, ok := <-e.inbound:
		if !ok {
			return codec.Message{}, fmt.Errorf("%s recv: %w", e.info.Name, ErrClosed)
		}
		return m, nil
	case <-e.closed:
		return codec.Message{}, fmt.Errorf("%s recv: %w", e.info.Name, ErrClosed)
	case <-ctx.Done():
		return codec.Message{}, ctx.Err()
	}
}

func (e *HTTPServerEndpoint) Close() error {
	e.closeOnce.Do(func() { close(e.closed) })
	return nil
}

// Push delivers a message received from the HTTP peer (a POSTed
// JSON-RPC body) into the endpoint's Recv side. Called by the
// front-end's companion-POST / Streamable HTTP handler.
func (e *HTTPServerEndpoint) Push(ctx context.Context, msg codec.Message) error {
	select {
	case <-e.closed:
		return fmt.Errorf("%s push: %w", e.info.Name, ErrClosed)
	default:
	}
	select {
	case e.inbound <- msg:
		return nil
	case <-e.closed:
		return fmt.Errorf("%s push: %w", e.info.Name, ErrClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outbound returns the channel the front-end's SSE/stream writer
// drains to deliver messages queued via Send to the HTTP peer.
func (e *HTTPServerEndpoint) Outbound() <-chan codec.Message { return e.outbound }

// Done reports when the endpoint has been closed, for handlers
// selecting alongside the HTTP request context.
func (e *HTTPServerEndpoint) Done() <-chan struct{} { return e.closed }
