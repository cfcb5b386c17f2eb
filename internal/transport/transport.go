// Package transport implements the Transport Abstraction: a uniform
// full-duplex, message-oriented endpoint over stdio, SSE, or Streamable
// HTTP. Each Endpoint is safe for exactly one concurrent sender and one
// concurrent receiver (SPSC per direction); Close is idempotent. On
// HTTPServerEndpoint, Close unblocks a pending Recv with ErrClosed. The
// stdio endpoints' Recv does not observe Close: it returns only when
// the underlying reader yields a line, reaches EOF, or fails.
package transport

import (
	"context"
	"errors"

	"github.com/stephanhaeuslschmid/mcp-proxy/internal/codec"
)

// ErrClosed is returned by Recv once the endpoint has reached
// end-of-stream, whether from an explicit Close or peer disconnect.
var ErrClosed = errors.New("transport: closed")

// Info describes an endpoint for logging and status reporting.
type Info struct {
	Name string
	Addr string
	Path string
}

// Endpoint is the full-duplex message stream every transport kind
// implements. Send and Recv may suspend; no CPU-bound work belongs on
// this path.
type Endpoint interface {
	Info() Info
	Send(ctx context.Context, msg codec.Message) error
	// Recv blocks for the next message. It returns ErrClosed (wrapped)
	// once no further messages will arrive.
	Recv(ctx context.Context) (codec.Message, error)
	Close() error
}
