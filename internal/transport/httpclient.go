package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/stephanhaeuslschmid/mcp-proxy/internal/codec"
)

// ClientKind selects which wire shape HTTPClientEndpoint speaks.
type ClientKind string

const (
	ClientSSE         ClientKind = "sse"
	ClientStreamable  ClientKind = "streamablehttp"
	DefaultMaxRetries            = 3
)

// HTTPClientEndpoint is the remote leg of mode 1 (stdio → remote): it
// connects to a remote MCP server over SSE or Streamable HTTP using the
// official SDK's client transports, translating between this package's
// codec.Message and the SDK's jsonrpc.Message only at the Connection
// boundary.
type HTTPClientEndpoint struct {
	info Info
	conn mcp.Connection

	readMu sync.Mutex
	// pending holds the remaining items of a batch frame so Recv hands
	// them out one at a time, in order.
	pending []codec.Message
}

// DialHTTPClient connects to endpoint using kind, returning a live
// HTTPClientEndpoint. httpClient carries auth headers and OAuth2
// wrapping (see internal/oauthhttp); it is applied before the first
// request, so OAuth2 applies before the first request goes out.
func DialHTTPClient(ctx context.Context, kind ClientKind, endpoint string, httpClient *http.Client) (*HTTPClientEndpoint, error) {
	var t mcp.Transport
	switch kind {
	case ClientSSE:
		t = &mcp.SSEClientTransport{Endpoint: endpoint, HTTPClient: httpClient}
	case ClientStreamable:
		t = &mcp.StreamableClientTransport{Endpoint: endpoint, HTTPClient: httpClient, MaxRetries: DefaultMaxRetries}
	default:
		return nil, fmt.Errorf("transport: unknown client kind %q", kind)
	}

	conn, err := t.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: connect %s: %w", endpoint, err)
	}

	return &HTTPClientEndpoint{
		info: Info{Name: string(kind), Addr: endpoint},
		conn: conn,
	}, nil
}

func (e *HTTPClientEndpoint) Info() Info { return e.info }

func (e *HTTPClientEndpoint) Send(ctx context.Context, msg codec.Message) error {
	sdkMsg, err := jsonrpc.DecodeMessage(msg.Raw)
	if err != nil {
		return fmt.Errorf("transport: re-decode outbound message for SDK: %w", err)
	}
	if err := e.conn.Write(ctx, sdkMsg); err != nil {
		return fmt.Errorf("transport: %s send: %w", e.info.Name, err)
	}
	return nil
}

func (e *HTTPClientEndpoint) Recv(ctx context.Context) (codec.Message, error) {
	e.readMu.Lock()
	defer e.readMu.Unlock()

	if len(e.pending) > 0 {
		m := e.pending[0]
		e.pending = e.pending[1:]
		return m, nil
	}

	for {
		sdkMsg, err := e.conn.Read(ctx)
		if err != nil {
			return codec.Message{}, fmt.Errorf("transport: %s recv: %w: %w", e.info.Name, err, ErrClosed)
		}
		raw, err := jsonrpc.EncodeMessage(sdkMsg)
		if err != nil {
			return codec.Message{}, fmt.Errorf("transport: encode inbound SDK message: %w", err)
		}
		m, batch, err := codec.DecodeAny(raw)
		if err != nil {
			return codec.Message{}, err
		}
		if batch != nil {
			if len(batch.Items) == 0 {
				continue
			}
			e.pending = append(e.pending, batch.Items[1:]...)
			return batch.Items[0], nil
		}
		return m, nil
	}
}

func (e *HTTPClientEndpoint) Close() error { return e.conn.Close() }
