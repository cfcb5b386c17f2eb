package transport

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stephanhaeuslschmid/mcp-proxy/internal/codec"
)

var (
	_ Endpoint = (*StdioSelfEndpoint)(nil)
	_ Endpoint = (*StdioChildEndpoint)(nil)
	_ Endpoint = (*HTTPClientEndpoint)(nil)
	_ Endpoint = (*HTTPServerEndpoint)(nil)
)

func TestStdioSelfEndpoint_SendRecv(t *testing.T) {
	in := bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n")
	out := &bytes.Buffer{}
	ep := NewStdioSelf(in, out)

	m, err := ep.Recv(context.Background())
	require.NoError(t, err)
	require.Equal(t, codec.KindRequest, m.Kind)

	resp, err := codec.Decode([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	require.NoError(t, err)
	require.NoError(t, ep.Send(context.Background(), resp))
	require.Equal(t, "{\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\n", out.String())
}

func TestStdioSelfEndpoint_RecvDecomposesBatch(t *testing.T) {
	line := `[{"jsonrpc":"2.0","id":1,"method":"a"},{"jsonrpc":"2.0","method":"b"},{"jsonrpc":"2.0","id":1,"result":{}}]`
	in := bytes.NewBufferString(line + "\n" + `{"jsonrpc":"2.0","id":2,"method":"c"}` + "\n")
	ep := NewStdioSelf(in, &bytes.Buffer{})

	ctx := context.Background()
	m, err := ep.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, codec.KindRequest, m.Kind)
	require.Equal(t, "a", m.Method)

	m, err = ep.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, codec.KindNotification, m.Kind)
	require.Equal(t, "b", m.Method)

	m, err = ep.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, codec.KindResponse, m.Kind)

	m, err = ep.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "c", m.Method, "messages after the batch line follow in order")

	_, err = ep.Recv(ctx)
	require.ErrorIs(t, err, ErrClosed)
}

func TestStdioSelfEndpoint_RecvReturnsClosedAtEOF(t *testing.T) {
	ep := NewStdioSelf(bytes.NewBufferString(""), &bytes.Buffer{})
	_, err := ep.Recv(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestHTTPServerEndpoint_PushAndOutbound(t *testing.T) {
	ep := NewHTTPServerEndpoint("sse-server")
	req, err := codec.Decode([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, ep.Push(ctx, req))

	recvd, err := ep.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "ping", recvd.Method)

	resp, err := codec.Decode([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	require.NoError(t, err)
	require.NoError(t, ep.Send(ctx, resp))

	select {
	case out := <-ep.Outbound():
		require.Equal(t, codec.KindResponse, out.Kind)
	case <-time.After(time.Second):
		t.Fatal("no outbound message delivered")
	}
}

func TestHTTPServerEndpoint_CloseUnblocksRecv(t *testing.T) {
	ep := NewHTTPServerEndpoint("sse-server")
	errCh := make(chan error, 1)
	go func() {
		_, err := ep.Recv(context.Background())
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, ep.Close())
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Recv did not unblock after Close")
	}
}
