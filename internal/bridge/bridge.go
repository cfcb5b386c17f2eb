// Package bridge implements the bridge engine: the core that
// couples two Session Endpoints, mirrors the MCP handshake between
// them, and relays every message while preserving order, correlation,
// and lifecycle.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stephanhaeuslschmid/mcp-proxy/internal/codec"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/session"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/transport"
)

// ProxyName is the serverInfo.name every Responder-side handshake
// advertises to the downstream peer.
const ProxyName = "mcp-proxy"

// DrainDeadline bounds how long Run waits for both forwarders to
// unwind after either side closes.
const DrainDeadline = 2 * time.Second

var (
	// ErrAuthFailure and ErrIOError are session-fatal; a caller
	// classifying a Run error should treat anything other than a clean
	// close (a nil or context-cancelled return) as one of these kinds.
	// A crashed child surfaces as end-of-stream here and as
	// supervisor.ErrChildCrashed on the reaped process.
	ErrAuthFailure = errors.New("bridge: auth failure")
	ErrIOError     = errors.New("bridge: io error")

	// errEndOfStream is forward's internal signal that its side ended
	// cleanly. It is always non-nil so errgroup cancels gctx for the
	// sibling forwarder immediately (errgroup only cancels on a non-nil
	// return), and relay() maps it back to a nil Run result.
	errEndOfStream = errors.New("bridge: end of stream")
)

// Options configures what the Bridge advertises as its own identity
// and capabilities when it is the Initiator toward the real upstream
// peer B.
type Options struct {
	ProtocolVersion    string
	ClientInfo         session.PeerInfo
	ClientCapabilities json.RawMessage
	ProxyVersion       string
	Logger             *slog.Logger
}

// Bridge couples two Session Endpoints. A is run as Responder (the
// identity we present downstream); B is run as Initiator (our real
// peer upstream).
type Bridge struct {
	A, B transport.Endpoint
	opts Options

	sessionA *session.Endpoint
	sessionB *session.Endpoint
}

// New builds a Bridge over the two raw transports. A is wrapped as
// Responder, B as Initiator.
func New(a, b transport.Endpoint, opts Options) *Bridge {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Bridge{
		A:        a,
		B:        b,
		opts:     opts,
		sessionA: session.New(a, session.RoleResponder),
		sessionB: session.New(b, session.RoleInitiator),
	}
}

// Run performs handshake mirroring then the relay loop, blocking until
// either side ends the session or ctx is cancelled. A nil return means
// clean shutdown (TransportClosed); a non-nil return is one of the
// session-fatal kinds above.
func (br *Bridge) Run(ctx context.Context) error {
	log := br.opts.Logger

	if err := br.sessionB.Initiate(ctx, br.opts.ClientCapabilities, br.opts.ClientInfo, br.opts.ProtocolVersion); err != nil {
		return fmt.Errorf("bridge: upstream handshake: %w: %w", err, ErrIOError)
	}
	upstream := br.sessionB.Handshake()

	advertised, serverInfo := br.mirrorCapabilities(upstream)
	if err := br.sessionA.Respond(ctx, advertised, serverInfo, br.opts.ProtocolVersion); err != nil {
		return fmt.Errorf("bridge: downstream handshake: %w: %w", err, ErrIOError)
	}

	log.Info("bridge ready",
		"protocol_version", br.opts.ProtocolVersion,
		"upstream_name", valueOrEmpty(upstream.PeerInfo),
	)

	return br.relay(ctx)
}

// mirrorCapabilities builds what the Responder side advertises: the
// Initiator's real capabilities (the proxy can transparently forward
// effectively all non-transport capabilities, so the intersection is
// the upstream's capability set unchanged, unknown keys included),
// with serverInfo.name rewritten and the upstream's version appended.
func (br *Bridge) mirrorCapabilities(upstream session.Handshake) (json.RawMessage, session.PeerInfo) {
	caps := upstream.Capabilities
	if len(caps) == 0 {
		caps = json.RawMessage(`{}`)
	}

	version := br.opts.ProxyVersion
	if upstream.PeerInfo != nil && upstream.PeerInfo.Version != "" {
		version = fmt.Sprintf("%s+%s", br.opts.ProxyVersion, upstream.PeerInfo.Version)
	}

	return caps, session.PeerInfo{Name: ProxyName, Version: version}
}

func valueOrEmpty(p *session.PeerInfo) string {
	if p == nil {
		return ""
	}
	return p.Name
}

// relay runs the two independent forwarders and propagates
// cancellation and the bounded drain.
func (br *Bridge) relay(ctx context.Context) error {
	relayCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(relayCtx)
	g.Go(func() error { return forward(gctx, br.sessionA, br.sessionB, br.opts.Logger, "A->B") })
	g.Go(func() error { return forward(gctx, br.sessionB, br.sessionA, br.opts.Logger, "B->A") })

	waitDone := make(chan error, 1)
	go func() { waitDone <- g.Wait() }()

	// The drain bound arms only once the first forwarder has exited
	// (gctx is cancelled by errgroup at that point, or by the caller).
	var err error
	select {
	case err = <-waitDone:
	case <-gctx.Done():
		select {
		case err = <-waitDone:
		case <-time.After(DrainDeadline):
			br.opts.Logger.Warn("bridge drain deadline exceeded, forcing shutdown")
		}
	}
	cancel() // flip the shared cancellation token for both sides immediately
	_ = br.sessionA.Close()
	_ = br.sessionB.Close()

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, errEndOfStream) {
		return err
	}
	return nil
}

// forward pumps src.Recv into dst.Send until src reaches end-of-stream
// or ctx is cancelled, preserving strict FIFO order within this
// direction and never buffering more than the one in-flight message
// blocked on dst.Send. It always returns a non-nil error so the
// errgroup running it cancels the sibling forwarder's context
// immediately on any termination, clean or not.
func forward(ctx context.Context, src, dst *session.Endpoint, log *slog.Logger, direction string) error {
	for {
		msg, err := recvCtx(ctx, src)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return errEndOfStream
			}
			if errors.Is(err, transport.ErrClosed) {
				return errEndOfStream
			}
			if errors.Is(err, codec.ErrMalformed) {
				log.Warn("dropping malformed message", "direction", direction, "error", err)
				continue
			}
			log.Warn("forward recv error", "direction", direction, "error", err)
			return fmt.Errorf("%w", ErrIOError)
		}

		if msg.Kind == codec.KindRequest || msg.Kind == codec.KindNotification || msg.Kind == codec.KindResponse {
			if err := sendCtx(ctx, dst, msg); err != nil {
				if errors.Is(err, context.Canceled) {
					return errEndOfStream
				}
				log.Warn("forward send error", "direction", direction, "error", err)
				return fmt.Errorf("%w", ErrIOError)
			}
			continue
		}

		// Malformed classification never reaches here since codec.Decode
		// already rejected it upstream; unknown Kind values are dropped
		// with a warning and the relay continues.
		log.Warn("dropping message of unrecognized kind", "direction", direction)
	}
}

func recvCtx(ctx context.Context, ep *session.Endpoint) (codec.Message, error) {
	type result struct {
		msg codec.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := ep.Recv(ctx)
		ch <- result{m, err}
	}()
	select {
	case r := <-ch:
		return r.msg, r.err
	case <-ctx.Done():
		return codec.Message{}, ctx.Err()
	}
}

func sendCtx(ctx context.Context, ep *session.Endpoint, msg codec.Message) error {
	ch := make(chan error, 1)
	go func() { ch <- ep.Send(ctx, msg) }()
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
