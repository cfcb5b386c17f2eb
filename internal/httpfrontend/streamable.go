package httpfrontend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/stephanhaeuslschmid/mcp-proxy/internal/bridge"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/codec"
	stderrors "github.com/stephanhaeuslschmid/mcp-proxy/internal/errors"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/registry"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/transport"
)

const sessionIDHeader = "Mcp-Session-Id"

// maxBodyBytes bounds a single POSTed JSON-RPC body.
const maxBodyBytes = 10 * 1024 * 1024

// streamableSession is the live state behind one stateful Streamable
// HTTP session: the ingress endpoint the POST handler pushes into, a
// dispatcher routing outbound Responses back to the POST that carried
// the matching Request, and a stream channel for everything else
// (server-initiated notifications and requests), drained by GET.
type streamableSession struct {
	id     string
	ep     *transport.HTTPServerEndpoint
	cancel context.CancelFunc

	mu      sync.Mutex
	waiters map[string]chan codec.Message
	stream  chan codec.Message
}

func newStreamableSession(id string, ep *transport.HTTPServerEndpoint, cancel context.CancelFunc) *streamableSession {
	return &streamableSession{
		id:      id,
		ep:      ep,
		cancel:  cancel,
		waiters: make(map[string]chan codec.Message),
		stream:  make(chan codec.Message, 100),
	}
}

// dispatch routes messages the child sends back: Responses go to the
// waiter registered for their id, everything else to the GET stream.
// Runs until the ingress endpoint closes.
func (s *streamableSession) dispatch() {
	for {
		select {
		case <-s.ep.Done():
			s.failAllWaiters()
			return
		case msg := <-s.ep.Outbound():
			if msg.Kind == codec.KindResponse {
				s.mu.Lock()
				ch, ok := s.waiters[string(msg.ID)]
				if ok {
					delete(s.waiters, string(msg.ID))
				}
				s.mu.Unlock()
				if ok {
					ch <- msg
					continue
				}
			}
			select {
			case s.stream <- msg:
			default:
				// Stream buffer full with no GET attached; drop rather
				// than stall the relay.
			}
		}
	}
}

func (s *streamableSession) failAllWaiters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.waiters {
		close(ch)
		delete(s.waiters, id)
	}
}

// await registers interest in the Response for id before the Request
// is pushed, so the dispatcher can never race past it.
func (s *streamableSession) await(id json.RawMessage) <-chan codec.Message {
	ch := make(chan codec.Message, 1)
	s.mu.Lock()
	s.waiters[string(id)] = ch
	s.mu.Unlock()
	return ch
}

// handleStreamable returns the single-endpoint Streamable HTTP handler
// for the (possibly named) server: POST carries client messages, GET
// attaches a server-to-client event stream, DELETE ends the session.
// In stateless mode every POST builds and tears down a whole Bridge
// with its own child spawn; expensive, and deliberately so.
func (f *Frontend) handleStreamable(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, ok := f.resolveEntry(name)
		if !ok {
			http.NotFound(w, r)
			return
		}

		switch r.Method {
		case http.MethodPost:
			if f.stateless {
				f.streamableStateless(w, r, name, entry)
				return
			}
			f.streamablePost(w, r, name, entry)
		case http.MethodGet:
			f.streamableGet(w, r)
		case http.MethodDelete:
			f.streamableDelete(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// streamablePost handles one stateful POST: the first (no session id)
// must carry an initialize Request and creates the session; subsequent
// ones echo the server-provided session id.
func (f *Frontend) streamablePost(w http.ResponseWriter, r *http.Request, name string, entry registry.Entry) {
	body, err := readAll(r)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	msgs, err := decodeBody(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("malformed message: %v", err), http.StatusBadRequest)
		return
	}

	sessID := r.Header.Get(sessionIDHeader)
	var sess *streamableSession
	if sessID == "" {
		if !isInitialize(msgs) {
			http.Error(w, "first request must be initialize", http.StatusBadRequest)
			return
		}
		sess, err = f.startStreamableSession(r, name, entry)
		if err != nil {
			k := stderrors.Classify(err)
			http.Error(w, err.Error(), stderrors.HTTPStatus(k))
			return
		}
	} else {
		v, ok := f.httpSessions.Load(sessID)
		if !ok {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
		sess = v.(*streamableSession)
	}

	w.Header().Set(sessionIDHeader, sess.id)
	f.pushAndReply(w, r, sess, msgs)
}

// startStreamableSession spawns the child, wires the Bridge, and
// registers the session under a fresh id.
func (f *Frontend) startStreamableSession(r *http.Request, name string, entry registry.Entry) (*streamableSession, error) {
	proc, err := f.sup.Spawn(r.Context(), f.spawnDescriptor(entry, r))
	if err != nil {
		return nil, err
	}

	ingress := transport.NewHTTPServerEndpoint(name)
	child := transport.NewStdioChild(proc.Stdin, proc.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	sess := newStreamableSession(uuid.NewString(), ingress, cancel)
	f.httpSessions.Store(sess.id, sess)
	stopTracking := f.tracker.Start(name)

	go sess.dispatch()
	go func() {
		defer f.httpSessions.Delete(sess.id)
		defer stopTracking()
		defer f.reapChild(name, proc)
		defer cancel()
		defer ingress.Close()

		br := bridge.New(ingress, child, f.bridgeOpts)
		if err := br.Run(ctx); err != nil {
			f.log.Warn("streamable bridge ended", "server", name, "session", sess.id, "error", err)
		}
	}()

	return sess, nil
}

// pushAndReply pushes msgs into the session and answers the POST: a
// single JSON envelope when the body carried exactly one Request, an
// SSE stream when it carried several, 202 Accepted when it carried
// none (notifications and responses only).
func (f *Frontend) pushAndReply(w http.ResponseWriter, r *http.Request, sess *streamableSession, msgs []codec.Message) {
	var pending []<-chan codec.Message
	for _, m := range msgs {
		if m.Kind == codec.KindRequest {
			pending = append(pending, sess.await(m.ID))
		}
	}
	for _, m := range msgs {
		if err := sess.ep.Push(r.Context(), m); err != nil {
			http.Error(w, err.Error(), http.StatusGone)
			return
		}
	}

	switch len(pending) {
	case 0:
		w.WriteHeader(http.StatusAccepted)
	case 1:
		resp, ok := waitResponse(r.Context(), pending[0])
		if !ok {
			http.Error(w, "session closed before response", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(resp.Raw)
	default:
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		for _, ch := range pending {
			resp, ok := waitResponse(r.Context(), ch)
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", resp.Raw)
			flusher.Flush()
		}
	}
}

func waitResponse(ctx context.Context, ch <-chan codec.Message) (codec.Message, bool) {
	select {
	case resp, ok := <-ch:
		return resp, ok
	case <-ctx.Done():
		return codec.Message{}, false
	}
}

// streamableGet attaches the server-to-client event stream for an
// existing session: notifications and server-initiated requests the
// dispatcher could not pair with a POST.
func (f *Frontend) streamableGet(w http.ResponseWriter, r *http.Request) {
	sessID := r.Header.Get(sessionIDHeader)
	if sessID == "" {
		http.Error(w, "missing "+sessionIDHeader, http.StatusBadRequest)
		return
	}
	v, ok := f.httpSessions.Load(sessID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	sess := v.(*streamableSession)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sess.ep.Done():
			return
		case msg := <-sess.stream:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg.Raw)
			flusher.Flush()
		}
	}
}

// streamableDelete tears down an existing session: the ingress closes,
// the Bridge observes end-of-stream and terminates the child.
func (f *Frontend) streamableDelete(w http.ResponseWriter, r *http.Request) {
	sessID := r.Header.Get(sessionIDHeader)
	if sessID == "" {
		http.Error(w, "missing "+sessionIDHeader, http.StatusBadRequest)
		return
	}
	v, ok := f.httpSessions.LoadAndDelete(sessID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	sess := v.(*streamableSession)
	_ = sess.ep.Close()
	sess.cancel()
	w.WriteHeader(http.StatusNoContent)
}

// streamableStateless serves one POST as a complete session: spawn,
// handshake, relay the one exchange, tear everything down. When the
// body does not itself carry the initialize Request, the front-end
// plays the downstream client role for the handshake before injecting
// the real message.
func (f *Frontend) streamableStateless(w http.ResponseWriter, r *http.Request, name string, entry registry.Entry) {
	body, err := readAll(r)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	msgs, err := decodeBody(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("malformed message: %v", err), http.StatusBadRequest)
		return
	}

	proc, err := f.sup.Spawn(r.Context(), f.spawnDescriptor(entry, r))
	if err != nil {
		k := stderrors.Classify(err)
		http.Error(w, err.Error(), stderrors.HTTPStatus(k))
		return
	}

	ingress := transport.NewHTTPServerEndpoint(name)
	child := transport.NewStdioChild(proc.Stdin, proc.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	stopTracking := f.tracker.Start(name)
	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		br := bridge.New(ingress, child, f.bridgeOpts)
		if err := br.Run(ctx); err != nil {
			f.log.Warn("stateless bridge ended", "server", name, "error", err)
		}
	}()
	defer func() {
		_ = ingress.Close()
		cancel()
		<-bridgeDone
		f.reapChild(name, proc)
		stopTracking()
	}()

	if !isInitialize(msgs) {
		if err := f.statelessHandshake(r.Context(), ingress); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
	}

	var want []string
	for _, m := range msgs {
		if m.Kind == codec.KindRequest {
			want = append(want, string(m.ID))
		}
		if err := ingress.Push(r.Context(), m); err != nil {
			http.Error(w, err.Error(), http.StatusGone)
			return
		}
	}
	if len(want) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	responses, err := collectResponses(r.Context(), ingress, want)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if isInitialize(msgs) {
		// Complete the handshake on the one-shot client's behalf so the
		// bridge reaches its relay loop before teardown.
		if done, err := codec.Decode([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized","params":{}}`)); err == nil {
			_ = ingress.Push(r.Context(), done)
		}
	}
	if len(responses) == 1 {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(responses[0].Raw)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	for _, resp := range responses {
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", resp.Raw)
		flusher.Flush()
	}
}

// statelessHandshake drives the ingress side of the Bridge's Responder
// handshake on the client's behalf, discarding the initialize Response.
func (f *Frontend) statelessHandshake(ctx context.Context, ingress *transport.HTTPServerEndpoint) error {
	initID := `"` + uuid.NewString() + `"`
	init, err := codec.Decode([]byte(fmt.Sprintf(
		`{"jsonrpc":"2.0","id":%s,"method":"initialize","params":{"protocolVersion":"%s","capabilities":{},"clientInfo":{"name":"%s","version":""}}}`,
		initID, f.bridgeOpts.ProtocolVersion, bridge.ProxyName)))
	if err != nil {
		return err
	}
	if err := ingress.Push(ctx, init); err != nil {
		return err
	}
	if _, err := collectResponses(ctx, ingress, []string{initID}); err != nil {
		return fmt.Errorf("implicit initialize: %w", err)
	}
	done, err := codec.Decode([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized","params":{}}`))
	if err != nil {
		return err
	}
	return ingress.Push(ctx, done)
}

// collectResponses drains the ingress outbound channel until every id
// in want has its Response, preserving arrival order. Non-response
// traffic arriving in between is discarded (stateless mode has no
// stream to attach it to).
func collectResponses(ctx context.Context, ingress *transport.HTTPServerEndpoint, want []string) ([]codec.Message, error) {
	outstanding := make(map[string]bool, len(want))
	for _, id := range want {
		outstanding[id] = true
	}
	var out []codec.Message
	for len(outstanding) > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ingress.Done():
			return nil, fmt.Errorf("session closed before response")
		case msg := <-ingress.Outbound():
			if msg.Kind == codec.KindResponse && outstanding[string(msg.ID)] {
				delete(outstanding, string(msg.ID))
				out = append(out, msg)
			}
		}
	}
	return out, nil
}

// handleStatus serves GET /status.
func (f *Frontend) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(f.tracker.Snapshot()); err != nil {
		f.log.Warn("encode status", "error", err)
	}
}

func readAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

// decodeBody flattens a single envelope or a BatchFrame into the
// ordered message list a POST carries.
func decodeBody(body []byte) ([]codec.Message, error) {
	msg, batch, err := codec.DecodeAny(body)
	if err != nil {
		return nil, err
	}
	if batch != nil {
		return batch.Items, nil
	}
	return []codec.Message{msg}, nil
}

func isInitialize(msgs []codec.Message) bool {
	for _, m := range msgs {
		if m.Kind == codec.KindRequest && m.Method == "initialize" {
			return true
		}
	}
	return false
}
