package httpfrontend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/stephanhaeuslschmid/mcp-proxy/internal/bridge"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/codec"
	stderrors "github.com/stephanhaeuslschmid/mcp-proxy/internal/errors"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/transport"
)

// sseSession is the live state behind one GET /.../sse connection: the
// ingress-facing HTTPServerEndpoint the companion POST handler pushes
// into, and the cancel func of the Bridge that relays it to the child.
type sseSession struct {
	id     string
	ep     *transport.HTTPServerEndpoint
	cancel context.CancelFunc
}

// handleSSE returns the GET handler for the (possibly named) server's
// SSE stream: spawn a child, wire a Bridge, emit the companion
// "endpoint" event, then stream messages until the client disconnects
// or the Bridge ends.
func (f *Frontend) handleSSE(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		entry, ok := f.resolveEntry(name)
		if !ok {
			http.NotFound(w, r)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		proc, err := f.sup.Spawn(r.Context(), f.spawnDescriptor(entry, r))
		if err != nil {
			k := stderrors.Classify(err)
			http.Error(w, err.Error(), stderrors.HTTPStatus(k))
			return
		}

		sessionID := uuid.NewString()
		ingress := transport.NewHTTPServerEndpoint(name)
		child := transport.NewStdioChild(proc.Stdin, proc.Stdout)

		ctx, cancel := context.WithCancel(context.Background())
		sess := &sseSession{id: sessionID, ep: ingress, cancel: cancel}
		f.sseSessions.Store(sessionID, sess)
		stopTracking := f.tracker.Start(name)

		go func() {
			defer f.sseSessions.Delete(sessionID)
			defer stopTracking()
			defer f.reapChild(name, proc)
			defer cancel()

			br := bridge.New(ingress, child, f.bridgeOpts)
			if err := br.Run(ctx); err != nil {
				f.log.Warn("sse bridge ended", "server", name, "session", sessionID, "error", err)
			}
		}()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		endpoint := fmt.Sprintf("%smessages/?session=%s", serverPrefix(name), sessionID)
		fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", endpoint)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				_ = ingress.Close()
				cancel()
				return
			case <-ingress.Done():
				return
			case msg := <-ingress.Outbound():
				fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg.Raw)
				flusher.Flush()
			}
		}
	}
}

func serverPrefix(name string) string {
	if name == "" {
		return "/"
	}
	return "/servers/" + name + "/"
}

// handleMessages returns the POST handler for the companion endpoint a
// prior GET /.../sse advertised: decode the body and push it into the
// matching session's ingress Endpoint.
func (f *Frontend) handleMessages(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		sessionID := r.URL.Query().Get("session")
		if sessionID == "" {
			http.Error(w, "missing session parameter", http.StatusBadRequest)
			return
		}
		v, ok := f.sseSessions.Load(sessionID)
		if !ok {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
		sess := v.(*sseSession)

		body, err := readAll(r)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		msg, batch, err := codec.DecodeAny(body)
		if err != nil {
			http.Error(w, fmt.Sprintf("malformed message: %v", err), http.StatusBadRequest)
			return
		}
		if batch != nil {
			for _, item := range batch.Items {
				if err := sess.ep.Push(r.Context(), item); err != nil {
					http.Error(w, err.Error(), http.StatusGone)
					return
				}
			}
		} else if err := sess.ep.Push(r.Context(), msg); err != nil {
			http.Error(w, err.Error(), http.StatusGone)
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}
