// Package httpfrontend implements the HTTP server front-end: SSE
// and Streamable HTTP endpoints routed per-path to named server
// entries, header->env extraction, per-session child spawn, and CORS
// origin checking.
package httpfrontend

import (
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/stephanhaeuslschmid/mcp-proxy/internal/bridge"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/registry"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/status"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/supervisor"
)

// Options configures a Frontend.
type Options struct {
	// Registry supplies named server entries. May be nil if
	// only DefaultEntry is served.
	Registry *registry.Registry
	// DefaultEntry, if non-nil, is served at /sse, /messages/, /mcp
	// (the unnamed default server, populated when a command was given
	// positionally on the CLI).
	DefaultEntry *registry.Entry

	Supervisor *supervisor.Supervisor
	Tracker    *status.Tracker

	// AllowOrigin is the CORS allowlist; an empty list
	// denies all cross-origin requests.
	AllowOrigin []string

	// Stateless selects Streamable HTTP's per-request bridge teardown
	// mode.
	Stateless bool

	// PassEnvironment mirrors --pass-environment: when true, the
	// spawned child's environment also inherits the proxy process's
	// own environment.
	PassEnvironment bool

	// Metrics, when non-nil, is mounted at /metrics (typically
	// promhttp.Handler() over the registerer the Tracker registered
	// its gauges on).
	Metrics http.Handler

	Logger *slog.Logger
}

// Frontend is the HTTP server front-end.
type Frontend struct {
	reg          *registry.Registry
	defaultEntry *registry.Entry
	sup          *supervisor.Supervisor
	tracker      *status.Tracker
	allowOrigin  map[string]bool
	stateless    bool
	passEnv      bool
	bridgeOpts   bridge.Options
	metrics      http.Handler
	log          *slog.Logger

	mux *http.ServeMux

	sseSessions  sync.Map // sessionID string -> *sseSession
	httpSessions sync.Map // Mcp-Session-Id string -> *streamableSession
}

// New builds a Frontend wiring the full URL surface.
func New(opts Options, bridgeOpts bridge.Options) *Frontend {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	allow := make(map[string]bool, len(opts.AllowOrigin))
	for _, o := range opts.AllowOrigin {
		allow[o] = true
	}

	f := &Frontend{
		reg:          opts.Registry,
		defaultEntry: opts.DefaultEntry,
		sup:          opts.Supervisor,
		tracker:      opts.Tracker,
		allowOrigin:  allow,
		stateless:    opts.Stateless,
		passEnv:      opts.PassEnvironment,
		bridgeOpts:   bridgeOpts,
		metrics:      opts.Metrics,
		log:          opts.Logger,
	}
	f.mux = http.NewServeMux()
	f.routes()
	return f
}

// Handler returns the http.Handler to pass to an http.Server.
func (f *Frontend) Handler() http.Handler { return f.withCORS(f.mux) }

func (f *Frontend) routes() {
	f.mux.HandleFunc("/sse", f.handleSSE(""))
	f.mux.HandleFunc("/messages/", f.handleMessages(""))
	f.mux.HandleFunc("/mcp", f.handleStreamable(""))
	f.mux.HandleFunc("/status", f.handleStatus)
	if f.metrics != nil {
		f.mux.Handle("/metrics", f.metrics)
	}
	f.mux.HandleFunc("/servers/", f.routeServers)
}

// routeServers dispatches /servers/<name>/{sse,messages/,mcp} to the
// same handlers the default (unnamed) server uses, parameterized by
// name.
func (f *Frontend) routeServers(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/servers/")
	name, tail, ok := cutFirst(rest, "/")
	if !ok || name == "" {
		http.NotFound(w, r)
		return
	}
	switch {
	case tail == "sse":
		f.handleSSE(name)(w, r)
	case tail == "messages/" || strings.HasPrefix(tail, "messages/"):
		f.handleMessages(name)(w, r)
	case tail == "mcp":
		f.handleStreamable(name)(w, r)
	default:
		http.NotFound(w, r)
	}
}

func cutFirst(s, sep string) (before, after string, found bool) {
	i := strings.Index(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

// resolveEntry looks up the named server entry, or DefaultEntry when
// name is empty. The bool reports whether a usable entry was found
// (unknown or disabled -> 404).
func (f *Frontend) resolveEntry(name string) (registry.Entry, bool) {
	if name == "" {
		if f.defaultEntry == nil {
			return registry.Entry{}, false
		}
		return *f.defaultEntry, true
	}
	if f.reg == nil {
		return registry.Entry{}, false
	}
	return f.reg.Lookup(name)
}

// withCORS checks the Origin header against the configured allowlist
// before any other processing. Requests without an
// Origin header (same-origin, curl, server-to-server) are not
// cross-origin and bypass the check.
func (f *Frontend) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if !f.allowOrigin[origin] {
				http.Error(w, "origin not allowed", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		next.ServeHTTP(w, r)
	})
}

// headerToEnv extracts the header->env mapping from r,
// case-insensitive on header names (http.Header.Get already
// normalizes this), absent headers contribute nothing.
func headerToEnv(r *http.Request, mapping map[string]string) map[string]string {
	out := make(map[string]string, len(mapping))
	for header, envVar := range mapping {
		if v := r.Header.Get(header); v != "" {
			out[envVar] = v
		}
	}
	return out
}

// reapGrace covers the window between the child's pipe closing (which
// ends the bridge) and the reaper observing the exit status.
const reapGrace = 250 * time.Millisecond

// reapChild ends a session's child: if the child exited on its own
// with a nonzero status, the crash and its exit code are recorded for
// the status endpoint. A child we terminate ourselves is not a crash.
func (f *Frontend) reapChild(name string, proc *supervisor.Process) {
	select {
	case <-proc.Done():
		if err := proc.CrashError(); err != nil {
			f.tracker.RecordExit(name, proc.ExitCode())
			f.log.Warn("child crashed", "server", name, "error", err)
		}
	case <-time.After(reapGrace):
	}
	proc.Terminate()
}

func (f *Frontend) spawnDescriptor(entry registry.Entry, r *http.Request) supervisor.SpawnDescriptor {
	derived := headerToEnv(r, entry.HeaderToEnv)
	return supervisor.SpawnDescriptor{
		Command: entry.Command,
		Args:    entry.Args,
		Env:     supervisor.BuildEnv(entry.StaticEnv, derived, f.passEnv, os.Environ()),
		Dir:     entry.Cwd,
	}
}
