// Package status implements the status endpoint: per-named-server
// liveness and process uptime, exposed as JSON and mirrored as
// Prometheus gauges.
package status

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stephanhaeuslschmid/mcp-proxy/internal/registry"
)

// Tracker holds the live-session counters the HTTP front-end
// increments/decrements around each Bridge's lifetime: one atomic
// increment/decrement per Bridge start/stop.
type Tracker struct {
	reg       *registry.Registry
	startedAt time.Time

	countersMu  sync.Mutex
	counters    map[string]*int64
	lastExit    map[string]int
	liveSession *prometheus.GaugeVec
	bridgeTotal prometheus.Counter
	crashTotal  *prometheus.CounterVec
	uptime      prometheus.GaugeFunc
}

// New builds a Tracker over reg's entries and registers its Prometheus
// collectors on registerer (pass prometheus.DefaultRegisterer in
// production, a fresh prometheus.NewRegistry() in tests).
func New(reg *registry.Registry, registerer prometheus.Registerer) *Tracker {
	t := &Tracker{
		reg:       reg,
		startedAt: time.Now(),
		counters:  make(map[string]*int64, len(reg.Names())),
		lastExit:  make(map[string]int),
		liveSession: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mcp_proxy_live_sessions",
			Help: "Active bridge sessions per named server.",
		}, []string{"server"}),
		bridgeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcp_proxy_bridges_total",
			Help: "Total bridges started, across all named servers.",
		}),
		crashTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_proxy_child_crashes_total",
			Help: "Children that exited with a nonzero status, per named server.",
		}, []string{"server"}),
	}
	for _, name := range reg.Names() {
		var c int64
		t.counters[name] = &c
	}
	t.uptime = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mcp_proxy_uptime_seconds",
		Help: "Seconds since the proxy process started.",
	}, func() float64 { return time.Since(t.startedAt).Seconds() })

	if registerer != nil {
		registerer.MustRegister(t.liveSession, t.bridgeTotal, t.crashTotal, t.uptime)
	}
	return t
}

// Start records the beginning of a Bridge's lifetime for the named
// server name (or the default, unnamed server when name is empty).
// Call the returned func when the Bridge's Run returns.
func (t *Tracker) Start(name string) (stop func()) {
	t.countersMu.Lock()
	c, ok := t.counters[name]
	if !ok {
		var zero int64
		c = &zero
		t.counters[name] = c
	}
	t.countersMu.Unlock()
	atomic.AddInt64(c, 1)
	t.bridgeTotal.Inc()
	t.liveSession.WithLabelValues(labelOrDefault(name)).Inc()
	return func() {
		atomic.AddInt64(c, -1)
		t.liveSession.WithLabelValues(labelOrDefault(name)).Dec()
	}
}

func labelOrDefault(name string) string {
	if name == "" {
		return "(default)"
	}
	return name
}

// RecordExit notes that a child spawned for the named server exited
// with the given nonzero status. The most recent code is reported by
// Snapshot.
func (t *Tracker) RecordExit(name string, code int) {
	t.countersMu.Lock()
	t.lastExit[name] = code
	t.countersMu.Unlock()
	t.crashTotal.WithLabelValues(labelOrDefault(name)).Inc()
}

// ServerStatus is one entry of the JSON body's "servers" map.
type ServerStatus struct {
	Running      bool  `json:"running"`
	LiveSessions int64 `json:"live_sessions"`
	LastExitCode *int  `json:"last_exit_code,omitempty"`
}

// Report is the full JSON body GET /status returns.
type Report struct {
	Servers map[string]ServerStatus `json:"servers"`
	UptimeS int64                   `json:"uptime_s"`
}

// Snapshot builds a Report reflecting the current state. "running" is
// true iff the entry is enabled; it does not reflect
// whether any child process is currently alive, since named servers
// are spawned per-session rather than kept running.
func (t *Tracker) Snapshot() Report {
	servers := make(map[string]ServerStatus, len(t.reg.Names()))
	for name, entry := range t.reg.All() {
		var live int64
		t.countersMu.Lock()
		c, ok := t.counters[name]
		var lastExit *int
		if code, crashed := t.lastExit[name]; crashed {
			lastExit = &code
		}
		t.countersMu.Unlock()
		if ok {
			live = atomic.LoadInt64(c)
		}
		servers[name] = ServerStatus{
			Running:      entry.Enabled,
			LiveSessions: live,
			LastExitCode: lastExit,
		}
	}
	return Report{
		Servers: servers,
		UptimeS: int64(time.Since(t.startedAt).Seconds()),
	}
}
