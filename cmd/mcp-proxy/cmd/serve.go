package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stephanhaeuslschmid/mcp-proxy/internal/bridge"
	stderrors "github.com/stephanhaeuslschmid/mcp-proxy/internal/errors"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/httpfrontend"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/proxyconfig"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/registry"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/session"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/status"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/supervisor"
)

// shutdownDeadline bounds graceful HTTP shutdown after a termination
// signal.
const shutdownDeadline = 5 * time.Second

// runServe is mode 2 (HTTP server -> stdio children): listen on
// host:port, spawn a child per ingress session.
func runServe(ctx context.Context, cfg *rootConfig, args []string, log *slog.Logger, _ proxyconfig.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	defaultEntry, err := buildDefaultEntry(cfg, args)
	if err != nil {
		return err
	}
	if defaultEntry == nil && len(reg.Names()) == 0 {
		return fmt.Errorf("nothing to serve: no command and no named servers: %w", stderrors.ErrConfigInvalid)
	}

	tracker := status.New(reg, prometheus.DefaultRegisterer)
	frontend := httpfrontend.New(httpfrontend.Options{
		Registry:        reg,
		DefaultEntry:    defaultEntry,
		Supervisor:      supervisor.New(log),
		Tracker:         tracker,
		AllowOrigin:     cfg.AllowOrigin,
		Stateless:       cfg.Stateless && !cfg.NoStateless,
		PassEnvironment: cfg.PassEnvironment && !cfg.NoPassEnvironment,
		Metrics:         promhttp.Handler(),
		Logger:          log,
	}, bridge.Options{
		ProtocolVersion:    protocolVersion,
		ClientInfo:         session.PeerInfo{Name: bridge.ProxyName, Version: Version},
		ClientCapabilities: json.RawMessage(`{}`),
		ProxyVersion:       Version,
		Logger:             log,
	})

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	srv := &http.Server{Addr: addr, Handler: frontend.Handler()}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP front-end listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			_ = srv.Close()
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w: %w", err, bridge.ErrIOError)
	}
}

// buildRegistry constructs the named server registry. A supplied
// config file is the exclusive source; --named-server flags are
// ignored when it is present.
func buildRegistry(cfg *rootConfig) (*registry.Registry, error) {
	if cfg.NamedServerConfig != "" {
		f, err := os.Open(cfg.NamedServerConfig)
		if err != nil {
			return nil, fmt.Errorf("--named-server-config: %w: %w", err, stderrors.ErrConfigInvalid)
		}
		defer f.Close()
		return registry.BuildFromConfig(f)
	}

	flags := make([]registry.FlagEntry, 0, len(cfg.NamedServers))
	for _, ns := range cfg.NamedServers {
		name, cmdStr, ok := strings.Cut(ns, "=")
		if !ok || name == "" || strings.TrimSpace(cmdStr) == "" {
			return nil, fmt.Errorf("--named-server %q is not NAME=CMDSTRING: %w", ns, stderrors.ErrConfigInvalid)
		}
		fields := strings.Fields(cmdStr)
		flags = append(flags, registry.FlagEntry{
			Name:    name,
			Command: fields[0],
			Args:    fields[1:],
		})
	}
	return registry.BuildFromFlags(flags)
}

// buildDefaultEntry materializes the unnamed default server from the
// positional command and the stdio-spawn-side flags, or nil when no
// command was given.
func buildDefaultEntry(cfg *rootConfig, args []string) (*registry.Entry, error) {
	if len(args) == 0 {
		return nil, nil
	}
	env, err := parseKV(cfg.Env, "env")
	if err != nil {
		return nil, err
	}
	return &registry.Entry{
		Command:   args[0],
		Args:      args[1:],
		StaticEnv: env,
		Cwd:       cfg.Cwd,
		Enabled:   true,
	}, nil
}
