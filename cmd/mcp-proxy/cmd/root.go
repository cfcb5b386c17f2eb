// Package cmd wires the CLI surface: one root command whose positional
// argument selects between stdio->remote client mode (an absolute
// HTTP(S) URL) and the HTTP server front-end (a command to spawn, or
// none when only named servers are configured).
package cmd

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	stderrors "github.com/stephanhaeuslschmid/mcp-proxy/internal/errors"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/logging"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/proxyconfig"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// protocolVersion is the MCP revision this proxy negotiates on both
// sides of a bridge.
const protocolVersion = "2025-06-18"

// rootConfig holds every flag the root command accepts.
type rootConfig struct {
	// Client-side (stdio -> remote).
	Headers      []string
	Transport    string
	VerifySSL    string
	NoVerifySSL  bool
	ClientID     string
	ClientSecret string
	TokenURL     string

	// Stdio-spawn side.
	Env               []string
	Cwd               string
	PassEnvironment   bool
	NoPassEnvironment bool

	// Server-side.
	Port              int
	Host              string
	Stateless         bool
	NoStateless       bool
	AllowOrigin       []string
	NamedServers      []string
	NamedServerConfig string
	SSEPort           int
	SSEHost           string

	// Logging.
	LogLevel string
	Debug    bool
	NoDebug  bool
	LogFile  string
}

// NewRootCmd creates the root command for mcp-proxy.
func NewRootCmd() *cobra.Command {
	cfg := &rootConfig{}

	rootCmd := &cobra.Command{
		Use:   "mcp-proxy [flags] [command_or_url] [args...]",
		Short: "Bidirectional transport bridge for the Model Context Protocol",
		Long: `mcp-proxy bridges MCP sessions across transports.

Given an absolute HTTP(S) URL it speaks stdio to its parent MCP client
and forwards to the remote MCP server over SSE or Streamable HTTP.
Given a command (or --named-server entries) it listens on an HTTP port
exposing SSE and Streamable HTTP endpoints and spawns a stdio child
per incoming session.

Examples:
  mcp-proxy https://remote.example/sse              # stdio -> remote SSE
  mcp-proxy --transport streamablehttp https://remote.example/mcp
  mcp-proxy --port 9000 uvx some-mcp-server         # HTTP server -> stdio child
  mcp-proxy --port 9000 --named-server echo='mcp-echo-server'`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, cfg, args)
		},
	}

	fl := rootCmd.Flags()
	fl.SetInterspersed(false)

	fl.StringArrayVarP(&cfg.Headers, "headers", "H", nil, "Header sent on outbound HTTP requests, as KEY=VALUE (repeatable)")
	fl.StringVar(&cfg.Transport, "transport", "sse", "Client transport toward the remote server (sse, streamablehttp)")
	fl.StringVar(&cfg.VerifySSL, "verify-ssl", "true", "TLS verification: true, false, or a CA bundle path")
	fl.BoolVar(&cfg.NoVerifySSL, "no-verify-ssl", false, "Disable TLS verification")
	fl.StringVar(&cfg.ClientID, "client-id", "", "OAuth2 client-credentials client id")
	fl.StringVar(&cfg.ClientSecret, "client-secret", "", "OAuth2 client-credentials client secret")
	fl.StringVar(&cfg.TokenURL, "token-url", "", "OAuth2 client-credentials token URL")

	fl.StringArrayVarP(&cfg.Env, "env", "e", nil, "Environment variable for the spawned child, as KEY=VALUE (repeatable)")
	fl.StringVar(&cfg.Cwd, "cwd", "", "Working directory for the spawned child")
	fl.BoolVar(&cfg.PassEnvironment, "pass-environment", false, "Pass the proxy's own environment through to spawned children")
	fl.BoolVar(&cfg.NoPassEnvironment, "no-pass-environment", false, "Do not pass the proxy's environment through (default)")

	fl.IntVar(&cfg.Port, "port", 0, "Port for the HTTP server front-end (0 picks a free port)")
	fl.StringVar(&cfg.Host, "host", "127.0.0.1", "Host for the HTTP server front-end")
	fl.BoolVar(&cfg.Stateless, "stateless", false, "Stateless Streamable HTTP: a whole bridge per POST")
	fl.BoolVar(&cfg.NoStateless, "no-stateless", false, "Stateful Streamable HTTP sessions (default)")
	fl.StringArrayVar(&cfg.AllowOrigin, "allow-origin", nil, "CORS allowed Origin (repeatable; empty denies all cross-origin)")
	fl.StringArrayVar(&cfg.NamedServers, "named-server", nil, "Named server as NAME=CMDSTRING (repeatable; CMDSTRING is split on whitespace)")
	fl.StringVar(&cfg.NamedServerConfig, "named-server-config", "", "JSON configuration file for named servers (overrides --named-server)")

	fl.IntVar(&cfg.SSEPort, "sse-port", 0, "Port for the HTTP server front-end")
	fl.StringVar(&cfg.SSEHost, "sse-host", "", "Host for the HTTP server front-end")
	_ = fl.MarkDeprecated("sse-port", "use --port")
	_ = fl.MarkDeprecated("sse-host", "use --host")

	fl.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fl.BoolVar(&cfg.Debug, "debug", false, "Debug logging (wins over --log-level)")
	fl.BoolVar(&cfg.NoDebug, "no-debug", false, "Disable debug logging")
	fl.StringVar(&cfg.LogFile, "log-file", "", "Rotating log file instead of stderr")

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	cmd.SetArgs(normalizeArgs(os.Args[1:]))
	return cmd.Execute()
}

// twoTokenFlags are the repeatable flags whose documented form carries
// the value as two separate tokens (-H KEY VALUE, -e KEY VALUE,
// --named-server NAME CMDSTRING); normalizeArgs joins the pair into
// the KEY=VALUE form the flag set parses.
var twoTokenFlags = map[string]bool{
	"--headers":      true,
	"-H":             true,
	"--env":          true,
	"-e":             true,
	"--named-server": true,
}

// valueFlags are all flag spellings that consume the following token
// as their value, so normalizeArgs can tell where the positional
// command (and its untouched trailing arguments) begins.
var valueFlags = map[string]bool{
	"--headers": true, "-H": true,
	"--transport":     true,
	"--verify-ssl":    true,
	"--client-id":     true,
	"--client-secret": true,
	"--token-url":     true,
	"--env": true, "-e": true,
	"--cwd":                 true,
	"--port":                true,
	"--host":                true,
	"--allow-origin":        true,
	"--named-server":        true,
	"--named-server-config": true,
	"--sse-port":            true,
	"--sse-host":            true,
	"--log-level":           true,
	"--log-file":            true,
}

// normalizeArgs rewrites two-token flag values (KEY VALUE) into the
// single-token KEY=VALUE form, stopping at the first positional so a
// spawned command's own arguments are never touched. A pair whose
// first token already contains "=" is left alone.
func normalizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	i := 0
	for i < len(args) {
		tok := args[i]
		if !strings.HasPrefix(tok, "-") || tok == "-" || tok == "--" {
			out = append(out, args[i:]...)
			break
		}
		if twoTokenFlags[tok] && i+2 < len(args) && !strings.Contains(args[i+1], "=") {
			out = append(out, tok, args[i+1]+"="+args[i+2])
			i += 3
			continue
		}
		out = append(out, tok)
		if valueFlags[tok] && i+1 < len(args) {
			out = append(out, args[i+1])
			i += 2
			continue
		}
		i++
	}
	return out
}

func run(cmd *cobra.Command, cfg *rootConfig, args []string) error {
	pcfg, err := proxyconfig.Load()
	if err != nil {
		return fmt.Errorf("%w: %w", err, stderrors.ErrConfigInvalid)
	}
	applyAmbientDefaults(cmd, cfg, pcfg)
	applyDeprecatedAliases(cmd, cfg)

	log := logging.New(logging.Options{
		Level: cfg.LogLevel,
		Debug: cfg.Debug && !cfg.NoDebug,
		File:  cfg.LogFile,
	})

	if len(args) > 0 && isAbsoluteHTTPURL(args[0]) {
		if len(args) > 1 {
			return fmt.Errorf("trailing arguments after URL %q: %w", args[0], stderrors.ErrConfigInvalid)
		}
		return runClient(cmd.Context(), cfg, args[0], log)
	}
	return runServe(cmd.Context(), cfg, args, log, pcfg)
}

// applyAmbientDefaults layers proxyconfig's env-sourced settings under
// flags the user did not set explicitly.
func applyAmbientDefaults(cmd *cobra.Command, cfg *rootConfig, pcfg proxyconfig.Config) {
	if !cmd.Flags().Changed("log-level") && pcfg.LogLevel != "" {
		cfg.LogLevel = pcfg.LogLevel
	}
	if !cmd.Flags().Changed("debug") && pcfg.Debug {
		cfg.Debug = true
	}
}

func applyDeprecatedAliases(cmd *cobra.Command, cfg *rootConfig) {
	if !cmd.Flags().Changed("port") && cmd.Flags().Changed("sse-port") {
		cfg.Port = cfg.SSEPort
	}
	if !cmd.Flags().Changed("host") && cmd.Flags().Changed("sse-host") {
		cfg.Host = cfg.SSEHost
	}
}

// isAbsoluteHTTPURL implements the mode selection rule: only an
// absolute http(s) URL selects stdio->remote client mode.
func isAbsoluteHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// parseKV splits repeated KEY=VALUE flag occurrences into a map.
func parseKV(pairs []string, flagName string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("--%s %q is not KEY=VALUE: %w", flagName, p, stderrors.ErrConfigInvalid)
		}
		out[k] = v
	}
	return out, nil
}
