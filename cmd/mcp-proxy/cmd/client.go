package cmd

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/stephanhaeuslschmid/mcp-proxy/internal/bridge"
	stderrors "github.com/stephanhaeuslschmid/mcp-proxy/internal/errors"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/oauthhttp"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/session"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/transport"
)

// runClient is mode 1 (stdio -> remote): the proxy speaks stdio to its
// parent MCP client and forwards to the remote server at urlStr over
// SSE or Streamable HTTP.
func runClient(ctx context.Context, cfg *rootConfig, urlStr string, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var kind transport.ClientKind
	switch cfg.Transport {
	case "sse":
		kind = transport.ClientSSE
	case "streamablehttp":
		kind = transport.ClientStreamable
	default:
		return fmt.Errorf("invalid --transport %q: %w", cfg.Transport, stderrors.ErrConfigInvalid)
	}

	headers, err := parseKV(cfg.Headers, "headers")
	if err != nil {
		return err
	}

	httpClient, err := buildHTTPClient(cfg, headers)
	if err != nil {
		return err
	}

	remote, err := transport.DialHTTPClient(ctx, kind, urlStr, httpClient)
	if err != nil {
		return fmt.Errorf("connect to %s: %w: %w", urlStr, err, bridge.ErrIOError)
	}
	self := transport.NewStdioSelf(os.Stdin, os.Stdout)

	br := bridge.New(self, remote, bridge.Options{
		ProtocolVersion:    protocolVersion,
		ClientInfo:         session.PeerInfo{Name: bridge.ProxyName, Version: Version},
		ClientCapabilities: json.RawMessage(`{}`),
		ProxyVersion:       Version,
		Logger:             log,
	})

	log.Info("bridging stdio to remote server", "url", urlStr, "transport", cfg.Transport)
	err = br.Run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// buildHTTPClient assembles the outbound HTTP client: TLS policy per
// --verify-ssl/--no-verify-ssl, then headers and OAuth2 via the auth
// helper.
func buildHTTPClient(cfg *rootConfig, headers map[string]string) (*http.Client, error) {
	base := &http.Client{}
	switch {
	case cfg.NoVerifySSL || cfg.VerifySSL == "false":
		base.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	case cfg.VerifySSL == "" || cfg.VerifySSL == "true":
		// Default verification.
	default:
		// A CA bundle path.
		pem, err := os.ReadFile(cfg.VerifySSL)
		if err != nil {
			return nil, fmt.Errorf("--verify-ssl %q: %w: %w", cfg.VerifySSL, err, stderrors.ErrConfigInvalid)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("--verify-ssl %q: no certificates found: %w", cfg.VerifySSL, stderrors.ErrConfigInvalid)
		}
		base.Transport = &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}}
	}

	return oauthhttp.New(oauthhttp.Options{
		Headers:      headers,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Base:         base,
	}), nil
}
