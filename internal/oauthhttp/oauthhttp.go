// Package oauthhttp wraps an *http.Client with static
// headers and, when configured, OAuth2 client-credentials token
// acquisition, retried once on a 401 response.
package oauthhttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// apiAccessTokenEnv, when set and no explicit Authorization header is
// supplied, is sent as "Authorization: Bearer <value>" on every
// outbound request.
const apiAccessTokenEnv = "API_ACCESS_TOKEN"

// RefreshTimeout bounds a single OAuth2 token acquisition/refresh
// attempt.
const RefreshTimeout = 30 * time.Second

// ErrAuthFailure is returned (wrapped) when token acquisition fails
// after the single 401 retry.
var ErrAuthFailure = errors.New("oauthhttp: auth failure")

// Options configures the wrapped client. Headers are applied to every
// outbound request; an explicit "Authorization" key always wins over
// both API_ACCESS_TOKEN and OAuth2.
type Options struct {
	Headers      map[string]string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Base         *http.Client // defaults to http.DefaultClient
}

// New builds an *http.Client applying Options' headers (and, when
// ClientID/ClientSecret/TokenURL are all set, OAuth2 client-credentials
// acquisition before the first request and on a 401 with one refresh
// retry) via a single RoundTripper.
func New(opts Options) *http.Client {
	base := opts.Base
	if base == nil {
		base = http.DefaultClient
	}
	next := base.Transport
	if next == nil {
		next = http.DefaultTransport
	}

	headers := staticHeaders(opts.Headers)

	rt := &headerRoundTripper{headers: headers, next: next}

	if opts.ClientID != "" && opts.ClientSecret != "" && opts.TokenURL != "" {
		rt.oauth = &clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     opts.TokenURL,
		}
	}

	client := *base
	client.Transport = rt
	return &client
}

// staticHeaders resolves the Authorization precedence: an explicit
// header always wins; otherwise API_ACCESS_TOKEN supplies a bearer
// token when present.
func staticHeaders(explicit map[string]string) map[string]string {
	headers := make(map[string]string, len(explicit)+1)
	for k, v := range explicit {
		headers[k] = v
	}
	if _, set := headers["Authorization"]; !set {
		if tok := os.Getenv(apiAccessTokenEnv); tok != "" {
			headers["Authorization"] = "Bearer " + tok
		}
	}
	return headers
}

type headerRoundTripper struct {
	headers map[string]string
	next    http.RoundTripper
	oauth   *clientcredentials.Config
}

func (rt *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range rt.headers {
		req.Header.Set(k, v)
	}

	if rt.oauth != nil {
		if _, explicit := rt.headers["Authorization"]; !explicit {
			if err := rt.applyToken(req, false); err != nil {
				return nil, fmt.Errorf("oauthhttp: %w: %w", err, ErrAuthFailure)
			}
		}
	}

	resp, err := rt.next.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || rt.oauth == nil {
		return resp, err
	}
	if _, explicit := rt.headers["Authorization"]; explicit {
		return resp, err
	}

	// Single refresh retry on 401.
	drainAndClose(resp)
	retry := req.Clone(req.Context())
	if err := rt.applyToken(retry, true); err != nil {
		return nil, fmt.Errorf("oauthhttp: refresh after 401: %w: %w", err, ErrAuthFailure)
	}
	return rt.next.RoundTrip(retry)
}

// applyToken fetches a client-credentials token and sets it as the
// request's bearer Authorization header. No token is cached between
// calls: both paths request a new token from TokenURL, and force only
// marks the retry after a 401.
func (rt *headerRoundTripper) applyToken(req *http.Request, force bool) error {
	ctx, cancel := context.WithTimeout(req.Context(), RefreshTimeout)
	defer cancel()

	var tok *oauth2.Token
	var err error
	if force {
		tok, err = rt.oauth.Token(ctx)
	} else {
		tok, err = rt.oauth.TokenSource(ctx).Token()
	}
	if err != nil {
		return err
	}
	tok.SetAuthHeader(req)
	return nil
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_ = resp.Body.Close()
}
