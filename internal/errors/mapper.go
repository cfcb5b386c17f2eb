// Package errors classifies the bridge's failures into a small fixed
// taxonomy so callers at every boundary (CLI exit codes,
// HTTP status codes, log lines) can map a raw error to the right
// outward behavior without re-deriving the classification themselves.
package errors

import (
	"errors"
	"net/http"

	"github.com/stephanhaeuslschmid/mcp-proxy/internal/bridge"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/oauthhttp"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/session"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/supervisor"
)

// Kind is one of the bridge's error kinds. It is not a Go
// error type; it is what a Kind(err) classification produces for a
// caller deciding exit codes or HTTP responses.
type Kind string

const (
	KindConfigInvalid     Kind = "config_invalid"
	KindSpawnFailed       Kind = "spawn_failed"
	KindAuthFailure       Kind = "auth_failure"
	KindHandshakeTimeout  Kind = "handshake_timeout"
	KindHandshakeOverflow Kind = "handshake_overflow"
	KindMalformedMessage  Kind = "malformed_message"
	KindIOError           Kind = "io_error"
	KindChildCrashed      Kind = "child_crashed"
	KindTransportClosed   Kind = "transport_closed"
	KindUnknown           Kind = "unknown"
)

// ErrConfigInvalid is startup-fatal: a named-server entry is missing
// its required command, or a CLI flag combination is invalid.
var ErrConfigInvalid = errors.New("errors: invalid configuration")

// Classify maps err to its Kind. A nil err classifies as
// TransportClosed, matching Bridge.Run's
// "nil return means clean shutdown" contract.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindTransportClosed
	case errors.Is(err, ErrConfigInvalid):
		return KindConfigInvalid
	case errors.Is(err, supervisor.ErrSpawnFailed):
		return KindSpawnFailed
	case errors.Is(err, bridge.ErrAuthFailure), errors.Is(err, oauthhttp.ErrAuthFailure):
		return KindAuthFailure
	case errors.Is(err, session.ErrHandshakeTimeout):
		return KindHandshakeTimeout
	case errors.Is(err, session.ErrHandshakeOverflow):
		return KindHandshakeOverflow
	case errors.Is(err, supervisor.ErrChildCrashed):
		return KindChildCrashed
	case errors.Is(err, bridge.ErrIOError):
		return KindIOError
	default:
		return KindUnknown
	}
}

// HTTPStatus maps a session-fatal Kind to the status code the HTTP
// front-end sends the ingress peer when a spawn or handshake
// fails before any Bridge exists to relay a transport close through.
func HTTPStatus(k Kind) int {
	switch k {
	case KindSpawnFailed:
		return http.StatusInternalServerError
	case KindConfigInvalid:
		return http.StatusNotFound
	case KindAuthFailure:
		return http.StatusUnauthorized
	case KindHandshakeTimeout, KindHandshakeOverflow, KindIOError, KindChildCrashed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ExitCode maps a startup-time Kind to the process exit code:
// 2 for configuration errors, 1 for any other runtime
// error, 0 only for a clean (nil) shutdown.
func ExitCode(err error) int {
	switch Classify(err) {
	case KindTransportClosed:
		return 0
	case KindConfigInvalid:
		return 2
	default:
		return 1
	}
}
