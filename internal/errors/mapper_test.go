package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stephanhaeuslschmid/mcp-proxy/internal/bridge"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/oauthhttp"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/session"
	"github.com/stephanhaeuslschmid/mcp-proxy/internal/supervisor"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil is transport closed", nil, KindTransportClosed},
		{"config invalid", fmt.Errorf("bad config: %w", ErrConfigInvalid), KindConfigInvalid},
		{"spawn failed", fmt.Errorf("spawn: %w", supervisor.ErrSpawnFailed), KindSpawnFailed},
		{"auth failure", fmt.Errorf("auth: %w", bridge.ErrAuthFailure), KindAuthFailure},
		{"oauth helper failure", fmt.Errorf("token: %w", oauthhttp.ErrAuthFailure), KindAuthFailure},
		{"handshake timeout", fmt.Errorf("handshake: %w", session.ErrHandshakeTimeout), KindHandshakeTimeout},
		{"handshake overflow", fmt.Errorf("handshake: %w", session.ErrHandshakeOverflow), KindHandshakeOverflow},
		{"child crashed", fmt.Errorf("child: %w", supervisor.ErrChildCrashed), KindChildCrashed},
		{"io error", fmt.Errorf("io: %w", bridge.ErrIOError), KindIOError},
		{"unknown", assert.AnError, KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(KindConfigInvalid))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindSpawnFailed))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(KindAuthFailure))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(KindHandshakeTimeout))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(KindChildCrashed))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 2, ExitCode(fmt.Errorf("bad: %w", ErrConfigInvalid)))
	assert.Equal(t, 1, ExitCode(fmt.Errorf("io: %w", bridge.ErrIOError)))
}
