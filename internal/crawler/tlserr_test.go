package crawler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsTLSError(t *testing.T) {
	t.Parallel()

	require.True(t, IsTLSError(errors.New("tls: handshake failure")))
	require.True(t, IsTLSError(errors.New("x509: certificate signed by unknown authority")))
	require.True(t, IsTLSError(errors.New("net/http: TLS handshake timeout")))
	require.True(t, IsTLSError(errors.New(`Get "https://legacy.example": http: server gave HTTP response to HTTPS client`)))
	require.False(t, IsTLSError(errors.New("connection refused")))
	require.False(t, IsTLSError(nil))
}
