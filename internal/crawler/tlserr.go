package crawler

import "strings"

// IsTLSError reports whether err looks like a TLS handshake or certificate
// failure. The fetcher uses it to decide on the plain-HTTP retry and the
// frontier uses it to classify the failure status.
func IsTLSError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"tls:",
		"x509:",
		"certificate",
		"handshake failure",
		"TLS handshake timeout",
		// net/http reports a plaintext server answering a TLS client
		// with this message rather than a tls: prefixed error.
		"server gave HTTP response to HTTPS client",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
