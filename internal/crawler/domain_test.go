package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeDomain(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", NormalizeDomain("example.com"))
	require.Equal(t, "example.com", NormalizeDomain("WWW.Example.COM"))
	require.Equal(t, "example.com", NormalizeDomain("https://www.example.com/path?q=1"))
	require.Equal(t, "example.com", NormalizeDomain("http://example.com/"))
	require.Equal(t, "example.com", NormalizeDomain("  example.com  "))
	require.Equal(t, "blog.example.com", NormalizeDomain("blog.example.com"))
}
