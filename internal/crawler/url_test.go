package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSeed(t *testing.T) {
	t.Parallel()

	for _, good := range []string{"https://example.com", " http://example.com/path?q=1 "} {
		u, err := ParseSeed(good)
		require.NoError(t, err, good)
		require.NotEmpty(t, u.Host)
	}
	for _, bad := range []string{"", "example.com", "ftp://example.com", "https://", "://nope"} {
		_, err := ParseSeed(bad)
		require.ErrorIs(t, err, ErrInvalidURL, bad)
	}
}

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"HTTPS://Example.COM":            "https://example.com/",
		"https://example.com:443/a":      "https://example.com/a",
		"http://example.com:80/a":        "http://example.com/a",
		"http://example.com:8080/a":      "http://example.com:8080/a",
		"https://example.com/a#frag":     "https://example.com/a",
		"https://example.com/a?b=1":      "https://example.com/a?b=1",
		"https://example.com/Case/Path/": "https://example.com/Case/Path/",
	}
	for in, want := range tests {
		got, err := NormalizeURL(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := NormalizeURL("http://%zz")
	require.Error(t, err)
}

func TestSameOrigin(t *testing.T) {
	t.Parallel()

	base := mustURL(t, "https://example.com")
	require.True(t, SameOrigin(base, mustURL(t, "https://EXAMPLE.com:443/x")))
	require.False(t, SameOrigin(base, mustURL(t, "http://example.com/x")))
	require.False(t, SameOrigin(base, mustURL(t, "https://sub.example.com/x")))
	require.False(t, SameOrigin(base, mustURL(t, "https://example.com:8443/x")))
	require.False(t, SameOrigin(nil, base))
}
