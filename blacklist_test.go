package pagerender

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWildcardToRegexp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern string
		url     string
		match   bool
	}{
		{"*.example*", "http://ads.example/banner.png", true},
		{"*.example*", "http://ads.example", true},
		{"*.example*", "http://example.org/page", false},
		{"http://exact.host/path", "http://exact.host/path", true},
		{"http://exact.host/path", "http://exact.host/path2", false},
		// matching is case-sensitive against the full URL
		{"*.Example*", "http://ads.example/banner.png", false},
		// regexp metacharacters in patterns are literals
		{"*.tracker.net/a+b*", "http://www.tracker.net/a+b/x", true},
		{"*.tracker.net/a+b*", "http://www.tracker.net/ab/x", false},
	}
	for _, tt := range tests {
		bl, err := compileBlacklist([]string{tt.pattern})
		require.NoError(t, err)
		assert.Equal(t, tt.match, bl.matches(tt.url), "pattern %q url %q", tt.pattern, tt.url)
	}
}

func TestBlacklistEmpty(t *testing.T) {
	t.Parallel()

	bl, err := compileBlacklist(nil)
	require.NoError(t, err)
	assert.Nil(t, bl)
	assert.False(t, bl.matches("http://anything"))
	assert.False(t, bl.blocked("http://anything", nil))
}

func TestBlacklistAllowList(t *testing.T) {
	t.Parallel()

	bl, err := compileBlacklist([]string{"*.example*"})
	require.NoError(t, err)

	safe := map[string]struct{}{
		"http://safe.example/artifact.html": {},
	}

	// not matching any pattern: proceeds
	assert.False(t, bl.blocked("http://other.org/page", safe))
	// matching and allow-listed: proceeds
	assert.False(t, bl.blocked("http://safe.example/artifact.html", safe))
	// matching and not allow-listed: blocked
	assert.True(t, bl.blocked("http://blocked.example/page", safe))
	// the allow-list is exact-URL, not prefix
	assert.True(t, bl.blocked("http://safe.example/artifact.html?x=1", safe))
}
