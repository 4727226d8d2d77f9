package pagerender

import (
	"regexp"
	"strings"
)

// blacklist holds the compiled deny patterns for outgoing network requests.
// Patterns use shell-style wildcards, where * matches any run of characters;
// they are translated to anchored regular expressions and matched
// case-sensitively against the full request URL.
type blacklist struct {
	patterns []*regexp.Regexp
}

// compileBlacklist translates wildcard patterns into anchored regular
// expressions. An empty pattern list yields a nil blacklist, which blocks
// nothing.
func compileBlacklist(patterns []string) (*blacklist, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	b := &blacklist{patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		re, err := regexp.Compile(wildcardToRegexp(p))
		if err != nil {
			return nil, &ConfigurationError{Field: "blacklist pattern", Reason: err.Error()}
		}
		b.patterns = append(b.patterns, re)
	}
	return b, nil
}

// wildcardToRegexp converts a shell-style wildcard pattern to an anchored
// regular expression source string.
func wildcardToRegexp(pattern string) string {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return "^" + strings.Join(parts, ".*") + "$"
}

// matches reports whether url matches any deny pattern.
func (b *blacklist) matches(url string) bool {
	if b == nil {
		return false
	}
	for _, re := range b.patterns {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}

// blocked reports whether a request for url must be aborted. URLs present in
// the allow-list proceed even when a deny pattern matches them; locally
// generated intermediate artifacts must always stay reachable.
func (b *blacklist) blocked(url string, safeURLs map[string]struct{}) bool {
	if !b.matches(url) {
		return false
	}
	_, safe := safeURLs[url]
	return !safe
}
