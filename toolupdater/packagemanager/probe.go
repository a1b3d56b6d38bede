package packagemanager

import (
	"regexp"
	"strings"
)

// DefaultUpdateMarker is the text the dry-run prints when a newer version exists.
// It is written in lower case while the tool prints "Update available!", so
// DefaultUpdateProbe matches it ignoring case; an exact match would never fire.
const DefaultUpdateMarker = "update available"

type Matcher interface {
	Match(string) bool
}

type SubstringMatcher struct {
	Substring  string
	IgnoreCase bool
}

func (m SubstringMatcher) Match(s string) bool {
	if m.Substring == "" {
		return false
	}
	if m.IgnoreCase {
		return strings.Contains(strings.ToLower(s), strings.ToLower(m.Substring))
	}
	return strings.Contains(s, m.Substring)
}

type RegexMatcher struct {
	Pattern *regexp.Regexp
}

func NewRegexMatcher(pattern string) (*RegexMatcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &RegexMatcher{Pattern: re}, nil
}

func (r *RegexMatcher) Match(s string) bool {
	return r.Pattern.MatchString(s)
}

// UpdateProbe decides from dry-run output whether an update is pending.
type UpdateProbe struct {
	Matcher Matcher
}

// DefaultUpdateProbe matches DefaultUpdateMarker ignoring case.
func DefaultUpdateProbe() UpdateProbe {
	return UpdateProbe{Matcher: SubstringMatcher{Substring: DefaultUpdateMarker, IgnoreCase: true}}
}

func (p UpdateProbe) UpdateAvailable(output string) bool {
	if p.Matcher == nil || output == "" {
		return false
	}
	return p.Matcher.Match(output)
}
