// Package subject holds the decoded-subject side of the rewrite: deciding whether a
// subject carries a removable tag, cleaning it, and encoding the result back into a
// header-safe value.
package subject

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultPattern removes an "[EXTERN]" tag together with the blanks after it.
const DefaultPattern = `\[EXTERN\][ \t]*`

type Matcher struct {
	sources  []string
	patterns []*regexp.Regexp
}

// NewMatcher compiles patterns in order. Matching is case-insensitive; a pattern can
// opt out with an inline (?-i).
func NewMatcher(patterns []string) (*Matcher, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("subject: no patterns configured")
	}

	m := &Matcher{}
	for _, p := range patterns {
		re, err := Compile(p)
		if err != nil {
			return nil, err
		}
		m.sources = append(m.sources, p)
		m.patterns = append(m.patterns, re)
	}
	return m, nil
}

// MustMatcher is NewMatcher for patterns known to be valid.
func MustMatcher(patterns ...string) *Matcher {
	m, err := NewMatcher(patterns)
	if err != nil {
		panic(err)
	}
	return m
}

// Compile compiles a single removal pattern.
func Compile(pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("subject: empty pattern")
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("subject: invalid pattern %q: %w", pattern, err)
	}
	return re, nil
}

func (m *Matcher) HasMatch(subject string) bool {
	if subject == "" {
		return false
	}
	for _, re := range m.patterns {
		if re.MatchString(subject) {
			return true
		}
	}
	return false
}

// Clean removes every match of every pattern, each pattern running on the output of
// the previous one, and trims the result.
func (m *Matcher) Clean(subject string) string {
	cleaned := subject
	for _, re := range m.patterns {
		cleaned = re.ReplaceAllString(cleaned, "")
	}
	return strings.TrimSpace(cleaned)
}

func (m *Matcher) Patterns() []string {
	return append([]string(nil), m.sources...)
}
