package eventbus

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/xiaojinao/cellium/errors"
)

// CatchAll is the historic catch-all marker: a subscription with this
// exact pattern matches every event regardless of segment structure.
const CatchAll = "*"

// matcher decides whether an event name matches a subscription pattern.
type matcher interface {
	Match(event string) bool
}

type exactMatcher struct {
	name string
}

func (m exactMatcher) Match(event string) bool {
	return event == m.name
}

type catchAllMatcher struct{}

func (catchAllMatcher) Match(string) bool {
	return true
}

// globMatcher wraps one or more compiled globs; the pattern matches when
// any alternative does. Multiple alternatives arise from '#' wildcards,
// which may also match zero segments (so "user.#" matches "user").
type globMatcher struct {
	alternatives []glob.Glob
}

func (m globMatcher) Match(event string) bool {
	for _, g := range m.alternatives {
		if g.Match(event) {
			return true
		}
	}
	return false
}

// compilePattern builds a matcher for a subscription pattern.
// Pattern grammar over dot-delimited event names:
//
//	'*' alone     - catch-all marker
//	'*' in a path - exactly one segment
//	'#'           - zero or more segments
//	'?'           - exactly one character
//
// Everything else is matched literally.
func compilePattern(pattern string) (matcher, error) {
	if pattern == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: empty pattern", errors.ErrInvalidPattern),
			"Bus", "compilePattern", "pattern validation")
	}

	if pattern == CatchAll {
		return catchAllMatcher{}, nil
	}

	if !strings.ContainsAny(pattern, "*#?") {
		return exactMatcher{name: pattern}, nil
	}

	alternatives := make([]glob.Glob, 0, 2)

	// gobwas/glob with a '.' separator gives '*' = one segment and
	// '?' = one character for free; '#' maps onto its '**' super-wildcard.
	primary := strings.ReplaceAll(pattern, "#", "**")
	g, err := glob.Compile(primary, '.')
	if err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrInvalidPattern, pattern),
			"Bus", "compilePattern", "glob compilation")
	}
	alternatives = append(alternatives, g)

	// '**' still requires its adjacent dot to be present, so "user.#"
	// would miss the bare "user". Compile a second alternative with the
	// '#' and its neighbouring dot collapsed to cover zero segments.
	if strings.Contains(pattern, "#") {
		collapsed := collapseHash(pattern)
		if collapsed == "" {
			alternatives = append(alternatives, glob.MustCompile("", '.'))
		} else if !strings.ContainsAny(collapsed, "*#?") {
			alternatives = append(alternatives, glob.MustCompile(escapeLiteral(collapsed), '.'))
		} else {
			zero, err := glob.Compile(strings.ReplaceAll(collapsed, "#", "**"), '.')
			if err == nil {
				alternatives = append(alternatives, zero)
			}
		}
	}

	return globMatcher{alternatives: alternatives}, nil
}

// collapseHash removes each '#' wildcard together with one neighbouring
// dot, yielding the pattern's zero-segment reading.
func collapseHash(pattern string) string {
	out := pattern
	for strings.Contains(out, "#") {
		switch {
		case strings.Contains(out, ".#"):
			out = strings.Replace(out, ".#", "", 1)
		case strings.Contains(out, "#."):
			out = strings.Replace(out, "#.", "", 1)
		default:
			out = strings.Replace(out, "#", "", 1)
		}
	}
	return out
}

// escapeLiteral escapes glob metacharacters so a collapsed pattern with
// no remaining wildcards matches literally.
func escapeLiteral(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '{', '}', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
