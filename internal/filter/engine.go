// Package filter implements the file name matching engine used to select
// what gets uploaded or published.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// Kind is the type of a rule.
type Kind string

// Supported rule kinds.
const (
	Include   Kind = "include"
	Exclude   Kind = "exclude"
	IncludeRe Kind = "include_re"
	ExcludeRe Kind = "exclude_re"
)

// regexPrefix marks a pattern given on the command line as a regular
// expression instead of a glob.
const regexPrefix = "re:"

// Rule is one include or exclude pattern.
type Rule struct {
	Kind    Kind
	Pattern string
}

// Parse builds a rule from command line text. A "re:" prefix selects a
// regular expression.
func Parse(pattern string, exclude bool) Rule {
	if p, ok := strings.CutPrefix(pattern, regexPrefix); ok {
		if exclude {
			return Rule{Kind: ExcludeRe, Pattern: p}
		}
		return Rule{Kind: IncludeRe, Pattern: p}
	}
	if exclude {
		return Rule{Kind: Exclude, Pattern: pattern}
	}
	return Rule{Kind: Include, Pattern: pattern}
}

type matcher interface {
	Match(s string) bool
}

type regexMatcher struct {
	re *regexp.Regexp
}

func (r regexMatcher) Match(s string) bool {
	return r.re.MatchString(s)
}

type compiled struct {
	include bool
	m       matcher
}

// Set is a compiled list of rules.
type Set struct {
	rules []compiled
}

// Compile validates and compiles rules. Matching is case-insensitive.
func Compile(rules []Rule) (*Set, error) {
	s := &Set{rules: make([]compiled, 0, len(rules))}
	for _, r := range rules {
		var (
			m   matcher
			err error
		)
		switch r.Kind {
		case Include, Exclude:
			m, err = glob.Compile(strings.ToLower(r.Pattern))
			if err != nil {
				return nil, fmt.Errorf("invalid glob %q: %w", r.Pattern, err)
			}
		case IncludeRe, ExcludeRe:
			re, err := regexp.Compile("(?i)" + r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid regex: %w", err)
			}
			m = regexMatcher{re: re}
		default:
			return nil, fmt.Errorf("unknown rule kind %q", r.Kind)
		}
		s.rules = append(s.rules, compiled{include: r.Kind == Include || r.Kind == IncludeRe, m: m})
	}
	return s, nil
}

// Match checks whether name passes the set.
// If no rules are given, every name passes.
// Include rules use OR logic (at least one must match).
// Exclude rules use AND logic (none must match).
func (s *Set) Match(name string) bool {
	if s == nil || len(s.rules) == 0 {
		return true
	}

	lower := strings.ToLower(name)
	hasIncludes := false
	anyIncludeMatched := false

	for _, r := range s.rules {
		if r.include {
			hasIncludes = true
			if r.m.Match(lower) {
				anyIncludeMatched = true
			}
			continue
		}
		if r.m.Match(lower) {
			return false
		}
	}

	if hasIncludes && !anyIncludeMatched {
		return false
	}
	return true
}

// Apply returns the names that pass the set, in order.
func (s *Set) Apply(names []string) []string {
	var out []string
	for _, n := range names {
		if s.Match(n) {
			out = append(out, n)
		}
	}
	return out
}
