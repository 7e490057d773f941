package cli

import (
	"fmt"
	"strconv"
	"strings"
)

// Tokenize splits a command line on white space. Single and double quotes
// group words; a quote of the other kind inside them is literal.
func Tokenize(line string) ([]string, error) {
	var (
		tokens []string
		cur    strings.Builder
		quote  rune
		inTok  bool
	)
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			inTok = true
		case r == ' ' || r == '\t':
			if inTok {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inTok = false
			}
		default:
			cur.WriteRune(r)
			inTok = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if inTok {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}

// argSpec declares the options a command accepts.
type argSpec struct {
	// values are options followed by a value, like -output dir.
	values []string
	// optional are options whose numeric value may be omitted, like -L [n].
	optional []string
	flags    []string
	// keys are key=value settings.
	keys []string
}

// Args is a parsed command line.
type Args struct {
	Positional []string
	values     map[string][]string
	flags      map[string]bool
}

// Value returns the last value given for name, or def.
func (a Args) Value(name, def string) string {
	if v := a.values[name]; len(v) > 0 {
		return v[len(v)-1]
	}
	return def
}

// Values returns every value given for name in order.
func (a Args) Values(name string) []string {
	return a.values[name]
}

// Has reports whether the option or key was given at all.
func (a Args) Has(name string) bool {
	_, ok := a.values[name]
	return ok || a.flags[name]
}

// Flag reports whether the flag was given.
func (a Args) Flag(name string) bool {
	return a.flags[name]
}

// Int returns the value of name as an integer, or def when it is absent.
func (a Args) Int(name string, def int) (int, error) {
	raw := a.Value(name, "")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", name, raw)
	}
	return n, nil
}

// Arg returns the i-th positional argument or an empty string.
func (a Args) Arg(i int) string {
	if i < len(a.Positional) {
		return a.Positional[i]
	}
	return ""
}

func parseArgs(tokens []string, spec argSpec) (Args, error) {
	a := Args{values: make(map[string][]string), flags: make(map[string]bool)}
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case strings.HasPrefix(tok, "-") && len(tok) > 1:
			switch {
			case contains(spec.values, tok):
				if i+1 >= len(tokens) {
					return Args{}, fmt.Errorf("option %s needs a value", tok)
				}
				i++
				a.values[tok] = append(a.values[tok], tokens[i])
			case contains(spec.optional, tok):
				a.flags[tok] = true
				if i+1 < len(tokens) {
					if _, err := strconv.Atoi(tokens[i+1]); err == nil {
						i++
						a.values[tok] = append(a.values[tok], tokens[i])
					}
				}
			case contains(spec.flags, tok):
				a.flags[tok] = true
			default:
				return Args{}, fmt.Errorf("unknown option %s", tok)
			}
		case strings.Contains(tok, "="):
			key, value, _ := strings.Cut(tok, "=")
			if !contains(spec.keys, key) {
				a.Positional = append(a.Positional, tok)
				continue
			}
			a.values[key] = append(a.values[key], value)
		default:
			a.Positional = append(a.Positional, tok)
		}
	}
	return a, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
