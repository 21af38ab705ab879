package normalize

import (
	"strings"
	"unicode"
)

// legalSuffixes are compared after lowercasing and dropping dots and commas,
// so "B.V." and "Inc." match as well.
var legalSuffixes = map[string]struct{}{
	"inc":         {},
	"llc":         {},
	"ltd":         {},
	"limited":     {},
	"corp":        {},
	"corporation": {},
	"gmbh":        {},
	"bv":          {},
	"ag":          {},
	"sa":          {},
	"sas":         {},
	"srl":         {},
	"plc":         {},
}

// Text collapses every whitespace run into a single space and trims the result.
func Text(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// CompanyName normalizes whitespace and strips one trailing legal-entity suffix
// such as "Inc" or "GmbH". A single-token name is never stripped.
func CompanyName(name string) string {
	name = Text(name)
	fields := strings.Fields(name)
	if len(fields) < 2 {
		return name
	}

	last := strings.ToLower(fields[len(fields)-1])
	last = strings.NewReplacer(".", "", ",", "").Replace(last)
	if _, ok := legalSuffixes[last]; !ok {
		return name
	}

	rest := strings.Join(fields[:len(fields)-1], " ")
	rest = strings.TrimRight(rest, ", ")
	return Text(rest)
}

// ForFuzzy lowercases s, turns every non-word rune into a space and collapses
// whitespace. It is meant for similarity scoring only.
func ForFuzzy(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// Tokens returns the set of whitespace separated tokens of s.
func Tokens(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Prefix returns the first n runes of s, or s itself when it is shorter.
func Prefix(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
