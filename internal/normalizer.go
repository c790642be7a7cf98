package internal

import (
	"strings"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// combining diacritical marks block
const (
	combiningMarkFirst = '\u0300'
	combiningMarkLast  = '\u036f'
)

// SearchSentinel is the upper bound appended to a prefix to turn a range
// query into a starts-with match.
const SearchSentinel = "\uf8ff"

func isCombiningMark(r rune) bool {
	return r >= combiningMarkFirst && r <= combiningMarkLast
}

// NormalizeText lowercases s, decomposes it canonically and strips combining
// diacritical marks. NormalizeText(NormalizeText(s)) == NormalizeText(s).
func NormalizeText(s string) string {
	if s == "" {
		return ""
	}
	// transform chains keep state, so one per call
	t := transform.Chain(norm.NFD, runes.Remove(runes.Predicate(isCombiningMark)))
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// normalizeAny normalizes string-like values and returns "" for anything else.
func normalizeAny(v any) string {
	switch s := v.(type) {
	case string:
		return NormalizeText(s)
	case *string:
		if s == nil {
			return ""
		}
		return NormalizeText(*s)
	default:
		return ""
	}
}
