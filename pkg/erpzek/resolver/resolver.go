// Package resolver matches a free-text search term against a set of named
// records fetched from the query gateway. It produces two confidence tiers
// (exact and approximate) plus a short list of display suggestions used for
// "did you mean" disambiguation replies.
//
// The resolver is a pure function over its inputs: no I/O, no state.
package resolver

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxSuggestions caps the number of display suggestions per resolution.
const MaxSuggestions = 5

// minTokenLen is the minimum token length considered for word-level matching.
// Short tokens ("ve", "as", "tic") produce too many false positives.
const minTokenLen = 2

// Candidate is a named record to match against, typically one row from a
// catalog operation. Display is the human-readable suggestion string; when
// empty, Name is used.
type Candidate struct {
	Name    string
	Display string
	Row     map[string]any
}

// Resolution holds the outcome of a single search. A candidate never appears
// in both tiers. Suggestions are ordered exact-first and capped at
// MaxSuggestions.
type Resolution struct {
	Exact       []Candidate
	Approximate []Candidate
	Suggestions []string
}

// Empty reports whether the resolution found nothing at all.
func (r Resolution) Empty() bool {
	return len(r.Exact) == 0 && len(r.Approximate) == 0
}

// turkishFold maps Turkish-specific letters to their base Latin forms before
// the generic Unicode pass. Dotless ı and dotted İ need explicit handling:
// strings.ToLower alone maps İ to "i" + combining dot.
var turkishFold = strings.NewReplacer(
	"ğ", "g", "Ğ", "g",
	"ü", "u", "Ü", "u",
	"ş", "s", "Ş", "s",
	"ı", "i", "İ", "i",
	"ö", "o", "Ö", "o",
	"ç", "c", "Ç", "c",
)

// stripMarks decomposes to NFD, removes combining marks, and recomposes.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases s, folds Turkish letters to base Latin, strips any
// remaining combining marks, and trims whitespace. It is total: empty input
// yields the empty string, and it never fails. Normalize is idempotent.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = turkishFold.Replace(s)
	s = strings.ToLower(s)
	if folded, _, err := transform.String(stripMarks, s); err == nil {
		s = folded
	}
	return strings.TrimSpace(s)
}

// Resolve matches term against candidates and buckets the results into
// tiers. A nil or empty candidate set (e.g. when the upstream fetch failed)
// returns an all-empty resolution; Resolve never fails.
func Resolve(candidates []Candidate, term string) Resolution {
	var res Resolution
	if len(candidates) == 0 {
		return res
	}

	needle := Normalize(term)
	exactSet := make(map[int]bool, len(candidates))

	for i, c := range candidates {
		if Normalize(c.Name) == needle && needle != "" {
			res.Exact = append(res.Exact, c)
			exactSet[i] = true
		}
	}

	for i, c := range candidates {
		if exactSet[i] {
			continue
		}
		if approximates(Normalize(c.Name), needle) {
			res.Approximate = append(res.Approximate, c)
		}
	}

	for _, c := range append(append([]Candidate{}, res.Exact...), res.Approximate...) {
		if len(res.Suggestions) >= MaxSuggestions {
			break
		}
		display := c.Display
		if display == "" {
			display = c.Name
		}
		if strings.TrimSpace(display) == "" {
			continue
		}
		res.Suggestions = append(res.Suggestions, display)
	}

	return res
}

// approximates reports whether two normalized names are close enough for the
// approximate tier: containment either way, prefix either way, or any token
// longer than minTokenLen of one appearing inside the other.
func approximates(name, needle string) bool {
	if name == "" || needle == "" {
		return false
	}
	if strings.Contains(name, needle) || strings.Contains(needle, name) {
		return true
	}
	if strings.HasPrefix(name, needle) || strings.HasPrefix(needle, name) {
		return true
	}
	for _, word := range strings.Fields(needle) {
		if len(word) > minTokenLen && strings.Contains(name, word) {
			return true
		}
	}
	for _, word := range strings.Fields(name) {
		if len(word) > minTokenLen && strings.Contains(needle, word) {
			return true
		}
	}
	return false
}
