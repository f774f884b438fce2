package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeName canonicalizes a team name for dictionary lookup and fuzzy
// comparison: lowercase, accents stripped, parenthetical metadata like
// "(W)" removed, punctuation dropped (except the & in "A&M"), whitespace
// collapsed.
func normalizeName(name string) string {
	s := strings.ToLower(name)

	// Drop parenthetical qualifiers the odds feed appends, e.g. "(W)".
	if i := strings.IndexByte(s, '('); i >= 0 {
		if j := strings.IndexByte(s[i:], ')'); j >= 0 {
			s = s[:i] + s[i+j+1:]
		}
	}

	if stripped, _, err := transform.String(accentStripper, s); err == nil {
		s = stripped
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '&':
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '.':
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// geoModifiers are direction and qualifier words that change which school
// a name refers to. A fuzzy containment match is rejected when the longer
// name's extra tokens include one of these: "East Texas" is not "Texas".
var geoModifiers = map[string]bool{
	"north": true, "south": true, "east": true, "west": true,
	"central": true, "northern": true, "southern": true,
	"eastern": true, "western": true,
	"state": true, "tech": true, "a&m": true,
}

// fillerTokens carry no identity and are ignored during token comparison.
var fillerTokens = map[string]bool{
	"university": true, "college": true, "the": true, "of": true,
	"st": true, "saint": true,
}

func tokenSet(normalized string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(normalized) {
		if !fillerTokens[tok] {
			set[tok] = true
		}
	}
	return set
}

// namesMatch reports whether two normalized team names refer to the same
// team. Equal token sets always match. Containment (one set inside the
// other) matches only when none of the extra tokens is a geographic or
// qualifier modifier.
func namesMatch(a, b string) bool {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return false
	}

	small, big := ta, tb
	if len(small) > len(big) {
		small, big = big, small
	}
	for tok := range small {
		if !big[tok] {
			return false
		}
	}
	// small ⊆ big: reject when the surplus tokens change identity.
	for tok := range big {
		if !small[tok] && geoModifiers[tok] {
			return false
		}
	}
	return true
}
