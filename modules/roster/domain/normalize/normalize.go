// Package normalize turns free-text organizational and person names into
// canonical comparison keys.
//
// Every function here is total and idempotent: Key(k, Key(k, s)) == Key(k, s)
// for every kind and input. Garbage input degrades to an empty key.
package normalize

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type Kind string

const (
	KindCommand  Kind = "command"
	KindRegional Kind = "regional"
	KindDivision Kind = "division"
	KindRole     Kind = "role"
	KindPerson   Kind = "person"
)

// Organizational reports whether kind names a tier of the command hierarchy.
func (k Kind) Organizational() bool {
	switch k {
	case KindCommand, KindRegional, KindDivision:
		return true
	default:
		return false
	}
}

var (
	// Brazilian state codes. Only these are stripped as trailing " - XX"
	// suffixes so that "REGIONAL - II" keeps its numeral.
	stateCodes = map[string]struct{}{
		"AC": {}, "AL": {}, "AP": {}, "AM": {}, "BA": {}, "CE": {}, "DF": {},
		"ES": {}, "GO": {}, "MA": {}, "MT": {}, "MS": {}, "MG": {}, "PA": {},
		"PB": {}, "PR": {}, "PE": {}, "PI": {}, "RJ": {}, "RN": {}, "RS": {},
		"RO": {}, "RR": {}, "SC": {}, "SP": {}, "SE": {}, "TO": {},
	}

	hierarchyPrefixes = []string{"COMANDO ", "REGIONAL ", "DIVISAO ", "DIV ", "REG "}

	romanFold = map[string]string{"I": "1", "II": "2", "III": "3"}

	stateSuffix = regexp.MustCompile(`^(.*?)\s*-\s*([A-Z]{2})\s*$`)
)

// Normalizer holds an abbreviation table applied to organizational names
// after base normalization.
type Normalizer struct {
	abbrev map[string]string
	keys   []string
}

var defaultNormalizer = New(nil)

// Key normalizes text with an empty abbreviation table.
func Key(kind Kind, text string) string {
	return defaultNormalizer.Key(kind, text)
}

// New builds a Normalizer. Keys and expansions are normalized up front;
// entries that normalize to nothing, or whose expansion would itself be
// expanded again, are dropped.
func New(abbreviations map[string]string) *Normalizer {
	table := map[string]string{}
	for k, v := range abbreviations {
		nk := baseOrganizational(k)
		nv := baseOrganizational(v)
		if nk == "" || nv == "" || nk == nv || isPrefixWord(nv) {
			continue
		}
		table[nk] = nv
	}
	n := &Normalizer{abbrev: map[string]string{}}
	for k, v := range table {
		unstable := false
		for other := range table {
			if hasWordPrefix(v, other) || hasWordPrefix(other, v) {
				unstable = true
				break
			}
		}
		if !unstable {
			n.abbrev[k] = v
		}
	}
	n.keys = make([]string, 0, len(n.abbrev))
	for k := range n.abbrev {
		n.keys = append(n.keys, k)
	}
	sort.Slice(n.keys, func(i, j int) bool {
		if len(n.keys[i]) != len(n.keys[j]) {
			return len(n.keys[i]) > len(n.keys[j])
		}
		return n.keys[i] < n.keys[j]
	})
	return n
}

// Abbreviations returns a copy of the effective table.
func (n *Normalizer) Abbreviations() map[string]string {
	out := make(map[string]string, len(n.abbrev))
	for k, v := range n.abbrev {
		out[k] = v
	}
	return out
}

func (n *Normalizer) Key(kind Kind, text string) string {
	switch {
	case kind.Organizational():
		return n.expand(baseOrganizational(text))
	case kind == KindRole:
		return baseRole(text)
	default:
		return Person(text)
	}
}

func (n *Normalizer) expand(s string) string {
	for _, k := range n.keys {
		if hasWordPrefix(s, k) {
			return n.abbrev[k] + s[len(k):]
		}
	}
	return s
}

// Person normalizes a person's name: uppercase, no diacritics, letters and
// digits separated by single spaces.
func Person(text string) string {
	s := fold(text)
	return collapse(strings.Map(keepAlnum, s))
}

func baseOrganizational(text string) string {
	s := fold(text)
	s = stripStateSuffixes(s)
	s = collapse(strings.Map(keepASCIIAlnum, s))
	s = stripPrefixes(s)
	return collapse(foldRomans(s))
}

func baseRole(text string) string {
	s := fold(text)
	s = collapse(strings.Map(keepASCIIAlnum, s))
	return collapse(foldRomans(s))
}

// fold strips diacritics before uppercasing: some letters have no
// precomposed uppercase form and would decompose again on a second pass.
func fold(text string) string {
	return stripDiacritics(strings.ToUpper(stripDiacritics(text)))
}

func stripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func stripStateSuffixes(s string) string {
	for {
		m := stateSuffix.FindStringSubmatch(strings.TrimSpace(s))
		if m == nil {
			return s
		}
		if _, ok := stateCodes[m[2]]; !ok {
			return s
		}
		s = m[1]
	}
}

func stripPrefixes(s string) string {
	for {
		stripped := false
		for _, p := range hierarchyPrefixes {
			if strings.HasPrefix(s, p) {
				s = strings.TrimSpace(s[len(p):])
				stripped = true
			}
		}
		if !stripped {
			return s
		}
	}
}

func foldRomans(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if d, ok := romanFold[w]; ok {
			words[i] = d
		}
	}
	return strings.Join(words, " ")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func keepASCIIAlnum(r rune) rune {
	if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
		return r
	}
	return ' '
}

func keepAlnum(r rune) rune {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return r
	}
	return ' '
}

func isPrefixWord(s string) bool {
	for _, p := range hierarchyPrefixes {
		if s == strings.TrimSpace(p) {
			return true
		}
	}
	return false
}

func hasWordPrefix(s, prefix string) bool {
	return s == prefix || strings.HasPrefix(s, prefix+" ")
}

// Contains reports whether needle occurs in haystack on word boundaries.
// Both arguments are expected to be normalized keys.
func Contains(haystack, needle string) bool {
	if haystack == "" || needle == "" {
		return false
	}
	return strings.Contains(" "+haystack+" ", " "+needle+" ")
}
