package member

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Rank is a seniority code on the roman-numeral scale. Lower values carry
// more authority. The zero value means the rank is unknown.
type Rank int

const (
	RankUnknown Rank = 0
	maxRank     Rank = 39
)

var ErrInvalidRank = errors.New("invalid rank")

var romanValues = []struct {
	value  int
	symbol string
}{
	{10, "X"}, {9, "IX"}, {5, "V"}, {4, "IV"}, {1, "I"},
}

// ParseRank accepts a roman numeral ("III"), an arabic number ("3") or an
// empty string (unknown rank). A leading "GRAU" label is ignored.
func ParseRank(raw string) (Rank, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.TrimSpace(strings.TrimPrefix(s, "GRAU"))
	if s == "" {
		return RankUnknown, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 || Rank(n) > maxRank {
			return RankUnknown, fmt.Errorf("%w: %q", ErrInvalidRank, raw)
		}
		return Rank(n), nil
	}
	n, ok := parseRoman(s)
	if !ok {
		return RankUnknown, fmt.Errorf("%w: %q", ErrInvalidRank, raw)
	}
	return Rank(n), nil
}

func parseRoman(s string) (int, bool) {
	total := 0
	rest := s
	for _, rv := range romanValues {
		for strings.HasPrefix(rest, rv.symbol) {
			total += rv.value
			rest = rest[len(rv.symbol):]
		}
	}
	if rest != "" || total < 1 || Rank(total) > maxRank {
		return 0, false
	}
	// Reject non-canonical spellings such as "IIII" or "VX".
	if Rank(total).String() != s {
		return 0, false
	}
	return total, true
}

func (r Rank) Known() bool {
	return r > RankUnknown && r <= maxRank
}

// String renders the rank as a roman numeral; unknown ranks render empty.
func (r Rank) String() string {
	if !r.Known() {
		return ""
	}
	n := int(r)
	var b strings.Builder
	for _, rv := range romanValues {
		for n >= rv.value {
			b.WriteString(rv.symbol)
			n -= rv.value
		}
	}
	return b.String()
}

// Senior reports whether r carries more authority than other.
func (r Rank) Senior(other Rank) bool {
	if !r.Known() {
		return false
	}
	if !other.Known() {
		return true
	}
	return r < other
}
