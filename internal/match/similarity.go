package match

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"
)

// Ratio returns a normalized similarity in [0,1] between two strings:
// 1 - levenshtein_distance / max_len, computed over runes. Two empty
// strings are identical (1.0).
func Ratio(a, b string) float64 {
	if a == b {
		return 1.0
	}
	la, lb := len([]rune(a)), len([]rune(b))
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	if maxLen == 0 {
		return 1.0
	}
	dist := levenshtein.Distance(a, b, nil)
	return 1.0 - float64(dist)/float64(maxLen)
}

// TokenSetRatio compares two strings on their sorted unique token sets,
// which makes the score insensitive to word order and to tokens shared by
// both sides ("Nivea Body Lotion" vs "body lotion nivea" → 1.0). This is
// the name component of the tier-2 score.
func TokenSetRatio(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1.0
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0.0
	}

	var common, onlyA, onlyB []string
	for tok := range ta {
		if tb[tok] {
			common = append(common, tok)
		} else {
			onlyA = append(onlyA, tok)
		}
	}
	for tok := range tb {
		if !ta[tok] {
			onlyB = append(onlyB, tok)
		}
	}
	sort.Strings(common)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	base := strings.Join(common, " ")
	sideA := strings.TrimSpace(base + " " + strings.Join(onlyA, " "))
	sideB := strings.TrimSpace(base + " " + strings.Join(onlyB, " "))

	// The intersection compared against each full side; the best pairing
	// wins. With identical token sets base==sideA==sideB and the ratio is 1.
	best := Ratio(base, sideA)
	if r := Ratio(base, sideB); r > best {
		best = r
	}
	if r := Ratio(sideA, sideB); r > best {
		best = r
	}
	return best
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		set[tok] = true
	}
	return set
}
