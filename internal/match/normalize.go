// Package match implements the tiered product-matching engine: blocking,
// exact barcode matching, fuzzy brand+name scoring, embedding similarity,
// LLM arbitration, and cluster construction.
package match

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stopWords lists tokens too generic to be informative for blocking or
// name comparison. Hebrew and English mixed, matching the listing corpus.
var stopWords = map[string]bool{
	// English fillers
	"the": true, "and": true, "with": true, "for": true, "of": true,
	"new": true, "pack": true, "extra": true,
	// Hebrew fillers
	"של": true, "עם": true, "ללא": true, "סוג": true, "מארז": true,
	"יחידות": true, "יחידה": true, "אריזה": true,
}

// unitTokens are measurement units stripped from names before comparison.
var unitTokens = map[string]bool{
	"ml": true, "l": true, "ltr": true, "liter": true, "litre": true,
	"g": true, "gr": true, "kg": true, "mg": true, "oz": true, "cl": true,
	"units": true, "unit": true, "pcs": true, "pc": true,
	"מל": true, "ליטר": true, "גרם": true, "גר": true, "קג": true,
	"יח": true,
}

var (
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)
	// glazedQuantityRe matches a number glued to a unit ("400ml", "1.5l").
	glazedQuantityRe = regexp.MustCompile(`^\d+(?:\.\d+)?([^\d.].*)?$`)

	// stripMarks removes combining marks (Hebrew niqqud, Latin diacritics)
	// after canonical decomposition.
	stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

	punctReplacer = strings.NewReplacer(
		",", " ",
		".", " ",
		"'", "",
		"\"", "",
		"״", "",
		"׳", "",
		"&", " ",
		"-", " ",
		"_", " ",
		"/", " ",
		"(", " ",
		")", " ",
		"%", " ",
		"+", " ",
		"!", " ",
	)
)

// NormalizeName standardizes a listing name for comparison by:
//  1. Trimming and lower-casing
//  2. Stripping combining marks (niqqud, diacritics)
//  3. Replacing punctuation with spaces
//  4. Collapsing runs of whitespace
func NormalizeName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return ""
	}
	if folded, _, err := transform.String(stripMarks, name); err == nil {
		name = folded
	}
	name = punctReplacer.Replace(name)
	name = multiSpaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// NormalizeBrand case-folds and punctuation-strips a brand string so that
// "Nivea", "NIVEA" and "nivea." land in the same brand bucket.
func NormalizeBrand(brand string) string {
	return NormalizeName(brand)
}

// StripQuantities removes size/quantity expressions from a normalized name:
// bare numbers, unit tokens, and number+unit tokens ("400ml", "250 מל").
// Size consistency is checked separately against the parsed size attribute,
// so "shampoo 400ml" and "shampoo 250ml" compare on the bare name.
func StripQuantities(name string) string {
	fields := strings.Fields(name)
	out := make([]string, 0, len(fields))
	for _, tok := range fields {
		if unitTokens[tok] {
			continue
		}
		if m := glazedQuantityRe.FindStringSubmatch(tok); m != nil {
			// Bare number, or a number glued to a known unit.
			if m[1] == "" || unitTokens[m[1]] {
				continue
			}
		}
		out = append(out, tok)
	}
	return strings.Join(out, " ")
}

// Tokenize splits a normalized name into the stop-word-filtered token set
// used for blocking. Numerics, units, glued quantities ("250ml"), and
// single-character tokens are dropped; Hebrew and Latin tokens are both
// retained.
func Tokenize(name string) []string {
	fields := strings.Fields(NormalizeName(name))
	out := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, tok := range fields {
		if len([]rune(tok)) < 2 {
			continue
		}
		if stopWords[tok] || unitTokens[tok] {
			continue
		}
		if isNumeric(tok) {
			continue
		}
		if m := glazedQuantityRe.FindStringSubmatch(tok); m != nil && (m[1] == "" || unitTokens[m[1]]) {
			continue
		}
		if seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

func isNumeric(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}
