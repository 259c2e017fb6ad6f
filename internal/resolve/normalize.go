// Package resolve links pedigree references to canonical horse records.
// Matching is conservative: a wrong back-link silently corrupts ancestry
// analytics, so ambiguity is always resolved by abstaining.
package resolve

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)
	// Trailing country suffix as printed in racing names: "Example (IRE)".
	countrySuffixRe = regexp.MustCompile(`\s*\(([A-Za-z]{2,3})\)\s*$`)
)

// NormalizeName standardizes a horse or ancestor name for matching:
// NFKC-normalized, uppercased, punctuation stripped, whitespace collapsed.
// The country suffix is removed; use SplitRegion first when the region is
// needed.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	name, _ = SplitRegion(name)
	name = norm.NFKC.String(name)
	name = strings.ToUpper(name)

	name = strings.NewReplacer(
		"'", "",
		"’", "",
		".", "",
		",", "",
		"-", " ",
	).Replace(name)

	name = multiSpaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// SplitRegion strips a trailing country suffix from a racing name and
// returns the bare name plus the lowercased region code. Region is ""
// when the name carries no suffix — upstream does not always supply one.
func SplitRegion(name string) (string, string) {
	m := countrySuffixRe.FindStringSubmatch(name)
	if m == nil {
		return strings.TrimSpace(name), ""
	}
	base := strings.TrimSpace(countrySuffixRe.ReplaceAllString(name, ""))
	return base, strings.ToLower(m[1])
}
