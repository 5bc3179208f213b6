package dedupe

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	parentheticalRe = regexp.MustCompile(`\([^)]*\)`)
	bracketedRe     = regexp.MustCompile(`\[[^\]]*\]`)
	nonAlnumRe      = regexp.MustCompile(`[^a-z0-9 ]`)
	whitespaceRe    = regexp.MustCompile(`\s+`)
)

// Normalize folds a title or artist name into the canonical duplicate-matching
// key: NFKD-normalize, lowercase, strip parenthetical and bracketed qualifiers
// such as "(2011 Remaster)" or "[Explicit]", drop everything outside
// [a-z0-9 ], collapse whitespace, trim.
//
// The exact sequence is a compatibility contract: fingerprints created by
// older versions must keep matching. It is idempotent.
func Normalize(s string) string {
	s = norm.NFKD.String(s)
	s = strings.ToLower(s)
	s = parentheticalRe.ReplaceAllString(s, "")
	s = bracketedRe.ReplaceAllString(s, "")
	s = nonAlnumRe.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// NormalizeAll normalizes a slice of strings, preserving order
func NormalizeAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = Normalize(v)
	}
	return out
}
