// Package schema derives destination table and column identifiers from a
// delimited source file.
//
// Identifiers are "normalized tokens": diacritics stripped, bracketed
// annotations removed, everything outside ASCII letters and digits dropped,
// and the remaining words joined in lower camel case. The same rule is used
// for table names (from the file name) and column names (from the header),
// so a file re-imported under the same logical name always lands in the same
// table.
package schema

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var bracketed = regexp.MustCompile(`\[.*?\]`)

// Normalize converts an arbitrary label into a camel-case identifier.
//
// Example:
//
//	Normalize("Distribuição [de] Renda") == "distribuicaoRenda"
//
// Normalize is total: labels with no usable characters return "". It is
// also a fixed point on its own output.
func Normalize(raw string) string {
	s := bracketed.ReplaceAllString(raw, "")
	s = stripMarks(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case isASCIIAlnum(r):
			b.WriteRune(r)
		default:
			// whitespace and everything else become a word break
			b.WriteByte(' ')
		}
	}

	// A one-letter word followed by another word joins into an upper-case
	// run ("col A B" -> "colAB") that does not split back into the same
	// words. Joining a second time folds the run ("colAb"), after which the
	// camel boundaries and the words agree.
	return camelJoin(splitWords(camelJoin(splitWords(b.String()))))
}

// camelJoin lowercases the first word and capitalizes the rest.
func camelJoin(words []string) string {
	if len(words) == 0 {
		return ""
	}
	var out strings.Builder
	out.WriteString(strings.ToLower(words[0]))
	for _, w := range words[1:] {
		out.WriteString(capitalize(w))
	}
	return out.String()
}

// stripMarks decomposes s (NFD) and drops combining marks, so "ç" becomes
// "c" and "ã" becomes "a". Runes without a decomposition pass through and
// are discarded later as non-alphanumeric.
func stripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// splitWords splits on spaces and on lower/digit -> upper transitions.
func splitWords(s string) []string {
	var words []string
	for _, field := range strings.Fields(s) {
		start := 0
		for i := 1; i < len(field); i++ {
			prev, cur := field[i-1], field[i]
			if isUpper(cur) && (isLower(prev) || isDigit(prev)) {
				words = append(words, field[start:i])
				start = i
			}
		}
		words = append(words, field[start:])
	}
	return words
}

func capitalize(w string) string {
	if w == "" {
		return w
	}
	return strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
}

func isASCIIAlnum(r rune) bool {
	return r < unicode.MaxASCII && (isLower(byte(r)) || isUpper(byte(r)) || isDigit(byte(r)))
}

func isLower(c byte) bool { return c >= 'a' && c <= 'z' }
func isUpper(c byte) bool { return c >= 'A' && c <= 'Z' }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }
