package matcher

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases, strips diacritics, collapses whitespace, then
// resolves through a sport-specific alias map (e.g. "man utd" -> "manchester united").
func Normalize(s string, aliases map[string]string) string {
	if s == "" {
		return ""
	}
	s = stripDiacritics(s)
	s = strings.ToLower(strings.TrimSpace(s))
	s = collapseWhitespace(s)
	if canonical, ok := aliases[s]; ok {
		return canonical
	}
	return s
}

func stripDiacritics(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range norm.NFD.String(s) {
		if !unicode.Is(unicode.Mn, r) { // Mn = Mark, Nonspacing (combining accents)
			b.WriteRune(r)
		}
	}
	return b.String()
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// significantTokens splits a normalized team name into tokens, dropping
// short filler words ("the", "fc", "of") that would otherwise produce
// spurious overlap with unrelated market text.
var stopTokens = map[string]bool{
	"the": true, "fc": true, "of": true, "a": true, "an": true,
}

func significantTokens(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,?!")
		if f == "" || stopTokens[f] || len(f) < 3 {
			continue
		}
		out = append(out, f)
	}
	return out
}
