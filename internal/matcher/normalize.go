package matcher

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	bracketed = regexp.MustCompile(`\s*[\(\[][^\)\]]*[\)\]]`)
	trademark = strings.NewReplacer("™", "", "®", "", "©", "")
)

// Normalize folds a game name for comparison:
// "The Witcher® 3: Wild Hunt" -> "witcher 3 wild hunt".
func Normalize(s string) string {
	// Decompose accented characters, then drop the combining marks.
	s = norm.NFKD.String(trademark.Replace(s))

	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			space = false
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}

	out := strings.TrimSpace(b.String())
	if rest, ok := strings.CutPrefix(out, "the "); ok && rest != "" {
		out = rest
	}
	return out
}

// CleanName strips edition and subtitle noise from a library folder name:
// "Half-Life 2 (2004) - GOTY" -> "Half-Life 2". Returns the input trimmed
// when nothing can be removed.
func CleanName(s string) string {
	s = trademark.Replace(s)
	s = bracketed.ReplaceAllString(s, "")
	if i := strings.Index(s, ":"); i > 0 {
		s = s[:i]
	}
	if i := strings.Index(s, " - "); i > 0 {
		s = s[:i]
	}
	return strings.Join(strings.Fields(s), " ")
}

func tokens(normalized string) map[string]struct{} {
	fields := strings.Fields(normalized)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
