package extractor

import (
	"strings"
	"unicode"
)

// typography maps ligatures, dashes and curly quotes left by PDF and office exports to
// their plain ASCII forms.
var typography = strings.NewReplacer(
	"\r\n", "\n",
	"\r", "\n",
	"\ufb01", "fi",
	"\ufb02", "fl",
	"\ufb00", "ff",
	"\ufb03", "ffi",
	"\ufb04", "ffl",
	"\u2013", "-",
	"\u2014", "-",
	"\u2018", "'",
	"\u2019", "'",
	"\u201c", `"`,
	"\u201d", `"`,
)

// Normalize unifies line endings, replaces typographic ligatures, dashes and quotes,
// drops control characters, collapses horizontal whitespace runs and keeps at most one
// blank line between paragraphs.
func Normalize(text string) string {
	text = typography.Replace(text)

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = collapseSpaces(line)
		if line == "" {
			blank++
			if blank > 1 || len(out) == 0 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func collapseSpaces(line string) string {
	var b strings.Builder
	b.Grow(len(line))
	pendingSpace := false
	for _, r := range line {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case unicode.IsControl(r) || r == unicode.ReplacementChar:
			continue
		default:
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}
