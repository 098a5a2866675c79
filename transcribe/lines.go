package transcribe

import (
	"regexp"
	"strings"
	"unicode"
)

// sentenceBreak matches sentence-ending punctuation followed by whitespace,
// including \v, Unicode separators, NEL and the BOM. The punctuation stays
// with the line it ends.
var sentenceBreak = regexp.MustCompile(`[.!?][\s\v\p{Z}\x{85}\x{FEFF}]+`)

// SplitIntoLines breaks a transcription into trimmed, non-empty lines.
func SplitIntoLines(text string) []string {
	lines := make([]string, 0)

	start := 0
	for _, loc := range sentenceBreak.FindAllStringIndex(text, -1) {
		lines = appendLine(lines, text[start:loc[0]+1])
		start = loc[1]
	}
	lines = appendLine(lines, text[start:])

	return lines
}

func appendLine(lines []string, segment string) []string {
	segment = strings.TrimFunc(segment, isLineSpace)
	if segment == "" {
		return lines
	}
	return append(lines, segment)
}

func isLineSpace(r rune) bool {
	return unicode.IsSpace(r) || unicode.Is(unicode.Z, r) || r == '\uFEFF'
}
