package helper

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	spaceRun    = regexp.MustCompile(`[ \t\f\v\r]+`)
	blankLines  = regexp.MustCompile(`\n\s*\n`)
	excessLines = regexp.MustCompile(`\n{3,}`)
)

// CleanText collapses runs of spaces, squeezes blank lines to one empty line
// and drops non-printable characters other than newline and tab.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || unicode.IsPrint(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, text)
	text = spaceRun.ReplaceAllString(text, " ")
	text = blankLines.ReplaceAllString(text, "\n\n")
	text = excessLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// CreateExcerpt shortens text to at most maxLength characters. It cuts after
// the last sentence terminator when that lies past 70% of maxLength,
// otherwise at the last space with an ellipsis.
func CreateExcerpt(text string, maxLength int) string {
	runes := []rune(text)
	if len(runes) <= maxLength {
		return text
	}

	excerpt := runes[:maxLength]
	breakPoint := -1
	for i := len(excerpt) - 1; i >= 0; i-- {
		if excerpt[i] == '.' || excerpt[i] == '?' || excerpt[i] == '!' {
			breakPoint = i
			break
		}
	}
	if float64(breakPoint) > float64(maxLength)*0.7 {
		return string(runes[:breakPoint+1])
	}

	for i := len(excerpt) - 1; i > 0; i-- {
		if excerpt[i] == ' ' {
			return string(runes[:i]) + "..."
		}
	}
	return string(excerpt) + "..."
}

// CountOccurrences counts non-overlapping, case-insensitive matches of each
// keyword. Keywords that do not occur are omitted.
func CountOccurrences(text string, keywords []string) map[string]int {
	lower := strings.ToLower(text)
	matches := make(map[string]int)
	for _, kw := range keywords {
		if n := strings.Count(lower, strings.ToLower(kw)); n > 0 {
			matches[kw] = n
		}
	}
	return matches
}

// Terms splits text into lowercase whitespace-separated terms.
func Terms(text string) []string {
	return strings.Fields(strings.ToLower(text))
}
