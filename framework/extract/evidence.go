package extract

import (
	"regexp"
	"strings"
)

var evidenceRes = []*regexp.Regexp{
	regexp.MustCompile(`"tool"\s*:`),
	regexp.MustCompile(`(?i)<tool[\s>]`),
	regexp.MustCompile(`(?i)(?:^|\n)[ \t]*(?:\*\*)?(?:Action|Действие)(?:\*\*)?[ \t]*:[ \t]*(?:\*\*)?[ \t]*\w+`),
	regexp.MustCompile(`(?i)Action Input\s*:`),
}

// HasMalformedCallEvidence reports whether text contains strong signs of an
// attempted tool call. Callers use it after extraction came back empty to
// tell a broken call apart from an ordinary answer.
func HasMalformedCallEvidence(text string) bool {
	for _, re := range evidenceRes {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func hasSecondaryMarkers(text string) bool {
	if !strings.Contains(text, "`") {
		return false
	}
	lower := strings.ToLower(text)
	return strings.Contains(lower, "content") || strings.Contains(lower, "path")
}
