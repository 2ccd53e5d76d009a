package extract

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Secondary matcher names. These recover {path, content} pairs from
// enclosing JSON that is too broken for the primary cascade.
const (
	MatcherBacktickMultiline = "backtick_multiline"
	MatcherBacktickInline    = "backtick_inline"
	MatcherLabeledBacktick   = "labeled_backtick"
	MatcherLabeledUnfenced   = "labeled_unfenced"
	MatcherBacktickPayload   = "backtick_payload"
	MatcherBrokenWriteFile   = "broken_write_file"
)

// SecondaryMatchers returns the default secondary cascade in priority order.
func SecondaryMatchers() []Matcher {
	return []Matcher{
		MatcherFunc{ID: MatcherBacktickMultiline, Fn: matchBacktickMultiline},
		MatcherFunc{ID: MatcherBacktickInline, Fn: matchBacktickInline},
		MatcherFunc{ID: MatcherLabeledBacktick, Fn: matchLabeledBacktick},
		MatcherFunc{ID: MatcherLabeledUnfenced, Fn: matchLabeledUnfenced},
		MatcherFunc{ID: MatcherBacktickPayload, Fn: matchBacktickPayload},
		MatcherFunc{ID: MatcherBrokenWriteFile, Fn: matchBrokenWriteFile},
	}
}

const (
	boldAction = `\*\*(?:Действие|Action):\*\*\s*(\w+)\s*\n`
	boldParams = `\*\*(?:Параметры|Parameters):\*\*\s*`
)

var backtickMultilineRe = regexp.MustCompile(`(?is)` + boldAction + boldParams +
	"\\{\\s*\\n?\\s*\"path\"\\s*:\\s*\"([^\"]+)\"\\s*,\\s*\\n?\\s*\"content\"\\s*:\\s*`(.+?)`\\s*\\n?\\}")

func matchBacktickMultiline(text string) []Candidate {
	return pathContentCandidates(backtickMultilineRe, text)
}

var backtickInlineRe = regexp.MustCompile(`(?is)` + boldAction + boldParams +
	"\\{\\s*\"path\"\\s*:\\s*\"([^\"]+)\"\\s*,\\s*\"content\"\\s*:\\s*`([^`]+)`")

func matchBacktickInline(text string) []Candidate {
	return pathContentCandidates(backtickInlineRe, text)
}

func pathContentCandidates(re *regexp.Regexp, text string) []Candidate {
	var out []Candidate
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		out = append(out, Candidate{
			Name: m[1],
			Args: map[string]interface{}{"path": m[2], "content": m[3]},
			Raw:  m[0],
		})
	}
	return out
}

var (
	labeledBacktickRe = regexp.MustCompile(`(?is)\*\*(?:Действие|Action|Tool):\*\*\s*(\w+)\s*\n` +
		`\*\*(?:Параметры|Parameters|Args):\*\*\s*(\{.+?\n\})`)
	backtickSpanRe = regexp.MustCompile("`([^`]+)`")
)

// Backtick spans standing in for strings are rewritten as JSON strings
// before repair.
func matchLabeledBacktick(text string) []Candidate {
	var out []Candidate
	for _, m := range labeledBacktickRe.FindAllStringSubmatch(text, -1) {
		out = append(out, fromPayload(m[1], quoteBacktickSpans(m[2]), m[0]))
	}
	return out
}

func quoteBacktickSpans(s string) string {
	return backtickSpanRe.ReplaceAllStringFunc(s, func(span string) string {
		quoted, err := json.Marshal(span[1 : len(span)-1])
		if err != nil {
			return span
		}
		return string(quoted)
	})
}

// Fenced call objects, or failing those plain labeled payloads, whose string
// values are backtick spans. Spans are quoted before the object is delimited
// so quotes and braces inside a body cannot unbalance it.
func matchBacktickPayload(text string) []Candidate {
	var out []Candidate
	for _, body := range fencedBodies(text) {
		if !strings.Contains(body, "`") {
			continue
		}
		res := Repair(quoteBacktickSpans(body))
		if !res.OK() || res.Tier == TierScrape {
			continue
		}
		if cand := splitObject(res.Args, body); cand.valid() {
			out = append(out, cand)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, loc := range labeledRe.FindAllStringSubmatchIndex(text, -1) {
		start := skipSpace(text, loc[1])
		rest := text[start:]
		if !strings.HasPrefix(rest, "{") || !strings.Contains(rest, "`") {
			continue
		}
		obj, _, ok := balancedObject(quoteBacktickSpans(rest), 0)
		if !ok {
			continue
		}
		out = append(out, fromPayload(text[loc[2]:loc[3]], obj, text[loc[0]:]))
	}
	return out
}

var labeledUnfencedRe = regexp.MustCompile(`(?is)(?:Действие|Action):\s*(\w+).*?(?:Параметры|Parameters|Args):\s*\{(.*?)\n\}`)

func matchLabeledUnfenced(text string) []Candidate {
	var out []Candidate
	for _, m := range labeledUnfencedRe.FindAllStringSubmatch(text, -1) {
		out = append(out, fromPayload(m[1], "{"+m[2]+"\n}", m[0]))
	}
	return out
}

var brokenWriteFileRe = regexp.MustCompile("(?is)```(?:json)?\\s*\\{\\s*\"tool\"\\s*:\\s*\"write_file\"\\s*,\\s*\"params\"\\s*:\\s*\\{\\s*" +
	"\"path\"\\s*:\\s*\"([^\"]+)\"\\s*,\\s*\"content\"\\s*:\\s*\"(.+?)(?:\"\\s*\\}\\s*\\}|$)\\s*```")

var escapeReplacer = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\"`, `"`)

// A write_file call whose content string is not valid JSON, for example
// interpolated strings with unescaped quotes.
func matchBrokenWriteFile(text string) []Candidate {
	var out []Candidate
	for _, m := range brokenWriteFileRe.FindAllStringSubmatch(text, -1) {
		out = append(out, Candidate{
			Name: "write_file",
			Args: map[string]interface{}{"path": m[1], "content": escapeReplacer.Replace(m[2])},
			Raw:  "write_file: " + m[1],
		})
	}
	return out
}
