package extract

import (
	"errors"
	"regexp"
	"strings"
)

var (
	errMissingName = errors.New("call object has no tool name")
	errUnclosed    = errors.New("argument object never closes")
)

// Primary matcher names, most structurally unambiguous first.
const (
	MatcherMarkupTag    = "markup_tag"
	MatcherFencedTool   = "fenced_tool"
	MatcherFencedObject = "fenced_object"
	MatcherLabeled      = "labeled"
	MatcherCallSyntax   = "call_syntax"
	MatcherInlineTool   = "inline_tool"
)

// PrimaryMatchers returns the default primary cascade in priority order.
func PrimaryMatchers() []Matcher {
	return []Matcher{
		MatcherFunc{ID: MatcherMarkupTag, Fn: matchMarkupTag},
		MatcherFunc{ID: MatcherFencedTool, Fn: matchFencedTool},
		MatcherFunc{ID: MatcherFencedObject, Fn: matchFencedObject},
		MatcherFunc{ID: MatcherLabeled, Fn: matchLabeled},
		MatcherFunc{ID: MatcherCallSyntax, Fn: matchCallSyntax},
		MatcherFunc{ID: MatcherInlineTool, Fn: matchInlineTool},
	}
}

var markupTagRe = regexp.MustCompile(`(?is)<tool\s+name=["'](\w+)["'][^>]*>\s*(.*?)\s*</tool>`)

// <tool name="X">{...}</tool>
func matchMarkupTag(text string) []Candidate {
	var out []Candidate
	for _, m := range markupTagRe.FindAllStringSubmatch(text, -1) {
		out = append(out, fromPayload(m[1], m[2], m[0]))
	}
	return out
}

var fenceRe = regexp.MustCompile("(?s)```[ \\t]*(?:json|JSON)?[ \\t]*\\r?\\n?(.*?)```")

// fencedBodies yields the trimmed contents of every fenced block that looks
// like a JSON object.
func fencedBodies(text string) []string {
	var out []string
	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		body := strings.TrimSpace(m[1])
		if strings.HasPrefix(body, "{") {
			out = append(out, body)
		}
	}
	return out
}

var (
	fencedToolRe = regexp.MustCompile(`(?s)"tool"\s*:\s*"(\w+)".*?"(?:params|parameters|arguments)"\s*:\s*`)
	explicitArgs = []string{"params", "parameters", "arguments"}
)

// A fenced object with an explicit "tool" field and a nested arguments field.
func matchFencedTool(text string) []Candidate {
	var out []Candidate
	for _, body := range fencedBodies(text) {
		if !strings.Contains(body, `"tool"`) {
			continue
		}
		if res := Repair(body); res.OK() && res.Tier != TierScrape {
			if _, named := res.Args["tool"].(string); named && hasArgKey(res.Args, explicitArgs...) {
				out = append(out, splitObject(res.Args, body))
			}
			continue
		}
		// The enclosing object is broken; try to recover the nested arguments
		// on their own.
		loc := fencedToolRe.FindStringSubmatchIndex(body)
		if loc == nil {
			continue
		}
		name := body[loc[2]:loc[3]]
		start := skipSpace(body, loc[1])
		obj, _, ok := balancedObject(body, start)
		if !ok {
			out = append(out, Candidate{Name: name, Raw: body, Err: errUnclosed})
			continue
		}
		out = append(out, fromPayload(name, obj, body))
	}
	return out
}

// A fenced block holding one bare call object.
func matchFencedObject(text string) []Candidate {
	var out []Candidate
	for _, body := range fencedBodies(text) {
		res := Repair(body)
		if !res.OK() {
			out = append(out, Candidate{Raw: body, Repair: res, Err: res.Err})
			continue
		}
		out = append(out, splitObject(res.Args, body))
	}
	return out
}

var labeledRe = regexp.MustCompile(
	`(?i)(?:^|\n)[ \t]*(?:\*\*)?(?:Action|Tool|Действие)(?:\*\*)?[ \t]*:[ \t]*(?:\*\*)?[ \t]*(\w+)[ \t]*(?:\*\*)?[ \t]*\r?\n` +
		`[ \t]*(?:\*\*)?(?:Action Input|Input|Args|Arguments|Parameters|Params|Параметры)(?:\*\*)?[ \t]*:[ \t]*(?:\*\*)?\s*` +
		"(?:```(?:json)?\\s*)?")

// Action: X
// Action Input: {...}
func matchLabeled(text string) []Candidate {
	var out []Candidate
	for _, loc := range labeledRe.FindAllStringSubmatchIndex(text, -1) {
		name := text[loc[2]:loc[3]]
		start := skipSpace(text, loc[1])
		if start >= len(text) || text[start] != '{' {
			continue
		}
		obj, _, ok := balancedObject(text, start)
		raw := text[loc[0]:min(len(text), start+len(obj))]
		if !ok {
			out = append(out, Candidate{Name: name, Raw: text[loc[0]:], Err: errUnclosed})
			continue
		}
		out = append(out, fromPayload(name, obj, raw))
	}
	return out
}

var callSyntaxRe = regexp.MustCompile(`([A-Za-z_]\w*)\s*\(\s*\{`)

// name({...})
func matchCallSyntax(text string) []Candidate {
	var out []Candidate
	consumed := 0
	for _, loc := range callSyntaxRe.FindAllStringSubmatchIndex(text, -1) {
		if loc[0] < consumed {
			continue
		}
		start := loc[1] - 1
		obj, end, ok := balancedObject(text, start)
		if !ok {
			continue
		}
		closeAt := skipSpace(text, end)
		if closeAt >= len(text) || text[closeAt] != ')' {
			continue
		}
		consumed = closeAt + 1
		out = append(out, fromPayload(text[loc[2]:loc[3]], obj, text[loc[0]:consumed]))
	}
	return out
}

var inlineToolRe = regexp.MustCompile(`\{\s*"tool"\s*:\s*"(\w+)"\s*,\s*"(?:params|parameters|arguments)"\s*:\s*\{`)

// {"tool":"X","params":{...}}
func matchInlineTool(text string) []Candidate {
	var out []Candidate
	consumed := 0
	for _, loc := range inlineToolRe.FindAllStringSubmatchIndex(text, -1) {
		if loc[0] < consumed {
			continue
		}
		obj, end, ok := balancedObject(text, loc[1]-1)
		if !ok {
			continue
		}
		closeAt := skipSpace(text, end)
		if closeAt >= len(text) || text[closeAt] != '}' {
			continue
		}
		consumed = closeAt + 1
		out = append(out, fromPayload(text[loc[2]:loc[3]], obj, text[loc[0]:consumed]))
	}
	return out
}
