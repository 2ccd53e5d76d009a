package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Repair tier names, in the order they are attempted.
const (
	TierStrict         = "strict"
	TierSingleQuotes   = "single_quotes"
	TierTrailingCommas = "trailing_commas"
	TierBareKeys       = "bare_keys"
	TierScrape         = "scrape"
)

var (
	errEmptyPayload = errors.New("empty payload")
	// errNotObject stops the repair chain: valid JSON that is not an object is
	// rejected rather than coerced.
	errNotObject = errors.New("payload is not a JSON object")
	errNoPairs   = errors.New("no key/value pairs found")
)

// RepairResult reports which tier decoded a payload, or why none did.
type RepairResult struct {
	Args     map[string]interface{}
	Tier     string
	Err      error
	Failures []TierFailure
}

// OK reports whether a tier produced a mapping.
func (r RepairResult) OK() bool { return r.Err == nil && r.Args != nil }

// TierFailure records one failed tier.
type TierFailure struct {
	Tier string
	Err  error
}

type tier struct {
	name string
	fn   func(string) (map[string]interface{}, error)
}

var tiers = []tier{
	{TierStrict, decodeObject},
	{TierSingleQuotes, func(s string) (map[string]interface{}, error) {
		return decodeObject(strings.ReplaceAll(s, "'", `"`))
	}},
	{TierTrailingCommas, func(s string) (map[string]interface{}, error) {
		return decodeObject(stripTrailingCommas(s))
	}},
	{TierBareKeys, func(s string) (map[string]interface{}, error) {
		return decodeObject(quoteBareKeys(stripTrailingCommas(s)))
	}},
	{TierScrape, scrapePairs},
}

// Repair decodes payload into an argument mapping, trying each tier in order.
// It never panics and never returns a non-object value.
func Repair(payload string) RepairResult {
	cleaned := strings.TrimSpace(payload)
	if cleaned == "" {
		return RepairResult{Err: errEmptyPayload}
	}
	var res RepairResult
	for _, t := range tiers {
		args, err := t.fn(cleaned)
		if err == nil {
			res.Args = args
			res.Tier = t.name
			res.Err = nil
			return res
		}
		res.Failures = append(res.Failures, TierFailure{Tier: t.name, Err: err})
		if errors.Is(err, errNotObject) {
			res.Err = err
			return res
		}
	}
	res.Err = fmt.Errorf("all repair tiers failed: %w", res.Failures[len(res.Failures)-1].Err)
	return res
}

func decodeObject(s string) (map[string]interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: got %T", errNotObject, v)
	}
	return obj, nil
}

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	bareKeyRe       = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_\-]*)\s*:`)
)

func stripTrailingCommas(s string) string {
	return trailingCommaRe.ReplaceAllString(s, "$1")
}

func quoteBareKeys(s string) string {
	return bareKeyRe.ReplaceAllString(s, `$1"$2":`)
}

var pairRe = regexp.MustCompile(`"(\w+)"\s*:\s*(?:"((?:[^"\\]|\\.)*)"|(-?\d+(?:\.\d+)?)|(\w+))`)

// scrapePairs assembles a best-effort mapping from "key": value pairs while
// ignoring the syntax around them.
func scrapePairs(s string) (map[string]interface{}, error) {
	matches := pairRe.FindAllStringSubmatchIndex(s, -1)
	out := make(map[string]interface{})
	for _, m := range matches {
		key := s[m[2]:m[3]]
		if _, seen := out[key]; seen {
			continue
		}
		switch {
		case m[4] >= 0:
			out[key] = unescapeLoose(s[m[4]:m[5]])
		case m[6] >= 0:
			if f, err := strconv.ParseFloat(s[m[6]:m[7]], 64); err == nil {
				out[key] = f
			}
		case m[8] >= 0:
			word := s[m[8]:m[9]]
			switch strings.ToLower(word) {
			case "true":
				out[key] = true
			case "false":
				out[key] = false
			case "null":
				out[key] = nil
			default:
				out[key] = word
			}
		}
	}
	if len(out) == 0 {
		return nil, errNoPairs
	}
	return out, nil
}

// unescapeLoose decodes JSON escapes in a string body that may also contain
// raw control characters.
func unescapeLoose(body string) string {
	var buf bytes.Buffer
	buf.WriteByte('"')
	for _, r := range body {
		switch r {
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			buf.WriteRune(r)
		}
	}
	buf.WriteByte('"')
	var out string
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		return body
	}
	return out
}
