package extract

import (
	"errors"
	"strings"
)

var errNotACall = errors.New(`object has a "name" but no arguments field`)

// Candidate is one potential call found by a Matcher. Err is set when the
// payload could not be turned into an argument mapping.
type Candidate struct {
	Name   string
	Args   map[string]interface{}
	Raw    string
	Repair RepairResult
	Err    error
}

func (c Candidate) valid() bool {
	return c.Err == nil && strings.TrimSpace(c.Name) != "" && c.Args != nil
}

// Matcher recognises one textual convention for tool calls. Implementations
// must be pure: the same text always yields the same candidates in document
// order.
type Matcher interface {
	Name() string
	Match(text string) []Candidate
}

// MatcherFunc adapts a function into a named Matcher.
type MatcherFunc struct {
	ID string
	Fn func(text string) []Candidate
}

// Name implements Matcher.
func (m MatcherFunc) Name() string { return m.ID }

// Match implements Matcher.
func (m MatcherFunc) Match(text string) []Candidate { return m.Fn(text) }

// fromPayload builds a candidate by repairing payload. A blank payload means
// a call without arguments.
func fromPayload(name, payload, raw string) Candidate {
	if strings.TrimSpace(payload) == "" {
		return Candidate{Name: name, Args: map[string]interface{}{}, Raw: raw}
	}
	res := Repair(payload)
	return Candidate{Name: name, Args: res.Args, Raw: raw, Repair: res, Err: res.Err}
}

var (
	nameKeys = []string{"tool", "name", "function"}
	argKeys  = []string{"params", "parameters", "arguments", "args"}
)

// splitObject pulls the tool name and arguments out of a decoded call
// object. Without an explicit arguments key the remaining fields are the
// arguments, but only when the name came from "tool" or "function": an
// object with a plain "name" and other fields is ordinary data, such as a
// package manifest, and is not a call.
func splitObject(obj map[string]interface{}, raw string) Candidate {
	var name, nameKey string
	for _, k := range nameKeys {
		if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
			name, nameKey = strings.TrimSpace(s), k
			break
		}
	}
	if name == "" {
		return Candidate{Raw: raw, Err: errMissingName}
	}
	for _, k := range argKeys {
		v, present := obj[k]
		if !present {
			continue
		}
		switch typed := v.(type) {
		case map[string]interface{}:
			return Candidate{Name: name, Args: typed, Raw: raw}
		case string:
			return fromPayload(name, typed, raw)
		case nil:
			return Candidate{Name: name, Args: map[string]interface{}{}, Raw: raw}
		default:
			return Candidate{Name: name, Raw: raw, Err: errNotObject}
		}
	}
	args := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		if isNameKey(k) {
			continue
		}
		args[k] = v
	}
	if nameKey == "name" && len(args) > 0 {
		return Candidate{Name: name, Raw: raw, Err: errNotACall}
	}
	return Candidate{Name: name, Args: args, Raw: raw}
}

func isNameKey(k string) bool {
	for _, n := range nameKeys {
		if k == n {
			return true
		}
	}
	return false
}

func hasArgKey(obj map[string]interface{}, keys ...string) bool {
	for _, k := range keys {
		if _, ok := obj[k]; ok {
			return true
		}
	}
	return false
}
