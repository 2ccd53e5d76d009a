package framework

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CallSource records which path produced a Call.
type CallSource string

const (
	SourceNative     CallSource = "native"
	SourceTextParsed CallSource = "text_parsed"
	SourceManual     CallSource = "manual"
)

// MaxSnippetRunes bounds Call.RawSnippet.
const MaxSnippetRunes = 200

// Call is a named request to invoke a capability. Arguments are always a
// resolved mapping; payloads that fail to decode are kept under "raw".
type Call struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Arguments  map[string]interface{} `json:"arguments"`
	Source     CallSource             `json:"source"`
	RawSnippet string                 `json:"raw_snippet,omitempty"`
}

// NewCall builds a call with a fresh identifier. Nil arguments become an
// empty mapping.
func NewCall(name string, args map[string]interface{}, source CallSource) Call {
	if args == nil {
		args = map[string]interface{}{}
	}
	return Call{
		ID:        NewCallID(),
		Name:      name,
		Arguments: args,
		Source:    source,
	}
}

// NewCallID returns an identifier of the form call_<12 hex chars>.
func NewCallID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "call_" + id[:12]
}

// CallIDFor derives a stable call identifier from seed, so parsers that must
// be deterministic still hand out unique ids.
func CallIDFor(seed string) string {
	id := strings.ReplaceAll(uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String(), "-", "")
	return "call_" + id[:12]
}

// Snippet trims s to MaxSnippetRunes.
func Snippet(s string) string {
	r := []rune(s)
	if len(r) <= MaxSnippetRunes {
		return s
	}
	return string(r[:MaxSnippetRunes])
}

func (c Call) String() string {
	args, _ := json.Marshal(c.Arguments)
	preview := string(args)
	if len(preview) > 50 {
		preview = preview[:50] + "..."
	}
	return fmt.Sprintf("%s(%s) source=%s", c.Name, preview, c.Source)
}

// ExecutionResult is the outcome of running one Call. Success implies an
// empty Error and failure implies a non-empty one; use Succeeded and Failed
// to build values that keep that invariant.
type ExecutionResult struct {
	CallID   string        `json:"call_id"`
	ToolName string        `json:"tool_name"`
	Success  bool          `json:"success"`
	Data     interface{}   `json:"data,omitempty"`
	Error    string        `json:"error,omitempty"`
	Latency  time.Duration `json:"latency,omitempty"`
}

// Succeeded builds a successful result for call.
func Succeeded(call Call, data interface{}) ExecutionResult {
	return ExecutionResult{CallID: call.ID, ToolName: call.Name, Success: true, Data: data}
}

// Failed builds a failed result for call. An empty message is replaced so the
// failure always carries a reason.
func Failed(call Call, message string) ExecutionResult {
	if strings.TrimSpace(message) == "" {
		message = "tool failed without an error message"
	}
	return ExecutionResult{CallID: call.ID, ToolName: call.Name, Success: false, Error: message}
}

// Message renders the result the way it is fed back into the conversation.
func (r ExecutionResult) Message() string {
	if !r.Success {
		return "Error: " + r.Error
	}
	switch data := r.Data.(type) {
	case nil:
		return "Success"
	case string:
		return data
	case map[string]interface{}, []interface{}:
		encoded, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Sprint(data)
		}
		return string(encoded)
	default:
		return fmt.Sprint(data)
	}
}

// CallBatch groups calls with their results.
type CallBatch struct {
	Calls    []Call            `json:"calls"`
	Results  []ExecutionResult `json:"results"`
	Executed bool              `json:"executed"`
}

// NewCallBatch wraps calls in a batch.
func NewCallBatch(calls []Call) *CallBatch {
	return &CallBatch{Calls: calls}
}

// Add appends a call.
func (b *CallBatch) Add(call Call) {
	b.Calls = append(b.Calls, call)
	b.Executed = false
}

// AddResult appends a result and marks the batch executed once every call
// has one.
func (b *CallBatch) AddResult(result ExecutionResult) {
	b.Results = append(b.Results, result)
	b.Executed = len(b.Results) == len(b.Calls)
}

// Finalize reorders results to match call order. Results for unknown call
// IDs keep their relative order after the matched ones.
func (b *CallBatch) Finalize() {
	if len(b.Results) < 2 {
		b.Executed = len(b.Results) == len(b.Calls)
		return
	}
	byID := make(map[string][]ExecutionResult, len(b.Results))
	for _, r := range b.Results {
		byID[r.CallID] = append(byID[r.CallID], r)
	}
	ordered := make([]ExecutionResult, 0, len(b.Results))
	for _, c := range b.Calls {
		if rs := byID[c.ID]; len(rs) > 0 {
			ordered = append(ordered, rs[0])
			byID[c.ID] = rs[1:]
		}
	}
	for _, r := range b.Results {
		if rs := byID[r.CallID]; len(rs) > 0 {
			ordered = append(ordered, rs[0])
			byID[r.CallID] = rs[1:]
		}
	}
	b.Results = ordered
	b.Executed = len(b.Results) == len(b.Calls)
}

// ResultFor looks up the result for a call id.
func (b *CallBatch) ResultFor(callID string) (ExecutionResult, bool) {
	for _, r := range b.Results {
		if r.CallID == callID {
			return r, true
		}
	}
	return ExecutionResult{}, false
}

// AllSuccessful reports whether every recorded result succeeded.
func (b *CallBatch) AllSuccessful() bool {
	for _, r := range b.Results {
		if !r.Success {
			return false
		}
	}
	return true
}

// HasErrors reports whether any recorded result failed.
func (b *CallBatch) HasErrors() bool {
	return !b.AllSuccessful()
}

// Len returns the number of calls.
func (b *CallBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Calls)
}
