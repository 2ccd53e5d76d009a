// Package extract recovers tool calls from free-form model output. An ordered
// primary cascade of matchers handles well-formed conventions; a secondary
// cascade recovers file writes from badly broken JSON. Payloads pass through
// repair tiers that never panic and never coerce non-object values.
package extract

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/lexcodex/toolrelay/framework"
)

// Cascade labels reported by ExtractDetailed.
const (
	CascadePrimary   = "primary"
	CascadeSecondary = "secondary"
)

// Result carries extracted calls and the matcher that produced them.
type Result struct {
	Calls   []framework.Call
	Matcher string
	Cascade string
}

// Extractor runs the matcher cascades. The zero value is not usable; build
// one with New.
type Extractor struct {
	strict    bool
	logger    *slog.Logger
	primary   []Matcher
	secondary []Matcher
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithStrict disables the secondary cascade.
func WithStrict() Option {
	return func(e *Extractor) { e.strict = true }
}

// WithLogger routes rejected-candidate diagnostics to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) { e.logger = logger }
}

// WithMatcher appends a matcher to the end of the primary cascade.
func WithMatcher(m Matcher) Option {
	return func(e *Extractor) { e.primary = append(e.primary, m) }
}

// WithFallbackMatcher appends a matcher to the end of the secondary cascade.
func WithFallbackMatcher(m Matcher) Option {
	return func(e *Extractor) { e.secondary = append(e.secondary, m) }
}

// New builds an extractor with the default cascades.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		primary:   PrimaryMatchers(),
		secondary: SecondaryMatchers(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Extractor) log() *slog.Logger {
	logger := e.logger
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", "extract")
}

var defaultExtractor = New()

// Extract runs the default extractor over text.
func Extract(text string) []framework.Call {
	return defaultExtractor.Extract(text)
}

// Extract returns the calls recovered from text in document order, or nil.
func (e *Extractor) Extract(text string) []framework.Call {
	return e.ExtractDetailed(text).Calls
}

// ExtractDetailed is Extract plus the name of the winning matcher.
//
// The primary cascade stops at the first matcher that yields a call with a
// name and a non-empty argument mapping; calls from later matchers are
// discarded even when they use a different convention. When the primary
// result is empty or lacks file content and the text carries backtick spans
// near path/content markers, the secondary cascade may replace it. A primary
// result that only survived key/value scraping counts as lacking content. Calls
// without arguments are only returned when nothing better was found.
func (e *Extractor) ExtractDetailed(text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{}
	}

	var primary, partial Result
	var scraped bool
	for _, m := range e.primary {
		calls, degraded := e.run(m, text)
		if len(calls) == 0 {
			continue
		}
		if anyComplete(calls) {
			primary = Result{Calls: calls, Matcher: m.Name(), Cascade: CascadePrimary}
			scraped = degraded
			break
		}
		if partial.Calls == nil {
			partial = Result{Calls: calls, Matcher: m.Name(), Cascade: CascadePrimary}
		}
	}

	if !e.strict && hasSecondaryMarkers(text) && (scraped || !hasContent(primary.Calls)) {
		for _, m := range e.secondary {
			calls, _ := e.run(m, text)
			if len(calls) == 0 {
				continue
			}
			if hasContent(calls) || (len(primary.Calls) == 0 && anyComplete(calls)) {
				e.log().Debug("secondary cascade recovered calls", "matcher", m.Name(), "count", len(calls))
				return Result{Calls: calls, Matcher: m.Name(), Cascade: CascadeSecondary}
			}
		}
	}

	if len(primary.Calls) > 0 {
		e.log().Debug("primary cascade recovered calls", "matcher", primary.Matcher, "count", len(primary.Calls))
		return primary
	}
	if len(partial.Calls) > 0 {
		e.log().Debug("recovered calls without arguments", "matcher", partial.Matcher, "count", len(partial.Calls))
		return partial
	}
	return Result{}
}

// run applies one matcher and converts its valid candidates into calls.
// degraded reports whether any payload needed key/value scraping.
func (e *Extractor) run(m Matcher, text string) (calls []framework.Call, degraded bool) {
	logger := e.log()
	for i, cand := range safeMatch(m, text, logger) {
		if !cand.valid() {
			logger.Debug("candidate rejected",
				"matcher", m.Name(),
				"name", cand.Name,
				"error", errString(cand.Err),
				"failed_tiers", len(cand.Repair.Failures),
				"raw", framework.Snippet(cand.Raw),
			)
			continue
		}
		if cand.Repair.Tier != "" && cand.Repair.Tier != TierStrict {
			logger.Debug("payload repaired", "matcher", m.Name(), "tier", cand.Repair.Tier)
			degraded = degraded || cand.Repair.Tier == TierScrape
		}
		calls = append(calls, framework.Call{
			ID:         framework.CallIDFor(fmt.Sprintf("%s:%d:%s", m.Name(), i, cand.Raw)),
			Name:       strings.TrimSpace(cand.Name),
			Arguments:  cand.Args,
			Source:     framework.SourceTextParsed,
			RawSnippet: framework.Snippet(cand.Raw),
		})
	}
	return calls, degraded
}

// safeMatch contains panics from third-party matchers.
func safeMatch(m Matcher, text string, logger *slog.Logger) (out []Candidate) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("matcher panicked", "matcher", m.Name(), "panic", fmt.Sprint(r))
			out = nil
		}
	}()
	return m.Match(text)
}

func anyComplete(calls []framework.Call) bool {
	for _, c := range calls {
		if c.Name != "" && len(c.Arguments) > 0 {
			return true
		}
	}
	return false
}

func hasContent(calls []framework.Call) bool {
	for _, c := range calls {
		switch v := c.Arguments["content"].(type) {
		case string:
			if v != "" {
				return true
			}
		case nil:
		default:
			return true
		}
	}
	return false
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
