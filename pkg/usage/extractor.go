package usage

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Extractor knows where a route keeps generated text inside each choice.
type Extractor interface {
	ChoiceText(choice gjson.Result) string
}

type pathExtractor string

func (p pathExtractor) ChoiceText(choice gjson.Result) string {
	v := choice.Get(string(p))
	if v.Type != gjson.String {
		return ""
	}
	return v.String()
}

// ExtractorFor returns the text strategy for a route. Streamed chat carries
// text in delta.content, buffered chat in message.content, completions in text.
func ExtractorFor(route Route, stream bool) Extractor {
	switch {
	case route == ChatCompletions && stream:
		return pathExtractor("delta.content")
	case route == ChatCompletions:
		return pathExtractor("message.content")
	default:
		return pathExtractor("text")
	}
}

// Accumulator folds response fragments into usage counts and generated text.
// It is not safe for concurrent use.
type Accumulator struct {
	extractor  Extractor
	prompt     *int64
	completion *int64
	text       strings.Builder
}

// NewAccumulator creates an Accumulator for the route and mode.
func NewAccumulator(route Route, stream bool) *Accumulator {
	return &Accumulator{extractor: ExtractorFor(route, stream)}
}

// SeedPromptTokens records a prompt count known before dispatch. Provider
// usage seen later replaces it.
func (a *Accumulator) SeedPromptTokens(n int64) {
	a.prompt = &n
}

// Feed inspects one fragment. It returns false when the fragment is not a
// JSON object, in which case nothing is recorded.
func (a *Accumulator) Feed(fragment []byte) bool {
	if !gjson.ValidBytes(fragment) {
		return false
	}
	res := gjson.ParseBytes(fragment)
	if !res.IsObject() {
		return false
	}
	a.FeedResult(res)
	return true
}

// FeedResult inspects an already parsed JSON object.
func (a *Accumulator) FeedResult(res gjson.Result) {
	if u := res.Get("usage"); u.IsObject() {
		if v, ok := count(u.Get("prompt_tokens")); ok {
			a.prompt = &v
		}
		if v, ok := count(u.Get("completion_tokens")); ok {
			a.completion = &v
		}
		return
	}
	choices := res.Get("choices")
	if !choices.IsArray() {
		return
	}
	choices.ForEach(func(_, choice gjson.Result) bool {
		a.text.WriteString(a.extractor.ChoiceText(choice))
		return true
	})
}

// Counts returns the usage seen so far. Either value may be nil.
func (a *Accumulator) Counts() (prompt, completion *int64) {
	return a.prompt, a.completion
}

// Text returns the generated text accumulated so far.
func (a *Accumulator) Text() string { return a.text.String() }

func count(v gjson.Result) (int64, bool) {
	if v.Type != gjson.Number {
		return 0, false
	}
	n := v.Int()
	if n < 0 {
		return 0, false
	}
	return n, true
}
