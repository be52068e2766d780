package usage

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// PromptKind classifies the inbound prompt field.
type PromptKind int

const (
	PromptString PromptKind = iota
	PromptStrings
	PromptTokens
)

// PromptView is the request-scoped view of what the caller asked to complete.
type PromptView struct {
	Kind   PromptKind
	Text   string
	Tokens []int64
}

// TokenCount returns the prompt length when the caller sent token ids.
func (v PromptView) TokenCount() (int64, bool) {
	if v.Kind != PromptTokens {
		return 0, false
	}
	return int64(len(v.Tokens)), true
}

// ParseCompletionPrompt reads "prompt" from a completions body. An array whose
// first element is a non-negative integer is treated as token ids; other
// arrays contribute their string elements joined by newlines; anything else
// that is not a string becomes the empty prompt.
func ParseCompletionPrompt(body []byte) PromptView {
	p := gjson.GetBytes(body, "prompt")
	switch {
	case p.Type == gjson.String:
		return PromptView{Kind: PromptString, Text: p.String()}
	case p.IsArray():
		items := p.Array()
		if len(items) > 0 && isTokenID(items[0]) {
			toks := make([]int64, 0, len(items))
			for _, it := range items {
				if isTokenID(it) {
					toks = append(toks, it.Int())
				}
			}
			return PromptView{Kind: PromptTokens, Tokens: toks}
		}
		parts := make([]string, 0, len(items))
		for _, it := range items {
			if it.Type == gjson.String {
				parts = append(parts, it.String())
			}
		}
		return PromptView{Kind: PromptStrings, Text: strings.Join(parts, "\n")}
	default:
		return PromptView{Kind: PromptString}
	}
}

// ParseChatMessages joins the string contents of "messages" by newlines.
func ParseChatMessages(body []byte) PromptView {
	var parts []string
	gjson.GetBytes(body, "messages").ForEach(func(_, m gjson.Result) bool {
		if c := m.Get("content"); c.Type == gjson.String {
			parts = append(parts, c.String())
		}
		return true
	})
	return PromptView{Kind: PromptStrings, Text: strings.Join(parts, "\n")}
}

// ParsePrompt dispatches on route.
func ParsePrompt(route Route, body []byte) PromptView {
	if route == ChatCompletions {
		return ParseChatMessages(body)
	}
	return ParseCompletionPrompt(body)
}

func isTokenID(v gjson.Result) bool {
	if v.Type != gjson.Number {
		return false
	}
	return v.Num >= 0 && v.Num == float64(int64(v.Num))
}

// Throughput returns completion tokens per second, truncated. It is nil when
// no time elapsed.
func Throughput(completion int64, elapsed time.Duration) *int64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return nil
	}
	tps := int64(float64(completion) / secs)
	return &tps
}
