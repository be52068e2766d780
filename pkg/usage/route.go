// Package usage reconstructs token usage and generated text from provider responses.
package usage

// Route identifies which gateway endpoint a request came through.
type Route int

const (
	Completions Route = iota
	ChatCompletions
)

// Path is the upstream path appended to a provider base URL.
func (r Route) Path() string {
	if r == ChatCompletions {
		return "/chat/completions"
	}
	return "/completions"
}

// DefaultModel is used when the caller omits "model".
func (r Route) DefaultModel() string {
	if r == ChatCompletions {
		return "gpt-3.5-turbo"
	}
	return "gpt-3.5-turbo-instruct"
}

// IsChat reports whether the route is chat completions.
func (r Route) IsChat() bool { return r == ChatCompletions }

func (r Route) String() string {
	if r == ChatCompletions {
		return "chat_completions"
	}
	return "completions"
}
