package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulatorProviderUsage(t *testing.T) {
	acc := NewAccumulator(ChatCompletions, false)
	ok := acc.Feed([]byte(`{"choices":[{"message":{"content":"hello"}}],"usage":{"prompt_tokens":12,"completion_tokens":8}}`))
	require.True(t, ok)

	p, c := acc.Counts()
	require.NotNil(t, p)
	require.NotNil(t, c)
	assert.EqualValues(t, 12, *p)
	assert.EqualValues(t, 8, *c)
}

func TestAccumulatorUsageLastWriteWins(t *testing.T) {
	acc := NewAccumulator(Completions, true)
	acc.Feed([]byte(`{"usage":{"prompt_tokens":3,"completion_tokens":1}}`))
	acc.Feed([]byte(`{"usage":{"completion_tokens":9}}`))

	p, c := acc.Counts()
	assert.EqualValues(t, 3, *p)
	assert.EqualValues(t, 9, *c)
}

func TestAccumulatorTextPerRoute(t *testing.T) {
	cases := []struct {
		name   string
		route  Route
		stream bool
		chunks []string
		want   string
	}{
		{"completions", Completions, true, []string{
			`{"choices":[{"text":"Hel"}]}`, `{"choices":[{"text":"lo"}]}`,
		}, "Hello"},
		{"chat stream", ChatCompletions, true, []string{
			`{"choices":[{"delta":{"role":"assistant"}}]}`,
			`{"choices":[{"delta":{"content":"Hi"}}],"usage":null}`,
			`{"choices":[{"delta":{"content":" there"}}]}`,
		}, "Hi there"},
		{"chat buffered", ChatCompletions, false, []string{
			`{"choices":[{"message":{"content":"whole"}}]}`,
		}, "whole"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			acc := NewAccumulator(tc.route, tc.stream)
			for _, c := range tc.chunks {
				acc.Feed([]byte(c))
			}
			assert.Equal(t, tc.want, acc.Text())
			p, c := acc.Counts()
			assert.Nil(t, p)
			assert.Nil(t, c)
		})
	}
}

func TestAccumulatorIgnoresNonObjects(t *testing.T) {
	acc := NewAccumulator(Completions, true)
	assert.False(t, acc.Feed([]byte(`[DONE]`)))
	assert.False(t, acc.Feed([]byte(`"text"`)))
	assert.False(t, acc.Feed([]byte(`{"choices":`)))
	assert.Empty(t, acc.Text())
}

func TestSeededPromptReplacedByUsage(t *testing.T) {
	acc := NewAccumulator(Completions, false)
	acc.SeedPromptTokens(4)
	p, _ := acc.Counts()
	assert.EqualValues(t, 4, *p)

	acc.Feed([]byte(`{"usage":{"prompt_tokens":5}}`))
	p, c := acc.Counts()
	assert.EqualValues(t, 5, *p)
	assert.Nil(t, c)
}

func TestParseCompletionPrompt(t *testing.T) {
	v := ParseCompletionPrompt([]byte(`{"prompt":"say hi"}`))
	assert.Equal(t, PromptString, v.Kind)
	assert.Equal(t, "say hi", v.Text)

	v = ParseCompletionPrompt([]byte(`{"prompt":["a","b"]}`))
	assert.Equal(t, PromptStrings, v.Kind)
	assert.Equal(t, "a\nb", v.Text)

	v = ParseCompletionPrompt([]byte(`{"prompt":[101,2023,102]}`))
	assert.Equal(t, PromptTokens, v.Kind)
	n, ok := v.TokenCount()
	assert.True(t, ok)
	assert.EqualValues(t, 3, n)

	v = ParseCompletionPrompt([]byte(`{"model":"x"}`))
	assert.Equal(t, PromptString, v.Kind)
	assert.Equal(t, "", v.Text)
	_, ok = v.TokenCount()
	assert.False(t, ok)
}

func TestParseChatMessages(t *testing.T) {
	v := ParsePrompt(ChatCompletions, []byte(`{"messages":[
		{"role":"system","content":"be brief"},
		{"role":"user","content":[{"type":"text","text":"ignored"}]},
		{"role":"user","content":"hello"}]}`))
	assert.Equal(t, "be brief\nhello", v.Text)
}

func TestThroughput(t *testing.T) {
	tps := Throughput(100, 2*time.Second)
	require.NotNil(t, tps)
	assert.EqualValues(t, 50, *tps)

	tps = Throughput(10, 3*time.Second)
	assert.EqualValues(t, 3, *tps)

	assert.Nil(t, Throughput(10, 0))
}

func TestRouteDefaults(t *testing.T) {
	assert.Equal(t, "/completions", Completions.Path())
	assert.Equal(t, "gpt-3.5-turbo-instruct", Completions.DefaultModel())
	assert.Equal(t, "/chat/completions", ChatCompletions.Path())
	assert.Equal(t, "gpt-3.5-turbo", ChatCompletions.DefaultModel())
	assert.True(t, ChatCompletions.IsChat())
}
