package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	reply string
	err   error
	calls int
	last  GenerateRequest
}

func (f *fakeGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	f.calls++
	f.last = req
	return f.reply, f.err
}

func TestFormatResponse(t *testing.T) {
	in := "# Title\nfirst line\n  **Key point**  \n\n\nplain **bold** text\n## Next\n## Again"
	want := "# Title\n\nfirst line\n\n**Key point**\n\nplain **bold** text\n\n## Next\n\n## Again"
	require.Equal(t, want, formatResponse(in))
	require.Equal(t, "", formatResponse("\n  \n"))
}

func TestSynthesizeBuildsRequest(t *testing.T) {
	gen := &fakeGenerator{reply: "## Answer\nApples are fruit."}
	m := NewManager(gen, ManagerConfig{Timeout: 5})

	out, err := m.Synthesize(context.Background(), "what are apples?", "apples are fruit")
	require.NoError(t, err)
	require.Equal(t, "## Answer\n\nApples are fruit.", out)
	require.Equal(t, answerSystemPrompt, gen.last.System)
	require.Contains(t, gen.last.Prompt, "**Question**: what are apples?")
	require.Contains(t, gen.last.Prompt, "apples are fruit")
	require.InDelta(t, 0.3, gen.last.Temperature, 1e-6)
	require.Equal(t, 2048, gen.last.MaxTokens)
}

func TestSynthesizeErrors(t *testing.T) {
	_, err := NewManager(&fakeGenerator{reply: "   "}, ManagerConfig{}).Synthesize(context.Background(), "q", "c")
	require.Error(t, err)

	_, err = NewManager(&fakeGenerator{err: errors.New("quota")}, ManagerConfig{}).Synthesize(context.Background(), "q", "c")
	require.Error(t, err)

	_, err = NewManager(nil, ManagerConfig{}).Synthesize(context.Background(), "q", "c")
	require.Error(t, err)
}

func TestSummarizeAndKeywords(t *testing.T) {
	gen := &fakeGenerator{reply: "- point"}
	m := NewManager(gen, ManagerConfig{})
	long := strings.Repeat("é", summaryInputRunes+100)

	_, err := m.Summarize(context.Background(), long, 0)
	require.NoError(t, err)
	require.Equal(t, defaultSummaryWords*2, gen.last.MaxTokens)
	require.NotContains(t, gen.last.Prompt, strings.Repeat("é", summaryInputRunes+1))

	gen.reply = "alpha\n\n beta \ngamma\ndelta"
	kws, err := m.ExtractKeywords(context.Background(), "text", 3)
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "beta", "gamma"}, kws)
	require.InDelta(t, 0.1, gen.last.Temperature, 1e-6)
	require.Equal(t, keywordMaxTokens, gen.last.MaxTokens)
}

func TestGroupGeneratorFallback(t *testing.T) {
	first := &fakeGenerator{err: errors.New("down")}
	second := &fakeGenerator{reply: "ok"}
	g := NewGroupGenerator([]GeneratorEntry{
		{Name: "first", Generator: first},
		{Name: "nil"},
		{Name: "second", Generator: second},
	})
	out, err := g.Generate(context.Background(), GenerateRequest{Prompt: "p"})
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.Equal(t, 1, first.calls)
	require.Equal(t, 1, second.calls)

	_, err = NewGroupGenerator([]GeneratorEntry{{Name: "first", Generator: first}}).Generate(context.Background(), GenerateRequest{})
	require.EqualError(t, err, "down")
	require.Nil(t, NewGroupGenerator(nil))
}

func TestNewProvider(t *testing.T) {
	_, err := NewProvider("", nil)
	require.Error(t, err)
	_, err = NewProvider("llama", nil)
	require.Error(t, err)

	p, err := NewProvider("Gemini", map[string]interface{}{})
	require.NoError(t, err)
	require.Equal(t, "gemini", p.Name())
	_, err = p.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestOpenAIProvider(t *testing.T) {
	var got openAIChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  hello  "}}]}`))
	}))
	defer srv.Close()

	p, err := NewProvider("openai", map[string]interface{}{"api_key": "key", "base_url": srv.URL})
	require.NoError(t, err)
	gen := NewGenerator(p, "gpt-test")
	out, err := gen.Generate(context.Background(), GenerateRequest{System: "sys", Prompt: "hi", Temperature: 0.3, MaxTokens: 10})
	require.NoError(t, err)
	require.Equal(t, "hello", out)
	require.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "system", got.Messages[0].Role)
	require.Equal(t, 10, got.MaxTokens)
}

func TestOpenRouterProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "askscribe", r.Header.Get("X-Title"))
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	p, err := NewProvider("openrouter", map[string]interface{}{"api_key": "key", "base_url": srv.URL, "x_title": "askscribe"})
	require.NoError(t, err)
	_, err = p.Generate(context.Background(), GenerateRequest{Model: "m", Prompt: "hi"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "slow down")
}
