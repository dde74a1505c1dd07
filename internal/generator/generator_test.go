package generator_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/engageflow/internal/domain"
	"github.com/ramiqadoumi/engageflow/internal/generator"
)

func commentRequest() generator.Request {
	return generator.Request{
		TargetContent: "We cut our deploy time from 40 minutes to 6. Here is what worked.",
		TargetAuthor:  "Jane Doe",
		ToneProfile:   "direct, friendly engineering manager",
		Approach:      domain.ApproachEngagingQuestion,
		ActionType:    domain.ActionComment,
	}
}

func TestClean(t *testing.T) {
	assert.Equal(t, "Nice work & congrats!", generator.Clean("<p>Nice   work &amp; <b>congrats</b>!</p>", 0))
	assert.Equal(t, "quoted", generator.Clean(`"quoted"`, 0))

	long := strings.Repeat("word ", 100)
	got := generator.Clean(long, 42)
	assert.LessOrEqual(t, utf8.RuneCountInString(got), 42)
	assert.False(t, strings.HasSuffix(got, " "))
	assert.True(t, strings.HasSuffix(got, "word"), "cut on a word boundary: %q", got)
}

func TestRequest_Limit(t *testing.T) {
	r := commentRequest()
	assert.Equal(t, 1250, r.Limit())
	r.MaxLength = 200
	assert.Equal(t, 200, r.Limit())
}

func TestTemplate_DeterministicPerTarget(t *testing.T) {
	g := generator.Template{}
	a, err := g.Generate(context.Background(), commentRequest())
	require.NoError(t, err)
	b, err := g.Generate(context.Background(), commentRequest())
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Contains(t, a.Text, "Jane")
	assert.NotEmpty(t, a.Alternatives)
	assert.InDelta(t, 0.4, a.Confidence, 1e-9)
}

func TestTemplate_RespectsLimit(t *testing.T) {
	req := commentRequest()
	req.ActionType = domain.ActionConnect
	req.MaxLength = 30

	c, err := generator.Template{}.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 30)
}

func TestAnthropic_Generate(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_01", "type": "message", "role": "assistant", "model": "claude-haiku-4-5",
			"content": [{"type": "text", "text": "{\"text\": \"<b>What</b> surprised you most, Jane?\", \"confidence\": 0.82, \"alternatives\": [\"Which change mattered most?\"]}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 120, "output_tokens": 40}
		}`))
	}))
	defer srv.Close()

	g := generator.NewAnthropic("test-key", "", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	c, err := g.Generate(context.Background(), commentRequest())
	require.NoError(t, err)

	assert.Equal(t, "What surprised you most, Jane?", c.Text)
	assert.InDelta(t, 0.82, c.Confidence, 1e-9)
	assert.Equal(t, []string{"Which change mattered most?"}, c.Alternatives)
	assert.Equal(t, generator.DefaultAnthropicModel, body["model"])
}

func TestAnthropic_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"overloaded"}}`))
	}))
	defer srv.Close()

	g := generator.NewAnthropic("k", "", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	_, err := g.Generate(context.Background(), commentRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic")
}

func TestOllama_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3.2", req["model"])
		assert.Equal(t, false, req["stream"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":    "llama3.2",
			"response": "Great result! How long did the migration take?",
			"done":     true,
		})
	}))
	defer srv.Close()

	g, err := generator.NewOllama(srv.URL, "llama3.2", srv.Client())
	require.NoError(t, err)

	c, err := g.Generate(context.Background(), commentRequest())
	require.NoError(t, err)
	assert.Equal(t, "Great result! How long did the migration take?", c.Text)
	assert.InDelta(t, 0.6, c.Confidence, 1e-9, "plain text answers get the default confidence")
}

func TestOllama_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"model": "m", "response": "  ", "done": true})
	}))
	defer srv.Close()

	g, err := generator.NewOllama(srv.URL, "m", nil)
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), commentRequest())
	assert.ErrorContains(t, err, "empty text")
}

func TestNewOllama_InvalidURL(t *testing.T) {
	_, err := generator.NewOllama("::not a url", "m", nil)
	assert.Error(t, err)
}
