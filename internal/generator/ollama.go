package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// Ollama generates content with a local Ollama server.
type Ollama struct {
	api   *api.Client
	model string
}

// NewOllama returns an Ollama generator for the server at baseURL.
func NewOllama(baseURL, model string, httpClient *http.Client) (*Ollama, error) {
	u, err := url.ParseRequestURI(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Ollama{api: api.NewClient(u, httpClient), model: model}, nil
}

func (o *Ollama) Generate(ctx context.Context, req Request) (Content, error) {
	stream := false
	var sb strings.Builder
	err := o.api.Generate(ctx, &api.GenerateRequest{
		Model:  o.model,
		System: systemPrompt(req),
		Prompt: userPrompt(req),
		Stream: &stream,
		Format: json.RawMessage(`"json"`),
	}, func(r api.GenerateResponse) error {
		sb.WriteString(r.Response)
		return nil
	})
	if err != nil {
		return Content{}, fmt.Errorf("ollama: generate with %s: %w", o.model, err)
	}
	c, err := finish(parseReply(sb.String()), req.Limit())
	if err != nil {
		return Content{}, fmt.Errorf("ollama: %w", err)
	}
	return c, nil
}
