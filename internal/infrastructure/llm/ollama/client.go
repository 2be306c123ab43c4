package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mlejeune/papierflow/internal/core/domain"
	"github.com/mlejeune/papierflow/internal/infrastructure/resilience"
)

// Client talks to an Ollama-compatible endpoint. It is the concrete side
// of the external analysis boundary: text in, structured classification
// and entity extraction out.
type Client struct {
	baseURL    string
	genModel   string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, genModel string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		executor:   executor,
	}
}

// Analyze asks the model for a strict-JSON analysis of the document text.
// Transient transport and 5xx failures come back wrapped as
// domain.ErrTemporary so callers can degrade instead of blocking.
func (c *Client) Analyze(ctx context.Context, text string, kinds []domain.AnalysisKind) (domain.AnalysisResult, error) {
	prompt := buildAnalysisPrompt(text, kinds)

	var raw string
	call := func(callCtx context.Context) error {
		var err error
		raw, err = c.generateJSON(callCtx, prompt)
		return err
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "ollama.analyze", call, classifyOllamaError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.AnalysisResult{}, wrapTemporaryIfNeeded("analyze document", err)
	}

	var result domain.AnalysisResult
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &result); err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("parse analysis json: %w", err)
	}
	if result.Tags == nil {
		result.Tags = []string{}
	}
	result.Category = strings.ToLower(strings.TrimSpace(result.Category))
	result.Issuer = strings.TrimSpace(result.Issuer)
	return result, nil
}

func (c *Client) generateJSON(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  c.genModel,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	}

	var response struct {
		Response string `json:"response"`
	}
	if err := c.postJSON(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
