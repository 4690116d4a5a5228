package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ollamaTracer = otel.Tracer("misrafix.llm.ollama")

// OllamaClient drives a local Ollama daemon. It exists so development boxes
// without a standalone llama.cpp build can still run the fix loop against
// the same model weights.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaClient builds a client for the Ollama daemon at baseURL using
// the named model, for example "codellama:7b-instruct".
func NewOllamaClient(baseURL, model string) (*OllamaClient, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		return nil, fmt.Errorf("an Ollama model name is required")
	}
	return &OllamaClient{
		httpClient: &http.Client{Timeout: localHTTPTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
	}, nil
}

// Generate sends the prompt to /api/generate in non-streaming mode.
func (c *OllamaClient) Generate(ctx context.Context, prompt string, params *GenerationParams) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := ollamaTracer.Start(ctx, "ollama.generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.model))

	options := map[string]any{
		"num_predict": defaultMaxTokens,
		"temperature": defaultTemperature,
		"top_k":       defaultTopK,
		"top_p":       defaultTopP,
	}
	if params != nil {
		if params.MaxTokens != nil {
			options["num_predict"] = *params.MaxTokens
		}
		if params.Temperature != nil {
			options["temperature"] = *params.Temperature
		}
		if params.TopK != nil {
			options["top_k"] = *params.TopK
		}
		if params.TopP != nil {
			options["top_p"] = *params.TopP
		}
		if len(params.Stop) > 0 {
			options["stop"] = params.Stop
		}
	}

	body, err := json.Marshal(ollamaGenerateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  false,
		Options: options,
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("Failed to marshal the Ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("Failed to build the Ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = classifyTransportErr(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "ollama request failed")
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int64("llm.request_ms", time.Since(start).Milliseconds()))

	if resp.StatusCode == http.StatusNotFound {
		span.SetStatus(codes.Error, "model not found")
		return "", fmt.Errorf("%w: model %q not found. Please run: 'ollama pull %s'", ErrUnavailable, c.model, c.model)
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		span.SetStatus(codes.Error, "unexpected status")
		return "", fmt.Errorf("%w: ollama returned status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var parsed ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("Failed to decode the Ollama response: %w", err)
	}
	if strings.TrimSpace(parsed.Response) == "" {
		return "", ErrEmptyResponse
	}
	return parsed.Response, nil
}
