package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// LocalLlamaCppClient talks to a llama.cpp server running the local fix
// model. It uses the plain /completion endpoint because the prompts are
// already fully rendered instruction blocks.
type LocalLlamaCppClient struct {
	httpClient *http.Client
	baseURL    string
}

// llamaCppPayload mirrors the subset of the /completion request body we use.
type llamaCppPayload struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict"`
	Temperature float32  `json:"temperature"`
	TopK        int      `json:"top_k"`
	TopP        float32  `json:"top_p"`
	Stop        []string `json:"stop,omitempty"`
}

// llamaCppResponse is the subset of the /completion reply we care about.
type llamaCppResponse struct {
	Content string `json:"content"`
}

const (
	defaultMaxTokens   = 512
	defaultTemperature = float32(0.2)
	defaultTopK        = 20
	defaultTopP        = float32(0.9)

	localHTTPTimeout = 120 * time.Second
)

// NewLocalLlamaCppClient builds a client for the llama.cpp server at
// baseURL. If baseURL is empty the LLM_SERVICE_URL_BASE environment
// variable is consulted instead.
func NewLocalLlamaCppClient(baseURL string) (*LocalLlamaCppClient, error) {
	if baseURL == "" {
		baseURL = os.Getenv("LLM_SERVICE_URL_BASE")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("no llama.cpp base URL configured and LLM_SERVICE_URL_BASE is not set")
	}
	return &LocalLlamaCppClient{
		httpClient: &http.Client{Timeout: localHTTPTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}, nil
}

// Generate sends the prompt to /completion and returns the raw completion
// text. Transport failures map onto the package sentinels.
func (c *LocalLlamaCppClient) Generate(ctx context.Context, prompt string, params *GenerationParams) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	payload := llamaCppPayload{
		Prompt:      prompt,
		NPredict:    defaultMaxTokens,
		Temperature: defaultTemperature,
		TopK:        defaultTopK,
		TopP:        defaultTopP,
	}
	if params != nil {
		if params.MaxTokens != nil {
			payload.NPredict = *params.MaxTokens
		}
		if params.Temperature != nil {
			payload.Temperature = *params.Temperature
		}
		if params.TopK != nil {
			payload.TopK = *params.TopK
		}
		if params.TopP != nil {
			payload.TopP = *params.TopP
		}
		if len(params.Stop) > 0 {
			payload.Stop = params.Stop
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("Failed to marshal the completion payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("Failed to build the completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llama.cpp request failed: %w", classifyTransportErr(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: llama.cpp returned status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var parsed llamaCppResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("Failed to decode the completion response: %w", err)
	}
	if strings.TrimSpace(parsed.Content) == "" {
		return "", ErrEmptyResponse
	}
	return parsed.Content, nil
}

// Ping checks the llama.cpp /health endpoint so callers can surface
// backend readiness without burning a completion.
func (c *LocalLlamaCppClient) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("Failed to build the health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llama.cpp health check failed: %w", classifyTransportErr(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: llama.cpp health returned status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}
