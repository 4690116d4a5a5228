package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/awnumar/memguard"
	openai "github.com/sashabaranov/go-openai"
)

const openAICompatSystemMessage = "You are a C and C++ expert specializing in MISRA compliance. " +
	"Only return the diff. No extra commentary."

// OpenAICompatClient targets any OpenAI compatible chat endpoint: the real
// API, a llama.cpp server started with --api, or vLLM. The API key lives in
// a memguard enclave and is only materialized into locked memory for the
// lifetime of the client.
type OpenAICompatClient struct {
	client *openai.Client
	model  string
	keyBuf *memguard.LockedBuffer
}

// KeyEnclaveFromEnv seals the OpenAI API key into an enclave, checking the
// OPENAI_API_KEY environment variable first and the conventional container
// secret path second. Returns nil when neither source is present, which is
// fine for keyless local servers.
func KeyEnclaveFromEnv() *memguard.Enclave {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return memguard.NewEnclave([]byte(key))
	}
	if raw, err := os.ReadFile("/run/secrets/openai_api_key"); err == nil {
		if key := strings.TrimSpace(string(raw)); key != "" {
			return memguard.NewEnclave([]byte(key))
		}
	}
	return nil
}

// NewOpenAICompatClient builds a chat client for the given model. baseURL
// must include the /v1 suffix when set; an empty baseURL means the public
// OpenAI endpoint. key may be nil for servers that do not check auth.
func NewOpenAICompatClient(baseURL, model string, key *memguard.Enclave) (*OpenAICompatClient, error) {
	if model == "" {
		return nil, fmt.Errorf("an OpenAI model name is required")
	}

	var keyBuf *memguard.LockedBuffer
	token := ""
	if key != nil {
		buf, err := key.Open()
		if err != nil {
			return nil, fmt.Errorf("Failed to open the API key enclave: %w", err)
		}
		keyBuf = buf
		token = buf.String()
	}

	cfg := openai.DefaultConfig(token)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}

	return &OpenAICompatClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		keyBuf: keyBuf,
	}, nil
}

// Generate sends the prompt as a single user message under the fixed
// remediation system message.
func (c *OpenAICompatClient) Generate(ctx context.Context, prompt string, params *GenerationParams) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: openAICompatSystemMessage},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature:         defaultTemperature,
		TopP:                defaultTopP,
		MaxCompletionTokens: defaultMaxTokens,
	}
	if params != nil {
		if params.Temperature != nil {
			req.Temperature = *params.Temperature
		}
		if params.TopP != nil {
			req.TopP = *params.TopP
		}
		if params.MaxTokens != nil {
			req.MaxCompletionTokens = *params.MaxTokens
		}
		if len(params.Stop) > 0 {
			req.Stop = params.Stop
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("%w: openai status %d: %s", ErrUnavailable, apiErr.HTTPStatusCode, apiErr.Message)
		}
		return "", fmt.Errorf("openai request failed: %w", classifyTransportErr(err))
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// Close wipes the locked key material. Safe to call on keyless clients.
func (c *OpenAICompatClient) Close() {
	if c.keyBuf != nil {
		c.keyBuf.Destroy()
		c.keyBuf = nil
	}
}
