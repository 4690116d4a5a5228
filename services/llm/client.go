package llm

import (
	"context"
)

// GenerationParams holds the knobs a caller may override per request.
// Nil fields mean "use the backend default".
type GenerationParams struct {
	Temperature *float32
	TopK        *int
	TopP        *float32
	MaxTokens   *int
	Stop        []string
}

// LLMClient is the minimal surface the remediation pipeline needs from a
// model backend. Generate performs a single-turn completion for an already
// rendered prompt and returns the raw model output.
//
// Implementations are not required to be safe for concurrent use. The
// pipeline funnels every call through a Lane, which serializes access to
// the single local model instance.
//
// TODO: add a streaming variant once the gateway event feed forwards
// partial completions over its websocket.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params *GenerationParams) (string, error)
}

// Float32Ptr is a small helper for building GenerationParams literals.
func Float32Ptr(v float32) *float32 { return &v }

// IntPtr is a small helper for building GenerationParams literals.
func IntPtr(v int) *int { return &v }
