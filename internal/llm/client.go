// Package llm defines the LLMClient contract the Regeneration Engine
// depends on, plus an OpenAI-backed implementation and a deterministic stub used
// when no backend is configured, grounded on the teacher's
// services/llm.LLMClient interface.
package llm

import "context"

// GenerationParams tunes a single Generate call.
type GenerationParams struct {
	Temperature *float32
	MaxTokens   *int
	Stop        []string
}

// LLMClient is the standard interface for any backend the
// Regeneration Engine drives.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}
