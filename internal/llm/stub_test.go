package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStubClientIsDeterministic(t *testing.T) {
	c := NewStubClient()
	out1, err := c.Generate(context.Background(), "prompt-a", GenerationParams{})
	require.NoError(t, err)
	out2, err := c.Generate(context.Background(), "prompt-a", GenerationParams{})
	require.NoError(t, err)
	require.Equal(t, out1, out2)
}

func TestStubClientVariesByPrompt(t *testing.T) {
	c := NewStubClient()
	seen := map[string]bool{}
	for _, p := range []string{"a", "b", "c", "d", "e", "f"} {
		out, err := c.Generate(context.Background(), p, GenerationParams{})
		require.NoError(t, err)
		seen[out] = true
	}
	require.Greater(t, len(seen), 1)
}
