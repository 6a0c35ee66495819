package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	resetForTest()
	t.Setenv("LLM_BACKEND", "stub")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 0.2, cfg.Epsilon)
	assert.Equal(t, 1.0, cfg.RegenGap)
	assert.EqualValues(t, 5, cfg.MinTrialsEach)
	assert.Equal(t, 500*time.Millisecond, cfg.RequestDeadline)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	resetForTest()
	t.Setenv("LLM_BACKEND", "stub")
	t.Setenv("EPSILON", "0.35")
	t.Setenv("REGEN_GAP", "2.5")
	t.Setenv("MIN_TRIALS", "8")
	t.Setenv("REQUEST_DEADLINE_MS", "750")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.35, cfg.Epsilon)
	assert.Equal(t, 2.5, cfg.RegenGap)
	assert.EqualValues(t, 8, cfg.MinTrialsEach)
	assert.Equal(t, 750*time.Millisecond, cfg.RequestDeadline)
}

func TestLoadRequiresAPIKeyForOpenAIBackend(t *testing.T) {
	resetForTest()
	t.Setenv("LLM_BACKEND", "openai")
	os.Unsetenv("LLM_API_KEY")

	_, err := Load()
	require.Error(t, err)
}

func TestRevealLLMAPIKeyRoundtrips(t *testing.T) {
	resetForTest()
	t.Setenv("LLM_BACKEND", "openai")
	t.Setenv("LLM_API_KEY", "sk-test-secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-test-secret", cfg.RevealLLMAPIKey())
	cfg.Purge()
}
