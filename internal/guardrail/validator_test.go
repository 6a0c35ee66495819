package guardrail

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateApprovesCleanFragment(t *testing.T) {
	v, err := New("", 65536, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })

	verdict := v.Validate(`<div data-ai-component="hero">Welcome</div>`, map[string]string{"data-ai-component": "hero"})
	require.True(t, verdict.Approved)
}

func TestValidateRejectsScriptTag(t *testing.T) {
	v, err := New("", 65536, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })

	verdict := v.Validate(`<div><script>evil()</script></div>`, nil)
	require.False(t, verdict.Approved)
}

func TestValidateRejectsMissingMarker(t *testing.T) {
	v, err := New("", 65536, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })

	verdict := v.Validate(`<div>no markers here</div>`, map[string]string{"data-ai-component": "hero"})
	require.False(t, verdict.Approved)
}

func TestValidateRejectsOversizedHTML(t *testing.T) {
	v, err := New("", 10, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })

	verdict := v.Validate(`<div>this fragment is definitely longer than ten bytes</div>`, nil)
	require.False(t, verdict.Approved)
}

func TestValidateRejectsFlaggedPhrase(t *testing.T) {
	v, err := New("", 65536, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })

	verdict := v.Validate(`<div>This offer is risk-free!</div>`, nil)
	require.False(t, verdict.Approved)
}

func TestValidateHotReloadsPolicyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("flagged_phrases: []\nmax_html_bytes: 65536\n"), 0o600))

	v, err := New(path, 65536, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })

	verdict := v.Validate(`<div>totally normal copy</div>`, nil)
	require.True(t, verdict.Approved)

	require.NoError(t, os.WriteFile(path, []byte("flagged_phrases: [\"totally normal\"]\nmax_html_bytes: 65536\n"), 0o600))

	require.Eventually(t, func() bool {
		return !v.Validate(`<div>totally normal copy</div>`, nil).Approved
	}, 2*time.Second, 20*time.Millisecond)
}
