package diffutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnifiedShowsAddedAndRemovedLines(t *testing.T) {
	out, err := Unified("slot-B-prior", "slot-B-new",
		"<div>\nOld copy\n</div>",
		"<div>\nNew copy\n</div>",
	)
	require.NoError(t, err)
	require.Contains(t, out, "-Old copy")
	require.Contains(t, out, "+New copy")
	require.Contains(t, out, "slot-B-prior")
	require.Contains(t, out, "slot-B-new")
}

func TestUnifiedIdenticalTextHasNoChangeLines(t *testing.T) {
	out, err := Unified("a", "b", "same\ntext", "same\ntext")
	require.NoError(t, err)
	require.NotContains(t, out, "+same")
	require.NotContains(t, out, "-same")
}
