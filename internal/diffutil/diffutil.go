// Package diffutil renders a unified diff between a variant slot's
// retired markup and its regenerated replacement, for the
// Regeneration Engine's audit trail. It computes the line-level edit
// script itself (a small LCS-based algorithm is enough for markup
// fragments a few dozen lines long) and hands the resulting hunk to
// sourcegraph/go-diff for standard unified-diff formatting.
package diffutil

import (
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// Unified returns a unified diff of oldText -> newText, with oldName
// and newName used as the --- / +++ file labels.
func Unified(oldName, newName, oldText, newText string) (string, error) {
	oldLines := splitLines(oldText)
	newLines := splitLines(newText)
	ops := lcsEditScript(oldLines, newLines)

	var body strings.Builder
	for _, op := range ops {
		switch op.kind {
		case opEqual:
			body.WriteString(" " + op.line + "\n")
		case opDelete:
			body.WriteString("-" + op.line + "\n")
		case opInsert:
			body.WriteString("+" + op.line + "\n")
		}
	}

	hunk := &diff.Hunk{
		OrigStartLine: 1,
		OrigLines:     int32(len(oldLines)),
		NewStartLine:  1,
		NewLines:      int32(len(newLines)),
		Body:          []byte(body.String()),
	}
	fileDiff := &diff.FileDiff{
		OrigName: oldName,
		NewName:  newName,
		Hunks:    []*diff.Hunk{hunk},
	}

	out, err := diff.PrintFileDiff(fileDiff)
	if err != nil {
		return "", fmt.Errorf("diffutil: print file diff: %w", err)
	}
	return string(out), nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

type opKind int

const (
	opEqual opKind = iota
	opDelete
	opInsert
)

type editOp struct {
	kind opKind
	line string
}

// lcsEditScript computes a minimal edit script between a and b using
// the standard dynamic-programming longest-common-subsequence table.
// Quadratic in input size, which is fine for markup fragments.
func lcsEditScript(a, b []string) []editOp {
	n, m := len(a), len(b)
	table := make([][]int, n+1)
	for i := range table {
		table[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				table[i][j] = table[i+1][j+1] + 1
			} else if table[i+1][j] >= table[i][j+1] {
				table[i][j] = table[i+1][j]
			} else {
				table[i][j] = table[i][j+1]
			}
		}
	}

	var ops []editOp
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			ops = append(ops, editOp{opEqual, a[i]})
			i++
			j++
		case table[i+1][j] >= table[i][j+1]:
			ops = append(ops, editOp{opDelete, a[i]})
			i++
		default:
			ops = append(ops, editOp{opInsert, b[j]})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, editOp{opDelete, a[i]})
	}
	for ; j < m; j++ {
		ops = append(ops, editOp{opInsert, b[j]})
	}
	return ops
}
