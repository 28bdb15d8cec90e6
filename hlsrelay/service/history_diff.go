package service

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/go-analyze/bulk"
	"github.com/pmezard/go-difflib/difflib"
)

// Diff scopes accepted by history/diff.
const (
	DiffScopeBody    = "body"
	DiffScopeHeaders = "headers"
	DiffScopeAll     = "all"
)

const defaultMaxDiffLines = 50

// diffSide is one side of a flow comparison.
type diffSide struct {
	label   string
	headers map[string]string
	body    []byte
}

// renderFlowDiff produces a unified diff between two sides. Bodies that are
// not valid UTF-8 are compared byte-wise and summarized by size instead of
// line-diffed.
func renderFlowDiff(a, b diffSide, scope string, maxLines int) (diff string, identical, truncated bool) {
	if maxLines <= 0 {
		maxLines = defaultMaxDiffLines
	}

	includeHeaders := scope == DiffScopeHeaders || scope == DiffScopeAll
	includeBody := scope == DiffScopeBody || scope == DiffScopeAll

	var aParts, bParts []string
	var binaryNote string

	if includeHeaders {
		aParts = append(aParts, headerLines(a.headers))
		bParts = append(bParts, headerLines(b.headers))
	}
	if includeBody {
		if utf8.Valid(a.body) && utf8.Valid(b.body) {
			aParts = append(aParts, string(a.body))
			bParts = append(bParts, string(b.body))
		} else if !bytes.Equal(a.body, b.body) {
			binaryNote = fmt.Sprintf("Binary bodies differ: %s %d bytes, %s %d bytes",
				a.label, len(a.body), b.label, len(b.body))
		}
	}

	aText := strings.Join(aParts, "\n")
	bText := strings.Join(bParts, "\n")

	if aText == bText && binaryNote == "" {
		return "", true, false
	}

	var sections []string
	if aText != bText {
		ud := difflib.UnifiedDiff{
			A:        splitLines(aText),
			B:        splitLines(bText),
			FromFile: a.label,
			ToFile:   b.label,
			Context:  3,
		}
		text, err := difflib.GetUnifiedDiffString(ud)
		if err != nil {
			text = fmt.Sprintf("(diff error: %v)", err)
		}
		sections = append(sections, strings.TrimRight(text, "\n"))
	}
	if binaryNote != "" {
		sections = append(sections, binaryNote)
	}

	out := strings.Join(sections, "\n")
	lines := strings.Split(out, "\n")
	if len(lines) > maxLines {
		out = strings.Join(lines[:maxLines], "\n")
		truncated = true
	}
	return out, false, truncated
}

// headerLines renders a header map as sorted Name: value lines.
func headerLines(headers map[string]string) string {
	names := bulk.MapKeysSlice(headers)
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, name+": "+headers[name])
	}
	return strings.Join(lines, "\n")
}

// splitLines splits text into lines for difflib (preserving trailing newline behavior).
func splitLines(s string) []string {
	lines := strings.SplitAfter(s, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
