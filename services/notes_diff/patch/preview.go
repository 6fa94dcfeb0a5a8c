// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patch

import (
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// Preview renders the edits in result as a unified diff.
//
// # Description
//
// Each applied block becomes a hunk covering the whole lines it touched.
// Blocks whose line ranges overlap or touch are merged into one hunk. No
// context lines are emitted.
//
// # Inputs
//
//   - original: The content that was passed to Apply.
//   - result: The result of that Apply call.
//   - name: Document name for the --- and +++ headers.
//
// # Outputs
//
//   - string: The unified diff, or "" when nothing applied.
//   - error: ErrNilResult, or a rendering error.
func Preview(original string, result *ApplyResult, name string) (string, error) {
	if result == nil {
		return "", ErrNilResult
	}
	if len(result.AppliedDetails) == 0 {
		return "", nil
	}

	fd := &diff.FileDiff{
		OrigName: "a/" + name,
		NewName:  "b/" + name,
	}
	for _, r := range mergeRanges(original, result.Content, result.AppliedDetails) {
		fd.Hunks = append(fd.Hunks, r.hunk(original, result.Content))
	}

	out, err := diff.PrintFileDiff(fd)
	if err != nil {
		return "", fmt.Errorf("render preview: %w", err)
	}
	return string(out), nil
}

// PreviewContent renders a unified diff between two versions of a document
// as a single hunk spanning the changed lines. Use it when updated is the
// product of several Apply calls.
func PreviewContent(original, updated, name string) (string, error) {
	if original == updated {
		return "", nil
	}
	prefix := 0
	for prefix < len(original) && prefix < len(updated) && original[prefix] == updated[prefix] {
		prefix++
	}
	suffix := 0
	limit := min(len(original), len(updated)) - prefix
	for suffix < limit && original[len(original)-1-suffix] == updated[len(updated)-1-suffix] {
		suffix++
	}
	result := &ApplyResult{
		Content: updated,
		AppliedDetails: []AppliedDetail{{
			OriginalStart: prefix,
			OriginalEnd:   len(original) - suffix,
			NewStart:      prefix,
			NewEnd:        len(updated) - suffix,
		}},
	}
	return Preview(original, result, name)
}

// lineRange is a pair of whole-line byte ranges, one per side.
type lineRange struct {
	origStart, origEnd int
	newStart, newEnd   int
}

func mergeRanges(original, updated string, details []AppliedDetail) []lineRange {
	var out []lineRange
	for _, d := range details {
		r := lineRange{
			origStart: lineStart(original, d.OriginalStart),
			origEnd:   lineEnd(original, d.OriginalEnd),
			newStart:  lineStart(updated, d.NewStart),
			newEnd:    lineEnd(updated, d.NewEnd),
		}
		if n := len(out); n > 0 && r.origStart <= out[n-1].origEnd+1 {
			out[n-1].origEnd = max(out[n-1].origEnd, r.origEnd)
			out[n-1].newEnd = max(out[n-1].newEnd, r.newEnd)
			continue
		}
		out = append(out, r)
	}
	return out
}

func (r lineRange) hunk(original, updated string) *diff.Hunk {
	removed := strings.Split(original[r.origStart:r.origEnd], "\n")
	added := strings.Split(updated[r.newStart:r.newEnd], "\n")

	var body strings.Builder
	for _, l := range removed {
		body.WriteString("-" + l + "\n")
	}
	for _, l := range added {
		body.WriteString("+" + l + "\n")
	}

	return &diff.Hunk{
		OrigStartLine: int32(lineCount(original[:r.origStart])),
		OrigLines:     int32(len(removed)),
		NewStartLine:  int32(lineCount(updated[:r.newStart])),
		NewLines:      int32(len(added)),
		Body:          []byte(body.String()),
	}
}

// lineStart returns the offset of the start of the line containing off.
func lineStart(s string, off int) int {
	return strings.LastIndexByte(s[:off], '\n') + 1
}

// lineEnd returns the offset of the newline ending the line containing off,
// or len(s).
func lineEnd(s string, off int) int {
	if i := strings.IndexByte(s[off:], '\n'); i >= 0 {
		return off + i
	}
	return len(s)
}
