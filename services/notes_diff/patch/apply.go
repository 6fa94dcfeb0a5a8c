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

	"github.com/AleutianAI/AleutianNotes/services/notes_diff/blocks"
)

// Apply applies blocks to content in order.
//
// # Description
//
// Keeps a cursor that starts at 0 and moves to the end of each replacement.
// For each block the search text is located at or after the cursor by, in
// order:
//
//  1. Exact substring (confidence 1.0).
//  2. Line-trimmed: the same number of lines, each equal after trimming
//     leading and trailing whitespace (confidence 0.8).
//  3. Block-anchor: first and last lines only, for searches of three or
//     more lines (confidence 0.6).
//
// A block that no tier locates is recorded in Errors and skipped. Invalid
// blocks (blank search, search equal to replace) are recorded the same way.
//
// # Inputs
//
//   - content: The document text.
//   - bs: Blocks in the order they should apply. Not modified.
//
// # Outputs
//
//   - *ApplyResult: Never nil. Success is true only if every block applied.
//
// # Examples
//
//	result := patch.Apply("Hello world\nGoodbye world", []blocks.Block{
//	    {SearchContent: "Hello world", ReplaceContent: "Hi there"},
//	})
//	// result.Content == "Hi there\nGoodbye world"
func Apply(content string, bs []blocks.Block) *ApplyResult {
	result := &ApplyResult{
		Content:        content,
		Errors:         []*BlockError{},
		Warnings:       []string{},
		AppliedDetails: []AppliedDetail{},
		Blocks:         make([]blocks.Block, len(bs)),
	}

	working := content
	cursor := 0
	// delta is len(working) - len(content) for the region before cursor.
	delta := 0

	for i, block := range bs {
		annotated := block
		annotated.Warnings = append([]string(nil), block.Warnings...)
		result.Blocks[i] = annotated

		for _, w := range block.Warnings {
			result.Warnings = append(result.Warnings, fmt.Sprintf("block %d: %s", block.BlockIndex, w))
		}

		if err := block.Validate(); err != nil {
			result.Errors = append(result.Errors, newBlockError(block, "invalid block: "+err.Error(), err))
			continue
		}

		hit, ok := locate(working, cursor, block.SearchContent)
		if !ok {
			result.Errors = append(result.Errors, newBlockError(block, ErrNoMatch.Error(), ErrNoMatch))
			continue
		}

		if hit.kind == blocks.MatchExact && strings.Contains(working[hit.start+1:], block.SearchContent) {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"block %d: search text occurs more than once; used the first occurrence after the previous edit",
				block.BlockIndex))
		}

		working = working[:hit.start] + block.ReplaceContent + working[hit.end:]

		result.AppliedDetails = append(result.AppliedDetails, AppliedDetail{
			BlockIndex:    block.BlockIndex,
			MatchType:     hit.kind,
			Confidence:    hit.kind.Confidence(),
			OriginalStart: hit.start - delta,
			OriginalEnd:   hit.end - delta,
			NewStart:      hit.start,
			NewEnd:        hit.start + len(block.ReplaceContent),
		})
		result.Blocks[i].MatchType = hit.kind
		result.Blocks[i].Confidence = hit.kind.Confidence()
		result.AppliedBlocks++

		delta += len(block.ReplaceContent) - (hit.end - hit.start)
		cursor = hit.start + len(block.ReplaceContent)
	}

	result.Content = working
	result.Success = len(result.Errors) == 0
	return result
}

// ApplyText parses diffText and applies the resulting blocks to content.
//
// # Outputs
//
//   - *ApplyResult: The apply outcome. Nil when parsing produced no blocks.
//   - *blocks.ParseResult: The parse outcome, always non-nil.
func ApplyText(content, diffText string) (*ApplyResult, *blocks.ParseResult) {
	parsed := blocks.Parse(diffText)
	if !parsed.HasBlocks() {
		return nil, parsed
	}
	return Apply(content, parsed.Blocks), parsed
}

func newBlockError(block blocks.Block, msg string, cause error) *BlockError {
	return &BlockError{
		BlockIndex:    block.BlockIndex,
		Message:       msg,
		SearchPreview: truncate(block.SearchContent, previewLimit),
		SearchContent: block.SearchContent,
		Err:           cause,
	}
}
