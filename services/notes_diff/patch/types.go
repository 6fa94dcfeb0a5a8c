// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patch applies SEARCH/REPLACE blocks to a document.
//
// # Description
//
// Apply locates each block's search text with a three-tier matcher (exact,
// line-trimmed, block-anchor) and splices in the replacement. Blocks are
// applied in the order given and every search starts at or after the end of
// the previous edit, so an earlier edit is never re-matched by a later one.
// A block that cannot be located is reported and skipped; the remaining
// blocks still apply.
//
// # Thread Safety
//
// Apply and Preview are pure functions and safe for concurrent use.
package patch

import (
	"fmt"

	"github.com/AleutianAI/AleutianNotes/services/notes_diff/blocks"
)

// previewLimit caps the search text echoed in error messages.
const previewLimit = 80

// =============================================================================
// Apply Result
// =============================================================================

// AppliedDetail records where one block landed.
type AppliedDetail struct {
	// BlockIndex is the block's BlockIndex.
	BlockIndex int `json:"block_index"`

	// MatchType is the tier that located the search text.
	MatchType blocks.MatchType `json:"match_type"`

	// Confidence is MatchType.Confidence().
	Confidence float64 `json:"confidence"`

	// OriginalStart and OriginalEnd bound the replaced span as byte offsets
	// into the content passed to Apply.
	OriginalStart int `json:"original_start"`
	OriginalEnd   int `json:"original_end"`

	// NewStart and NewEnd bound the replacement text in ApplyResult.Content.
	NewStart int `json:"new_start"`
	NewEnd   int `json:"new_end"`
}

// BlockError reports a block that could not be applied.
type BlockError struct {
	// BlockIndex is the failing block's BlockIndex.
	BlockIndex int `json:"block_index"`

	// Message describes the failure.
	Message string `json:"message"`

	// SearchPreview is the block's search text, truncated.
	SearchPreview string `json:"search_preview"`

	// SearchContent is the full search text, for classification.
	SearchContent string `json:"-"`

	// Err is the underlying cause (ErrNoMatch or a blocks validation error).
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *BlockError) Error() string {
	return fmt.Sprintf("block %d: %s (search: %q)", e.BlockIndex, e.Message, e.SearchPreview)
}

// Unwrap returns the underlying cause.
func (e *BlockError) Unwrap() error {
	return e.Err
}

// ApplyResult is the outcome of one Apply call.
type ApplyResult struct {
	// Success is true when no block failed.
	Success bool `json:"success"`

	// Content is the patched document. Failed blocks leave it untouched.
	Content string `json:"content"`

	// AppliedBlocks counts blocks that were applied.
	AppliedBlocks int `json:"applied_blocks"`

	// Errors lists one entry per failed block, in block order.
	Errors []*BlockError `json:"errors"`

	// Warnings holds non-fatal notes such as ambiguous matches.
	Warnings []string `json:"warnings"`

	// AppliedDetails lists one entry per applied block, in block order.
	AppliedDetails []AppliedDetail `json:"applied_details"`

	// Blocks are copies of the input blocks with MatchType and Confidence
	// filled in for those that applied.
	Blocks []blocks.Block `json:"blocks"`
}

// Err returns the first block error, or nil on success.
func (r *ApplyResult) Err() error {
	if r == nil || len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// truncate shortens s to limit runes, appending "..." when cut.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
