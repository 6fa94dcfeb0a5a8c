// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package blocks parses SEARCH/REPLACE edit blocks out of model output.
//
// # Description
//
// A diff payload contains zero or more blocks of the form:
//
//	<<<<<<< SEARCH
//	text to find
//	=======
//	text to put in its place
//	>>>>>>> REPLACE
//
// Several marker spellings are accepted (see markers.go). The parser is a
// line-oriented state machine that reports malformed blocks individually and
// keeps every well-formed block it finds.
//
// # Thread Safety
//
// Parse is a pure function and is safe for concurrent use. ParseResult values
// must be treated as read-only once returned.
package blocks

import (
	"fmt"
	"strings"
)

// =============================================================================
// Match Types
// =============================================================================

// MatchType names the strategy that located a block's search text.
type MatchType string

const (
	// MatchNone means the block has not been matched (yet).
	MatchNone MatchType = ""

	// MatchExact is a literal substring match.
	MatchExact MatchType = "exact"

	// MatchLineTrimmed matches line by line after trimming each line's ends.
	MatchLineTrimmed MatchType = "line_trimmed"

	// MatchBlockAnchor matches on the first and last lines only.
	MatchBlockAnchor MatchType = "block_anchor"
)

// String returns the string representation of the match type.
func (m MatchType) String() string {
	if m == MatchNone {
		return "none"
	}
	return string(m)
}

// Confidence returns the heuristic confidence attached to the match type.
func (m MatchType) Confidence() float64 {
	switch m {
	case MatchExact:
		return 1.0
	case MatchLineTrimmed:
		return 0.8
	case MatchBlockAnchor:
		return 0.6
	default:
		return 0
	}
}

// =============================================================================
// Block
// =============================================================================

// Block is one proposed edit: text to find and text to substitute.
//
// SearchContent is never blank and never equal to ReplaceContent for blocks
// returned by Parse. ReplaceContent may be empty, which deletes the match.
type Block struct {
	// SearchContent is the text to locate, lines joined with "\n".
	SearchContent string `json:"search_content"`

	// ReplaceContent is the substitution text, lines joined with "\n".
	ReplaceContent string `json:"replace_content"`

	// BlockIndex is the position of the block within ParseResult.Blocks.
	BlockIndex int `json:"block_index"`

	// MatchType is filled in by the applier on the copies it returns.
	MatchType MatchType `json:"match_type,omitempty"`

	// Confidence is filled in together with MatchType.
	Confidence float64 `json:"confidence,omitempty"`

	// Warnings holds block-scoped notes such as end-of-input recovery.
	Warnings []string `json:"warnings,omitempty"`
}

// Validate reports whether the block can be applied.
//
// # Outputs
//
//   - error: ErrEmptySearch or ErrNoOpBlock, nil when valid.
func (b Block) Validate() error {
	if strings.TrimSpace(b.SearchContent) == "" {
		return ErrEmptySearch
	}
	if b.SearchContent == b.ReplaceContent {
		return ErrNoOpBlock
	}
	return nil
}

// =============================================================================
// Parse Result
// =============================================================================

// Issue is an error or warning produced while parsing.
type Issue struct {
	// Line is the 1-based input line the issue refers to.
	Line int `json:"line"`

	// Ordinal is the 0-based count of the open marker the issue belongs to,
	// or -1 when the issue is not tied to a block.
	Ordinal int `json:"ordinal"`

	// Message is a human-readable description.
	Message string `json:"message"`
}

// String renders the issue as "line N: message".
func (i Issue) String() string {
	return fmt.Sprintf("line %d: %s", i.Line, i.Message)
}

// Stats summarizes one parse.
type Stats struct {
	// TotalBlocks counts every open marker seen.
	TotalBlocks int `json:"total_blocks"`

	// ValidBlocks counts blocks that passed validation.
	ValidBlocks int `json:"valid_blocks"`

	// IncompleteBlocks counts blocks discarded or recovered with a warning.
	IncompleteBlocks int `json:"incomplete_blocks"`
}

// ParseResult is the outcome of one Parse call.
type ParseResult struct {
	Blocks   []Block `json:"blocks"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
	Stats    Stats   `json:"stats"`
}

// HasBlocks reports whether at least one valid block was extracted.
func (r *ParseResult) HasBlocks() bool {
	return r != nil && len(r.Blocks) > 0
}

// Err summarizes the result as an error.
//
// # Outputs
//
//   - error: nil when at least one block was extracted, otherwise
//     ErrNoValidBlocks wrapped with the first parse error (if any).
func (r *ParseResult) Err() error {
	if r.HasBlocks() {
		return nil
	}
	if r != nil && len(r.Errors) > 0 {
		return fmt.Errorf("%w: %s", ErrNoValidBlocks, r.Errors[0])
	}
	return ErrNoValidBlocks
}
