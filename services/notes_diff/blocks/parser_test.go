// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package blocks

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(ls ...string) string {
	return strings.Join(ls, "\n")
}

// =============================================================================
// Marker Classification
// =============================================================================

func TestClassify(t *testing.T) {
	tests := []struct {
		line string
		want lineKind
	}{
		{"<<<<<<< SEARCH", kindOpen},
		{"<<< search", kindOpen},
		{"------- SEARCH>", kindOpen},
		{"---SEARCH", kindOpen},
		{"  [SEARCH]  ", kindOpen},
		{"search:", kindOpen},
		{"=======", kindSeparator},
		{"---", kindSeparator},
		{"~~~~", kindSeparator},
		{"  ===  ", kindSeparator},
		{">>>>>>> REPLACE", kindClose},
		{"+++++++ replace>", kindClose},
		{"[REPLACE]", kindClose},
		{"Replace:", kindClose},
		{"==", kindContent},
		{"=== heading ===", kindContent},
		{"please SEARCH the notes", kindContent},
		{"<<<<<<< SEARCH and more", kindContent},
		{"REPLACE: something", kindContent},
		{"", kindContent},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.line), "line %q", tt.line)
		})
	}
}

// =============================================================================
// Parse
// =============================================================================

func TestParse_SingleBlock(t *testing.T) {
	input := lines(
		"<<<<<<< SEARCH",
		"Hello world",
		"=======",
		"Hi there",
		">>>>>>> REPLACE",
	)

	result := Parse(input)

	require.Len(t, result.Blocks, 1)
	assert.Equal(t, "Hello world", result.Blocks[0].SearchContent)
	assert.Equal(t, "Hi there", result.Blocks[0].ReplaceContent)
	assert.Equal(t, 0, result.Blocks[0].BlockIndex)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, Stats{TotalBlocks: 1, ValidBlocks: 1}, result.Stats)
	assert.NoError(t, result.Err())
}

func TestParse_AlternativeMarkers(t *testing.T) {
	input := lines(
		"Some prose before the edit is ignored.",
		"[SEARCH]",
		"alpha",
		"beta",
		"~~~",
		"gamma",
		"[REPLACE]",
		"between blocks",
		"------- SEARCH",
		"one",
		"---",
		"two",
		"+++++++ REPLACE>",
		"SEARCH:",
		"x",
		"=====",
		"y",
		"REPLACE:",
	)

	result := Parse(input)

	require.Len(t, result.Blocks, 3)
	assert.Equal(t, "alpha\nbeta", result.Blocks[0].SearchContent)
	assert.Equal(t, "gamma", result.Blocks[0].ReplaceContent)
	assert.Equal(t, "one", result.Blocks[1].SearchContent)
	assert.Equal(t, "two", result.Blocks[1].ReplaceContent)
	assert.Equal(t, 2, result.Blocks[2].BlockIndex)
	assert.Equal(t, 3, result.Stats.TotalBlocks)
	assert.Equal(t, 3, result.Stats.ValidBlocks)
	assert.Zero(t, result.Stats.IncompleteBlocks)
}

func TestParse_CRLF(t *testing.T) {
	input := "<<<<<<< SEARCH\r\na\r\nb\r\n=======\r\nc\r\n>>>>>>> REPLACE\r\n"

	result := Parse(input)

	require.Len(t, result.Blocks, 1)
	assert.Equal(t, "a\nb", result.Blocks[0].SearchContent)
	assert.Equal(t, "c", result.Blocks[0].ReplaceContent)
}

func TestParse_EmptyReplaceIsDeletion(t *testing.T) {
	input := lines("<<<<<<< SEARCH", "remove me", "=======", ">>>>>>> REPLACE")

	result := Parse(input)

	require.Len(t, result.Blocks, 1)
	assert.Equal(t, "", result.Blocks[0].ReplaceContent)
}

func TestParse_SeparatorInsideReplaceIsContent(t *testing.T) {
	input := lines(
		"<<<<<<< SEARCH",
		"# Title",
		"=======",
		"# Title",
		"---",
		"Intro",
		">>>>>>> REPLACE",
	)

	result := Parse(input)

	require.Len(t, result.Blocks, 1)
	assert.Equal(t, "# Title\n---\nIntro", result.Blocks[0].ReplaceContent)
}

func TestParse_NestedOpenMarkerDiscardsPartial(t *testing.T) {
	input := lines(
		"<<<<<<< SEARCH",
		"lost",
		"<<<<<<< SEARCH",
		"kept",
		"=======",
		"new",
		">>>>>>> REPLACE",
	)

	result := Parse(input)

	require.Len(t, result.Blocks, 1)
	assert.Equal(t, "kept", result.Blocks[0].SearchContent)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 3, result.Errors[0].Line)
	assert.Contains(t, result.Errors[0].Message, "line 1")
	assert.Equal(t, Stats{TotalBlocks: 2, ValidBlocks: 1, IncompleteBlocks: 1}, result.Stats)
}

func TestParse_OpenMarkerInsideReplaceDiscardsPartial(t *testing.T) {
	input := lines(
		"<<<<<<< SEARCH",
		"a",
		"=======",
		"b",
		"<<<<<<< SEARCH",
		"c",
		"=======",
		"d",
		">>>>>>> REPLACE",
	)

	result := Parse(input)

	require.Len(t, result.Blocks, 1)
	assert.Equal(t, "c", result.Blocks[0].SearchContent)
	assert.Len(t, result.Errors, 1)
	assert.Equal(t, 1, result.Stats.IncompleteBlocks)
}

func TestParse_EmptySearchDiscarded(t *testing.T) {
	input := lines(
		"<<<<<<< SEARCH",
		"   ",
		"=======",
		"text",
		">>>>>>> REPLACE",
		"<<<<<<< SEARCH",
		"real",
		"=======",
		"edit",
		">>>>>>> REPLACE",
	)

	result := Parse(input)

	require.Len(t, result.Blocks, 1)
	assert.Equal(t, "real", result.Blocks[0].SearchContent)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "empty search")
	assert.Equal(t, Stats{TotalBlocks: 2, ValidBlocks: 1, IncompleteBlocks: 1}, result.Stats)
}

func TestParse_NoOpBlockRejected(t *testing.T) {
	input := lines("<<<<<<< SEARCH", "same", "=======", "same", ">>>>>>> REPLACE")

	result := Parse(input)

	assert.Empty(t, result.Blocks)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, ErrNoOpBlock.Error())
	assert.Equal(t, 1, result.Stats.IncompleteBlocks)
	assert.True(t, errors.Is(result.Err(), ErrNoValidBlocks))
}

func TestParse_CloseBeforeSeparator(t *testing.T) {
	input := lines("<<<<<<< SEARCH", "a", ">>>>>>> REPLACE")

	result := Parse(input)

	assert.Empty(t, result.Blocks)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 3, result.Errors[0].Line)
}

func TestParse_UnterminatedSearchDropped(t *testing.T) {
	input := lines("<<<<<<< SEARCH", "a", "b")

	result := Parse(input)

	assert.Empty(t, result.Blocks)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "no separator")
	assert.Equal(t, Stats{TotalBlocks: 1, IncompleteBlocks: 1}, result.Stats)
}

func TestParse_UnterminatedReplaceRecovered(t *testing.T) {
	input := lines("<<<<<<< SEARCH", "a", "=======", "b")

	result := Parse(input)

	require.Len(t, result.Blocks, 1)
	assert.Equal(t, "b", result.Blocks[0].ReplaceContent)
	require.Len(t, result.Blocks[0].Warnings, 1)
	require.Len(t, result.Warnings, 1)
	assert.Empty(t, result.Errors)
	assert.Equal(t, Stats{TotalBlocks: 1, ValidBlocks: 1, IncompleteBlocks: 1}, result.Stats)
}

func TestParse_UnterminatedNoOpNotRecovered(t *testing.T) {
	input := lines("<<<<<<< SEARCH", "a", "=======", "a")

	result := Parse(input)

	assert.Empty(t, result.Blocks)
	assert.Len(t, result.Errors, 1)
}

func TestParse_IgnoresStrayMarkersWhenIdle(t *testing.T) {
	input := lines("=======", ">>>>>>> REPLACE", "plain text")

	result := Parse(input)

	assert.Empty(t, result.Blocks)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
	assert.Zero(t, result.Stats.TotalBlocks)
}

func TestParse_EmptyInput(t *testing.T) {
	result := Parse("")

	require.NotNil(t, result)
	assert.NotNil(t, result.Blocks)
	assert.NotNil(t, result.Errors)
	assert.True(t, errors.Is(result.Err(), ErrNoValidBlocks))
}

func TestParse_Deterministic(t *testing.T) {
	input := lines(
		"<<<<<<< SEARCH", "a", "<<<<<<< SEARCH", "b", "=======", "c", ">>>>>>> REPLACE",
		"[SEARCH]", "d", "~~~", "e",
	)

	first := Parse(input)
	second := Parse(input)

	assert.Equal(t, first, second)
}

func TestParse_PreservesIndentation(t *testing.T) {
	input := lines("<<<<<<< SEARCH", "    indented", "\ttabbed", "=======", "  new", ">>>>>>> REPLACE")

	result := Parse(input)

	require.Len(t, result.Blocks, 1)
	assert.Equal(t, "    indented\n\ttabbed", result.Blocks[0].SearchContent)
	assert.Equal(t, "  new", result.Blocks[0].ReplaceContent)
}

// =============================================================================
// Types
// =============================================================================

func TestMatchType_Confidence(t *testing.T) {
	assert.Equal(t, 1.0, MatchExact.Confidence())
	assert.Equal(t, 0.8, MatchLineTrimmed.Confidence())
	assert.Equal(t, 0.6, MatchBlockAnchor.Confidence())
	assert.Equal(t, 0.0, MatchNone.Confidence())
	assert.Equal(t, "none", MatchNone.String())
}

func TestBlock_Validate(t *testing.T) {
	assert.ErrorIs(t, Block{}.Validate(), ErrEmptySearch)
	assert.ErrorIs(t, Block{SearchContent: "x", ReplaceContent: "x"}.Validate(), ErrNoOpBlock)
	assert.NoError(t, Block{SearchContent: "x"}.Validate())
}
