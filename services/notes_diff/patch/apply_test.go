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
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianNotes/services/notes_diff/blocks"
)

func block(i int, search, replace string) blocks.Block {
	return blocks.Block{SearchContent: search, ReplaceContent: replace, BlockIndex: i}
}

// =============================================================================
// Exact Tier
// =============================================================================

func TestApply_HelloGoodbye(t *testing.T) {
	result := Apply("Hello world\nGoodbye world", []blocks.Block{block(0, "Hello world", "Hi there")})

	assert.True(t, result.Success)
	assert.Equal(t, "Hi there\nGoodbye world", result.Content)
	assert.Equal(t, 1, result.AppliedBlocks)
	assert.Empty(t, result.Errors)
	require.Len(t, result.AppliedDetails, 1)
	assert.Equal(t, blocks.MatchExact, result.AppliedDetails[0].MatchType)
	assert.Equal(t, 1.0, result.AppliedDetails[0].Confidence)
	assert.Equal(t, 0, result.AppliedDetails[0].OriginalStart)
	assert.Equal(t, len("Hello world"), result.AppliedDetails[0].OriginalEnd)
}

func TestApply_ExactSpliceChangesOnlyTheMatch(t *testing.T) {
	doc := "alpha\nbeta unique gamma\ndelta"
	search := "unique"
	replace := "one-of-a-kind"

	result := Apply(doc, []blocks.Block{block(0, search, replace)})

	require.True(t, result.Success)
	assert.Equal(t, len(doc)+len(replace)-len(search), len(result.Content))
	idx := strings.Index(doc, search)
	assert.Equal(t, doc[:idx], result.Content[:idx])
	assert.Equal(t, doc[idx+len(search):], result.Content[idx+len(replace):])
	assert.Equal(t, blocks.MatchExact, result.Blocks[0].MatchType)
}

func TestApply_SequentialBlocksHonorCursor(t *testing.T) {
	doc := "item\nitem\nitem"

	result := Apply(doc, []blocks.Block{
		block(0, "item", "first"),
		block(1, "item", "second"),
	})

	require.True(t, result.Success)
	assert.Equal(t, "first\nsecond\nitem", result.Content)
	require.Len(t, result.AppliedDetails, 2)
	assert.Equal(t, 5, result.AppliedDetails[1].OriginalStart)
	assert.Equal(t, 9, result.AppliedDetails[1].OriginalEnd)
}

func TestApply_BlockBeforeCursorFails(t *testing.T) {
	doc := "one\ntwo\nthree"

	result := Apply(doc, []blocks.Block{
		block(0, "three", "3"),
		block(1, "one", "1"),
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.AppliedBlocks)
	assert.Equal(t, "one\ntwo\n3", result.Content)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 1, result.Errors[0].BlockIndex)
	assert.True(t, errors.Is(result.Errors[0], ErrNoMatch))
}

func TestApply_ReplacementTextNotRematched(t *testing.T) {
	result := Apply("a b", []blocks.Block{
		block(0, "a", "b a"),
		block(1, "a", "z"),
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.AppliedBlocks)
	assert.Equal(t, "b a b", result.Content)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 1, result.Errors[0].BlockIndex)
}

func TestApply_AmbiguousExactMatchWarns(t *testing.T) {
	result := Apply("x\nx", []blocks.Block{block(0, "x", "y")})

	require.True(t, result.Success)
	assert.Equal(t, "y\nx", result.Content)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "more than once")
}

// =============================================================================
// Line-Trimmed Tier
// =============================================================================

func TestApply_LineTrimmed(t *testing.T) {
	doc := "intro\n    - buy milk  \n\t- buy eggs\noutro"
	search := "- buy milk\n- buy eggs"

	result := Apply(doc, []blocks.Block{block(0, search, "- buy bread")})

	require.True(t, result.Success)
	assert.Equal(t, "intro\n- buy bread\noutro", result.Content)
	require.Len(t, result.AppliedDetails, 1)
	assert.Equal(t, blocks.MatchLineTrimmed, result.AppliedDetails[0].MatchType)
	assert.Equal(t, 0.8, result.AppliedDetails[0].Confidence)
	assert.Equal(t, strings.Index(doc, "    - buy milk"), result.AppliedDetails[0].OriginalStart)
	assert.Equal(t, strings.Index(doc, "\noutro"), result.AppliedDetails[0].OriginalEnd)
}

func TestApply_LineTrimmedRejectsInteriorSpacing(t *testing.T) {
	doc := "- buy  milk\n- buy eggs"

	result := Apply(doc, []blocks.Block{block(0, "- buy milk\n- buy eggs", "x")})

	assert.False(t, result.Success)
	assert.Equal(t, doc, result.Content)
	assert.Zero(t, result.AppliedBlocks)
}

func TestApply_LineTrimmedRespectsCursor(t *testing.T) {
	doc := "  a\n  b\nmiddle\n    a\n    b"

	alone := Apply(doc, []blocks.Block{block(0, "a\nb", "X")})
	require.True(t, alone.Success)
	assert.Equal(t, "X\nmiddle\n    a\n    b", alone.Content)

	result := Apply(doc, []blocks.Block{
		block(0, "middle", "MIDDLE"),
		block(1, "a\nb", "X"),
	})

	require.True(t, result.Success)
	assert.Equal(t, "  a\n  b\nMIDDLE\nX", result.Content)
	assert.Equal(t, blocks.MatchLineTrimmed, result.AppliedDetails[1].MatchType)
	assert.Equal(t, strings.Index(doc, "    a"), result.AppliedDetails[1].OriginalStart)
	assert.Equal(t, len(doc), result.AppliedDetails[1].OriginalEnd)
}

// =============================================================================
// Block-Anchor Tier
// =============================================================================

func TestApply_BlockAnchor(t *testing.T) {
	doc := "# Notes\n## Todo\nstale line one\nstale line two\n## Done\nshipped"
	search := "## Todo\nsomething the model misremembered\n## Done"

	result := Apply(doc, []blocks.Block{block(0, search, "## Todo\n## Done")})

	require.True(t, result.Success)
	assert.Equal(t, "# Notes\n## Todo\n## Done\nshipped", result.Content)
	require.Len(t, result.AppliedDetails, 1)
	assert.Equal(t, blocks.MatchBlockAnchor, result.AppliedDetails[0].MatchType)
	assert.Equal(t, 0.6, result.AppliedDetails[0].Confidence)
}

func TestApply_BlockAnchorPicksNearestLastLine(t *testing.T) {
	doc := "start\na\nend\nb\nend"
	search := "start\nzzz\nend"

	result := Apply(doc, []blocks.Block{block(0, search, "X")})

	require.True(t, result.Success)
	assert.Equal(t, "X\nb\nend", result.Content)
}

func TestApply_BlockAnchorNeedsThreeLines(t *testing.T) {
	doc := "first\ndrifted\nlast"

	result := Apply(doc, []blocks.Block{block(0, "first\nlast", "x")})

	assert.False(t, result.Success)
	assert.Equal(t, doc, result.Content)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "all matching strategies failed", result.Errors[0].Message)
}

func TestApply_BlockAnchorBlankAnchorUnusable(t *testing.T) {
	doc := "\nx\ny\n"

	result := Apply(doc, []blocks.Block{block(0, "\nq\ny", "z")})

	assert.False(t, result.Success)
}

// =============================================================================
// Failures
// =============================================================================

func TestApply_PartialSuccess(t *testing.T) {
	doc := "one\ntwo\nthree"
	long := strings.Repeat("missing ", 30)

	result := Apply(doc, []blocks.Block{
		block(0, "one", "1"),
		block(1, long, "never"),
		block(2, "three", "3"),
	})

	assert.False(t, result.Success)
	assert.Equal(t, 2, result.AppliedBlocks)
	assert.Equal(t, "1\ntwo\n3", result.Content)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 1, result.Errors[0].BlockIndex)
	assert.True(t, strings.HasSuffix(result.Errors[0].SearchPreview, "..."))
	assert.Contains(t, result.Errors[0].Error(), "all matching strategies failed")
	assert.Equal(t, long, result.Errors[0].SearchContent)
	assert.Equal(t, result.Errors[0], result.Err())
}

func TestApply_InvalidBlocks(t *testing.T) {
	result := Apply("doc", []blocks.Block{
		block(0, "", "x"),
		block(1, "doc", "doc"),
	})

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 2)
	assert.ErrorIs(t, result.Errors[0], blocks.ErrEmptySearch)
	assert.ErrorIs(t, result.Errors[1], blocks.ErrNoOpBlock)
	assert.Equal(t, "doc", result.Content)
}

func TestApply_NoBlocks(t *testing.T) {
	result := Apply("doc", nil)

	assert.True(t, result.Success)
	assert.Equal(t, "doc", result.Content)
	assert.NoError(t, result.Err())
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	in := []blocks.Block{block(0, "a", "b")}

	Apply("a", in)

	assert.Equal(t, blocks.MatchNone, in[0].MatchType)
}

func TestApply_PropagatesBlockWarnings(t *testing.T) {
	b := block(3, "a", "b")
	b.Warnings = []string{"recovered"}

	result := Apply("a", []blocks.Block{b})

	assert.Equal(t, []string{"block 3: recovered"}, result.Warnings)
}

func TestApplyText(t *testing.T) {
	diffText := "<<<<<<< SEARCH\nHello world\n=======\nHi there\n>>>>>>> REPLACE\n"

	result, parsed := ApplyText("Hello world\nGoodbye world", diffText)

	require.NotNil(t, result)
	assert.Equal(t, 1, parsed.Stats.ValidBlocks)
	assert.Equal(t, "Hi there\nGoodbye world", result.Content)

	result, parsed = ApplyText("doc", "no blocks here")
	assert.Nil(t, result)
	assert.ErrorIs(t, parsed.Err(), blocks.ErrNoValidBlocks)
}
