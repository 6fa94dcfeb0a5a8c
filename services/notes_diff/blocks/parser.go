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
	"fmt"
	"strings"
)

// parseState is the position of the parser within a block.
type parseState int

const (
	stateIdle parseState = iota
	stateSearch
	stateReplace
)

// Parse extracts SEARCH/REPLACE blocks from diffText.
//
// # Description
//
// Walks the input one line at a time. Marker lines move the parser between
// idle, search and replace states; other lines are collected into the open
// section. Lines outside any block are ignored. Malformed blocks are
// reported in Errors or Warnings and never stop the parse:
//
//   - A new open marker inside a block discards the partial block.
//   - An empty search section at the separator discards the block.
//   - A close marker before any separator discards the block.
//   - End of input in the search section drops the block with a warning.
//   - End of input in the replace section closes the block implicitly and
//     keeps it, with a warning, when it is otherwise valid.
//
// A separator line inside the replace section is kept as replacement text.
// CRLF line endings are normalized to LF.
//
// # Inputs
//
//   - diffText: Raw diff payload. May be empty.
//
// # Outputs
//
//   - *ParseResult: Never nil. Errors and Warnings are non-nil slices.
//
// # Thread Safety
//
// Safe for concurrent use. The result depends only on diffText.
func Parse(diffText string) *ParseResult {
	p := &parser{
		result: &ParseResult{
			Blocks:   []Block{},
			Errors:   []Issue{},
			Warnings: []Issue{},
		},
		ordinal: -1,
	}

	for i, line := range splitLines(diffText) {
		p.consume(i+1, line)
	}
	p.finishInput()

	return p.result
}

// parser holds the state of one Parse call.
type parser struct {
	result   *ParseResult
	state    parseState
	search   []string
	replace  []string
	openLine int
	ordinal  int
	lastLine int
}

func (p *parser) consume(lineNo int, line string) {
	p.lastLine = lineNo
	kind := classify(line)

	switch p.state {
	case stateIdle:
		if kind == kindOpen {
			p.open(lineNo)
		}

	case stateSearch:
		switch kind {
		case kindOpen:
			p.discard(lineNo, fmt.Sprintf(
				"new SEARCH marker inside unterminated block opened at line %d; partial block discarded",
				p.openLine))
			p.open(lineNo)
		case kindSeparator:
			if strings.TrimSpace(strings.Join(p.search, "\n")) == "" {
				p.discard(lineNo, "empty search content; block discarded")
				return
			}
			p.state = stateReplace
		case kindClose:
			p.discard(lineNo, "REPLACE marker before separator; block discarded")
		default:
			p.search = append(p.search, line)
		}

	case stateReplace:
		switch kind {
		case kindOpen:
			p.discard(lineNo, fmt.Sprintf(
				"new SEARCH marker inside unterminated block opened at line %d; partial block discarded",
				p.openLine))
			p.open(lineNo)
		case kindClose:
			p.finishBlock(lineNo, false)
		default:
			p.replace = append(p.replace, line)
		}
	}
}

// open starts a fresh block at lineNo.
func (p *parser) open(lineNo int) {
	p.ordinal++
	p.result.Stats.TotalBlocks++
	p.state = stateSearch
	p.openLine = lineNo
	p.search = nil
	p.replace = nil
}

// discard records an error for the current block and returns to idle.
func (p *parser) discard(lineNo int, msg string) {
	p.result.Stats.IncompleteBlocks++
	p.result.Errors = append(p.result.Errors, Issue{Line: lineNo, Ordinal: p.ordinal, Message: msg})
	p.reset()
}

// finishBlock validates the current block and keeps it when valid.
func (p *parser) finishBlock(lineNo int, recovered bool) {
	block := Block{
		SearchContent:  strings.Join(p.search, "\n"),
		ReplaceContent: strings.Join(p.replace, "\n"),
	}

	if err := block.Validate(); err != nil {
		p.discard(lineNo, fmt.Sprintf("invalid block opened at line %d: %v", p.openLine, err))
		return
	}

	if recovered {
		msg := fmt.Sprintf("block opened at line %d has no REPLACE marker; closed at end of input", p.openLine)
		block.Warnings = append(block.Warnings, msg)
		p.result.Warnings = append(p.result.Warnings, Issue{Line: lineNo, Ordinal: p.ordinal, Message: msg})
		p.result.Stats.IncompleteBlocks++
	}

	block.BlockIndex = len(p.result.Blocks)
	p.result.Blocks = append(p.result.Blocks, block)
	p.result.Stats.ValidBlocks++
	p.reset()
}

func (p *parser) finishInput() {
	switch p.state {
	case stateSearch:
		p.result.Stats.IncompleteBlocks++
		p.result.Warnings = append(p.result.Warnings, Issue{
			Line:    p.lastLine,
			Ordinal: p.ordinal,
			Message: fmt.Sprintf("block opened at line %d has no separator; dropped at end of input", p.openLine),
		})
		p.reset()
	case stateReplace:
		p.finishBlock(p.lastLine, true)
	}
}

func (p *parser) reset() {
	p.state = stateIdle
	p.search = nil
	p.replace = nil
}

// splitLines normalizes line endings and splits text into lines. A single
// trailing newline does not produce an extra empty line.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}
