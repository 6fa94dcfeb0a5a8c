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
	"strings"

	"github.com/AleutianAI/AleutianNotes/services/notes_diff/blocks"
)

// minAnchorLines is the smallest search for which block-anchor matching runs.
const minAnchorLines = 3

// span is a half-open byte range in the working document.
type span struct {
	start int
	end   int
	kind  blocks.MatchType
}

// docLine is one line of the document with absolute byte offsets. end
// excludes the newline.
type docLine struct {
	text  string
	start int
	end   int
}

// matcher is one matching tier. It searches doc at or after cursor.
type matcher func(doc string, cursor int, search string) (span, bool)

// tiers are tried in order; the first hit wins.
var tiers = []matcher{
	matchExact,
	matchLineTrimmed,
	matchBlockAnchor,
}

// locate runs the tiers and returns the first hit.
func locate(doc string, cursor int, search string) (span, bool) {
	for _, m := range tiers {
		if s, ok := m(doc, cursor, search); ok {
			return s, true
		}
	}
	return span{}, false
}

// matchExact finds search as a literal substring at or after cursor.
func matchExact(doc string, cursor int, search string) (span, bool) {
	idx := strings.Index(doc[cursor:], search)
	if idx < 0 {
		return span{}, false
	}
	start := cursor + idx
	return span{start: start, end: start + len(search), kind: blocks.MatchExact}, true
}

// matchLineTrimmed finds a run of len(searchLines) consecutive lines whose
// trimmed text equals the trimmed search lines. Only the ends of each line
// are trimmed; interior spacing must match.
func matchLineTrimmed(doc string, cursor int, search string) (span, bool) {
	want := trimmedLines(search)
	lines := splitLines(doc[cursor:], cursor)

	for i := 0; i+len(want) <= len(lines); i++ {
		if linesEqualTrimmed(lines[i:i+len(want)], want) {
			return span{
				start: lines[i].start,
				end:   lines[i+len(want)-1].end,
				kind:  blocks.MatchLineTrimmed,
			}, true
		}
	}
	return span{}, false
}

// matchBlockAnchor matches on the first and last search lines alone. The
// first line that equals the first anchor is paired with the nearest later
// line that equals the last anchor; whatever lies between is replaced. It
// needs at least three search lines and non-blank anchors.
func matchBlockAnchor(doc string, cursor int, search string) (span, bool) {
	want := trimmedLines(search)
	if len(want) < minAnchorLines {
		return span{}, false
	}
	first, last := want[0], want[len(want)-1]
	if first == "" || last == "" {
		return span{}, false
	}

	lines := splitLines(doc[cursor:], cursor)
	for i, line := range lines {
		if strings.TrimSpace(line.text) != first {
			continue
		}
		for j := i + 1; j < len(lines); j++ {
			if strings.TrimSpace(lines[j].text) == last {
				return span{start: line.start, end: lines[j].end, kind: blocks.MatchBlockAnchor}, true
			}
		}
		// Any later first-anchor would only see a subset of these lines.
		return span{}, false
	}
	return span{}, false
}

// splitLines splits s into lines, offsetting positions by base.
func splitLines(s string, base int) []docLine {
	var out []docLine
	start := 0
	for {
		nl := strings.IndexByte(s[start:], '\n')
		if nl < 0 {
			out = append(out, docLine{text: s[start:], start: base + start, end: base + len(s)})
			return out
		}
		end := start + nl
		out = append(out, docLine{text: s[start:end], start: base + start, end: base + end})
		start = end + 1
	}
}

func trimmedLines(s string) []string {
	raw := strings.Split(s, "\n")
	out := make([]string, len(raw))
	for i, l := range raw {
		out[i] = strings.TrimSpace(l)
	}
	return out
}

func linesEqualTrimmed(lines []docLine, want []string) bool {
	for k, w := range want {
		if strings.TrimSpace(lines[k].text) != w {
			return false
		}
	}
	return true
}

// lineCount returns the number of lines in s.
func lineCount(s string) int {
	return strings.Count(s, "\n") + 1
}
