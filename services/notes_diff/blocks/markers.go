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

import "regexp"

// lineKind classifies a single input line.
type lineKind int

const (
	kindContent lineKind = iota
	kindOpen
	kindSeparator
	kindClose
)

// String returns a short name for diagnostics.
func (k lineKind) String() string {
	switch k {
	case kindOpen:
		return "open"
	case kindSeparator:
		return "separator"
	case kindClose:
		return "close"
	default:
		return "content"
	}
}

// marker pairs a whole-line pattern with the kind it signals.
type marker struct {
	pattern *regexp.Regexp
	kind    lineKind
}

// markers is checked in order; the first match wins. Every pattern is
// anchored to the full line so text that merely mentions SEARCH is content.
var markers = []marker{
	{regexp.MustCompile(`(?i)^\s*(?:-{3,}|<{3,})\s*SEARCH\s*>?\s*$`), kindOpen},
	{regexp.MustCompile(`(?i)^\s*\[SEARCH\]\s*>?\s*$`), kindOpen},
	{regexp.MustCompile(`(?i)^\s*SEARCH:\s*>?\s*$`), kindOpen},

	{regexp.MustCompile(`^\s*(?:={3,}|-{3,}|~{3,})\s*$`), kindSeparator},

	{regexp.MustCompile(`(?i)^\s*(?:\+{3,}|>{3,})\s*REPLACE\s*>?\s*$`), kindClose},
	{regexp.MustCompile(`(?i)^\s*\[REPLACE\]\s*>?\s*$`), kindClose},
	{regexp.MustCompile(`(?i)^\s*REPLACE:\s*>?\s*$`), kindClose},
}

// classify returns the kind of line.
func classify(line string) lineKind {
	for _, m := range markers {
		if m.pattern.MatchString(line) {
			return m.kind
		}
	}
	return kindContent
}
