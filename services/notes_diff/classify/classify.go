// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classify

import (
	"errors"
	"strings"

	"github.com/AleutianAI/AleutianNotes/services/notes_diff/blocks"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/patch"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/stream"
)

// expectedFormat is echoed in Details for format failures.
const expectedFormat = "<<<<<<< SEARCH\n[exact text to find]\n=======\n[replacement text]\n>>>>>>> REPLACE"

// Context is what the caller knows about a failure.
type Context struct {
	// SearchContent is the search text of the failing block, if any.
	SearchContent string

	// Document is the document the diff was applied to, if any. It is used
	// to tell a drifted region from a missing one.
	Document string

	// ActualContent is the offending input, such as the raw diff payload.
	ActualContent string
}

// profile is the fixed part of a DiffError for one kind.
type profile struct {
	severity    Severity
	message     string
	suggestions []string
}

var profiles = map[Kind]profile{
	KindSearchNotFound: {
		severity: SeverityWarning,
		message:  "the search text was not found in the document",
		suggestions: []string{
			"Copy the search text verbatim from the current document, including whitespace",
			"Include more context to ensure a unique match",
			"Re-read the document; it may have changed since the edit was proposed",
			"List blocks in the order their targets appear in the document",
		},
	},
	KindContentMismatch: {
		severity: SeverityWarning,
		message:  "the targeted section exists but its content differs from the search text",
		suggestions: []string{
			"Use the section's current wording as the search text",
			"Keep the first and last lines of the search text identical to the document",
			"Split large edits into smaller blocks around the lines that changed",
		},
	},
	KindFormatError: {
		severity: SeverityError,
		message:  "the diff does not contain a valid SEARCH/REPLACE block",
		suggestions: []string{
			"Start each block with <<<<<<< SEARCH and end it with >>>>>>> REPLACE",
			"Separate search and replacement text with a line of =======",
			"Make sure the search section is not empty",
			"Make sure the replacement differs from the search text",
		},
	},
	KindToolParameterMissing: {
		severity: SeverityError,
		message:  "the replace_in_notes call is missing its <diff> parameter",
		suggestions: []string{
			"Wrap the SEARCH/REPLACE blocks in <diff> and </diff>",
			"Place the <diff> element inside <replace_in_notes>",
			"Do not leave the <diff> element empty",
		},
	},
	KindXMLParseError: {
		severity: SeverityError,
		message:  "the replace_in_notes markup could not be parsed",
		suggestions: []string{
			"Close every opened tag, including </diff> and </replace_in_notes>",
			"Do not nest replace_in_notes calls",
			"Emit the tool call as plain text, not inside a code fence",
		},
	},
}

// Classify maps failure to a DiffError.
//
// # Description
//
// Known sentinel errors from the parser, detector and applier are matched
// with errors.Is. Unknown errors fall back to keywords in the message. A
// missing search text is reported as content_mismatch instead of
// search_not_found when the first non-blank search line still appears in
// Context.Document.
//
// # Inputs
//
//   - failure: The error to classify. Nil yields nil.
//   - c: Evidence about the failure.
//
// # Outputs
//
//   - *DiffError: The classified error, with Cause set to failure.
func Classify(failure error, c Context) *DiffError {
	if failure == nil {
		return nil
	}

	search := c.SearchContent
	var blockErr *patch.BlockError
	if errors.As(failure, &blockErr) && search == "" {
		search = blockErr.SearchContent
	}

	kind := kindOf(failure)
	if kind == KindSearchNotFound && anchorPresent(search, c.Document) {
		kind = KindContentMismatch
	}

	return New(kind, failure, Details{
		SearchContent: truncate(search),
		ActualContent: truncate(c.ActualContent),
	})
}

// New builds a DiffError of kind with the standard message and suggestions.
func New(kind Kind, cause error, details Details) *DiffError {
	p, ok := profiles[kind]
	if !ok {
		kind = KindFormatError
		p = profiles[kind]
	}
	if kind == KindFormatError || kind == KindToolParameterMissing {
		details.ExpectedFormat = expectedFormat
	}
	return &DiffError{
		Kind:        kind,
		Severity:    p.severity,
		Message:     p.message,
		Suggestions: append([]string(nil), p.suggestions...),
		Details:     details,
		Cause:       cause,
	}
}

// ClassifyApply classifies every block error in result.
//
// # Outputs
//
//   - []*DiffError: One entry per block error, in block order. Empty when
//     the result succeeded or is nil.
func ClassifyApply(result *patch.ApplyResult, document string) []*DiffError {
	if result == nil {
		return nil
	}
	out := make([]*DiffError, 0, len(result.Errors))
	for _, be := range result.Errors {
		out = append(out, Classify(be, Context{SearchContent: be.SearchContent, Document: document}))
	}
	return out
}

// kindOf picks a kind by sentinel, then by message keywords.
func kindOf(err error) Kind {
	switch {
	case errors.Is(err, patch.ErrNoMatch):
		return KindSearchNotFound
	case errors.Is(err, blocks.ErrNoValidBlocks),
		errors.Is(err, blocks.ErrEmptySearch),
		errors.Is(err, blocks.ErrNoOpBlock):
		return KindFormatError
	case errors.Is(err, stream.ErrMissingDiffParameter):
		return KindToolParameterMissing
	case errors.Is(err, stream.ErrMalformedEnvelope):
		return KindXMLParseError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "mismatch"):
		return KindContentMismatch
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no match"):
		return KindSearchNotFound
	case strings.Contains(msg, "parameter"), strings.Contains(msg, "missing"):
		return KindToolParameterMissing
	case strings.Contains(msg, "xml"), strings.Contains(msg, "tag"):
		return KindXMLParseError
	default:
		return KindFormatError
	}
}

// anchorPresent reports whether the first non-blank line of search appears,
// trimmed, as a line of document.
func anchorPresent(search, document string) bool {
	if search == "" || document == "" {
		return false
	}
	var anchor string
	for _, l := range strings.Split(search, "\n") {
		if t := strings.TrimSpace(l); t != "" {
			anchor = t
			break
		}
	}
	if anchor == "" {
		return false
	}
	for _, l := range strings.Split(document, "\n") {
		if strings.TrimSpace(l) == anchor {
			return true
		}
	}
	return false
}
