// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classify turns diff failures into a typed error taxonomy.
//
// # Description
//
// Parser, detector and applier failures are mapped to one of five kinds,
// each with a severity, a message for the user, actionable suggestions that
// can be fed back to the model, and truncated evidence.
//
// # Thread Safety
//
// All functions are pure and safe for concurrent use.
package classify

import (
	"fmt"
	"strings"
)

// EvidenceLimit caps the length of evidence strings in Details.
const EvidenceLimit = 200

// =============================================================================
// Kind and Severity
// =============================================================================

// Kind is the category of a diff failure.
type Kind string

const (
	// KindSearchNotFound means the search text is absent from the document.
	KindSearchNotFound Kind = "search_not_found"

	// KindFormatError means the diff text has no usable SEARCH/REPLACE block.
	KindFormatError Kind = "format_error"

	// KindContentMismatch means the targeted region exists but has drifted
	// from the search text.
	KindContentMismatch Kind = "content_mismatch"

	// KindToolParameterMissing means the envelope lacks its <diff> parameter.
	KindToolParameterMissing Kind = "tool_parameter_missing"

	// KindXMLParseError means the envelope markup is malformed.
	KindXMLParseError Kind = "xml_parse_error"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// Severity grades how serious a failure is.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	return string(s)
}

// =============================================================================
// DiffError
// =============================================================================

// Details carries truncated evidence for a DiffError.
type Details struct {
	SearchContent  string `json:"search_content,omitempty"`
	ExpectedFormat string `json:"expected_format,omitempty"`
	ActualContent  string `json:"actual_content,omitempty"`
}

// DiffError is a classified diff failure.
type DiffError struct {
	Kind        Kind     `json:"type"`
	Severity    Severity `json:"severity"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions"`
	Details     Details  `json:"details"`

	// RequiresManualIntervention is set once automatic retries are exhausted.
	RequiresManualIntervention bool `json:"requires_manual_intervention"`

	// Cause is the failure that was classified.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *DiffError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the classified failure.
func (e *DiffError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the kind and severity allow an automatic retry.
// It does not consider retry budgets.
func (e *DiffError) Retryable() bool {
	if e == nil || e.Severity == SeverityError {
		return false
	}
	return e.Kind == KindSearchNotFound || e.Kind == KindContentMismatch
}

// Prompt renders the error and its suggestions as text for a regeneration
// request.
func (e *DiffError) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "The previous edit failed (%s): %s\n", e.Kind, e.Message)
	if e.Details.SearchContent != "" {
		fmt.Fprintf(&b, "Search text used:\n%s\n", e.Details.SearchContent)
	}
	if len(e.Suggestions) > 0 {
		b.WriteString("To fix it:\n")
		for _, s := range e.Suggestions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	return b.String()
}

// truncate shortens s to EvidenceLimit runes, appending "..." when cut.
func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= EvidenceLimit {
		return s
	}
	return string(runes[:EvidenceLimit]) + "..."
}
