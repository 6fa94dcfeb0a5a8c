// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"errors"
	"strings"
)

// Envelope tags recognized in model output.
const (
	OpenTag      = "<replace_in_notes>"
	CloseTag     = "</replace_in_notes>"
	DiffOpenTag  = "<diff>"
	DiffCloseTag = "</diff>"
)

var (
	// ErrMissingDiffParameter indicates an envelope without a <diff> element.
	ErrMissingDiffParameter = errors.New("envelope has no <diff> parameter")

	// ErrMalformedEnvelope indicates a <diff> element that is never closed,
	// or closed before it opens.
	ErrMalformedEnvelope = errors.New("malformed <diff> element in envelope")
)

// Envelope is one complete <replace_in_notes> tool call found in the stream.
type Envelope struct {
	// Raw is the full envelope including both tags.
	Raw string `json:"raw"`

	// Hash is the 64-bit xxhash of Raw, used for deduplication.
	Hash uint64 `json:"hash"`

	// Seq is the 1-based order in which the detector first saw the envelope.
	Seq int `json:"seq"`
}

// Inner returns the text between the envelope tags.
func (e Envelope) Inner() string {
	s := strings.TrimPrefix(e.Raw, OpenTag)
	return strings.TrimSuffix(s, CloseTag)
}

// Diff extracts the <diff> payload.
//
// # Outputs
//
//   - string: The payload with the surrounding newlines removed.
//   - error: ErrMissingDiffParameter or ErrMalformedEnvelope.
func (e Envelope) Diff() (string, error) {
	inner := e.Inner()
	start := strings.Index(inner, DiffOpenTag)
	if start < 0 {
		if strings.Contains(inner, DiffCloseTag) {
			return "", ErrMalformedEnvelope
		}
		return "", ErrMissingDiffParameter
	}
	body := inner[start+len(DiffOpenTag):]
	end := strings.LastIndex(body, DiffCloseTag)
	if end < 0 {
		return "", ErrMalformedEnvelope
	}
	return strings.Trim(body[:end], "\r\n"), nil
}
