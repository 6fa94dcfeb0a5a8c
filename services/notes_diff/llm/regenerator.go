// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/AleutianAI/AleutianNotes/services/notes_diff/blocks"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/retry"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/stream"
)

// DefaultSystemPrompt tells the model how to express edits.
const DefaultSystemPrompt = `You edit markdown notes. To change a note, emit exactly one tool call:

<replace_in_notes>
<diff>
<<<<<<< SEARCH
[exact text currently in the note]
=======
[replacement text]
>>>>>>> REPLACE
</diff>
</replace_in_notes>

Repeat the SEARCH/REPLACE block inside <diff> for several changes, in the
order they appear in the note. SEARCH text must match the note exactly.`

// DocumentFunc returns the document a failed diff targeted.
type DocumentFunc func(ctx context.Context) (string, error)

// Regenerator asks the model for a corrected diff. It implements
// retry.Regenerator.
type Regenerator struct {
	client   *Client
	document DocumentFunc
}

var _ retry.Regenerator = (*Regenerator)(nil)

// NewRegenerator creates a Regenerator. document may be nil, in which case
// the prompt omits the current document.
func NewRegenerator(client *Client, document DocumentFunc) *Regenerator {
	return &Regenerator{client: client, document: document}
}

// Regenerate streams a repair completion and returns its diff payload.
//
// # Description
//
// The response is scanned with a stream.Detector. The <diff> payload of
// the first envelope that parses to at least one block is returned. A
// response with bare SEARCH/REPLACE blocks and no envelope is accepted as
// well.
//
// # Outputs
//
//   - string: The new diff payload.
//   - error: Transport errors, or ErrNoDiffInResponse.
func (r *Regenerator) Regenerate(ctx context.Context, req retry.Request) (string, error) {
	var doc string
	if r.document != nil {
		d, err := r.document(ctx)
		if err != nil {
			return "", fmt.Errorf("load document: %w", err)
		}
		doc = d
	}

	s, err := r.client.Stream(ctx, RepairPrompt(req, doc))
	if err != nil {
		return "", err
	}
	defer s.Close()

	det := stream.NewDetector(r.client.logger)
	var raw strings.Builder
	for {
		chunk, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		raw.WriteString(chunk)
		det.ProcessChunk(chunk)
	}

	for _, env := range det.Detected() {
		payload, err := env.Diff()
		if err != nil {
			continue
		}
		if blocks.Parse(payload).HasBlocks() {
			return payload, nil
		}
	}

	text := strings.TrimSpace(raw.String())
	if blocks.Parse(text).HasBlocks() {
		return text, nil
	}
	return "", fmt.Errorf("%w (attempt %d for %s)", ErrNoDiffInResponse, req.Attempt, req.DiffID)
}

// RepairPrompt renders the regeneration request for a failed diff.
func RepairPrompt(req retry.Request, document string) string {
	var b strings.Builder
	if req.Prompt != "" {
		b.WriteString(req.Prompt)
	} else {
		b.WriteString("The previous edit could not be applied.\n")
	}
	if diff := req.Failed.Payload(); diff != "" {
		fmt.Fprintf(&b, "\nFailed edit:\n%s\n", diff)
	}
	if document != "" {
		fmt.Fprintf(&b, "\nCurrent note:\n%s\n", document)
	}
	b.WriteString("\nEmit one corrected <replace_in_notes> tool call and nothing else.")
	return b.String()
}

// EditPrompt renders a first-pass edit request for document.
func EditPrompt(instruction, document string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current note:\n%s\n\n", document)
	fmt.Fprintf(&b, "Request: %s\n", strings.TrimSpace(instruction))
	b.WriteString("\nExplain the change briefly, then emit the <replace_in_notes> tool call.")
	return b.String()
}
