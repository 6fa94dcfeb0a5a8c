// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stream detects diff tool calls in streamed model output.
//
// # Description
//
// A Detector is fed the model's output one chunk at a time. It separates the
// text meant for the user from complete <replace_in_notes> envelopes, which
// are reported once each for rendering as diff cards. An envelope that has
// opened but not yet closed is withheld from the display text, so partial
// tool syntax is never shown.
//
// # Thread Safety
//
// Detector is safe for concurrent use. One Detector serves one streaming
// session; call Reset before reusing it.
package stream

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Detector scans a growing buffer for diff envelopes.
type Detector struct {
	mu       sync.Mutex
	buffer   strings.Builder
	seen     map[uint64]struct{}
	pending  []Envelope
	detected int
	logger   *slog.Logger
}

// NewDetector creates an empty Detector. A nil logger uses slog.Default().
func NewDetector(logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		seen:   make(map[uint64]struct{}),
		logger: logger,
	}
}

// ProcessChunk appends chunk to the buffer and rescans it.
//
// # Description
//
// Every complete envelope in the buffer is hashed. Hashes not seen before by
// this Detector are queued for Detected; repeats are skipped. The returned
// text is the whole buffer so far, minus every complete envelope and minus
// any unterminated envelope (or partial open tag) at the end. Callers
// replace their displayed text with it.
//
// # Inputs
//
//   - chunk: The next piece of model output. May be empty.
//
// # Outputs
//
//   - string: Display text for the entire stream so far.
func (d *Detector) ProcessChunk(chunk string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buffer.WriteString(chunk)
	display, envelopes := scan(d.buffer.String(), true)

	for _, raw := range envelopes {
		h := xxhash.Sum64String(raw)
		if _, ok := d.seen[h]; ok {
			continue
		}
		d.seen[h] = struct{}{}
		d.detected++
		d.pending = append(d.pending, Envelope{Raw: raw, Hash: h, Seq: d.detected})
		d.logger.Debug("diff envelope detected", "seq", d.detected, "bytes", len(raw))
	}
	return display
}

// Detected drains the envelopes first seen since the previous call.
func (d *Detector) Detected() []Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := d.pending
	d.pending = nil
	return out
}

// DetectedCount returns how many distinct envelopes have been reported.
func (d *Detector) DetectedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detected
}

// IsGeneratingTool reports whether the last open tag in the buffer has no
// close tag after it.
func (d *Detector) IsGeneratingTool() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := d.buffer.String()
	last := strings.LastIndex(buf, OpenTag)
	if last < 0 {
		return false
	}
	return !strings.Contains(buf[last+len(OpenTag):], CloseTag)
}

// HandleConnectionError returns safe display text after the upstream stream
// aborts. It strips complete envelopes and withholds any unterminated one,
// exactly as ProcessChunk does. It must be called before the Detector is
// discarded on a failure path.
func (d *Detector) HandleConnectionError() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := d.buffer.String()
	display, _ := scan(buf, true)
	if last := strings.LastIndex(buf, OpenTag); last >= 0 && !strings.Contains(buf[last:], CloseTag) {
		d.logger.Warn("stream aborted during tool generation", "withheld_bytes", len(buf)-last)
	}
	return display
}

// Flush returns the final display text once the stream has completed. A
// trailing fragment that only looks like the start of an open tag is
// released, since no further chunk can complete it.
func (d *Detector) Flush() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	display, _ := scan(d.buffer.String(), false)
	return display
}

// Reset clears the buffer and the dedup set for a new session.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buffer.Reset()
	d.seen = make(map[uint64]struct{})
	d.pending = nil
	d.detected = 0
}

// scan splits buf into display text and complete envelopes. When holdPartial
// is true a trailing prefix of OpenTag is withheld as well.
func scan(buf string, holdPartial bool) (string, []string) {
	var display strings.Builder
	var envelopes []string

	pos := 0
	for {
		open := strings.Index(buf[pos:], OpenTag)
		if open < 0 {
			tail := buf[pos:]
			if holdPartial {
				tail = tail[:len(tail)-partialPrefixLen(tail, OpenTag)]
			}
			display.WriteString(tail)
			break
		}
		start := pos + open
		display.WriteString(buf[pos:start])

		closeAt := strings.Index(buf[start+len(OpenTag):], CloseTag)
		if closeAt < 0 {
			break
		}
		end := start + len(OpenTag) + closeAt + len(CloseTag)
		envelopes = append(envelopes, buf[start:end])
		pos = end
	}
	return display.String(), envelopes
}

// partialPrefixLen returns the length of the longest proper prefix of tag
// that s ends with.
func partialPrefixLen(s, tag string) int {
	for k := min(len(tag)-1, len(s)); k > 0; k-- {
		if strings.HasSuffix(s, tag[:k]) {
			return k
		}
	}
	return 0
}
