// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"io"
	"sync"
)

// ChunkSource yields model output in pieces.
type ChunkSource interface {
	// Next returns the next chunk, or io.EOF once the output is complete.
	// Any other error aborts the stream.
	Next(ctx context.Context) (string, error)

	// Close releases the source. It unblocks a pending Next.
	Close() error
}

// =============================================================================
// Channel Source
// =============================================================================

// ChanSource is a ChunkSource fed by a producer goroutine, such as a
// websocket reader.
type ChanSource struct {
	chunks chan string
	done   chan struct{}

	mu       sync.Mutex
	finished bool
	err      error
}

// NewChanSource creates a ChanSource buffering up to size chunks.
func NewChanSource(size int) *ChanSource {
	return &ChanSource{
		chunks: make(chan string, size),
		done:   make(chan struct{}),
	}
}

// Push queues chunk. It returns false once the source has ended or the
// context is done.
func (s *ChanSource) Push(ctx context.Context, chunk string) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.chunks <- chunk:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Finish ends the stream normally. Queued chunks are still delivered.
func (s *ChanSource) Finish() {
	s.end(io.EOF)
}

// Abort ends the stream with err. Queued chunks are still delivered.
func (s *ChanSource) Abort(err error) {
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	s.end(err)
}

func (s *ChanSource) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	s.err = err
	close(s.done)
}

// Next implements ChunkSource.
func (s *ChanSource) Next(ctx context.Context) (string, error) {
	select {
	case chunk := <-s.chunks:
		return chunk, nil
	default:
	}
	select {
	case chunk := <-s.chunks:
		return chunk, nil
	case <-s.done:
		select {
		case chunk := <-s.chunks:
			return chunk, nil
		default:
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return "", s.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close implements ChunkSource. A source closed before Finish reports
// io.ErrClosedPipe.
func (s *ChanSource) Close() error {
	s.end(io.ErrClosedPipe)
	return nil
}

// =============================================================================
// Static Source
// =============================================================================

// SliceSource replays a fixed list of chunks, then returns Err or io.EOF.
type SliceSource struct {
	Chunks []string
	Err    error

	mu  sync.Mutex
	pos int
}

// Next implements ChunkSource.
func (s *SliceSource) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos < len(s.Chunks) {
		s.pos++
		return s.Chunks[s.pos-1], nil
	}
	if s.Err != nil {
		return "", s.Err
	}
	return "", io.EOF
}

// Close implements ChunkSource.
func (s *SliceSource) Close() error {
	return nil
}
