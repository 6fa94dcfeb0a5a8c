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
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianNotes/services/notes_diff/classify"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/lifecycle"
)

const envelope = "<replace_in_notes><diff>\n<<<<<<< SEARCH\nold\n=======\nnew\n>>>>>>> REPLACE\n</diff></replace_in_notes>"

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("diff-%d", n)
	}
}

type recorder struct {
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.events = append(r.events, ev)
}

func (r *recorder) ofType(t EventType) []Event {
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newRunner(m *lifecycle.Manager, rec *recorder, opts ...Option) *Runner {
	base := []Option{WithIDGenerator(sequentialIDs()), WithEventHandler(rec.handle)}
	return NewRunner(m, append(base, opts...)...)
}

func TestRun_RegistersDetectedDiff(t *testing.T) {
	m := lifecycle.NewManager()
	rec := &recorder{}
	src := &SliceSource{Chunks: []string{
		"Editing now. ",
		"<replace_in_notes><diff>\n<<<<<<< SEARCH\nold\n",
		"=======\nnew\n>>>>>>> REPLACE\n</diff></replace_in_notes>",
		" Done.",
	}}

	res, err := newRunner(m, rec).Run(context.Background(), src)
	require.NoError(t, err)

	assert.True(t, res.Completed)
	assert.Equal(t, 4, res.Chunks)
	assert.Equal(t, "Editing now.  Done.", res.Display)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, "diff-1", res.Actions[0].ID)
	assert.Equal(t, "<<<<<<< SEARCH\nold\n=======\nnew\n>>>>>>> REPLACE", res.Actions[0].Diff)

	stored, ok := m.Get("diff-1")
	require.True(t, ok)
	assert.Equal(t, lifecycle.StatusPending, stored.Status())

	for _, ev := range rec.ofType(EventDisplay) {
		assert.NotContains(t, ev.Display, "<replace")
		assert.NotContains(t, ev.Display, "SEARCH")
	}
	displays := rec.ofType(EventDisplay)
	require.GreaterOrEqual(t, len(displays), 2)
	assert.True(t, displays[1].Generating, "generating while the envelope is open")

	detected := rec.ofType(EventDiffDetected)
	require.Len(t, detected, 1)
	assert.Equal(t, "diff-1", detected[0].Action.ID)
}

func TestRun_DuplicateEnvelopeRegisteredOnce(t *testing.T) {
	m := lifecycle.NewManager()
	rec := &recorder{}
	src := &SliceSource{Chunks: []string{envelope, " and again ", envelope}}

	res, err := newRunner(m, rec).Run(context.Background(), src)
	require.NoError(t, err)
	assert.Len(t, res.Actions, 1)
	assert.Len(t, m.List(), 1)
	assert.Equal(t, " and again ", res.Display)
}

func TestRun_InvalidEnvelopesAreClassified(t *testing.T) {
	m := lifecycle.NewManager()
	rec := &recorder{}
	src := &SliceSource{Chunks: []string{
		"<replace_in_notes><path>notes.md</path></replace_in_notes>",
		"<replace_in_notes><diff>no markers here</diff></replace_in_notes>",
	}}

	res, err := newRunner(m, rec).Run(context.Background(), src)
	require.NoError(t, err)

	assert.Empty(t, res.Actions)
	assert.Empty(t, m.List())
	require.Len(t, res.Invalid, 2)
	assert.Equal(t, classify.KindToolParameterMissing, res.Invalid[0].Kind)
	assert.Equal(t, classify.KindFormatError, res.Invalid[1].Kind)
	assert.Len(t, rec.ofType(EventDiffInvalid), 2)
}

func TestRun_SourceErrorWithholdsPartialEnvelope(t *testing.T) {
	m := lifecycle.NewManager()
	rec := &recorder{}
	reset := errors.New("connection reset")
	src := &SliceSource{
		Chunks: []string{"Hi ", "<replace_in_notes><diff>\n<<<<<<< SEARCH\nold"},
		Err:    reset,
	}

	res, err := newRunner(m, rec).Run(context.Background(), src)
	require.ErrorIs(t, err, reset)
	assert.False(t, res.Completed)
	assert.Equal(t, "Hi ", res.Display)
	assert.Empty(t, m.List())

	last := rec.events[len(rec.events)-1]
	assert.Equal(t, EventDisplay, last.Type)
	assert.Equal(t, "Hi ", last.Display)
}

func TestRun_IdleTimeout(t *testing.T) {
	m := lifecycle.NewManager()
	src := NewChanSource(4)
	require.True(t, src.Push(context.Background(), "hello"))

	res, err := newRunner(m, &recorder{}, WithIdleTimeout(20*time.Millisecond)).Run(context.Background(), src)
	require.ErrorIs(t, err, ErrStreamIdle)
	assert.Equal(t, "hello", res.Display)
	assert.Equal(t, 1, res.Chunks)
}

func TestRun_ContextCancelled(t *testing.T) {
	m := lifecycle.NewManager()
	src := NewChanSource(1)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := newRunner(m, &recorder{}, WithIdleTimeout(0)).Run(ctx, src)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_PersistFailureStopsRun(t *testing.T) {
	m := lifecycle.NewManager(lifecycle.WithStore(brokenStore{}))
	src := &SliceSource{Chunks: []string{"x ", envelope, " y"}}

	res, err := newRunner(m, &recorder{}).Run(context.Background(), src)
	require.ErrorIs(t, err, lifecycle.ErrPersist)
	assert.Empty(t, res.Actions)
	assert.Equal(t, "x ", res.Display)
}

type brokenStore struct{}

func (brokenStore) Save(context.Context, lifecycle.DiffAction) error { return errors.New("read-only") }

func (brokenStore) LoadAll(context.Context) ([]lifecycle.DiffAction, error) { return nil, nil }

// =============================================================================
// ChanSource
// =============================================================================

func TestChanSource_DeliversQueuedChunksBeforeEOFInRunnerSuite(t *testing.T) {
	src := NewChanSource(4)
	ctx := context.Background()
	require.True(t, src.Push(ctx, "a"))
	require.True(t, src.Push(ctx, "b"))
	src.Finish()

	assert.False(t, src.Push(ctx, "c"))

	var got []string
	for {
		chunk, err := src.Next(ctx)
		if err != nil {
			assert.ErrorIs(t, err, io.EOF)
			break
		}
		got = append(got, chunk)
	}
	assert.Equal(t, "ab", strings.Join(got, ""))
}

func TestChanSource_AbortInRunnerSuite(t *testing.T) {
	src := NewChanSource(1)
	boom := errors.New("client went away")
	src.Abort(boom)
	src.Finish()

	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestChanSource_CloseUnblocksNextInRunnerSuite(t *testing.T) {
	src := NewChanSource(0)
	done := make(chan error, 1)
	go func() {
		_, err := src.Next(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, src.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.ErrClosedPipe)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}
}
