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
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChanSource_DeliversQueuedChunksBeforeEOF(t *testing.T) {
	ctx := context.Background()
	src := NewChanSource(4)
	require.True(t, src.Push(ctx, "a"))
	require.True(t, src.Push(ctx, "b"))
	src.Finish()

	for _, want := range []string{"a", "b"} {
		got, err := src.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, src.Push(ctx, "late"))
}

func TestChanSource_Abort(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	src := NewChanSource(1)
	require.True(t, src.Push(ctx, "x"))
	src.Abort(boom)
	src.Finish()

	got, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "x", got)
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, boom)
}

func TestChanSource_AbortNilIsUnexpectedEOF(t *testing.T) {
	src := NewChanSource(1)
	src.Abort(nil)
	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestChanSource_CloseUnblocksNext(t *testing.T) {
	src := NewChanSource(1)
	errCh := make(chan error, 1)
	go func() {
		_, err := src.Next(context.Background())
		errCh <- err
	}()

	require.NoError(t, src.Close())
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, io.ErrClosedPipe)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}
}

func TestChanSource_NextHonorsContext(t *testing.T) {
	src := NewChanSource(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSliceSource(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	src := &SliceSource{Chunks: []string{"one"}, Err: boom}

	got, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "one", got)

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, src.Close())
}
