// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session consumes one streamed model response and turns the diff
// envelopes it contains into pending lifecycle actions.
//
// # Description
//
// A Runner owns a fresh stream.Detector per Run. Each chunk updates the
// display text, and each newly detected envelope is parsed. Envelopes that
// yield at least one valid block become pending DiffActions with uuid ids.
// Envelopes that do not are classified and reported, never registered.
//
// When the source fails, stalls past the idle timeout, or the context is
// cancelled, the Runner returns the detector's safe display text together
// with the transport error. Partial envelope text is never displayed.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianNotes/services/notes_diff/blocks"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/classify"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/lifecycle"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/observability"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/stream"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/telemetry"
)

var tracer = otel.Tracer("aleutian.notes_diff.session")

// ErrStreamIdle indicates the source produced nothing within the idle
// timeout.
var ErrStreamIdle = errors.New("stream idle timeout")

// DefaultIdleTimeout is used when no idle timeout is configured.
const DefaultIdleTimeout = 60 * time.Second

// =============================================================================
// Events
// =============================================================================

// EventType identifies an Event.
type EventType string

const (
	// EventDisplay carries the full display text after a chunk.
	EventDisplay EventType = "display"

	// EventDiffDetected carries a newly registered pending action.
	EventDiffDetected EventType = "diff_detected"

	// EventDiffInvalid carries the classified failure of an envelope that
	// could not be registered.
	EventDiffInvalid EventType = "diff_invalid"
)

// Event is reported to the Runner's handler as the stream progresses.
type Event struct {
	Type       EventType             `json:"type"`
	Display    string                `json:"display,omitempty"`
	Generating bool                  `json:"generating"`
	Action     *lifecycle.DiffAction `json:"action,omitempty"`
	Error      *classify.DiffError   `json:"error,omitempty"`
}

// Result summarizes a Run.
type Result struct {
	// Display is the final safe display text.
	Display string `json:"display"`

	// Actions are the pending actions registered, in detection order.
	Actions []lifecycle.DiffAction `json:"actions"`

	// Invalid are the envelopes that could not be registered.
	Invalid []*classify.DiffError `json:"invalid"`

	// Chunks is the number of chunks consumed.
	Chunks int `json:"chunks"`

	// Completed is true when the source ended with io.EOF.
	Completed bool `json:"completed"`
}

// =============================================================================
// Runner
// =============================================================================

// Option configures a Runner.
type Option func(*Runner)

// WithIdleTimeout sets the longest wait for a chunk. Zero disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Runner) { r.idleTimeout = d }
}

// WithEventHandler sets the callback for Events. It runs on the Run
// goroutine and must not block.
func WithEventHandler(fn func(Event)) Option {
	return func(r *Runner) { r.onEvent = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records stream and envelope metrics.
func WithMetrics(metrics *observability.DiffMetrics) Option {
	return func(r *Runner) { r.metrics = metrics }
}

// WithIDGenerator replaces uuid.NewString for action ids.
func WithIDGenerator(fn func() string) Option {
	return func(r *Runner) { r.newID = fn }
}

// Runner turns streamed model output into pending actions on a Manager.
//
// # Thread Safety
//
// A Runner may serve several Runs concurrently. Each Run has its own
// Detector.
type Runner struct {
	manager     *lifecycle.Manager
	idleTimeout time.Duration
	onEvent     func(Event)
	logger      *slog.Logger
	metrics     *observability.DiffMetrics
	newID       func() string
}

// NewRunner creates a Runner registering actions on manager.
func NewRunner(manager *lifecycle.Manager, opts ...Option) *Runner {
	r := &Runner{
		manager:     manager,
		idleTimeout: DefaultIdleTimeout,
		logger:      slog.Default(),
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type received struct {
	chunk string
	err   error
}

// Run consumes src until it ends, fails or stalls.
//
// # Description
//
// Run closes src before returning. On io.EOF the trailing display text is
// flushed and the error is nil. Otherwise the display text comes from
// Detector.HandleConnectionError and the error is ErrStreamIdle, the
// context error, or the source error wrapped.
//
// # Inputs
//
//   - ctx: Cancels the run.
//   - src: The chunk source. Owned by Run.
//
// # Outputs
//
//   - *Result: Never nil, even when error is non-nil.
//   - error: Transport failure, or a lifecycle error from registering an
//     action.
func (r *Runner) Run(ctx context.Context, src ChunkSource) (*Result, error) {
	ctx, span := tracer.Start(ctx, "session.Runner.Run")
	defer span.End()
	logger := telemetry.LoggerWithTrace(ctx, r.logger)

	start := time.Now()
	r.metrics.StreamStarted()
	success := false
	defer func() { r.metrics.StreamEnded(time.Since(start).Seconds(), success) }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer src.Close()

	recv := make(chan received)
	go pump(ctx, src, recv)

	det := stream.NewDetector(logger)
	res := &Result{
		Actions: []lifecycle.DiffAction{},
		Invalid: []*classify.DiffError{},
	}

	for {
		var idle <-chan time.Time
		var timer *time.Timer
		if r.idleTimeout > 0 {
			timer = time.NewTimer(r.idleTimeout)
			idle = timer.C
		}

		var rc received
		select {
		case <-ctx.Done():
			stopTimer(timer)
			return r.abort(det, res, span, logger, ctx.Err())
		case <-idle:
			return r.abort(det, res, span, logger, ErrStreamIdle)
		case rc = <-recv:
			stopTimer(timer)
		}

		if errors.Is(rc.err, io.EOF) {
			res.Display = det.Flush()
			res.Completed = true
			r.emit(Event{Type: EventDisplay, Display: res.Display})
			success = true
			span.SetAttributes(
				attribute.Int("stream.chunks", res.Chunks),
				attribute.Int("stream.diffs", len(res.Actions)),
				attribute.Int("stream.invalid", len(res.Invalid)),
			)
			logger.Info("stream completed",
				"chunks", res.Chunks, "diffs", len(res.Actions), "invalid", len(res.Invalid))
			return res, nil
		}
		if rc.err != nil {
			return r.abort(det, res, span, logger, fmt.Errorf("stream source: %w", rc.err))
		}

		res.Chunks++
		res.Display = det.ProcessChunk(rc.chunk)
		r.emit(Event{Type: EventDisplay, Display: res.Display, Generating: det.IsGeneratingTool()})

		for _, env := range det.Detected() {
			if err := r.register(ctx, env, res, logger); err != nil {
				return r.abort(det, res, span, logger, err)
			}
		}
	}
}

// register parses env and adds it to the manager, or reports it invalid.
func (r *Runner) register(ctx context.Context, env stream.Envelope, res *Result, logger *slog.Logger) error {
	r.metrics.RecordEnvelope()

	payload, err := env.Diff()
	if err != nil {
		r.invalid(res, classify.Classify(err, classify.Context{ActualContent: env.Raw}), env, logger)
		return nil
	}

	parsed := blocks.Parse(payload)
	r.metrics.RecordParse(parsed)
	if err := parsed.Err(); err != nil {
		r.invalid(res, classify.Classify(err, classify.Context{ActualContent: payload}), env, logger)
		return nil
	}

	action := lifecycle.DiffAction{
		ID:   r.newID(),
		Type: lifecycle.TypeSearchReplace,
		Diff: payload,
	}
	if _, err := r.manager.Add(ctx, action); err != nil {
		return fmt.Errorf("register diff: %w", err)
	}
	stored, _ := r.manager.Get(action.ID)
	res.Actions = append(res.Actions, stored)
	r.emit(Event{Type: EventDiffDetected, Action: &stored})

	logger.Info("diff detected",
		"diff_id", stored.ID, "seq", env.Seq, "blocks", len(parsed.Blocks), "warnings", len(parsed.Warnings))
	return nil
}

func (r *Runner) invalid(res *Result, derr *classify.DiffError, env stream.Envelope, logger *slog.Logger) {
	r.metrics.RecordFailure(string(derr.Kind))
	res.Invalid = append(res.Invalid, derr)
	r.emit(Event{Type: EventDiffInvalid, Error: derr})
	logger.Warn("invalid diff envelope", "seq", env.Seq, "kind", derr.Kind)
}

func (r *Runner) abort(det *stream.Detector, res *Result, span trace.Span, logger *slog.Logger, err error) (*Result, error) {
	res.Display = det.HandleConnectionError()
	r.emit(Event{Type: EventDisplay, Display: res.Display})

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.Warn("stream aborted", "error", err, "chunks", res.Chunks, "diffs", len(res.Actions))
	return res, err
}

func (r *Runner) emit(ev Event) {
	if r.onEvent != nil {
		r.onEvent(ev)
	}
}

// pump forwards chunks from src until it errors or ctx is done.
func pump(ctx context.Context, src ChunkSource, out chan<- received) {
	for {
		chunk, err := src.Next(ctx)
		select {
		case out <- received{chunk: chunk, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
