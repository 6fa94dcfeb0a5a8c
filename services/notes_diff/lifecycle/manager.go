// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianNotes/services/notes_diff/blocks"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/classify"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/observability"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/patch"
)

var tracer = otel.Tracer("aleutian.notes_diff.lifecycle")

// Option configures a Manager.
type Option func(*Manager)

// WithStore makes the Manager write every change through to store.
func WithStore(store Store) Option {
	return func(m *Manager) { m.store = store }
}

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records transitions and apply outcomes.
func WithMetrics(metrics *observability.DiffMetrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithClock replaces time.Now, which stamps actions and retry ids.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns the DiffActions of one editing session.
//
// # Description
//
// Actions are kept in an id-keyed map plus their insertion order, which is
// the order ApplyAccepted applies them in. Every mutation is validated
// against the state machine, persisted to the Store (if any) and only then
// committed in memory, so a failed write leaves the Manager unchanged.
//
// # Thread Safety
//
// Safe for concurrent use. All returned actions are copies.
type Manager struct {
	mu      sync.RWMutex
	actions map[string]*DiffAction
	order   []string

	store   Store
	logger  *slog.Logger
	metrics *observability.DiffMetrics
	now     func() time.Time
}

// NewManager creates an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		actions: make(map[string]*DiffAction),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load replaces the in-memory collection with the Store's contents.
//
// # Outputs
//
//   - int: Number of actions restored. Zero without a Store.
//   - error: Non-nil if the Store fails.
func (m *Manager) Load(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	stored, err := m.store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load diff actions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = make(map[string]*DiffAction, len(stored))
	m.order = m.order[:0]
	for i := range stored {
		a := stored[i]
		m.actions[a.ID] = &a
		m.order = append(m.order, a.ID)
	}
	return len(stored), nil
}

// =============================================================================
// Collection
// =============================================================================

// Add registers an action.
//
// # Description
//
// A nil State becomes Pending. Re-adding an id whose payload is identical
// is a no-op. Re-adding with a different payload overwrites the stored
// action in place, keeping its position and CreatedAt.
//
// # Outputs
//
//   - bool: True if the collection changed.
//   - error: ErrInvalidAction, or ErrPersist when the Store fails.
func (m *Manager) Add(ctx context.Context, a DiffAction) (bool, error) {
	if err := a.validate(); err != nil {
		return false, err
	}
	if a.State == nil {
		a.State = Pending{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	existing, ok := m.actions[a.ID]
	if ok && existing.samePayload(a) {
		return false, nil
	}
	if ok {
		a.CreatedAt = existing.CreatedAt
	} else if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	if err := m.commit(ctx, &a, !ok); err != nil {
		return false, err
	}
	if ok {
		m.logger.Info("diff action overwritten", "diff_id", a.ID)
	} else {
		m.logger.Debug("diff action added", "diff_id", a.ID, "type", a.Type)
	}
	return true, nil
}

// Get returns a copy of the action with id.
func (m *Manager) Get(id string) (DiffAction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.actions[id]
	if !ok {
		return DiffAction{}, false
	}
	return *a, true
}

// List returns copies of all actions in insertion order.
func (m *Manager) List() []DiffAction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]DiffAction, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.actions[id])
	}
	return out
}

// ListByStatus returns copies of the actions in status, in insertion order.
func (m *Manager) ListByStatus(status Status) []DiffAction {
	var out []DiffAction
	for _, a := range m.List() {
		if a.Status() == status {
			out = append(out, a)
		}
	}
	return out
}

// Lineage returns the retry chain ending at id, oldest first.
func (m *Manager) Lineage(id string) ([]DiffAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var chain []DiffAction
	visited := make(map[string]bool)
	for cur := id; cur != ""; {
		a, ok := m.actions[cur]
		if !ok {
			if cur == id {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			break
		}
		if visited[cur] {
			break
		}
		visited[cur] = true
		chain = append([]DiffAction{*a}, chain...)
		cur = a.Lineage.ParentID
	}
	return chain, nil
}

// =============================================================================
// Review Transitions
// =============================================================================

// Accept moves a pending action to Accepted.
func (m *Manager) Accept(ctx context.Context, id string) error {
	return m.transition(ctx, id, "accept", func(a *DiffAction) error {
		if a.Status() != StatusPending {
			return &TransitionError{ID: id, From: a.Status(), Op: "accept"}
		}
		a.State = Accepted{}
		return nil
	})
}

// Reject moves a pending action to Rejected.
func (m *Manager) Reject(ctx context.Context, id string) error {
	return m.transition(ctx, id, "reject", func(a *DiffAction) error {
		if a.Status() != StatusPending {
			return &TransitionError{ID: id, From: a.Status(), Op: "reject"}
		}
		a.State = Rejected{}
		return nil
	})
}

// AcceptAll accepts every pending action. Others are untouched.
//
// # Outputs
//
//   - int: Number of actions accepted.
//   - error: ErrPersist if the Store fails; earlier actions stay accepted.
func (m *Manager) AcceptAll(ctx context.Context) (int, error) {
	return m.bulk(ctx, Accepted{})
}

// RejectAll rejects every pending action. Others are untouched.
func (m *Manager) RejectAll(ctx context.Context) (int, error) {
	return m.bulk(ctx, Rejected{})
}

func (m *Manager) bulk(ctx context.Context, target State) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, id := range m.order {
		cur := m.actions[id]
		if cur.Status() != StatusPending {
			continue
		}
		next := *cur
		next.State = target
		next.UpdatedAt = m.now()
		if err := m.commit(ctx, &next, false); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		m.logger.Info("bulk review", "status", target.Status(), "count", n)
	}
	return n, nil
}

// MarkFailed moves an accepted or retrying action to Failed.
func (m *Manager) MarkFailed(ctx context.Context, id string, reason string, kind classify.Kind) error {
	return m.transition(ctx, id, "fail", func(a *DiffAction) error {
		if s := a.Status(); s != StatusAccepted && s != StatusRetrying {
			return &TransitionError{ID: id, From: s, Op: "fail"}
		}
		a.State = Failed{Reason: reason, Kind: string(kind)}
		return nil
	})
}

// =============================================================================
// Retry Transitions
// =============================================================================

// Retry creates a retry clone of a failed action.
//
// # Description
//
// The clone gets id "{id}_retry_{n}_{unixMillis}", where n is one more than
// the failed action's RetryCount, and state Retrying. The failed action
// records the clone in SupersededBy and can be retried only once.
//
// # Inputs
//
//   - id: A Failed action.
//   - reason: Human-readable reason kept in the clone's Lineage.
//
// # Outputs
//
//   - DiffAction: The new Retrying clone.
//   - error: ErrNotFound, ErrInvalidTransition, ErrAlreadyRetried or ErrPersist.
func (m *Manager) Retry(ctx context.Context, id, reason string) (DiffAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, ok := m.actions[id]
	if !ok {
		return DiffAction{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if parent.Status() != StatusFailed {
		return DiffAction{}, &TransitionError{ID: id, From: parent.Status(), Op: "retry"}
	}
	if parent.SupersededBy != "" {
		return DiffAction{}, fmt.Errorf("%w: %s by %s", ErrAlreadyRetried, id, parent.SupersededBy)
	}

	now := m.now()
	count := parent.Lineage.RetryCount + 1
	clone := DiffAction{
		ID:      fmt.Sprintf("%s_retry_%d_%d", id, count, now.UnixMilli()),
		Type:    parent.Type,
		Diff:    parent.Diff,
		Content: parent.Content,
		State:   Retrying{ParentID: id, Count: count, Reason: reason},
		Lineage: Lineage{ParentID: id, RetryCount: count, RetryReason: reason},

		CreatedAt: now,
		UpdatedAt: now,
	}

	updated := *parent
	updated.SupersededBy = clone.ID
	updated.UpdatedAt = now

	if err := m.persist(ctx, &clone); err != nil {
		return DiffAction{}, err
	}
	if err := m.persist(ctx, &updated); err != nil {
		return DiffAction{}, err
	}
	m.actions[clone.ID] = &clone
	m.order = append(m.order, clone.ID)
	m.actions[id] = &updated
	m.metrics.RecordTransition(string(StatusRetrying))

	m.logger.Info("diff retry created", "diff_id", id, "retry_id", clone.ID, "retry_count", count)
	return clone, nil
}

// CompleteRetry stores the regenerated payload on a retrying action and
// moves it to Accepted. Its id and lineage are kept.
func (m *Manager) CompleteRetry(ctx context.Context, id, payload string) error {
	return m.transition(ctx, id, "complete retry", func(a *DiffAction) error {
		if a.Status() != StatusRetrying {
			return &TransitionError{ID: id, From: a.Status(), Op: "complete retry"}
		}
		if a.Type == TypeFullContent {
			a.Content = payload
		} else {
			a.Diff = payload
		}
		a.State = Accepted{}
		return nil
	})
}

// FailRetry moves a retrying action to Failed.
func (m *Manager) FailRetry(ctx context.Context, id string, cause error) error {
	reason := "regeneration failed"
	if cause != nil {
		reason = cause.Error()
	}
	return m.transition(ctx, id, "fail retry", func(a *DiffAction) error {
		if a.Status() != StatusRetrying {
			return &TransitionError{ID: id, From: a.Status(), Op: "fail retry"}
		}
		a.State = Failed{Reason: reason}
		return nil
	})
}

// =============================================================================
// Application
// =============================================================================

// ApplyFailure describes an accepted action that did not apply.
type ApplyFailure struct {
	ID     string                `json:"id"`
	Errors []*classify.DiffError `json:"errors"`
}

// ApplyReport is the outcome of ApplyAccepted.
type ApplyReport struct {
	// Content is the document after every successful action.
	Content string `json:"content"`

	// Applied lists the ids applied, in order.
	Applied []string `json:"applied"`

	// Failed lists the actions that moved to Failed.
	Failed []ApplyFailure `json:"failed"`

	// Results holds the applier output per search_replace action.
	Results map[string]*patch.ApplyResult `json:"results"`
}

// ApplyAccepted applies every accepted action to original.
//
// # Description
//
// Accepted actions are visited once each, in insertion order. A
// search_replace action is parsed and applied to the content produced by
// the actions before it. A full_content action replaces the content. An
// action that fails to parse, or whose blocks do not all apply, moves to
// Failed and none of its edits are kept.
//
// # Inputs
//
//   - ctx: Context for tracing and Store writes.
//   - original: The document before any accepted action.
//
// # Outputs
//
//   - *ApplyReport: Never nil.
//   - error: ErrPersist if a Failed transition could not be stored.
func (m *Manager) ApplyAccepted(ctx context.Context, original string) (*ApplyReport, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.Manager.ApplyAccepted")
	defer span.End()

	report := &ApplyReport{
		Content: original,
		Applied: []string{},
		Failed:  []ApplyFailure{},
		Results: make(map[string]*patch.ApplyResult),
	}

	seen := make(map[string]struct{})
	var firstErr error
	for _, a := range m.ListByStatus(StatusAccepted) {
		if _, dup := seen[a.ID]; dup {
			continue
		}
		seen[a.ID] = struct{}{}

		if a.Type == TypeFullContent {
			report.Content = a.Content
			report.Applied = append(report.Applied, a.ID)
			continue
		}

		next, errs := m.applyOne(report, a)
		if len(errs) == 0 {
			report.Content = next
			report.Applied = append(report.Applied, a.ID)
			continue
		}

		report.Failed = append(report.Failed, ApplyFailure{ID: a.ID, Errors: errs})
		for _, de := range errs {
			m.metrics.RecordFailure(string(de.Kind))
		}
		if err := m.MarkFailed(ctx, a.ID, errs[0].Error(), errs[0].Kind); err != nil && firstErr == nil {
			firstErr = err
		}
		m.logger.Warn("accepted diff failed to apply",
			"diff_id", a.ID, "kind", errs[0].Kind, "errors", len(errs))
	}

	span.SetAttributes(
		attribute.Int("diffs.applied", len(report.Applied)),
		attribute.Int("diffs.failed", len(report.Failed)),
	)
	if firstErr != nil {
		span.SetStatus(codes.Error, firstErr.Error())
	}
	return report, firstErr
}

// applyOne parses and applies one search_replace action to report.Content.
func (m *Manager) applyOne(report *ApplyReport, a DiffAction) (string, []*classify.DiffError) {
	parsed := blocks.Parse(a.Diff)
	m.metrics.RecordParse(parsed)
	if err := parsed.Err(); err != nil {
		return "", []*classify.DiffError{
			classify.Classify(err, classify.Context{ActualContent: a.Diff}),
		}
	}

	result := patch.Apply(report.Content, parsed.Blocks)
	report.Results[a.ID] = result
	m.metrics.RecordApply(result)
	if !result.Success {
		return "", classify.ClassifyApply(result, report.Content)
	}
	return result.Content, nil
}

// =============================================================================
// Internal
// =============================================================================

// transition applies fn to a copy of the action and commits it.
func (m *Manager) transition(ctx context.Context, id, op string, fn func(a *DiffAction) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.actions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := *cur
	if err := fn(&next); err != nil {
		return err
	}
	next.UpdatedAt = m.now()
	if err := m.commit(ctx, &next, false); err != nil {
		return err
	}
	m.logger.Debug("diff transition", "diff_id", id, "op", op, "status", next.Status())
	return nil
}

// commit persists a and stores it. Callers hold m.mu.
func (m *Manager) commit(ctx context.Context, a *DiffAction, isNew bool) error {
	if err := m.persist(ctx, a); err != nil {
		return err
	}
	m.actions[a.ID] = a
	if isNew {
		m.order = append(m.order, a.ID)
	}
	m.metrics.RecordTransition(string(a.Status()))
	return nil
}

func (m *Manager) persist(ctx context.Context, a *DiffAction) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Save(ctx, *a); err != nil {
		return fmt.Errorf("%w %s: %v", ErrPersist, a.ID, err)
	}
	return nil
}
