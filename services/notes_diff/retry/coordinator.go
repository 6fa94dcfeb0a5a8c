// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retry decides when a failed diff is regenerated automatically and
// drives the regeneration.
//
// # Description
//
// A failure is eligible for an automatic retry when auto-retry is enabled,
// the classified error is retryable (search_not_found or content_mismatch
// below error severity) and the diff still has budget. The budget is kept
// per retry chain: a retry clone spends from the budget of the diff it
// descends from. Once the budget is spent the chain is flagged for manual
// intervention and stays flagged until Reset.
//
// # Thread Safety
//
// Coordinator is safe for concurrent use. Concurrent ExecuteRetry calls
// for the same id share one regeneration.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianNotes/services/notes_diff/classify"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/lifecycle"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/observability"
)

// =============================================================================
// Configuration
// =============================================================================

// Config controls automatic retries.
type Config struct {
	// Enabled turns automatic retries on.
	Enabled bool `yaml:"auto_retry" json:"auto_retry"`

	// MaxRetries is the automatic retry budget per diff chain.
	MaxRetries int `yaml:"max_retries" json:"max_retries" validate:"gte=0,lte=10"`

	// Delay is waited before every regeneration request.
	Delay time.Duration `yaml:"delay" json:"delay" validate:"gte=0"`

	// RequestsPerSecond caps regeneration requests across all diffs.
	// Zero means unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" validate:"gte=0"`
}

// DefaultConfig returns auto-retry enabled with two retries and a one
// second delay.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		MaxRetries: 2,
		Delay:      time.Second,
	}
}

// =============================================================================
// Regeneration
// =============================================================================

// Request is what a Regenerator receives.
type Request struct {
	// DiffID is the id of the retry clone being filled.
	DiffID string

	// Failed is the action whose payload did not apply.
	Failed lifecycle.DiffAction

	// Error is the classified failure.
	Error *classify.DiffError

	// Attempt is the clone's retry count, starting at 1.
	Attempt int

	// Prompt is the failure rendered for the model.
	Prompt string
}

// Regenerator produces a replacement payload for a failed diff.
type Regenerator interface {
	Regenerate(ctx context.Context, req Request) (string, error)
}

// RegeneratorFunc adapts a function to Regenerator.
type RegeneratorFunc func(ctx context.Context, req Request) (string, error)

// Regenerate implements Regenerator.
func (f RegeneratorFunc) Regenerate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// =============================================================================
// Coordinator
// =============================================================================

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records retry decisions.
func WithMetrics(metrics *observability.DiffMetrics) Option {
	return func(c *Coordinator) { c.metrics = metrics }
}

// Coordinator applies the retry policy to one Manager's diffs.
type Coordinator struct {
	cfg     Config
	manager *lifecycle.Manager
	regen   Regenerator
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *observability.DiffMetrics

	inflight singleflight.Group

	mu        sync.Mutex
	counts    map[string]int
	exhausted map[string]bool
}

// NewCoordinator creates a Coordinator.
//
// # Inputs
//
//   - cfg: Retry policy. Negative MaxRetries is treated as zero.
//   - manager: Owner of the diffs being retried. Required by ExecuteRetry.
//   - regen: Source of replacement payloads. Required by ExecuteRetry.
func NewCoordinator(cfg Config, manager *lifecycle.Manager, regen Regenerator, opts ...Option) *Coordinator {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	c := &Coordinator{
		cfg:       cfg,
		manager:   manager,
		regen:     regen,
		logger:    slog.Default(),
		counts:    make(map[string]int),
		exhausted: make(map[string]bool),
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the policy in effect.
func (c *Coordinator) Config() Config {
	return c.cfg
}

// ShouldAutoRetry reports whether id may be retried automatically for
// derr, and spends one unit of budget when it may.
//
// # Description
//
// Returns false when auto-retry is disabled, derr is not retryable, or the
// chain's budget is spent. The call that finds the budget spent marks the
// chain as requiring manual intervention, after which every call returns
// false regardless of the error.
//
// # Outputs
//
//   - bool: True if the caller should go on to ExecuteRetry.
func (c *Coordinator) ShouldAutoRetry(id string, derr *classify.DiffError) bool {
	if !c.cfg.Enabled {
		c.metrics.RecordRetry(observability.RetryDeclined)
		return false
	}

	key := c.budgetKey(id)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.exhausted[key] {
		c.metrics.RecordRetry(observability.RetryExhausted)
		return false
	}
	if !derr.Retryable() {
		c.metrics.RecordRetry(observability.RetryDeclined)
		return false
	}
	if c.counts[key] >= c.cfg.MaxRetries {
		c.exhausted[key] = true
		c.metrics.RecordRetry(observability.RetryExhausted)
		c.logger.Warn("retry budget exhausted", "diff_id", id, "chain", key, "max_retries", c.cfg.MaxRetries)
		return false
	}
	c.counts[key]++
	c.metrics.RecordRetry(observability.RetryScheduled)
	return true
}

// RequiresManualIntervention reports whether id's chain has spent its
// automatic retry budget.
func (c *Coordinator) RequiresManualIntervention(id string) bool {
	key := c.budgetKey(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted[key]
}

// Attempts returns the automatic retries spent by id's chain.
func (c *Coordinator) Attempts(id string) int {
	key := c.budgetKey(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

// Reset clears the budget and manual flag of id's chain.
func (c *Coordinator) Reset(id string) {
	key := c.budgetKey(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, key)
	delete(c.exhausted, key)
}

// AutoRetry retries id if the policy allows it.
//
// # Outputs
//
//   - lifecycle.DiffAction: The retry clone, accepted or failed.
//   - error: ErrManualInterventionRequired when the policy declines, with
//     derr flagged RequiresManualIntervention if the budget is spent.
//     Otherwise as ExecuteRetry.
func (c *Coordinator) AutoRetry(ctx context.Context, id string, derr *classify.DiffError) (lifecycle.DiffAction, error) {
	if !c.ShouldAutoRetry(id, derr) {
		if derr != nil && c.RequiresManualIntervention(id) {
			derr.RequiresManualIntervention = true
		}
		return lifecycle.DiffAction{}, fmt.Errorf("%w: %s", ErrManualInterventionRequired, id)
	}
	return c.ExecuteRetry(ctx, id, derr)
}

// ExecuteRetry regenerates a failed diff without consulting the budget.
//
// # Description
//
// Waits Config.Delay and the rate limiter, creates the retry clone through
// the Manager, asks the Regenerator for a new payload, then completes or
// fails the clone. Concurrent calls for one id share a single attempt.
//
// # Inputs
//
//   - ctx: Cancels the delay, the limiter wait and the regeneration.
//   - id: A Failed diff.
//   - derr: The classified failure. May be nil.
//
// # Outputs
//
//   - lifecycle.DiffAction: The retry clone in its final state.
//   - error: Context errors, lifecycle errors from Retry, or ErrRegenerate.
//     When regeneration fails the clone is returned in Failed state.
func (c *Coordinator) ExecuteRetry(ctx context.Context, id string, derr *classify.DiffError) (lifecycle.DiffAction, error) {
	if c.manager == nil || c.regen == nil {
		return lifecycle.DiffAction{}, ErrNoRegenerator
	}

	v, err, shared := c.inflight.Do(id, func() (interface{}, error) {
		return c.execute(ctx, id, derr)
	})
	if shared {
		c.logger.Debug("retry coalesced", "diff_id", id)
	}
	clone, _ := v.(lifecycle.DiffAction)
	return clone, err
}

func (c *Coordinator) execute(ctx context.Context, id string, derr *classify.DiffError) (lifecycle.DiffAction, error) {
	ctx, span := tracer.Start(ctx, "retry.Coordinator.ExecuteRetry")
	defer span.End()
	span.SetAttributes(attribute.String("diff.id", id))

	start := time.Now()

	if err := c.wait(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "wait cancelled")
		return lifecycle.DiffAction{}, err
	}

	failed, ok := c.manager.Get(id)
	if !ok {
		return lifecycle.DiffAction{}, fmt.Errorf("%w: %s", lifecycle.ErrNotFound, id)
	}

	reason := "regeneration requested"
	if derr != nil {
		reason = derr.Message
	}
	clone, err := c.manager.Retry(ctx, id, reason)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retry rejected")
		return lifecycle.DiffAction{}, err
	}
	span.SetAttributes(
		attribute.String("retry.id", clone.ID),
		attribute.Int("retry.count", clone.Lineage.RetryCount),
	)

	req := Request{
		DiffID:  clone.ID,
		Failed:  failed,
		Error:   derr,
		Attempt: clone.Lineage.RetryCount,
	}
	if derr != nil {
		req.Prompt = derr.Prompt()
	}

	payload, regenErr := c.regen.Regenerate(ctx, req)
	if regenErr == nil && payload == "" {
		regenErr = errors.New("empty payload")
	}
	if regenErr != nil {
		if err := c.manager.FailRetry(ctx, clone.ID, regenErr); err != nil {
			c.logger.Error("failed to record retry failure", "retry_id", clone.ID, "error", err)
		}
		c.metrics.RecordRetry(observability.RetryFailed)
		recordAttempt(ctx, "failed", time.Since(start).Seconds())
		span.RecordError(regenErr)
		span.SetStatus(codes.Error, "regeneration failed")
		c.logger.Warn("regeneration failed", "diff_id", id, "retry_id", clone.ID, "error", regenErr)

		out, _ := c.manager.Get(clone.ID)
		return out, fmt.Errorf("%w %s: %v", ErrRegenerate, id, regenErr)
	}

	if err := c.manager.CompleteRetry(ctx, clone.ID, payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "complete retry")
		return clone, err
	}
	c.metrics.RecordRetry(observability.RetrySucceeded)
	recordAttempt(ctx, "succeeded", time.Since(start).Seconds())
	c.logger.Info("diff regenerated", "diff_id", id, "retry_id", clone.ID, "attempt", clone.Lineage.RetryCount)

	out, _ := c.manager.Get(clone.ID)
	return out, nil
}

// wait blocks for the configured delay and a limiter token.
func (c *Coordinator) wait(ctx context.Context) error {
	if c.cfg.Delay > 0 {
		timer := time.NewTimer(c.cfg.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	return nil
}

// budgetKey returns the root id of id's retry chain.
func (c *Coordinator) budgetKey(id string) string {
	if c.manager == nil {
		return id
	}
	chain, err := c.manager.Lineage(id)
	if err != nil || len(chain) == 0 {
		return id
	}
	return chain[0].ID
}
