// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianNotes/services/notes_diff/classify"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/lifecycle"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/retry"
)

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	Document string `json:"document"`
}

// SessionResponse describes a session.
type SessionResponse struct {
	ID       string                 `json:"id"`
	Document string                 `json:"document"`
	Diffs    []lifecycle.DiffAction `json:"diffs"`
}

// RetryRequest is the body of POST .../diffs/:diffId/retry.
type RetryRequest struct {
	// Reason is kept in the retry clone's lineage.
	Reason string `json:"reason"`

	// Diff, when set, is used as the corrected payload instead of asking
	// the model.
	Diff string `json:"diff"`
}

// ApplySessionRequest is the body of POST /sessions/:id/apply.
type ApplySessionRequest struct {
	// AutoRetry regenerates retryable failures within the retry budget and
	// applies the regenerated diffs.
	AutoRetry bool `json:"auto_retry"`
}

// ApplySessionResponse is the body returned by POST /sessions/:id/apply.
type ApplySessionResponse struct {
	*lifecycle.ApplyReport

	// Retried lists the retry clones created by auto-retry.
	Retried []lifecycle.DiffAction `json:"retried"`
}

// CreateSession starts an editing session for a document.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	s, err := h.registry.Create(c.Request.Context(), req.Document)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, SessionResponse{ID: s.ID, Document: s.Document(), Diffs: []lifecycle.DiffAction{}})
}

// ListDiffs returns the session and its diffs in insertion order. The
// optional status query parameter filters by status.
func (h *Handlers) ListDiffs(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	diffs := s.Manager.List()
	if status := c.Query("status"); status != "" {
		diffs = s.Manager.ListByStatus(lifecycle.Status(status))
	}
	if diffs == nil {
		diffs = []lifecycle.DiffAction{}
	}
	c.JSON(http.StatusOK, SessionResponse{ID: s.ID, Document: s.Document(), Diffs: diffs})
}

// AcceptDiff accepts one pending diff.
func (h *Handlers) AcceptDiff(c *gin.Context) {
	h.review(c, (*lifecycle.Manager).Accept)
}

// RejectDiff rejects one pending diff.
func (h *Handlers) RejectDiff(c *gin.Context) {
	h.review(c, (*lifecycle.Manager).Reject)
}

func (h *Handlers) review(c *gin.Context, op func(*lifecycle.Manager, context.Context, string) error) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	id := c.Param("diffId")
	if err := op(s.Manager, c.Request.Context(), id); err != nil {
		h.abortWithError(c, err)
		return
	}
	a, _ := s.Manager.Get(id)
	c.JSON(http.StatusOK, a)
}

// AcceptAll accepts every pending diff.
func (h *Handlers) AcceptAll(c *gin.Context) {
	h.bulk(c, (*lifecycle.Manager).AcceptAll)
}

// RejectAll rejects every pending diff.
func (h *Handlers) RejectAll(c *gin.Context) {
	h.bulk(c, (*lifecycle.Manager).RejectAll)
}

func (h *Handlers) bulk(c *gin.Context, op func(*lifecycle.Manager, context.Context) (int, error)) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	n, err := op(s.Manager, c.Request.Context())
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// RetryDiff retries a failed diff.
//
// # Description
//
// With a diff in the body the retry clone is completed with it directly.
// Otherwise the session's Regenerator is asked for a new payload, ignoring
// the automatic retry budget. A manual retry resets that budget.
func (h *Handlers) RetryDiff(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req RetryRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
	}

	ctx := c.Request.Context()
	id := c.Param("diffId")

	if req.Diff != "" {
		reason := req.Reason
		if reason == "" {
			reason = "corrected by user"
		}
		clone, err := s.Manager.Retry(ctx, id, reason)
		if err != nil {
			h.abortWithError(c, err)
			return
		}
		if err := s.Manager.CompleteRetry(ctx, clone.ID, req.Diff); err != nil {
			h.abortWithError(c, err)
			return
		}
		s.Retry.Reset(id)
		out, _ := s.Manager.Get(clone.ID)
		c.JSON(http.StatusOK, out)
		return
	}

	a, found := s.Manager.Get(id)
	if !found {
		h.abortWithError(c, lifecycle.ErrNotFound)
		return
	}
	clone, err := s.Retry.ExecuteRetry(ctx, id, failureOf(a, req.Reason))
	if err != nil && !errors.Is(err, retry.ErrRegenerate) {
		h.abortWithError(c, err)
		return
	}
	s.Retry.Reset(id)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "diff": clone})
		return
	}
	c.JSON(http.StatusOK, clone)
}

// ApplySession applies every accepted diff to the session document.
//
// # Description
//
// The session document is not modified; the patched content is returned.
// With auto_retry, each retryable failure is regenerated when the retry
// policy allows it, and the accepted set is applied once more.
func (h *Handlers) ApplySession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req ApplySessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
	}

	ctx := c.Request.Context()
	report, err := s.Manager.ApplyAccepted(ctx, s.Document())
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	resp := ApplySessionResponse{ApplyReport: report, Retried: []lifecycle.DiffAction{}}
	if req.AutoRetry && len(report.Failed) > 0 {
		for _, f := range report.Failed {
			if len(f.Errors) == 0 {
				continue
			}
			clone, err := s.Retry.AutoRetry(ctx, f.ID, f.Errors[0])
			if err != nil {
				h.logger.Info("auto retry not completed", "diff_id", f.ID, "error", err)
				if clone.ID != "" {
					resp.Retried = append(resp.Retried, clone)
				}
				continue
			}
			resp.Retried = append(resp.Retried, clone)
		}
		if len(resp.Retried) > 0 {
			again, err := s.Manager.ApplyAccepted(ctx, s.Document())
			if err != nil {
				h.abortWithError(c, err)
				return
			}
			again.Failed = append(report.Failed, again.Failed...)
			resp.ApplyReport = again
		}
	}
	c.JSON(http.StatusOK, resp)
}

// failureOf rebuilds the classified failure recorded on a Failed action.
func failureOf(a lifecycle.DiffAction, reason string) *classify.DiffError {
	f, ok := a.State.(lifecycle.Failed)
	if !ok {
		return nil
	}
	cause := f.Reason
	if reason != "" {
		cause = reason
	}
	kind := classify.Kind(f.Kind)
	if kind == "" {
		kind = classify.KindSearchNotFound
	}
	derr := classify.New(kind, errors.New(cause), classify.Details{})
	if reason != "" {
		derr.Message = reason
	}
	return derr
}
