// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes the notes diff engine over HTTP and WebSocket.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianNotes/services/notes_diff/lifecycle"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/observability"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/retry"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/session"
)

// Handlers serves the /v1/notes API.
type Handlers struct {
	registry    *Registry
	logger      *slog.Logger
	metrics     *observability.DiffMetrics
	idleTimeout time.Duration
}

// Config configures Handlers.
type Config struct {
	Registry *Registry

	// IdleTimeout bounds the wait for the next websocket chunk.
	IdleTimeout time.Duration

	Logger  *slog.Logger
	Metrics *observability.DiffMetrics
}

// New creates Handlers. Registry is required.
func New(cfg Config) *Handlers {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		registry:    cfg.Registry,
		logger:      logger,
		metrics:     cfg.Metrics,
		idleTimeout: cfg.IdleTimeout,
	}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// abortWithError maps err to a status code and writes it.
func (h *Handlers) abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, lifecycle.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrAlreadyRetried):
		status = http.StatusConflict
	case errors.Is(err, lifecycle.ErrInvalidAction):
		status = http.StatusBadRequest
	case errors.Is(err, retry.ErrNoRegenerator):
		status = http.StatusServiceUnavailable
	case errors.Is(err, retry.ErrRegenerate):
		status = http.StatusBadGateway
	case errors.Is(err, session.ErrStreamIdle):
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}

// session resolves the :id path parameter.
func (h *Handlers) session(c *gin.Context) (*Session, bool) {
	s, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.abortWithError(c, err)
		return nil, false
	}
	return s, true
}
