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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianNotes/services/notes_diff/lifecycle"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/observability"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/retry"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/storage/badger"
)

// ErrSessionNotFound indicates an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// RegeneratorFactory returns the Regenerator for a session, or nil when
// automatic regeneration is unavailable.
type RegeneratorFactory func(s *Session) retry.Regenerator

// Session is one document under edit with its diffs.
type Session struct {
	ID        string
	CreatedAt time.Time

	Manager *lifecycle.Manager
	Retry   *retry.Coordinator

	mu       sync.RWMutex
	document string
}

// Document returns the document the session's diffs target.
func (s *Session) Document() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.document
}

// sessionRecord is the stored form of a Session.
type sessionRecord struct {
	ID        string    `json:"id"`
	Document  string    `json:"document"`
	CreatedAt time.Time `json:"created_at"`
}

// Registry holds the live sessions.
//
// # Description
//
// With a database, session records and diff actions are persisted and a
// session unknown in memory is restored from the database on first use.
// Without one, sessions live only in memory.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	db       *badger.DB
	retryCfg retry.Config
	regen    RegeneratorFactory
	logger   *slog.Logger
	metrics  *observability.DiffMetrics

	mu       sync.Mutex
	sessions map[string]*Session
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// DB persists sessions. Nil keeps them in memory.
	DB *badger.DB

	// Retry is the policy for every session's Coordinator.
	Retry retry.Config

	// Regenerator builds each session's Regenerator. May be nil.
	Regenerator RegeneratorFactory

	Logger  *slog.Logger
	Metrics *observability.DiffMetrics
}

// NewRegistry creates an empty Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		db:       cfg.DB,
		retryCfg: cfg.Retry,
		regen:    cfg.Regenerator,
		logger:   logger,
		metrics:  cfg.Metrics,
		sessions: make(map[string]*Session),
	}
}

// Create starts a session for document.
func (r *Registry) Create(ctx context.Context, document string) (*Session, error) {
	rec := sessionRecord{
		ID:        uuid.NewString(),
		Document:  document,
		CreatedAt: time.Now().UTC(),
	}
	if r.db != nil {
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encode session: %w", err)
		}
		if err := r.db.Put(ctx, sessionKey(rec.ID), data); err != nil {
			return nil, fmt.Errorf("store session: %w", err)
		}
	}

	s := r.build(rec)
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	r.logger.Info("session created", "session_id", s.ID, "document_bytes", len(document))
	return s, nil
}

// Get returns the session with id, restoring it from the database if
// needed.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s, nil
	}
	if r.db == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	data, err := r.db.Get(ctx, sessionKey(id))
	if errors.Is(err, badger.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}

	s := r.build(rec)
	n, err := s.Manager.Load(ctx)
	if err != nil {
		return nil, err
	}
	r.sessions[id] = s
	r.logger.Info("session restored", "session_id", id, "diffs", n)
	return s, nil
}

func (r *Registry) build(rec sessionRecord) *Session {
	opts := []lifecycle.Option{
		lifecycle.WithLogger(r.logger.With("session_id", rec.ID)),
		lifecycle.WithMetrics(r.metrics),
	}
	if r.db != nil {
		opts = append(opts, lifecycle.WithStore(lifecycle.NewBadgerStore(r.db, rec.ID)))
	}

	s := &Session{
		ID:        rec.ID,
		CreatedAt: rec.CreatedAt,
		Manager:   lifecycle.NewManager(opts...),
		document:  rec.Document,
	}

	var regen retry.Regenerator
	if r.regen != nil {
		regen = r.regen(s)
	}
	s.Retry = retry.NewCoordinator(r.retryCfg, s.Manager, regen,
		retry.WithLogger(r.logger.With("session_id", rec.ID)),
		retry.WithMetrics(r.metrics),
	)
	return s
}

func sessionKey(id string) []byte {
	return []byte("session/" + id)
}
