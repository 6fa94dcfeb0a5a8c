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
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianNotes/services/notes_diff/storage/badger"
)

// Store persists DiffActions for one session.
//
// # Description
//
// The Manager writes every change through to its Store before committing it
// in memory, and can restore itself with LoadAll.
type Store interface {
	// Save inserts or overwrites the action with a.ID.
	Save(ctx context.Context, a DiffAction) error

	// LoadAll returns every stored action ordered by CreatedAt, then ID.
	LoadAll(ctx context.Context) ([]DiffAction, error)
}

// =============================================================================
// Memory Store
// =============================================================================

// MemoryStore is a Store kept in a map.
type MemoryStore struct {
	mu      sync.Mutex
	actions map[string]DiffAction
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{actions: make(map[string]DiffAction)}
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, a DiffAction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[a.ID] = a
	return nil
}

// LoadAll implements Store.
func (s *MemoryStore) LoadAll(ctx context.Context) ([]DiffAction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := make([]DiffAction, 0, len(s.actions))
	for _, a := range s.actions {
		out = append(out, a)
	}
	s.mu.Unlock()

	sortActions(out)
	return out, nil
}

// =============================================================================
// Badger Store
// =============================================================================

// BadgerStore is a Store backed by BadgerDB. Actions are JSON values under
// "diff/{session}/{id}".
type BadgerStore struct {
	db     *badger.DB
	prefix []byte
}

// NewBadgerStore creates a store for session on db.
func NewBadgerStore(db *badger.DB, session string) *BadgerStore {
	return &BadgerStore{db: db, prefix: []byte("diff/" + session + "/")}
}

// Save implements Store.
func (s *BadgerStore) Save(ctx context.Context, a DiffAction) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode diff action %s: %w", a.ID, err)
	}
	key := append(append([]byte(nil), s.prefix...), a.ID...)
	return s.db.Put(ctx, key, data)
}

// LoadAll implements Store.
func (s *BadgerStore) LoadAll(ctx context.Context) ([]DiffAction, error) {
	var out []DiffAction
	err := s.db.ScanPrefix(ctx, s.prefix, func(key, value []byte) error {
		var a DiffAction
		if err := json.Unmarshal(value, &a); err != nil {
			return fmt.Errorf("decode diff action %s: %w", key, err)
		}
		out = append(out, a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortActions(out)
	return out, nil
}

func sortActions(actions []DiffAction) {
	sort.SliceStable(actions, func(i, j int) bool {
		if !actions[i].CreatedAt.Equal(actions[j].CreatedAt) {
			return actions[i].CreatedAt.Before(actions[j].CreatedAt)
		}
		return actions[i].ID < actions[j].ID
	})
}
