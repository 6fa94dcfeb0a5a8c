// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lifecycle tracks proposed diffs through review and application.
//
// # Description
//
// Every diff extracted from model output becomes a DiffAction owned by a
// Manager. Its State moves through a fixed machine:
//
//	Pending ──► Accepted ──► Failed ──► (Retry creates a new action)
//	   │                                        │
//	   └──► Rejected                  Retrying ─┴─► Accepted | Failed
//
// A retry never mutates the failed action's payload. It creates a clone
// with id "{id}_retry_{n}_{unixMillis}" whose Lineage points back at the
// failed action, so the chain of attempts can be walked.
//
// # Thread Safety
//
// Manager is safe for concurrent use. Callers receive copies of actions.
package lifecycle

import "fmt"

// =============================================================================
// Status
// =============================================================================

// Status names a State variant.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
	StatusRetrying Status = "retrying"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether the status ends the normal review flow.
func (s Status) IsTerminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// =============================================================================
// State
// =============================================================================

// State is the lifecycle position of a DiffAction. The set of variants is
// closed: Pending, Accepted, Rejected, Failed and Retrying.
type State interface {
	Status() Status
	sealed()
}

// Pending awaits a review decision.
type Pending struct{}

// Accepted is approved for application.
type Accepted struct{}

// Rejected was declined by the reviewer.
type Rejected struct{}

// Failed could not be applied.
type Failed struct {
	// Reason describes the failure.
	Reason string
	// Kind is the classified failure kind, if known.
	Kind string
}

// Retrying is a regeneration in flight for the action named by ParentID.
type Retrying struct {
	ParentID string
	Count    int
	Reason   string
}

func (Pending) Status() Status  { return StatusPending }
func (Accepted) Status() Status { return StatusAccepted }
func (Rejected) Status() Status { return StatusRejected }
func (Failed) Status() Status   { return StatusFailed }
func (Retrying) Status() Status { return StatusRetrying }

func (Pending) sealed()  {}
func (Accepted) sealed() {}
func (Rejected) sealed() {}
func (Failed) sealed()   {}
func (Retrying) sealed() {}

// TransitionError reports a lifecycle operation not allowed from the
// action's current status.
type TransitionError struct {
	ID   string
	From Status
	Op   string
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s diff %s in status %s", e.Op, e.ID, e.From)
}

// Unwrap returns ErrInvalidTransition.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
