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
	"encoding/json"
	"fmt"
	"time"
)

// ActionType is the kind of payload a DiffAction carries.
type ActionType string

const (
	// TypeSearchReplace carries SEARCH/REPLACE blocks in Diff.
	TypeSearchReplace ActionType = "search_replace"

	// TypeFullContent carries a whole replacement document in Content.
	TypeFullContent ActionType = "full_content"
)

// Lineage links a retry clone to the action it replaces.
type Lineage struct {
	ParentID    string `json:"parent_id,omitempty"`
	RetryCount  int    `json:"retry_count,omitempty"`
	RetryReason string `json:"retry_reason,omitempty"`
}

// DiffAction is one proposed edit under review.
type DiffAction struct {
	ID      string
	Type    ActionType
	Diff    string
	Content string
	State   State
	Lineage Lineage

	// SupersededBy is the id of the retry clone created from this action.
	SupersededBy string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Status returns the status of the action's state.
func (a DiffAction) Status() Status {
	if a.State == nil {
		return StatusPending
	}
	return a.State.Status()
}

// Payload returns Diff or Content according to Type.
func (a DiffAction) Payload() string {
	if a.Type == TypeFullContent {
		return a.Content
	}
	return a.Diff
}

// validate checks the fields Add requires.
func (a DiffAction) validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidAction)
	}
	switch a.Type {
	case TypeSearchReplace, TypeFullContent:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAction, a.Type)
	}
	return nil
}

// samePayload reports whether a and b serialize to the same proposal.
func (a DiffAction) samePayload(b DiffAction) bool {
	return a.Type == b.Type && a.Diff == b.Diff && a.Content == b.Content
}

// =============================================================================
// JSON
// =============================================================================

// actionJSON is the wire and storage form of DiffAction.
type actionJSON struct {
	ID           string     `json:"id"`
	Type         ActionType `json:"type"`
	Diff         string     `json:"diff,omitempty"`
	Content      string     `json:"content,omitempty"`
	Status       Status     `json:"status"`
	Error        string     `json:"error,omitempty"`
	ErrorKind    string     `json:"error_kind,omitempty"`
	Lineage      Lineage    `json:"lineage"`
	SupersededBy string     `json:"superseded_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// MarshalJSON flattens State into status and error fields.
func (a DiffAction) MarshalJSON() ([]byte, error) {
	out := actionJSON{
		ID:           a.ID,
		Type:         a.Type,
		Diff:         a.Diff,
		Content:      a.Content,
		Status:       a.Status(),
		Lineage:      a.Lineage,
		SupersededBy: a.SupersededBy,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
	switch s := a.State.(type) {
	case Failed:
		out.Error = s.Reason
		out.ErrorKind = s.Kind
	case Retrying:
		out.Lineage = Lineage{ParentID: s.ParentID, RetryCount: s.Count, RetryReason: s.Reason}
	}
	return json.Marshal(out)
}

// UnmarshalJSON rebuilds State from the flattened fields.
func (a *DiffAction) UnmarshalJSON(data []byte) error {
	var in actionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	var state State
	switch in.Status {
	case StatusPending, "":
		state = Pending{}
	case StatusAccepted:
		state = Accepted{}
	case StatusRejected:
		state = Rejected{}
	case StatusFailed:
		state = Failed{Reason: in.Error, Kind: in.ErrorKind}
	case StatusRetrying:
		state = Retrying{ParentID: in.Lineage.ParentID, Count: in.Lineage.RetryCount, Reason: in.Lineage.RetryReason}
	default:
		return fmt.Errorf("unknown status %q", in.Status)
	}

	*a = DiffAction{
		ID:           in.ID,
		Type:         in.Type,
		Diff:         in.Diff,
		Content:      in.Content,
		State:        state,
		Lineage:      in.Lineage,
		SupersededBy: in.SupersededBy,
		CreatedAt:    in.CreatedAt,
		UpdatedAt:    in.UpdatedAt,
	}
	return nil
}
