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

import "errors"

var (
	// ErrNotFound indicates no action with the given id.
	ErrNotFound = errors.New("diff action not found")

	// ErrInvalidTransition indicates an operation not allowed from the
	// action's current status.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrInvalidAction indicates an action that fails validation on Add.
	ErrInvalidAction = errors.New("invalid diff action")

	// ErrAlreadyRetried indicates a failed action already has a retry clone.
	ErrAlreadyRetried = errors.New("diff action already superseded by a retry")

	// ErrPersist indicates the backing store rejected a write. The in-memory
	// state is left unchanged.
	ErrPersist = errors.New("persist diff action")
)
