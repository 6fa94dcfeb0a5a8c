// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retry

import "errors"

var (
	// ErrManualInterventionRequired indicates the failure is not eligible for
	// an automatic retry, either by kind or because the budget is spent.
	ErrManualInterventionRequired = errors.New("manual intervention required")

	// ErrNoRegenerator indicates the Coordinator was built without a
	// Regenerator.
	ErrNoRegenerator = errors.New("no regenerator configured")

	// ErrRegenerate indicates the regeneration request itself failed.
	ErrRegenerate = errors.New("regenerate diff")
)
