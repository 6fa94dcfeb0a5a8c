// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package blocks

import "errors"

var (
	// ErrNoValidBlocks indicates the payload contained no usable block.
	ErrNoValidBlocks = errors.New("no valid search/replace blocks found")

	// ErrEmptySearch indicates a block whose search section is empty.
	ErrEmptySearch = errors.New("search content is empty")

	// ErrNoOpBlock indicates a block whose search and replace are identical.
	ErrNoOpBlock = errors.New("search and replace content are identical")
)
