// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command notesdiff parses, applies and serves LLM SEARCH/REPLACE note edits.
//
// Usage:
//
//	notesdiff parse edits.diff
//	notesdiff apply --doc note.md --diff edits.diff --preview
//	notesdiff apply --doc note.md --diff - --write < edits.diff
//	notesdiff edit --doc note.md --prompt "Fix the typos" --yes --write
//	notesdiff serve --port 12215
//
// Example requests against a running server:
//
//	curl -X POST http://localhost:12215/v1/notes/diff/apply \
//	  -H "Content-Type: application/json" \
//	  -d '{"content": "old", "diff": "<<<<<<< SEARCH\nold\n=======\nnew\n>>>>>>> REPLACE"}'
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
