// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianNotes/services/notes_diff/blocks"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/classify"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/patch"
)

// ErrBlocksFailed is returned by apply when at least one block did not
// apply.
var ErrBlocksFailed = errors.New("some blocks failed to apply")

// =============================================================================
// parse
// =============================================================================

func newParseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "parse <diff-file>",
		Short: "Parse SEARCH/REPLACE blocks and print them as JSON",
		Long: `Parses a SEARCH/REPLACE diff and prints the blocks, issues and stats as
JSON. Use - to read from stdin. Exits non-zero when no valid block is found.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			parsed := blocks.Parse(text)
			a.logger.Debug("parsed diff",
				"blocks", parsed.Stats.ValidBlocks,
				"errors", len(parsed.Errors),
				"warnings", len(parsed.Warnings))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(parsed); err != nil {
				return err
			}
			return parsed.Err()
		},
	}
}

// =============================================================================
// apply
// =============================================================================

type applyOptions struct {
	doc     string
	diff    string
	write   bool
	preview bool
}

func newApplyCmd(a *app) *cobra.Command {
	opts := &applyOptions{}
	cmd := &cobra.Command{
		Use:   "apply --doc <file> --diff <file>",
		Short: "Apply SEARCH/REPLACE blocks to a document",
		Long: `Applies every block in the diff to the document, in order.

The patched document is printed to stdout unless --write is given, in which
case the document is rewritten in place when at least one block applied.
With --preview a unified diff of the change is printed instead. Blocks that
fail are reported on stderr with suggestions, and the command exits
non-zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, a, opts)
		},
	}
	cmd.Flags().StringVar(&opts.doc, "doc", "", "Document to patch")
	cmd.Flags().StringVar(&opts.diff, "diff", "", "Diff file, or - for stdin")
	cmd.Flags().BoolVar(&opts.write, "write", false, "Rewrite the document in place")
	cmd.Flags().BoolVar(&opts.preview, "preview", false, "Print a unified diff instead of the document")
	_ = cmd.MarkFlagRequired("doc")
	_ = cmd.MarkFlagRequired("diff")
	return cmd
}

func runApply(cmd *cobra.Command, a *app, opts *applyOptions) error {
	docBytes, err := os.ReadFile(opts.doc)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	doc := string(docBytes)
	diffText, err := readInput(cmd, opts.diff)
	if err != nil {
		return err
	}

	result, parsed := patch.ApplyText(doc, diffText)
	if result == nil {
		derr := classify.Classify(parsed.Err(), classify.Context{ActualContent: diffText})
		reportErrors(cmd.ErrOrStderr(), []*classify.DiffError{derr})
		return derr
	}
	a.logger.Info("applied diff",
		"document", opts.doc,
		"applied", result.AppliedBlocks,
		"failed", len(result.Errors))

	out := cmd.OutOrStdout()
	if opts.preview {
		preview, err := patch.Preview(doc, result, filepath.Base(opts.doc))
		if err != nil {
			return fmt.Errorf("build preview: %w", err)
		}
		fmt.Fprint(out, preview)
	}

	if opts.write {
		if result.AppliedBlocks > 0 {
			if err := writePreservingMode(opts.doc, result.Content); err != nil {
				return err
			}
		}
	} else if !opts.preview {
		fmt.Fprint(out, result.Content)
	}

	if !result.Success {
		reportErrors(cmd.ErrOrStderr(), classify.ClassifyApply(result, doc))
		return fmt.Errorf("%w: %d of %d", ErrBlocksFailed, len(result.Errors), len(result.Blocks))
	}
	return nil
}

// reportErrors prints each classified failure with its suggestions.
func reportErrors(w io.Writer, errs []*classify.DiffError) {
	for _, e := range errs {
		fmt.Fprintf(w, "[%s] %s\n", e.Kind, e.Message)
		for _, s := range e.Suggestions {
			fmt.Fprintf(w, "  - %s\n", s)
		}
	}
}

// =============================================================================
// Helpers
// =============================================================================

// readInput reads path, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func writePreservingMode(path, content string) error {
	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}
