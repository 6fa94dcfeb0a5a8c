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
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianNotes/services/notes_diff/lifecycle"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/llm"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/patch"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/retry"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/session"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/telemetry"
)

// ErrNoEdits is returned by edit when the model proposed no diff.
var ErrNoEdits = errors.New("model proposed no edits")

type editOptions struct {
	doc     string
	prompt  string
	yes     bool
	write   bool
	preview bool
}

func newEditCmd(a *app) *cobra.Command {
	opts := &editOptions{}
	cmd := &cobra.Command{
		Use:   "edit --doc <file> --prompt <text>",
		Short: "Ask the model to edit a document",
		Long: `Streams an edit request to the configured model and collects the
proposed diffs as pending.

Without --yes the proposed diffs are printed for review and nothing is
applied. With --yes every proposal is accepted and applied; failures are
regenerated within the configured retry budget.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(cmd, a, opts)
		},
	}
	cmd.Flags().StringVar(&opts.doc, "doc", "", "Document to edit")
	cmd.Flags().StringVarP(&opts.prompt, "prompt", "p", "", "Edit instruction")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Accept and apply every proposed diff")
	cmd.Flags().BoolVar(&opts.write, "write", false, "Rewrite the document in place")
	cmd.Flags().BoolVar(&opts.preview, "preview", false, "Print a unified diff instead of the document")
	_ = cmd.MarkFlagRequired("doc")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func runEdit(cmd *cobra.Command, a *app, opts *editOptions) error {
	data, err := os.ReadFile(opts.doc)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	doc := string(data)
	logger := a.logger.Slog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, a.cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	client, err := llm.NewClient(llm.Config{
		BaseURL:     a.cfg.LLM.BaseURL,
		APIKey:      a.cfg.LLM.APIKey(),
		Model:       a.cfg.LLM.Model,
		Temperature: a.cfg.LLM.Temperature,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	manager := lifecycle.NewManager(lifecycle.WithLogger(logger))
	src, err := client.Stream(ctx, llm.EditPrompt(opts.prompt, doc))
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	runner := session.NewRunner(manager,
		session.WithIdleTimeout(a.cfg.Stream.IdleTimeout),
		session.WithLogger(logger),
		session.WithEventHandler(func(ev session.Event) {
			if ev.Type == session.EventDiffInvalid && ev.Error != nil {
				fmt.Fprintf(stderr, "ignored invalid edit: [%s] %s\n", ev.Error.Kind, ev.Error.Message)
			}
		}),
	)
	result, err := runner.Run(ctx, src)
	if result != nil && result.Display != "" {
		fmt.Fprintln(stderr, result.Display)
	}
	if err != nil {
		return err
	}
	if len(result.Actions) == 0 {
		return ErrNoEdits
	}

	if !opts.yes {
		out := cmd.OutOrStdout()
		for _, action := range manager.List() {
			fmt.Fprintf(out, "--- %s (%s)\n%s\n", action.ID, action.Status(), action.Payload())
		}
		return nil
	}

	if _, err := manager.AcceptAll(ctx); err != nil {
		return err
	}
	regen := llm.NewRegenerator(client, func(context.Context) (string, error) { return doc, nil })
	coord := retry.NewCoordinator(a.cfg.Retry, manager, regen, retry.WithLogger(logger))

	report, err := applyWithRetry(ctx, manager, coord, doc)
	if err != nil {
		return err
	}
	return writeEditResult(cmd, opts, doc, report)
}

// applyWithRetry applies the accepted diffs once, regenerates retryable
// failures within the budget and applies again if anything was regenerated.
func applyWithRetry(ctx context.Context, manager *lifecycle.Manager, coord *retry.Coordinator, doc string) (*lifecycle.ApplyReport, error) {
	report, err := manager.ApplyAccepted(ctx, doc)
	if err != nil {
		return nil, err
	}

	retried := 0
	for _, f := range report.Failed {
		if len(f.Errors) == 0 {
			continue
		}
		if _, err := coord.AutoRetry(ctx, f.ID, f.Errors[0]); err == nil {
			retried++
		}
	}
	if retried == 0 {
		return report, nil
	}

	again, err := manager.ApplyAccepted(ctx, doc)
	if err != nil {
		return nil, err
	}
	again.Failed = append(report.Failed, again.Failed...)
	return again, nil
}

func writeEditResult(cmd *cobra.Command, opts *editOptions, doc string, report *lifecycle.ApplyReport) error {
	out := cmd.OutOrStdout()
	if opts.preview {
		preview, err := patch.PreviewContent(doc, report.Content, filepath.Base(opts.doc))
		if err != nil {
			return fmt.Errorf("build preview: %w", err)
		}
		fmt.Fprint(out, preview)
	}

	if opts.write {
		if len(report.Applied) > 0 {
			if err := writePreservingMode(opts.doc, report.Content); err != nil {
				return err
			}
		}
	} else if !opts.preview {
		fmt.Fprint(out, report.Content)
	}

	for _, f := range report.Failed {
		reportErrors(cmd.ErrOrStderr(), f.Errors)
	}
	if len(report.Applied) == 0 && len(report.Failed) > 0 {
		return ErrBlocksFailed
	}
	return nil
}
