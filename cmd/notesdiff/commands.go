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
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianNotes/pkg/logging"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/config"
)

// app carries state shared by every subcommand.
type app struct {
	configPath string
	debug      bool

	cfg    config.Config
	logger *logging.Logger
}

// newRootCmd builds the command tree. Each call returns independent
// commands so tests can run them in isolation.
func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "notesdiff",
		Short: "Parse, apply and review LLM SEARCH/REPLACE edits to notes",
		Long: `notesdiff applies SEARCH/REPLACE blocks produced by a language model
to markdown notes. It can run one-off edits from files or serve the
streaming review API used by the notes editor.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Close()
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "",
		"Path to the YAML config (default ~/.aleutian/notes_diff.yaml)")
	rootCmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newParseCmd(a))
	rootCmd.AddCommand(newApplyCmd(a))
	rootCmd.AddCommand(newEditCmd(a))
	rootCmd.AddCommand(newServeCmd(a))
	return rootCmd
}

// setup loads the configuration and builds the logger.
func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.debug {
		cfg.Server.Debug = true
		cfg.Logging.Level = "debug"
	}
	a.cfg = cfg

	level, _ := logging.ParseLevel(cfg.Logging.Level)
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "notesdiff",
		JSON:    cfg.Logging.JSON || !isatty.IsTerminal(os.Stderr.Fd()),
	})
	return nil
}
