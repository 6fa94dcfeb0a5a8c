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
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianNotes/services/notes_diff/config"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/handlers"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/llm"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/observability"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/retry"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/routes"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/storage/badger"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the notes diff API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != 0 {
				a.cfg.Server.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a.cfg, a.logger.Slog())
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (overrides the config)")
	return cmd
}

// serve runs the HTTP server until ctx is done.
func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	storeCfg := badger.DefaultConfig(cfg.Store.Path)
	if cfg.Store.InMemory {
		storeCfg = badger.InMemoryConfig()
	}
	storeCfg.Logger = logger
	db, err := badger.Open(storeCfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	metrics := observability.NewDiffMetrics(prometheus.DefaultRegisterer)
	registry := handlers.NewRegistry(handlers.RegistryConfig{
		DB:          db,
		Retry:       cfg.Retry,
		Regenerator: regeneratorFactory(cfg.LLM, logger),
		Logger:      logger,
		Metrics:     metrics,
	})
	h := handlers.New(handlers.Config{
		Registry:    registry,
		IdleTimeout: cfg.Stream.IdleTimeout,
		Logger:      logger,
		Metrics:     metrics,
	})

	router := routes.NewRouter(h, nil)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting notes diff server",
			"address", srv.Addr,
			"store", db.Path(),
			"model", cfg.LLM.Model)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down notes diff server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// regeneratorFactory returns a factory building one model-backed
// Regenerator per session, or nil when no model is configured.
func regeneratorFactory(cfg config.LLMConfig, logger *slog.Logger) handlers.RegeneratorFactory {
	client, err := llm.NewClient(llm.Config{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey(),
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		Logger:      logger,
	})
	if err != nil {
		logger.Warn("regeneration disabled", "error", err)
		return nil
	}
	return func(s *handlers.Session) retry.Regenerator {
		return llm.NewRegenerator(client, func(context.Context) (string, error) {
			return s.Document(), nil
		})
	}
}
