// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm connects the diff engine to an OpenAI-compatible chat API.
//
// Client streams completions as a session.ChunkSource, and Regenerator
// asks the model for a corrected diff after a failed application.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/AleutianNotes/services/notes_diff/session"
)

// ErrNoDiffInResponse indicates a regeneration response without a usable
// diff.
var ErrNoDiffInResponse = errors.New("model response contains no diff")

// Config describes the endpoint and model.
type Config struct {
	// BaseURL overrides the OpenAI API base. Empty uses api.openai.com.
	BaseURL string

	// APIKey authenticates requests. Local servers usually ignore it.
	APIKey string

	// Model is the chat model name.
	Model string

	// Temperature is the sampling temperature.
	Temperature float32

	// SystemPrompt replaces DefaultSystemPrompt when set.
	SystemPrompt string

	Logger *slog.Logger
}

// Client issues streaming chat completions.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	system      string
	logger      *slog.Logger
}

// NewClient creates a Client. Model is required.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	system := cfg.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}
	logger.Info("initializing llm client", "model", cfg.Model, "base_url", oc.BaseURL)
	return &Client{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		system:      system,
		logger:      logger,
	}, nil
}

// Stream starts a completion for prompt.
//
// # Outputs
//
//   - *Stream: Yields content deltas. The caller must Close it.
//   - error: Request failures from the API.
func (c *Client) Stream(ctx context.Context, prompt string) (*Stream, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Stream:      true,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	c.logger.Debug("starting completion stream", "model", c.model, "prompt_bytes", len(prompt))
	s, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create completion stream: %w", err)
	}
	return &Stream{stream: s}, nil
}

// Stream adapts an openai.ChatCompletionStream to session.ChunkSource.
type Stream struct {
	stream *openai.ChatCompletionStream
}

var _ session.ChunkSource = (*Stream)(nil)

// Next returns the next content delta, skipping deltas without content.
// It returns io.EOF when the completion ends.
func (s *Stream) Next(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("receive completion chunk: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if content := resp.Choices[0].Delta.Content; content != "" {
			return content, nil
		}
	}
}

// Close implements session.ChunkSource.
func (s *Stream) Close() error {
	return s.stream.Close()
}
