// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianNotes/services/notes_diff/classify"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/lifecycle"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/retry"
)

// sseServer streams deltas as OpenAI chat completion chunks and records
// the last request.
func sseServer(t *testing.T, deltas []string, last *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if last != nil {
			_ = json.NewDecoder(r.Body).Decode(last)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for i, d := range deltas {
			chunk := openai.ChatCompletionStreamResponse{
				ID:     fmt.Sprintf("chunk-%d", i),
				Object: "chat.completion.chunk",
				Model:  "test-model",
				Choices: []openai.ChatCompletionStreamChoice{
					{Index: 0, Delta: openai.ChatCompletionStreamChoiceDelta{Content: d}},
				},
			}
			data, err := json.Marshal(chunk)
			require.NoError(t, err)
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: srv.URL + "/v1", APIKey: "test", Model: "test-model"})
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresModel(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestStream_YieldsDeltas(t *testing.T) {
	var req openai.ChatCompletionRequest
	srv := sseServer(t, []string{"Hello", "", " world"}, &req)
	c := testClient(t, srv)

	s, err := c.Stream(context.Background(), "say hi")
	require.NoError(t, err)
	defer s.Close()

	var got []string
	for {
		chunk, err := s.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, chunk)
	}
	assert.Equal(t, []string{"Hello", " world"}, got)

	assert.Equal(t, "test-model", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, DefaultSystemPrompt, req.Messages[0].Content)
	assert.Equal(t, "say hi", req.Messages[1].Content)
}

func failedRequest() retry.Request {
	return retry.Request{
		DiffID: "d1_retry_1_1",
		Failed: lifecycle.DiffAction{
			ID:   "d1",
			Type: lifecycle.TypeSearchReplace,
			Diff: "<<<<<<< SEARCH\nold line\n=======\nnew\n>>>>>>> REPLACE",
		},
		Error:   classify.New(classify.KindSearchNotFound, nil, classify.Details{}),
		Attempt: 1,
	}
}

func TestRegenerator_ReturnsEnvelopePayload(t *testing.T) {
	var req openai.ChatCompletionRequest
	srv := sseServer(t, []string{
		"Sure. <replace_in_notes><diff>\n<<<<<<< SEARCH\n",
		"current line\n=======\nnew\n>>>>>>> REPLACE\n</diff>",
		"</replace_in_notes>",
	}, &req)

	doc := func(context.Context) (string, error) { return "current line", nil }
	r := NewRegenerator(testClient(t, srv), doc)

	fr := failedRequest()
	fr.Prompt = fr.Error.Prompt()
	payload, err := r.Regenerate(context.Background(), fr)
	require.NoError(t, err)
	assert.Equal(t, "<<<<<<< SEARCH\ncurrent line\n=======\nnew\n>>>>>>> REPLACE", payload)

	prompt := req.Messages[1].Content
	assert.Contains(t, prompt, "search_not_found")
	assert.Contains(t, prompt, "old line")
	assert.Contains(t, prompt, "Current note:\ncurrent line")
}

func TestRegenerator_AcceptsBareBlocks(t *testing.T) {
	srv := sseServer(t, []string{"<<<<<<< SEARCH\na\n=======\nb\n>>>>>>> REPLACE\n"}, nil)
	r := NewRegenerator(testClient(t, srv), nil)

	payload, err := r.Regenerate(context.Background(), failedRequest())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(payload, "<<<<<<< SEARCH"))
}

func TestRegenerator_NoDiff(t *testing.T) {
	srv := sseServer(t, []string{"I cannot find that text."}, nil)
	r := NewRegenerator(testClient(t, srv), nil)

	_, err := r.Regenerate(context.Background(), failedRequest())
	assert.ErrorIs(t, err, ErrNoDiffInResponse)
}

func TestRegenerator_DocumentError(t *testing.T) {
	srv := sseServer(t, nil, nil)
	doc := func(context.Context) (string, error) { return "", io.ErrUnexpectedEOF }
	r := NewRegenerator(testClient(t, srv), doc)

	_, err := r.Regenerate(context.Background(), failedRequest())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestRepairPrompt(t *testing.T) {
	req := failedRequest()
	p := RepairPrompt(req, "")
	assert.Contains(t, p, "could not be applied")
	assert.Contains(t, p, "Failed edit:")
	assert.NotContains(t, p, "Current note:")
}

func TestEditPrompt(t *testing.T) {
	p := EditPrompt("  fix the title \n", "# Titel")
	assert.Contains(t, p, "Current note:\n# Titel")
	assert.Contains(t, p, "Request: fix the title\n")
	assert.Contains(t, p, "<replace_in_notes>")
}
