// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianNotes/services/notes_diff/blocks"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/classify"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/patch"
)

// ParseRequest is the body of POST /diff/parse.
type ParseRequest struct {
	Diff string `json:"diff" binding:"required"`
}

// ApplyRequest is the body of POST /diff/apply.
type ApplyRequest struct {
	Content string `json:"content"`
	Diff    string `json:"diff" binding:"required"`

	// Name labels the document in the preview. Defaults to "note.md".
	Name string `json:"name"`
}

// ApplyResponse is the body returned by POST /diff/apply.
type ApplyResponse struct {
	Result  *patch.ApplyResult    `json:"result,omitempty"`
	Parse   *blocks.ParseResult   `json:"parse"`
	Preview string                `json:"preview,omitempty"`
	Errors  []*classify.DiffError `json:"errors"`
}

// ParseDiff parses SEARCH/REPLACE text without applying it.
func (h *Handlers) ParseDiff(c *gin.Context) {
	var req ParseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	result := blocks.Parse(req.Diff)
	h.metrics.RecordParse(result)
	c.JSON(http.StatusOK, result)
}

// ApplyDiff parses a diff and applies it to the given content.
//
// # Description
//
// Responds 422 with a format_error when the diff has no valid block.
// Otherwise responds 200 with the apply result, a unified preview of the
// applied blocks and one classified error per failed block.
func (h *Handlers) ApplyDiff(c *gin.Context) {
	var req ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	result, parsed := patch.ApplyText(req.Content, req.Diff)
	h.metrics.RecordParse(parsed)
	if result == nil {
		derr := classify.Classify(parsed.Err(), classify.Context{ActualContent: req.Diff})
		h.metrics.RecordFailure(string(derr.Kind))
		c.JSON(http.StatusUnprocessableEntity, ApplyResponse{
			Parse:  parsed,
			Errors: []*classify.DiffError{derr},
		})
		return
	}
	h.metrics.RecordApply(result)

	errs := classify.ClassifyApply(result, req.Content)
	for _, e := range errs {
		h.metrics.RecordFailure(string(e.Kind))
	}

	name := req.Name
	if name == "" {
		name = "note.md"
	}
	preview, err := patch.Preview(req.Content, result, name)
	if err != nil {
		h.logger.Warn("preview failed", "error", err)
	}

	c.JSON(http.StatusOK, ApplyResponse{
		Result:  result,
		Parse:   parsed,
		Preview: preview,
		Errors:  errs,
	})
}
