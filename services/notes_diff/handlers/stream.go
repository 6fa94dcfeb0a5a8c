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
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianNotes/services/notes_diff/session"
	"github.com/AleutianAI/AleutianNotes/services/notes_diff/telemetry"
)

// ErrClientAbort is the stream error when the client sends an abort frame.
var ErrClientAbort = errors.New("stream aborted by client")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// ClientFrame is a message from the websocket client.
type ClientFrame struct {
	// Chunk is the next piece of model output.
	Chunk string `json:"chunk,omitempty"`

	// Done marks the end of the model output.
	Done bool `json:"done,omitempty"`

	// Abort cancels the stream as if the connection had dropped.
	Abort bool `json:"abort,omitempty"`
}

// CompleteFrame is the last message sent on the websocket.
type CompleteFrame struct {
	Type   string          `json:"type"`
	Result *session.Result `json:"result"`
	Error  string          `json:"error,omitempty"`
}

// wsWriter serializes writes to one connection.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
	err  error
}

func (w *wsWriter) send(v interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return
	}
	w.err = w.conn.WriteJSON(v)
}

// StreamSocket ingests streamed model output over a websocket.
//
// # Description
//
// The client sends ClientFrames. Every chunk is run through a
// session.Runner bound to the session's Manager, and each resulting
// session.Event is sent back as JSON. Detected diffs are registered as
// pending. When the client finishes, aborts, disconnects or goes idle, a
// CompleteFrame with the run result is sent and the socket is closed.
func (h *Handlers) StreamSocket(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade the websocket", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	logger := telemetry.LoggerWithSession(ctx, h.logger, s.ID)
	logger.Info("stream socket connected")

	out := &wsWriter{conn: conn}
	src := session.NewChanSource(16)
	go readFrames(ctx, conn, src)

	opts := []session.Option{
		session.WithEventHandler(func(ev session.Event) { out.send(ev) }),
		session.WithLogger(logger),
		session.WithMetrics(h.metrics),
	}
	if h.idleTimeout > 0 {
		opts = append(opts, session.WithIdleTimeout(h.idleTimeout))
	}
	result, runErr := session.NewRunner(s.Manager, opts...).Run(ctx, src)

	frame := CompleteFrame{Type: "complete", Result: result}
	if runErr != nil {
		frame.Error = runErr.Error()
	}
	out.send(frame)
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	logger.Info("stream socket closed", "diffs", len(result.Actions), "error", runErr)
}

// readFrames feeds client frames into src until the stream ends.
func readFrames(ctx context.Context, conn *websocket.Conn, src *session.ChanSource) {
	for {
		var f ClientFrame
		if err := conn.ReadJSON(&f); err != nil {
			src.Abort(err)
			return
		}
		switch {
		case f.Abort:
			src.Abort(ErrClientAbort)
			return
		case f.Chunk != "":
			if !src.Push(ctx, f.Chunk) {
				return
			}
		}
		if f.Done {
			src.Finish()
			return
		}
	}
}
