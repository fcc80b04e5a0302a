package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/teleclaude/teleclaude/internal/events"
)

// streamUpdate is the payload of an `update` SSE frame.
type streamUpdate struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// handleStream serves the terminal's live view of its session as SSE. A
// newer terminal taking over the session supersedes this stream: the check
// runs before every read so a stale consumer is told and closed promptly.
func (s *Server) handleStream(c *gin.Context) {
	terminalID := c.Query("terminal_id")
	if terminalID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "terminal_id required"})
		return
	}
	if !s.cfg.IsConfigured() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "server not configured"})
		return
	}

	sess := s.orch.Sessions().GetOrCreate(s.cfg.ChatIdentity())
	consumer := s.orch.Bus().Subscribe(sess.ID())
	defer consumer.Close()

	s.sseConns.Add(1)
	defer s.onStreamClose()

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, "event: connected\ndata: {}\n\n")
	w.Flush()

	s.logger.Info("stream attached",
		zap.String("terminal_id", terminalID),
		zap.String("session_id", sess.ID()))

	reqCtx := c.Request.Context()
	for {
		if owner := sess.TerminalID(); owner != "" && owner != terminalID {
			s.writeUpdate(w, streamUpdate{
				Type:    string(events.KindSuperseded),
				Content: "Another terminal took over",
			})
			s.logger.Info("stream superseded",
				zap.String("terminal_id", terminalID),
				zap.String("owner", owner))
			return
		}

		waitCtx, cancel := context.WithTimeout(reqCtx, s.keepalive)
		ev, err := consumer.Next(waitCtx)
		cancel()
		if err != nil {
			if errors.Is(err, events.ErrClosed) {
				return
			}
			if reqCtx.Err() != nil {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				fmt.Fprint(w, "event: keepalive\ndata: {}\n\n")
				w.Flush()
				continue
			}
			return
		}

		s.writeUpdate(w, streamUpdate{Type: string(ev.Kind), Content: ev.Content})
		if ev.Kind == events.KindReturnToTerminal || ev.Kind == events.KindSuperseded {
			return
		}
	}
}

func (s *Server) writeUpdate(w gin.ResponseWriter, u streamUpdate) {
	data, err := json.Marshal(u)
	if err != nil {
		s.logger.Warn("failed to encode stream update", zap.Error(err))
		return
	}
	fmt.Fprintf(w, "event: update\ndata: %s\n\n", data)
	w.Flush()
}
