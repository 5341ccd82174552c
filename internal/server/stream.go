package server

import (
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/ppiankov/axiom/internal/pipeline"
	"go.uber.org/zap"
)

// handleStream upgrades to a websocket and verifies each request message the
// client sends, writing pipeline events as they happen. The connection stays
// open for further requests until the client closes it.
func (s *Server) handleStream(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	ctx := c.Request.Context()
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}

		var body VerifyRequest
		if err := json.Unmarshal(msg, &body); err != nil {
			if err := ws.WriteJSON(pipeline.ErrorEvent("invalid request: " + err.Error())); err != nil {
				return
			}
			continue
		}
		if strings.TrimSpace(body.Response) == "" {
			if err := ws.WriteJSON(pipeline.ErrorEvent("response text is required")); err != nil {
				return
			}
			continue
		}

		session, err := s.pipeline.RunStreaming(ctx, s.request(body), func(e pipeline.Event) error {
			return ws.WriteJSON(e)
		})
		if err != nil {
			s.logger.Debug("stream ended early", zap.String("session_id", session.ID), zap.Error(err))
			return
		}
		if err := s.store.Put(session); err != nil {
			s.logger.Warn("failed to store session", zap.String("session_id", session.ID), zap.Error(err))
		}
	}
}
