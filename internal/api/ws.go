package api

import (
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/lecture-qa/internal/server"
	"go.uber.org/zap"
)

// checkOrigin accepts requests without an Origin header and those from an
// allowed origin.
func (s *LectureApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	return slices.Contains(s.allowedOrigins, "*") || slices.Contains(s.allowedOrigins, origin)
}

// serveWs upgrades an authenticated request. Unauthenticated requests are
// rejected by authMiddleware before any upgrade happens.
func (s *LectureApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", zap.String("user_id", id.Id), zap.Error(err))
		return
	}

	client := server.NewClient(id, conn, s.ls, s.log)

	s.ls.RegisterClient(client)
	go client.Write()
	go client.Read()
}
