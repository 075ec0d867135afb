package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roomchat/internal/util"
	"roomchat/pkg/domain"
	"roomchat/services/chat/internal/app"
)

const (
	wsMaxFrameBytes = 64 << 10
	wsPongWait      = 60 * time.Second
	wsPingInterval  = wsPongWait * 9 / 10
	wsWriteWait     = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// wsReply is written back for every inbound frame.
type wsReply struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    *domain.Message `json:"data,omitempty"`
}

// withQueryToken lets browser websocket clients, which cannot set headers,
// pass the access token as ?access_token=.
func withQueryToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			if token := strings.TrimSpace(r.URL.Query().Get("access_token")); token != "" {
				r.Header.Set("Authorization", "Bearer "+token)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// handleWebSocket treats every text frame as a message body for SendMessage
// and replies with the outcome. Nothing is broadcast to other connections.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	logger := util.LoggerFromContext(r.Context())
	ctx := r.Context()

	var writeMu sync.Mutex
	write := func(messageType int, payload any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if messageType == websocket.PingMessage {
			return conn.WriteMessage(websocket.PingMessage, nil)
		}
		return conn.WriteJSON(payload)
	}

	done := make(chan struct{})
	defer func() {
		close(done)
		_ = conn.Close()
	}()
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadLimit(wsMaxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket closed unexpectedly", "err", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		res := s.app.SendMessage(ctx, id, string(data))
		reply := wsReply{Status: res.Outcome.String(), Message: res.Text}
		if res.Outcome == app.OK {
			reply.Data = res.Message
		}
		if err := write(websocket.TextMessage, reply); err != nil {
			logger.Warn("websocket write failed", "err", err)
			return
		}
	}
}
