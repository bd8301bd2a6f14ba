package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/p-arndt/compilerz/internal/relay"
	"github.com/p-arndt/compilerz/internal/session"
	"github.com/p-arndt/compilerz/protocol"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 1024 * 1024
)

// wsSink serializes writes to one websocket connection. gorilla allows a
// single concurrent writer.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(ev protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteJSON(ev)
}

func (s *wsSink) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// handleWebsocket registers the connection with the relay and dispatches
// inbound events until the client goes away. Closing the socket never stops
// the bound session.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	connID := uuid.New().String()
	log := s.requestLogger(r).With(zap.String("conn_id", connID))
	sink := &wsSink{conn: conn}

	s.relay.Connect(connID, sink)
	defer s.relay.Disconnect(connID)
	log.Info("websocket connected")

	done := make(chan struct{})
	defer close(done)
	go s.keepAlive(sink, done, log)

	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read", zap.Error(err))
			}
			break
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(sink, protocol.CodeInvalidMessage, "invalid json: "+err.Error(), log)
			continue
		}
		s.dispatch(r, connID, sink, msg, log)
	}
	log.Info("websocket disconnected")
}

func (s *Server) dispatch(r *http.Request, connID string, sink *wsSink, msg protocol.Message, log *zap.Logger) {
	switch msg.Type {
	case protocol.EventBindSession:
		if msg.SessionID == "" {
			s.sendError(sink, protocol.CodeInvalidMessage, "sessionId is required", log)
			return
		}
		if err := s.relay.BindSession(connID, msg.SessionID); err != nil {
			s.sendError(sink, protocol.CodeInvalidMessage, err.Error(), log)
			return
		}
		log.Debug("connection bound", zap.String("session_id", msg.SessionID))

	case protocol.EventRun:
		if err := s.relay.StartExecution(r.Context(), connID, msg.Command); err != nil {
			code := runErrorCode(err)
			if code == protocol.CodeExecFailed {
				log.Error("start execution", zap.Error(err))
			}
			s.sendError(sink, code, err.Error(), log)
		}

	case protocol.EventInput:
		s.relay.ForwardInput(connID, []byte(msg.Data))

	default:
		s.sendError(sink, protocol.CodeUnknownEventType, "unknown event type: "+string(msg.Type), log)
	}
}

func runErrorCode(err error) string {
	switch {
	case errors.Is(err, relay.ErrNotBound):
		return protocol.CodeNotBound
	case errors.Is(err, relay.ErrRunInProgress):
		return protocol.CodeRunInProgress
	case errors.Is(err, session.ErrSessionNotFound):
		return protocol.CodeSessionNotFound
	default:
		return protocol.CodeExecFailed
	}
}

func (s *Server) sendError(sink *wsSink, code, message string, log *zap.Logger) {
	if err := sink.Send(protocol.Error(code, message)); err != nil {
		log.Debug("send error event", zap.Error(err))
	}
}

func (s *Server) keepAlive(sink *wsSink, done <-chan struct{}, log *zap.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := sink.ping(); err != nil {
				log.Debug("websocket ping", zap.Error(err))
				return
			}
		}
	}
}
