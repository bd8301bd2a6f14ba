package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/p-arndt/compilerz/internal/config"
)

const maxJSONBodyBytes int64 = 2 * 1024 * 1024

type Server struct {
	cfg      *config.Config
	manager  SessionService
	relay    ConnectionRelay
	logger   *zap.Logger
	mux      *http.ServeMux
	upgrader websocket.Upgrader
}

func NewServer(cfg *config.Config, mgr SessionService, rl ConnectionRelay, logger *zap.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		manager: mgr,
		relay:   rl,
		logger:  logger,
		mux:     http.NewServeMux(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.requestIDMiddleware(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/start-session", s.handleStartSession)
	s.mux.HandleFunc("POST /api/create-file", s.handleCreateFile)
	s.mux.HandleFunc("POST /api/stop-session", s.handleStopSession)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("GET /api/languages", s.handleListLanguages)

	s.mux.HandleFunc("GET /ws", s.handleWebsocket)

	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}
