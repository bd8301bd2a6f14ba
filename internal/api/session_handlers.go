package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/p-arndt/compilerz/internal/language"
)

type startSessionRequest struct {
	Language string `json:"language"`
}

type stopSessionRequest struct {
	SessionID string `json:"sessionId"`
}

type stopSessionResponse struct {
	Stopped   bool   `json:"stopped"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := validateStartSessionRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	log := s.requestLogger(r)
	log.Debug("start session", zap.String("language", req.Language))
	info, err := s.manager.Create(r.Context(), req.Language)
	if err != nil {
		log.Error("start session", zap.String("language", req.Language), zap.Error(err))
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// handleStopSession reports the outcome in the body. A session that could
// not be stopped gets stopped=false with the cause.
func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	var req stopSessionRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := validateStopSessionRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	log := s.requestLogger(r)
	res := s.manager.Stop(r.Context(), req.SessionID)
	if !res.Stopped {
		err := res.Err
		if err == nil {
			err = errors.New("session was not stopped")
		}
		status, code := classifyError(err)
		if status >= http.StatusInternalServerError {
			log.Error("stop session", zap.String("session_id", req.SessionID), zap.Error(err))
		}
		writeJSON(w, status, stopSessionResponse{Stopped: false, Error: err.Error(), ErrorCode: code})
		return
	}
	log.Debug("session stopped", zap.String("session_id", req.SessionID))
	writeJSON(w, http.StatusOK, stopSessionResponse{Stopped: true})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	info, err := s.manager.Get(id)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.manager.List()
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

type languageInfo struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

func (s *Server) handleListLanguages(w http.ResponseWriter, r *http.Request) {
	all := language.All()
	out := make([]languageInfo, 0, len(all))
	for _, l := range all {
		img, err := l.Image()
		if err != nil {
			continue
		}
		out = append(out, languageInfo{Name: string(l), Image: img.Ref})
	}
	writeJSON(w, http.StatusOK, map[string]any{"languages": out})
}
