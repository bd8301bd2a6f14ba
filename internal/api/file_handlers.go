package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/p-arndt/compilerz/internal/language"
)

type createFileRequest struct {
	SessionID string `json:"sessionId"`
	Filename  string `json:"filename"`
	Code      string `json:"code"`
}

type createFileResponse struct {
	Command string `json:"command"`
}

// handleCreateFile injects the file and answers with the command that runs
// it. Files with an extension no recipe knows are still written, so helper
// files can be uploaded, but the request fails with UNSUPPORTED_EXTENSION.
func (s *Server) handleCreateFile(w http.ResponseWriter, r *http.Request) {
	var req createFileRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := validateCreateFileRequest(req); err != nil {
		writeValidationError(w, err.Error(), map[string]interface{}{"filename": req.Filename})
		return
	}

	log := s.requestLogger(r)
	log.Debug("create file",
		zap.String("session_id", req.SessionID),
		zap.String("filename", req.Filename),
		zap.Int("bytes", len(req.Code)))

	if err := s.manager.WriteFile(r.Context(), req.SessionID, req.Filename, []byte(req.Code)); err != nil {
		log.Error("create file", zap.String("session_id", req.SessionID), zap.Error(err))
		writeAPIError(w, err)
		return
	}

	command, err := language.CommandFor(req.Filename)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, createFileResponse{Command: command})
}
