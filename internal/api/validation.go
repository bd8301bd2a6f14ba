package api

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/p-arndt/compilerz/internal/session"
)

const maxCodeBytes = 1024 * 1024

// ValidateSessionID checks that id looks like a session ID handed out by
// start-session.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("sessionId is required")
	}
	if err := uuid.Validate(id); err != nil {
		return fmt.Errorf("sessionId must be a uuid")
	}
	return nil
}

func validateStartSessionRequest(req startSessionRequest) error {
	if req.Language == "" {
		return fmt.Errorf("language is required")
	}
	return nil
}

func validateCreateFileRequest(req createFileRequest) error {
	if err := ValidateSessionID(req.SessionID); err != nil {
		return err
	}
	if req.Filename == "" {
		return fmt.Errorf("filename is required")
	}
	if err := session.ValidateFilename(req.Filename); err != nil {
		return fmt.Errorf("filename must contain only letters, digits, '.', '_' and '-' and must not be a path")
	}
	if len(req.Code) > maxCodeBytes {
		return fmt.Errorf("code must not exceed %d bytes", maxCodeBytes)
	}
	return nil
}

func validateStopSessionRequest(req stopSessionRequest) error {
	return ValidateSessionID(req.SessionID)
}
