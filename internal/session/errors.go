package session

import (
	"errors"

	"github.com/p-arndt/compilerz/internal/language"
	"github.com/p-arndt/compilerz/internal/provision"
)

var (
	ErrUnsupportedLanguage = language.ErrUnsupportedLanguage
	ErrProvision           = provision.ErrProvision

	ErrSessionNotFound = errors.New("session not found")
	ErrSessionCreate   = errors.New("sandbox creation failed")
	ErrInvalidFilename = errors.New("invalid filename")
	ErrFile            = errors.New("file injection failed")
	ErrExec            = errors.New("exec failed")
	ErrRunInProgress   = errors.New("a run is already in progress")
	ErrStreamAborted   = errors.New("execution stream aborted")
)
