package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/moby/go-archive"
	"go.uber.org/zap"

	"github.com/p-arndt/compilerz/internal/runtime"
)

const maxFilenameLen = 255

// Plain file names only: no separators, no leading dot or dash.
var filenameRe = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.\-]*$`)

func ValidateFilename(name string) error {
	if len(name) > maxFilenameLen || !filenameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return nil
}

// WriteFile places content as filename in the session's working directory,
// replacing any existing file of that name. The file is staged in a private
// scratch directory, packed as a single-entry tar and copied into the
// sandbox. Staging is removed whether or not the copy succeeds.
func (m *Manager) WriteFile(ctx context.Context, id, filename string, content []byte) error {
	if err := ValidateFilename(filename); err != nil {
		return err
	}
	s, ok := m.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	if err := os.MkdirAll(m.cfg.ScratchDir, 0o755); err != nil {
		return fmt.Errorf("%w: scratch dir: %w", ErrFile, err)
	}
	stage, err := os.MkdirTemp(m.cfg.ScratchDir, id+"-"+filename+"-*")
	if err != nil {
		return fmt.Errorf("%w: stage: %w", ErrFile, err)
	}
	defer func() {
		if err := os.RemoveAll(stage); err != nil {
			m.logger.Warn("remove staging dir", zap.String("dir", stage), zap.Error(err))
		}
	}()

	if err := os.WriteFile(filepath.Join(stage, filename), content, 0o644); err != nil {
		return fmt.Errorf("%w: stage: %w", ErrFile, err)
	}

	tarball, err := archive.TarWithOptions(stage, &archive.TarOptions{
		IncludeFiles: []string{filename},
	})
	if err != nil {
		return fmt.Errorf("%w: tar: %w", ErrFile, err)
	}
	defer tarball.Close()

	if err := m.runtime.CopyTo(ctx, s.handle, runtime.WorkDir, tarball); err != nil {
		return fmt.Errorf("%w: %w", ErrFile, err)
	}

	m.Touch(id)
	m.logger.Debug("file injected",
		zap.String("session_id", id),
		zap.String("filename", filename),
		zap.Int("bytes", len(content)))
	return nil
}
