package session

import (
	"context"

	"github.com/p-arndt/compilerz/internal/language"
	"github.com/p-arndt/compilerz/internal/runtime"
)

// ImageProvisioner makes a language's runtime image available.
type ImageProvisioner interface {
	EnsureImage(ctx context.Context, lang language.Language) error
}

// SandboxPool hands out pre-warmed sandboxes. Adopted is called once the
// taken sandbox's session is registered.
type SandboxPool interface {
	Take(lang language.Language) (runtime.Sandbox, bool)
	Adopted(sessionID string)
}
