package pool

import (
	"context"

	"github.com/p-arndt/compilerz/internal/language"
	"github.com/p-arndt/compilerz/internal/runtime"
)

// ImageProvisioner makes sure a language's image is present before the
// pool creates sandboxes from it.
type ImageProvisioner interface {
	EnsureImage(ctx context.Context, lang language.Language) error
}

// PoolRuntime is the part of the runtime driver the pool uses.
type PoolRuntime interface {
	Create(ctx context.Context, opts runtime.CreateOpts) (string, error)
	Stop(ctx context.Context, handle string) error
}
