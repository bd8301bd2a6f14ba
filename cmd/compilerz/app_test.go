package main

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/p-arndt/compilerz/internal/config"
)

func TestModuleGraph(t *testing.T) {
	for _, backend := range []string{config.BackendDocker, config.BackendLocal} {
		t.Run(backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.Backend = backend
			cfg.ScratchDir = t.TempDir()

			err := fx.ValidateApp(
				fx.Supply(cfg, zap.NewNop()),
				Module,
				fx.NopLogger,
			)
			require.NoError(t, err)
		})
	}
}

func TestNewPool(t *testing.T) {
	cfg := config.Default()

	p, err := newPool(cfg, nil, nil, zap.NewNop())
	require.NoError(t, err)
	require.Nil(t, p, "no pool without configured sizes")

	cfg.Pool = map[string]int{"cobol": 1}
	_, err = newPool(cfg, nil, nil, zap.NewNop())
	require.Error(t, err)
}
