package testutil

import (
	"testing"

	"github.com/p-arndt/compilerz/internal/config"
)

// TestConfig returns a Config with sensible test defaults.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Listen = "127.0.0.1:0"
	cfg.ScratchDir = t.TempDir()
	cfg.Logging.Mode = "development"
	cfg.Logging.Level = "debug"
	return cfg
}
