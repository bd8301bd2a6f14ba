// Command compilerz runs the sandbox session orchestrator: the HTTP and
// websocket API used by the browser editor and, optionally, an MCP server.
package main

import (
	"flag"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/p-arndt/compilerz/internal/config"
	"github.com/p-arndt/compilerz/internal/logger"
)

func main() {
	cfgPath := flag.String("config", "", "path to compilerz.yaml")
	flag.Parse()

	app := fx.New(
		fx.Provide(
			func() (*config.Config, error) { return config.Load(*cfgPath) },
			logger.NewFromConfig,
		),
		Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	app.Run()
}
