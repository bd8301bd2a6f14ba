package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/p-arndt/compilerz/internal/api"
	"github.com/p-arndt/compilerz/internal/config"
	"github.com/p-arndt/compilerz/internal/docker"
	"github.com/p-arndt/compilerz/internal/local"
	"github.com/p-arndt/compilerz/internal/mcpserver"
	"github.com/p-arndt/compilerz/internal/pool"
	"github.com/p-arndt/compilerz/internal/provision"
	"github.com/p-arndt/compilerz/internal/reaper"
	"github.com/p-arndt/compilerz/internal/relay"
	"github.com/p-arndt/compilerz/internal/runtime"
	"github.com/p-arndt/compilerz/internal/session"
	"github.com/p-arndt/compilerz/internal/telemetry"
)

// Module wires every component of the server. It expects a *config.Config
// and a *zap.Logger to be provided.
var Module = fx.Options(
	fx.Provide(
		newTelemetry,
		newBackend,
		newProvisioner,
		session.NewManager,
		newRelay,
		newAPIServer,
		newReaper,
		newMCPServer,
		newPool,
	),
	fx.Invoke(
		registerShutdownStop,
		registerPool,
		registerReaper,
		registerHTTP,
		registerMCP,
	),
)

func newTelemetry(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*telemetry.Instruments, error) {
	inst, shutdown, err := telemetry.Init(context.Background(), cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	if cfg.Telemetry.Enabled {
		log.Info("telemetry enabled", zap.String("service", cfg.Telemetry.ServiceName))
	}
	lc.Append(fx.Hook{OnStop: shutdown})
	return inst, nil
}

// backend is the runtime implementation selected by config, exposed under
// each of its roles.
type backend struct {
	fx.Out

	Driver    runtime.Driver
	Images    runtime.ImageStore
	Inventory runtime.Inventory
}

type runtimeBackend interface {
	runtime.Driver
	runtime.ImageStore
	runtime.Inventory
}

func newBackend(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (backend, error) {
	var rt runtimeBackend
	switch cfg.Backend {
	case config.BackendDocker:
		dc, err := docker.New(cfg.Sandbox)
		if err != nil {
			return backend{}, fmt.Errorf("docker client: %w", err)
		}
		rt = dc
	case config.BackendLocal:
		log.Warn("local backend runs code on the host without isolation")
		rt = local.New(cfg.ScratchDir)
	default:
		return backend{}, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := rt.Ping(ctx); err != nil {
				return fmt.Errorf("%s backend unavailable: %w", cfg.Backend, err)
			}
			log.Info("runtime connection OK", zap.String("backend", cfg.Backend))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return rt.Close()
		},
	})
	return backend{Driver: rt, Images: rt, Inventory: rt}, nil
}

func newProvisioner(cfg *config.Config, images runtime.ImageStore, inst *telemetry.Instruments, log *zap.Logger) session.ImageProvisioner {
	timeout := time.Duration(cfg.ProvisionTimeoutSeconds) * time.Second
	return provision.New(images, inst, log, timeout)
}

func newRelay(mgr *session.Manager, inst *telemetry.Instruments, log *zap.Logger) *relay.Registry {
	return relay.New(mgr, inst, log)
}

func newAPIServer(cfg *config.Config, mgr *session.Manager, reg *relay.Registry, log *zap.Logger) *api.Server {
	return api.NewServer(cfg, mgr, reg, log)
}

func newReaper(cfg *config.Config, mgr *session.Manager, inv runtime.Inventory, log *zap.Logger) *reaper.Reaper {
	return reaper.New(mgr, inv,
		time.Duration(cfg.ReaperIntervalSeconds)*time.Second,
		time.Duration(cfg.SessionIdleTTLSeconds)*time.Second,
		log)
}

func newMCPServer(cfg *config.Config, mgr *session.Manager, log *zap.Logger) *mcpserver.MCPServer {
	return mcpserver.New(cfg, log, mgr)
}

// newPool returns nil when no language is configured for pre-warming.
func newPool(cfg *config.Config, drv runtime.Driver, prov session.ImageProvisioner, log *zap.Logger) (*pool.Pool, error) {
	p, err := pool.New(cfg.Pool, drv, prov, log)
	if err != nil {
		return nil, fmt.Errorf("sandbox pool: %w", err)
	}
	return p, nil
}

// registerPool hands the pool to the manager and reaper and runs its refill
// workers. Its stop hook runs before the backend client is closed.
func registerPool(lc fx.Lifecycle, p *pool.Pool, mgr *session.Manager, rpr *reaper.Reaper) {
	if p == nil {
		return
	}
	mgr.SetPool(p)
	rpr.SetPool(p)

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			p.Start(ctx)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			p.Stop(stopCtx)
			return nil
		},
	})
}

// registerShutdownStop stops every session on shutdown. Hooks run in reverse
// order, so this runs after the listeners are closed and before the backend
// client is.
func registerShutdownStop(lc fx.Lifecycle, mgr *session.Manager, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("stopping all sessions")
			mgr.StopAll(ctx)
			return nil
		},
	})
}

func registerReaper(lc fx.Lifecycle, rpr *reaper.Reaper) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				rpr.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

func registerHTTP(lc fx.Lifecycle, sd fx.Shutdowner, cfg *config.Config, srv *api.Server, log *zap.Logger) {
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// start-session may wait for an image build
		WriteTimeout: time.Duration(cfg.ProvisionTimeoutSeconds)*time.Second + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Listen)
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.Listen, err)
			}
			log.Info("listening", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server", zap.Error(err))
					sd.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down http server")
			return httpServer.Shutdown(ctx)
		},
	})
}

func registerMCP(lc fx.Lifecycle, sd fx.Shutdowner, cfg *config.Config, srv *mcpserver.MCPServer, log *zap.Logger) {
	if !cfg.MCP.Enabled {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				var err error
				switch cfg.MCP.Transport {
				case "stdio":
					err = srv.ServeStdio(ctx)
				case "http":
					err = srv.ServeHTTP()
				}
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("mcp server", zap.String("transport", cfg.MCP.Transport), zap.Error(err))
					sd.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			return srv.Shutdown(stopCtx)
		},
	})
}
