package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

const (
	BackendDocker = "docker"
	BackendLocal  = "local"
)

// Sandbox holds the resource envelope applied to every session container.
type Sandbox struct {
	Memory             string `yaml:"memory"`     // human size, e.g. "512m"
	TmpfsSize          string `yaml:"tmpfs_size"` // size of the /tmp tmpfs
	CPUQuota           int64  `yaml:"cpu_quota"`
	CPUShares          int64  `yaml:"cpu_shares"`
	PidsLimit          int64  `yaml:"pids_limit"`
	NetworkMode        string `yaml:"network_mode"`
	StopTimeoutSeconds int    `yaml:"stop_timeout_seconds"`
}

type Logging struct {
	Mode  string `yaml:"mode"` // development | production
	Level string `yaml:"level"`
}

type Telemetry struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

type MCP struct {
	Enabled   bool   `yaml:"enabled"`
	Transport string `yaml:"transport"` // stdio | http
	Listen    string `yaml:"listen"`
}

type Config struct {
	Listen                  string    `yaml:"listen"`
	CORSOrigin              string    `yaml:"cors_origin"`
	Backend                 string    `yaml:"backend"`
	ScratchDir              string    `yaml:"scratch_dir"`
	SessionIdleTTLSeconds   int       `yaml:"session_idle_ttl_seconds"`
	ReaperIntervalSeconds   int       `yaml:"reaper_interval_seconds"`
	ProvisionTimeoutSeconds int       `yaml:"provision_timeout_seconds"`
	Logging                 Logging   `yaml:"logging"`
	Sandbox                 Sandbox   `yaml:"sandbox"`
	Telemetry               Telemetry `yaml:"telemetry"`
	MCP                     MCP       `yaml:"mcp"`
	// Pool maps a language to the number of warm sandboxes kept ready for it.
	Pool map[string]int `yaml:"pool"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Listen:                  "127.0.0.1:3000",
		CORSOrigin:              "*",
		Backend:                 BackendDocker,
		ScratchDir:              filepath.Join(os.TempDir(), "compilerz"),
		SessionIdleTTLSeconds:   1800,
		ReaperIntervalSeconds:   30,
		ProvisionTimeoutSeconds: 600,
		Logging: Logging{
			Mode:  "production",
			Level: "info",
		},
		Sandbox: Sandbox{
			Memory:             "512m",
			TmpfsSize:          "100m",
			CPUQuota:           50000,
			CPUShares:          512,
			PidsLimit:          256,
			NetworkMode:        "none",
			StopTimeoutSeconds: 2,
		},
		Telemetry: Telemetry{
			Enabled:     false,
			ServiceName: "compilerz",
		},
		MCP: MCP{
			Enabled:   false,
			Transport: "stdio",
			Listen:    "127.0.0.1:3001",
		},
	}
}

func Load(yamlPath string) (*Config, error) {
	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendDocker, BackendLocal:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.ScratchDir == "" {
		return fmt.Errorf("config: scratch_dir must not be empty")
	}
	if c.SessionIdleTTLSeconds < 0 {
		return fmt.Errorf("config: session_idle_ttl_seconds must be >= 0")
	}
	if c.ReaperIntervalSeconds <= 0 {
		return fmt.Errorf("config: reaper_interval_seconds must be > 0")
	}
	if c.ProvisionTimeoutSeconds <= 0 {
		return fmt.Errorf("config: provision_timeout_seconds must be > 0")
	}
	switch c.Logging.Mode {
	case "development", "production":
	default:
		return fmt.Errorf("config: unknown logging mode %q", c.Logging.Mode)
	}
	if _, err := units.RAMInBytes(c.Sandbox.Memory); err != nil {
		return fmt.Errorf("config: sandbox.memory: %w", err)
	}
	if _, err := units.RAMInBytes(c.Sandbox.TmpfsSize); err != nil {
		return fmt.Errorf("config: sandbox.tmpfs_size: %w", err)
	}
	for lang, size := range c.Pool {
		if size < 0 {
			return fmt.Errorf("config: pool size for %q must be >= 0", lang)
		}
	}
	if c.MCP.Enabled {
		switch c.MCP.Transport {
		case "stdio", "http":
		default:
			return fmt.Errorf("config: unknown mcp transport %q", c.MCP.Transport)
		}
	}
	return nil
}

// MemoryBytes returns the container memory limit. Validate guarantees it parses.
func (s Sandbox) MemoryBytes() int64 {
	n, _ := units.RAMInBytes(s.Memory)
	return n
}

func (s Sandbox) TmpfsBytes() int64 {
	n, _ := units.RAMInBytes(s.TmpfsSize)
	return n
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Listen = ":" + v
	}
	if v := os.Getenv("COMPILERZ_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("CORS_ORIGIN"); v != "" {
		cfg.CORSOrigin = v
	}
	if v := os.Getenv("COMPILERZ_CORS_ORIGIN"); v != "" {
		cfg.CORSOrigin = v
	}
	if v := os.Getenv("COMPILERZ_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("COMPILERZ_SCRATCH_DIR"); v != "" {
		cfg.ScratchDir = v
	}
	if v := os.Getenv("COMPILERZ_SESSION_IDLE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SessionIdleTTLSeconds = n
		}
	}
	if v := os.Getenv("COMPILERZ_REAPER_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReaperIntervalSeconds = n
		}
	}
	if v := os.Getenv("COMPILERZ_PROVISION_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ProvisionTimeoutSeconds = n
		}
	}
	if v := os.Getenv("COMPILERZ_LOG_MODE"); v != "" {
		cfg.Logging.Mode = v
	}
	if v := os.Getenv("COMPILERZ_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("COMPILERZ_MEMORY"); v != "" {
		if _, err := units.RAMInBytes(v); err == nil {
			cfg.Sandbox.Memory = v
		}
	}
	if v := os.Getenv("COMPILERZ_CPU_QUOTA"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Sandbox.CPUQuota = n
		}
	}
	if v := os.Getenv("COMPILERZ_PIDS_LIMIT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Sandbox.PidsLimit = n
		}
	}
	if v := os.Getenv("COMPILERZ_NETWORK_MODE"); v != "" {
		cfg.Sandbox.NetworkMode = v
	}
	if v := os.Getenv("COMPILERZ_TELEMETRY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Telemetry.Enabled = b
		}
	}
	if v := os.Getenv("COMPILERZ_MCP_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MCP.Enabled = b
		}
	}
	if v := os.Getenv("COMPILERZ_MCP_TRANSPORT"); v != "" {
		cfg.MCP.Transport = v
	}
}
