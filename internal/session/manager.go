package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/p-arndt/compilerz/internal/config"
	"github.com/p-arndt/compilerz/internal/language"
	"github.com/p-arndt/compilerz/internal/runtime"
	"github.com/p-arndt/compilerz/internal/telemetry"
)

// Manager owns the session registry. It creates and stops sandboxes,
// injects files into them and starts execution streams.
type Manager struct {
	cfg       *config.Config
	runtime   runtime.Driver
	provision ImageProvisioner
	pool      SandboxPool // optional
	inst      *telemetry.Instruments
	logger    *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*session

	// Per-session mutexes serializing create, run start and stop of one sandbox.
	locks   map[string]*sync.Mutex
	locksMu sync.Mutex

	streamsMu sync.Mutex
	streams   map[string]map[string]*Stream // session ID -> run ID
}

type session struct {
	id           string
	language     language.Language
	handle       string
	createdAt    time.Time
	lastActivity time.Time
}

type SessionInfo struct {
	ID           string    `json:"sessionId"`
	Language     string    `json:"language"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	Running      bool      `json:"running"`
}

func NewManager(cfg *config.Config, rt runtime.Driver, prov ImageProvisioner, inst *telemetry.Instruments, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		runtime:   rt,
		provision: prov,
		inst:      inst,
		logger:    logger,
		sessions:  make(map[string]*session),
		locks:     make(map[string]*sync.Mutex),
		streams:   make(map[string]map[string]*Stream),
	}
}

// SetPool makes Create take warm sandboxes from p when it has one.
func (m *Manager) SetPool(p SandboxPool) {
	m.pool = p
}

func (m *Manager) sessionLock(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	mu, ok := m.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[id] = mu
	}
	return mu
}

func (m *Manager) removeSessionLock(id string) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	delete(m.locks, id)
}

func (m *Manager) lookup(id string) (*session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}
