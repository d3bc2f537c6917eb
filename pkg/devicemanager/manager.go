package devicemanager

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"syscall"
)

const brokerServiceName = "broker"

// Config parameterizes one Manager.
type Config struct {
	BrokerPath string
	BrokerArgs []string

	SMIOPath string
	// SMIOArgsFor builds argv for the SMIO worker covering ep, per
	// spec §4.6 "children inherit log-file paths and a broker endpoint
	// URL via argv".
	SMIOArgsFor func(ep Endpoint) []string

	// RespawnKilledWorkers mirrors the source's respawn_killed_devio
	// flag: restart a worker whose process exited, via the same spawn
	// hook. The broker is always respawned regardless of this flag.
	RespawnKilledWorkers bool
}

// Manager is the device-manager root process: ensures the broker is
// running, discovers endpoints, spawns one worker per endpoint, and
// reaps/respawns children.
type Manager struct {
	logger   *slog.Logger
	cfg      Config
	scanner  Scanner
	spawn    SpawnFunc
	registry *Registry

	brokerRunning atomic.Bool
	reapCh        chan string
}

// New builds a Manager. spawn is injected so tests can substitute a
// fake process (spec §4.6's "function pointer" requirement).
func New(cfg Config, scanner Scanner, spawn SpawnFunc, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:   logger.With("component", "devicemanager"),
		cfg:      cfg,
		scanner:  scanner,
		spawn:    spawn,
		registry: NewRegistry(),
		reapCh:   make(chan string, 16),
	}
}

// Registry exposes the manager's bookkeeping, mainly for tests.
func (m *Manager) Registry() *Registry { return m.registry }

// BrokerRunning reports the current broker-liveness bit (spec §4.6).
func (m *Manager) BrokerRunning() bool { return m.brokerRunning.Load() }

// Bootstrap scans for endpoints, registers them (idempotently),
// ensures the broker is running, and spawns a worker for every
// endpoint without one yet. Call Run afterward to supervise.
func (m *Manager) Bootstrap() error {
	m.registry.RegisterBroker(brokerServiceName, m.cfg.BrokerArgs)
	m.ensureBroker()

	eps, err := m.scanner.Scan()
	if err != nil {
		return fmt.Errorf("devicemanager: scan: %w", err)
	}
	for _, ep := range eps {
		args := m.cfg.SMIOArgsFor(ep)
		if m.registry.RegisterWorker(ep.Name, ep, args) {
			m.logger.Info("discovered endpoint", "endpoint", ep.Name)
		}
	}
	for _, e := range m.registry.All() {
		if !e.isBroker && e.child == nil {
			m.spawnEntry(e)
		}
	}
	return nil
}

func (m *Manager) ensureBroker() {
	if m.brokerRunning.Load() {
		return
	}
	e, _ := m.registry.get(brokerServiceName)
	m.spawnEntry(e)
	m.brokerRunning.Store(true)
}

func (m *Manager) binaryFor(e *entry) string {
	if e.isBroker {
		return m.cfg.BrokerPath
	}
	return m.cfg.SMIOPath
}

func (m *Manager) spawnEntry(e *entry) {
	c, err := m.spawn(m.binaryFor(e), e.spawnArgs)
	if err != nil {
		m.logger.Error("spawn failed", "child", e.name, "err", err)
		return
	}
	m.registry.setChild(e.name, c)
	m.logger.Info("spawned", "child", e.name, "pid", c.Pid())
	go m.watch(e.name, c)
}

// watch blocks until c exits and enqueues a reap event.
func (m *Manager) watch(name string, c Child) {
	c.Wait()
	m.reapCh <- name
}

// ReapOnce drains and processes at most one pending reap event,
// returning false if none was pending. Exposed so tests can drive the
// respawn path deterministically instead of racing a background loop.
func (m *Manager) ReapOnce() bool {
	select {
	case name := <-m.reapCh:
		m.handleExit(name)
		return true
	default:
		return false
	}
}

// Run drains reap events until stop is closed, respawning as
// configured, and signals every live child on exit.
func (m *Manager) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			m.terminateAll()
			return
		case name := <-m.reapCh:
			m.handleExit(name)
		}
	}
}

func (m *Manager) handleExit(name string) {
	e, ok := m.registry.get(name)
	if !ok {
		return
	}
	e.child = nil
	m.logger.Info("child exited", "child", name)

	if e.isBroker {
		m.brokerRunning.Store(false)
		m.ensureBroker()
		return
	}
	if e.desiredAlive && m.cfg.RespawnKilledWorkers {
		m.ensureBroker() // broker respawns first, per spec §4.6
		m.spawnEntry(e)
	}
}

func (m *Manager) terminateAll() {
	for _, e := range m.registry.All() {
		if e.child != nil {
			e.child.Signal(syscall.SIGTERM)
		}
	}
}
