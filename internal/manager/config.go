package manager

import (
	"time"

	"github.com/rs/zerolog"

	"loopd/internal/genloop"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxSessions  = 4
	defaultMaxWait      = 30 * time.Second
	defaultDrainTimeout = 10 * time.Second
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	// Defaults are the loop parameters requests are applied on top of.
	Defaults genloop.Params
	// Factory builds the model runtime for each session.
	Factory RuntimeFactory
	// CacheDir holds session cache files; empty disables caches.
	CacheDir string
	// MaxSessions bounds concurrently running sessions.
	MaxSessions int
	// MaxWait is how long Start waits for a free slot before reporting 429.
	MaxWait time.Duration
	// DrainTimeout bounds how long Remove and Close wait for a loop to stop.
	DrainTimeout time.Duration
	// Publisher receives loop events from every session (metrics).
	Publisher genloop.EventPublisher
	Logger    *zerolog.Logger
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		state:     StateReady,
		defaults:  cfg.Defaults,
		factory:   cfg.Factory,
		cacheDir:  cfg.CacheDir,
		sessions:  make(map[string]*Session),
		caches:    make(map[string]string),
		publisher: cfg.Publisher,
		log:       zerolog.Nop(),
	}
	// Apply defaults if unset
	if cfg.MaxSessions <= 0 {
		m.maxSessions = defaultMaxSessions
	} else {
		m.maxSessions = cfg.MaxSessions
	}
	if cfg.MaxWait <= 0 {
		m.maxWait = defaultMaxWait
	} else {
		m.maxWait = cfg.MaxWait
	}
	if cfg.DrainTimeout <= 0 {
		m.drainTimeout = defaultDrainTimeout
	} else {
		m.drainTimeout = cfg.DrainTimeout
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	if cfg.Logger != nil {
		m.log = *cfg.Logger
	}
	m.slots = make(chan struct{}, m.maxSessions)
	m.startTime = time.Now()
	return m
}
