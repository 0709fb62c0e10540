package manager

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lunad/internal/session"
	"lunad/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
)

// Config encapsulates all tunables for Manager construction.
type Config struct {
	Registry     []types.Model
	DefaultModel string

	// Engine / session configuration passed through on load.
	Threads      int
	ContextSize  int
	SystemPrompt string
	Prefix       string
	Suffix       string
	StopPatterns []string
	MaxTokens    int

	// Admission tunables.
	MaxQueueDepth int
	MaxWait       time.Duration

	// Logger is optional; nil disables manager logging.
	Logger *zerolog.Logger
}

type Manager struct {
	mu       sync.RWMutex
	state    State
	lastErr  string
	registry []types.Model

	defaultModel string
	cfg          Config

	// Live session (nil until the first generation or after a reset).
	sess        *session.Session
	sessModelID string
	lastUsed    time.Time

	generations uint64
	loadsTotal  uint64
	resetsTotal uint64
	startTime   time.Time

	// loadMu serializes session open/close against generations.
	loadMu sync.Mutex

	// Queueing primitives: queueCh bounds waiters, genCh is the single
	// in-flight generation slot (the session context is mutated in place).
	maxQueueDepth int
	maxWait       time.Duration
	queueCh       chan struct{}
	genCh         chan struct{}

	log zerolog.Logger
}

// New constructs a Manager with package defaults.
func New(reg []types.Model, defaultModel string) *Manager {
	return NewWithConfig(Config{Registry: reg, DefaultModel: defaultModel})
}

// NewWithConfig constructs a Manager from Config.
func NewWithConfig(cfg Config) *Manager {
	m := &Manager{
		state:        StateIdle,
		registry:     cfg.Registry,
		defaultModel: cfg.DefaultModel,
		cfg:          cfg,
		log:          zerolog.Nop(),
		startTime:    time.Now(),
	}
	if cfg.Logger != nil {
		m.log = *cfg.Logger
	}
	if cfg.MaxQueueDepth <= 0 {
		m.maxQueueDepth = defaultMaxQueueDepth
	} else {
		m.maxQueueDepth = cfg.MaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		m.maxWait = defaultMaxWait
	} else {
		m.maxWait = cfg.MaxWait
	}
	m.queueCh = make(chan struct{}, m.maxQueueDepth)
	m.genCh = make(chan struct{}, 1)
	return m
}

// Ready reports whether a primed session is available.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateReady && m.sess != nil
}

// ListModels returns a copy of the registry.
func (m *Manager) ListModels() []types.Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Model, len(m.registry))
	copy(out, m.registry)
	return out
}

// Close releases the live session, if any. Like Reset it takes the
// in-flight slot first, so it blocks until a streaming generation ends.
func (m *Manager) Close() error {
	m.genCh <- struct{}{}
	defer func() { <-m.genCh }()
	m.loadMu.Lock()
	defer m.loadMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return nil
	}
	err := m.sess.Close()
	m.sess = nil
	m.sessModelID = ""
	m.state = StateIdle
	return err
}

// Helper: find model in registry by id.
func (m *Manager) getModelByID(id string) (types.Model, bool) {
	for _, mdl := range m.registry {
		if mdl.ID == id {
			return mdl, true
		}
	}
	return types.Model{}, false
}
