package scan

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/inventory-tracker/internal/parsing"
	"github.com/zombor/inventory-tracker/internal/recognition"
)

// ErrScanNotFound is returned for an unknown scan ID, or one that belongs
// to a different owner
var ErrScanNotFound = errors.New("scan not found")

// IDGenerator generates unique IDs for scans
type IDGenerator interface {
	Generate() string
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// Manager keeps the in-memory flows of all owners. Flows that finished more
// than Options.Retention ago, or were left unfinished for Options.IdleTimeout,
// are dropped whenever a new flow starts.
type Manager struct {
	deps        *deps
	idGenerator IDGenerator

	mu    sync.Mutex
	flows map[string]*Flow
}

// NewManager creates a Manager. storage may be nil to skip archiving.
func NewManager(factory recognition.Factory, parser *parsing.Parser, committer Committer, storage Storage, opts Options) *Manager {
	return NewManagerWithDeps(factory, parser, committer, storage, opts, &uuidGenerator{})
}

// NewManagerWithDeps creates a Manager with custom dependencies for testing
func NewManagerWithDeps(factory recognition.Factory, parser *parsing.Parser, committer Committer, storage Storage, opts Options, idGen IDGenerator) *Manager {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	return &Manager{
		deps: &deps{
			factory:   factory,
			parser:    parser,
			committer: committer,
			storage:   storage,
			opts:      opts,
			now:       time.Now,
		},
		idGenerator: idGen,
		flows:       make(map[string]*Flow),
	}
}

// Start creates an idle flow for ownerKey
func (m *Manager) Start(ownerKey string) *Flow {
	m.Prune()
	f := newFlow(m.idGenerator.Generate(), ownerKey, m.deps)

	m.mu.Lock()
	m.flows[f.id] = f
	m.mu.Unlock()

	slog.Info("Scan started", "scan", f.id, "owner", ownerKey)
	return f
}

// Get returns the owner's flow with id
func (m *Manager) Get(ownerKey, id string) (*Flow, error) {
	m.mu.Lock()
	f, ok := m.flows[id]
	m.mu.Unlock()
	if !ok || f.ownerKey != ownerKey {
		return nil, fmt.Errorf("%w: %s", ErrScanNotFound, id)
	}
	return f, nil
}

// Discard cancels the flow when it can be cancelled and forgets it. Flows
// in any state may be discarded; the returned state is the one it ended in.
func (m *Manager) Discard(ownerKey, id string) (State, error) {
	f, err := m.Get(ownerKey, id)
	if err != nil {
		return "", err
	}
	if err := f.Cancel(); err != nil && !errors.Is(err, ErrInvalidTransition) {
		return "", err
	}

	m.mu.Lock()
	delete(m.flows, id)
	m.mu.Unlock()

	return f.State(), nil
}

// Prune drops expired flows and returns how many were dropped. Unfinished
// flows are cancelled first so a running recognition stops.
func (m *Manager) Prune() int {
	now := m.deps.now()

	m.mu.Lock()
	var expired []*Flow
	for id, f := range m.flows {
		if f.expired(now) {
			expired = append(expired, f)
			delete(m.flows, id)
		}
	}
	m.mu.Unlock()

	for _, f := range expired {
		if err := f.Cancel(); err != nil && !errors.Is(err, ErrInvalidTransition) {
			slog.Warn("Failed to cancel expired scan", "scan", f.id, "error", err)
		}
		slog.Info("Scan expired", "scan", f.id, "owner", f.ownerKey, "state", f.State())
	}
	return len(expired)
}

// Len returns the number of flows held
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.flows)
}
