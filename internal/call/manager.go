package call

import (
	"errors"
	"sync"

	"github.com/knowledgehunter6/main-line/internal/gateway"
	"github.com/knowledgehunter6/main-line/internal/observe"
	"github.com/knowledgehunter6/main-line/internal/scoring"
)

// Manager hands out one controller per trainee, created lazily on first
// use. Controllers share the gateway, evaluator and store; the single
// call-at-a-time invariant holds per trainee.
type Manager struct {
	st      Store
	gw      *gateway.Gateway
	eval    *scoring.Evaluator
	metrics *observe.Metrics

	mu          sync.Mutex
	controllers map[string]*Controller
}

// ManagerConfig holds the dependencies shared by all controllers.
type ManagerConfig struct {
	Store     Store
	Gateway   *gateway.Gateway
	Evaluator *scoring.Evaluator
	Metrics   *observe.Metrics
}

// NewManager validates the shared dependencies.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("call: store is required")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("call: gateway is required")
	}
	return &Manager{
		st:          cfg.Store,
		gw:          cfg.Gateway,
		eval:        cfg.Evaluator,
		metrics:     cfg.Metrics,
		controllers: make(map[string]*Controller),
	}, nil
}

// Controller returns the trainee's controller, creating it on first use.
func (m *Manager) Controller(traineeID string) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.controllers[traineeID]; ok {
		return c, nil
	}
	c, err := NewController(Config{
		TraineeID: traineeID,
		Store:     m.st,
		Gateway:   m.gw,
		Evaluator: m.eval,
		Metrics:   m.metrics,
	})
	if err != nil {
		return nil, err
	}
	m.controllers[traineeID] = c
	return c, nil
}

// Close ends every active call and releases all capture devices.
func (m *Manager) Close() error {
	m.mu.Lock()
	controllers := make([]*Controller, 0, len(m.controllers))
	for _, c := range m.controllers {
		controllers = append(controllers, c)
	}
	m.controllers = make(map[string]*Controller)
	m.mu.Unlock()

	var errs error
	for _, c := range controllers {
		errs = errors.Join(errs, c.Close())
	}
	return errs
}
