// Package nodemanager keeps the running controller of every configured node.
package nodemanager

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/liamcoop/timecontrol/config"
	"github.com/liamcoop/timecontrol/controller"
	"github.com/liamcoop/timecontrol/internal/logger"
	"github.com/liamcoop/timecontrol/rules"
)

var (
	ErrNodeNotFound = errors.New("node not found")
	ErrNodeExists   = errors.New("node already exists")
)

// Registry persists node definitions. PostgresRuleStore implements it.
type Registry interface {
	EnsureNode(nodeID string, definition any) error
	DeleteNode(nodeID string) error
}

// Node is a running node.
type Node struct {
	Config     config.Node
	Controller *controller.Controller
	LoadedAt   time.Time
}

// Manager manages the controllers of all nodes.
type Manager struct {
	nodes    map[string]*Node
	deps     controller.Deps
	registry Registry
	db       *sql.DB
	log      *slog.Logger
	mu       sync.RWMutex
}

// NewManager creates a manager whose controllers share deps. With a database, rules
// and node definitions are kept in postgres; otherwise deps.Rules (or an in-memory
// store) holds the rules and definitions live only in memory.
func NewManager(deps controller.Deps, db *sql.DB) *Manager {
	m := &Manager{
		nodes: make(map[string]*Node),
		db:    db,
		log:   logger.OrDefault(deps.Logger, "nodemanager"),
	}
	if db != nil {
		store := rules.NewPostgresRuleStore(db)
		deps.Rules = store
		m.registry = store
	}
	if deps.Rules == nil {
		deps.Rules = rules.NewInMemoryRuleStore()
	}
	m.deps = deps
	return m
}

// LoadAll starts a controller for every node stored in the database. Rules are taken
// from the rule store as they are, keeping their enabled state.
func (m *Manager) LoadAll() error {
	if m.db == nil {
		return nil
	}

	rows, err := m.db.Query(`SELECT id, definition FROM nodes ORDER BY id`)
	if err != nil {
		return fmt.Errorf("failed to fetch nodes: %w", err)
	}
	defer rows.Close()

	var defs []config.Node
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return fmt.Errorf("failed to scan node row: %w", err)
		}
		var n config.Node
		if err := json.Unmarshal(raw, &n); err != nil {
			return fmt.Errorf("invalid definition for node %s: %w", id, err)
		}
		n.ID = id
		defs = append(defs, n)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating node rows: %w", err)
	}

	for _, n := range defs {
		c, err := controller.New(controller.Config{NodeID: n.ID, Settings: n.Settings}, m.deps)
		if err != nil {
			return fmt.Errorf("failed to initialize node %s: %w", n.ID, err)
		}
		m.mu.Lock()
		m.nodes[n.ID] = &Node{Config: n, Controller: c, LoadedAt: time.Now()}
		m.mu.Unlock()
	}

	m.log.Info("nodes loaded", slog.Int("count", len(defs)))
	return nil
}

// LoadDir creates or replaces a node for every definition file in dir.
func (m *Manager) LoadDir(dir string) error {
	defs, err := config.LoadNodeDir(dir)
	if err != nil {
		return err
	}
	for _, n := range defs {
		if err := m.UpdateNode(n); err != nil {
			return fmt.Errorf("node %s: %w", n.ID, err)
		}
	}
	m.log.Info("node files loaded", slog.String("dir", dir), slog.Int("count", len(defs)))
	return nil
}

// CreateNode validates n, stores it and starts its controller.
func (m *Manager) CreateNode(n config.Node) error {
	if err := ValidateConfig(n); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.nodes[n.ID]; exists {
		return fmt.Errorf("%w: %s", ErrNodeExists, n.ID)
	}
	node, err := m.start(n)
	if err != nil {
		return err
	}
	m.nodes[n.ID] = node
	m.log.Info("node created", slog.String("node", n.ID), slog.Int("rules", len(n.Rules)))
	return nil
}

// UpdateNode replaces the definition of a node, creating it when missing. The old
// controller is shut down (persisting its state) before the new one restores it, and
// the swap happens under the manager lock so no caller sees a half-replaced node. When
// the new definition cannot be started the old one is started again.
func (m *Manager) UpdateNode(n config.Node) error {
	if err := ValidateConfig(n); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	old, exists := m.nodes[n.ID]
	if exists {
		old.Controller.Shutdown()
		delete(m.nodes, n.ID)
	}

	node, err := m.start(n)
	if err != nil {
		if !exists {
			return err
		}
		restored, rerr := m.start(old.Config)
		if rerr != nil {
			return errors.Join(err, fmt.Errorf("failed to restore node %s: %w", n.ID, rerr))
		}
		m.nodes[n.ID] = restored
		m.log.Warn("node update failed, previous definition restored",
			slog.String("node", n.ID), slog.Any("error", err))
		return err
	}
	m.nodes[n.ID] = node

	if exists {
		m.log.Info("node replaced", slog.String("node", n.ID), slog.Int("rules", len(n.Rules)))
	} else {
		m.log.Info("node created", slog.String("node", n.ID), slog.Int("rules", len(n.Rules)))
	}
	return nil
}

// start must be called with m.mu held.
func (m *Manager) start(n config.Node) (*Node, error) {
	if m.registry != nil {
		if err := m.registry.EnsureNode(n.ID, n); err != nil {
			return nil, err
		}
	}
	rawRules := n.Rules
	if rawRules == nil {
		rawRules = []rules.RawRule{}
	}
	c, err := controller.New(controller.Config{NodeID: n.ID, Settings: n.Settings, Rules: rawRules}, m.deps)
	if err != nil {
		return nil, fmt.Errorf("failed to create controller: %w", err)
	}
	return &Node{Config: n, Controller: c, LoadedAt: time.Now()}, nil
}

// GetNode returns a running node.
func (m *Manager) GetNode(id string) (*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, exists := m.nodes[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return n, nil
}

// Evaluate runs one event through a node.
func (m *Manager) Evaluate(ctx context.Context, id string, ev controller.Event, now time.Time) (*controller.Result, error) {
	n, err := m.GetNode(id)
	if err != nil {
		return nil, err
	}
	return n.Controller.Evaluate(ctx, ev, now)
}

// ListNodes returns the ids of all running nodes, sorted.
func (m *Manager) ListNodes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.nodes))
	for id := range m.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DeleteNode stops a node and removes its definition and rules.
func (m *Manager) DeleteNode(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, exists := m.nodes[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	n.Controller.Shutdown()
	delete(m.nodes, id)

	if m.registry != nil {
		return m.registry.DeleteNode(id)
	}
	return rules.ReplaceNode(m.deps.Rules, id, nil)
}

// Shutdown stops every node.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, n := range m.nodes {
		n.Controller.Shutdown()
		delete(m.nodes, id)
	}
}
