package workspaceengine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/liamcoop/automations/internal/logger"
	"github.com/liamcoop/automations/rules"
)

// ErrWorkspaceNotFound is returned for operations on a workspace that is not loaded
var ErrWorkspaceNotFound = errors.New("workspace not found")

// Workspace pairs a workspace's scoped engine with its payload schema
type Workspace struct {
	ID     string
	Schema Schema
	Engine *rules.Engine

	done chan struct{} // closed when the engine's Run loop returns
}

// Manager owns one scoped rules.Engine per workspace. All engines share the
// rule store and executor; each sees only its workspace's rules plus global
// ones, and processes its events independently of the others.
type Manager struct {
	store    rules.RuleStore
	executor *rules.Executor
	opts     []rules.Option

	workspaces map[string]*Workspace
	runCtx     context.Context // non-nil once Start has been called
	wg         sync.WaitGroup
	log        *slog.Logger
	mu         sync.RWMutex
}

// NewManager creates a manager. opts are applied to every workspace engine,
// before the workspace scope.
func NewManager(store rules.RuleStore, executor *rules.Executor, opts ...rules.Option) *Manager {
	return &Manager{
		store:      store,
		executor:   executor,
		opts:       opts,
		workspaces: make(map[string]*Workspace),
		log:        logger.Component("workspaceengine"),
	}
}

// LoadWorkspaces creates an engine for every active workspace in the database
func (m *Manager) LoadWorkspaces(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `
		SELECT id, schema
		FROM workspaces
		WHERE active = true
		ORDER BY created_at ASC
	`)
	if err != nil {
		return fmt.Errorf("failed to fetch workspaces: %w", err)
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var (
			id         string
			schemaJSON []byte
		)
		if err := rows.Scan(&id, &schemaJSON); err != nil {
			return fmt.Errorf("failed to scan workspace row: %w", err)
		}

		var schema Schema
		if err := json.Unmarshal(schemaJSON, &schema); err != nil {
			return fmt.Errorf("invalid schema for workspace %s: %w", id, err)
		}

		if _, err := m.CreateWorkspace(id, schema); err != nil {
			return fmt.Errorf("failed to initialize workspace %s: %w", id, err)
		}
		loaded++
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating workspace rows: %w", err)
	}

	m.log.Info("workspaces loaded", "count", loaded)
	return nil
}

// CreateWorkspace creates the scoped engine for id. If the manager has been
// started the engine's queue is drained immediately. Creating an existing
// workspace replaces its schema and keeps its engine.
func (m *Manager) CreateWorkspace(id string, schema Schema) (*rules.Engine, error) {
	if id == "" {
		return nil, fmt.Errorf("workspace id cannot be empty")
	}
	if err := ValidateSchema(schema); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if ws, exists := m.workspaces[id]; exists {
		ws.Schema = schema
		return ws.Engine, nil
	}

	opts := append(append([]rules.Option{}, m.opts...),
		rules.WithScope(id),
		rules.WithLogger(m.log.With("workspace", id)),
	)
	engine, err := rules.NewEngine(m.store, m.executor, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	ws := &Workspace{ID: id, Schema: schema, Engine: engine}
	m.workspaces[id] = ws
	if m.runCtx != nil {
		m.run(ws)
	}

	m.log.Info("workspace created", "workspace", id)
	return engine, nil
}

// Engine returns the engine for a workspace
func (m *Manager) Engine(id string) (*rules.Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ws, exists := m.workspaces[id]
	if !exists {
		return nil, fmt.Errorf("workspace %s: %w", id, ErrWorkspaceNotFound)
	}
	return ws.Engine, nil
}

// Schema returns the payload schema for a workspace
func (m *Manager) Schema(id string) (Schema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ws, exists := m.workspaces[id]
	if !exists {
		return nil, fmt.Errorf("workspace %s: %w", id, ErrWorkspaceNotFound)
	}
	return ws.Schema, nil
}

// CheckRule returns schema warnings for a rule scoped to a loaded workspace.
// Rules for unknown workspaces get none.
func (m *Manager) CheckRule(rule *rules.Rule) []string {
	schema, err := m.Schema(rule.WorkspaceID)
	if err != nil {
		return nil
	}
	return schema.CheckRule(rule)
}

// Dispatch processes ev synchronously on the workspace's engine
func (m *Manager) Dispatch(ctx context.Context, id string, ev rules.Event) ([]*rules.Execution, error) {
	engine, err := m.Engine(id)
	if err != nil {
		return nil, err
	}
	return engine.Process(ctx, ev)
}

// Submit queues ev on the workspace's engine
func (m *Manager) Submit(id string, ev rules.Event) error {
	engine, err := m.Engine(id)
	if err != nil {
		return err
	}
	return engine.Submit(ev)
}

// InvalidateAll drops every engine's rule cache. Call it after rules change
// through anything other than a workspace engine, since engines share a store.
func (m *Manager) InvalidateAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ws := range m.workspaces {
		ws.Engine.InvalidateCache()
	}
}

// Start runs the queue of every current and future workspace engine until
// ctx is cancelled or the manager is closed.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.runCtx != nil {
		return
	}
	m.runCtx = ctx
	for _, ws := range m.workspaces {
		m.run(ws)
	}
	m.log.Info("workspace engines started", "count", len(m.workspaces))
}

// run starts ws's Run loop. Callers hold mu.
func (m *Manager) run(ws *Workspace) {
	ws.done = make(chan struct{})
	m.wg.Add(1)
	go func(ctx context.Context) {
		defer m.wg.Done()
		defer close(ws.done)

		if err := ws.Engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.log.Error("workspace engine stopped", "workspace", ws.ID, "error", err)
		}
	}(m.runCtx)
}

// RemoveWorkspace closes the workspace's engine, waits for its queued events
// to drain and forgets it. Rules in the store are not touched.
func (m *Manager) RemoveWorkspace(id string) error {
	m.mu.Lock()
	ws, exists := m.workspaces[id]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("workspace %s: %w", id, ErrWorkspaceNotFound)
	}
	delete(m.workspaces, id)
	m.mu.Unlock()

	ws.Engine.Close()
	if ws.done != nil {
		<-ws.done
	}

	m.log.Info("workspace removed", "workspace", id)
	return nil
}

// Workspaces returns the loaded workspace IDs, sorted
func (m *Manager) Workspaces() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.workspaces))
	for id := range m.workspaces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops intake on every engine and waits for running queues to drain
func (m *Manager) Close() {
	m.mu.RLock()
	for _, ws := range m.workspaces {
		ws.Engine.Close()
	}
	m.mu.RUnlock()

	m.wg.Wait()
}
