package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentcore/deskrt/internal/apperr"
	"github.com/agentcore/deskrt/internal/storage"
	"github.com/agentcore/deskrt/internal/streambuf"
	"github.com/agentcore/deskrt/pkg/deskrt/conversation"
)

// Backend resolves a conversation's worker-construction inputs (the codex/acp
// command and args to spawn, the integrated Generator to use) from its Type
// and Extra fields. Supplied by cmd/deskrtd's wiring so this package stays
// free of any concrete agent-client dependency.
type Backend interface {
	IntegratedGenerator(c conversation.Conversation) Generator
	ACPCommand(c conversation.Conversation) (cmd string, args []string)
	CodexCommand(c conversation.Conversation) (cmd string, args []string)
}

// Manager is the process-wide conversation_id -> worker registry of spec
// §4.5: lazy rebuild, per-id mutex for builds, global RWMutex for
// enumeration.
type Manager struct {
	store    *storage.Store
	buf      *streambuf.Buffer
	sink     EventSink
	registry CancelRegistry
	backend  Backend

	mu      sync.RWMutex
	workers map[string]Worker
	locks   map[string]*sync.Mutex
}

// NewManager wires a Manager over the given storage/streaming/event-sink
// components. backend supplies the per-variant construction recipe.
func NewManager(store *storage.Store, buf *streambuf.Buffer, sink EventSink, backend Backend) *Manager {
	return &Manager{
		store:    store,
		buf:      buf,
		sink:     sink,
		registry: NewCancelRegistry(),
		backend:  backend,
		workers:  make(map[string]Worker),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (m *Manager) idLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// GetTaskByID returns the registered worker for id, or (nil, false) if none
// exists yet.
func (m *Manager) GetTaskByID(id string) (Worker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[id]
	return w, ok
}

// BuildConversation creates and registers a worker for c, or returns the
// already-registered one (idempotent on existing id).
func (m *Manager) BuildConversation(ctx context.Context, c conversation.Conversation) (Worker, error) {
	lock := m.idLock(c.ID)
	lock.Lock()
	defer lock.Unlock()

	if w, ok := m.GetTaskByID(c.ID); ok {
		return w, nil
	}
	w, err := m.build(ctx, c)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.workers[c.ID] = w
	m.mu.Unlock()
	return w, nil
}

func (m *Manager) build(ctx context.Context, c conversation.Conversation) (Worker, error) {
	switch c.Type {
	case conversation.TypeIntegrated:
		gen := m.backend.IntegratedGenerator(c)
		return NewIntegratedWorker(c.ID, c.Extra.Workspace, m.store, m.buf, m.sink, m.registry, gen), nil
	case conversation.TypeACP:
		cmdName, args := m.backend.ACPCommand(c)
		return NewACPWorker(ctx, c.ID, c.Extra.Workspace, cmdName, args, m.store, m.buf, m.sink, m.registry)
	case conversation.TypeCodex:
		cmdName, args := m.backend.CodexCommand(c)
		return NewCodexWorker(ctx, c.ID, c.Extra.Workspace, cmdName, args, m.store, m.buf, m.sink, m.registry)
	default:
		return nil, fmt.Errorf("unknown conversation type %q: %w", c.Type, apperr.Unsupported)
	}
}

// GetTaskByIDRollbackBuild returns the registered worker for id; if absent,
// it loads the conversation row from storage, constructs the worker,
// registers it, and returns it. Returns apperr.NotFound if the conversation
// does not exist in storage either.
func (m *Manager) GetTaskByIDRollbackBuild(ctx context.Context, id string) (Worker, error) {
	if w, ok := m.GetTaskByID(id); ok {
		return w, nil
	}
	c, err := m.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.BuildConversation(ctx, c)
}

// Kill cancels the turn, closes any subprocess, and unregisters id's worker.
func (m *Manager) Kill(id string) {
	lock := m.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	w, ok := m.workers[id]
	if ok {
		delete(m.workers, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.registry.CancelConversation(id)
	_ = w.Close()
}

// Clear kills every registered worker.
func (m *Manager) Clear() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.Kill(id)
	}
}

// NotifyUpdated applies the Worker Manager's rebuild policy of spec §4.5:
// when modelChanged is true the worker is killed so the next send rebuilds
// it against the updated conversation row.
func (m *Manager) NotifyUpdated(id string, modelChanged bool) {
	if modelChanged {
		m.Kill(id)
	}
}
