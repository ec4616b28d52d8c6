package mcpmux

import (
	"context"
	"os/exec"
	"sync"

	"golang.org/x/sync/errgroup"
)

// queuedSource wraps a Source with its own FIFO queue so detect/install/
// remove never run concurrently against the same external tool.
type queuedSource struct {
	src   Source
	queue *fifoQueue
}

// Multiplexer aggregates per-source operations into the fan-out API of
// spec §4.6.
type Multiplexer struct {
	mu      sync.RWMutex
	sources map[string]*queuedSource
}

// NewMultiplexer returns an empty Multiplexer; sources are registered via
// Register.
func NewMultiplexer() *Multiplexer {
	return &Multiplexer{sources: make(map[string]*queuedSource)}
}

// Register adds src under its own name, starting its FIFO queue.
func (m *Multiplexer) Register(src Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[src.Name()] = &queuedSource{src: src, queue: newFIFOQueue()}
}

// Close stops every source's queue.
func (m *Multiplexer) Close() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, qs := range m.sources {
		qs.queue.close()
	}
}

func (m *Multiplexer) get(name string) (*queuedSource, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	qs, ok := m.sources[name]
	return qs, ok
}

// integratedSourceName is the source that represents the in-process agent;
// when it is one of the requested agents, and the external "codex" CLI is
// also present on PATH, detect includes it as an extra target even if the
// caller didn't name it explicitly (spec §4.6).
const integratedSourceName = "local"
const extraDetectPathTool = "codex"

// GetAgentMcpConfigs fans detect out in parallel, one per agent, and
// collects non-empty results.
func (m *Multiplexer) GetAgentMcpConfigs(ctx context.Context, agents []string) (map[string][]MCPServer, error) {
	targets := append([]string(nil), agents...)
	for _, a := range agents {
		if a == integratedSourceName {
			if _, err := exec.LookPath(extraDetectPathTool); err == nil {
				targets = append(targets, extraDetectPathTool)
			}
			break
		}
	}

	results := make(map[string][]MCPServer, len(targets))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, agent := range targets {
		agent := agent
		qs, ok := m.get(agent)
		if !ok {
			continue
		}
		g.Go(func() error {
			var servers []MCPServer
			var err error
			qs.queue.submit(gctx, func(ctx context.Context) {
				servers, err = qs.src.Detect(ctx)
			})
			if err != nil {
				return nil // detect failures are per-agent, not fatal to the batch
			}
			if len(servers) == 0 {
				return nil
			}
			mu.Lock()
			results[agent] = servers
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// SyncMcpToAgents filters to enabled servers and fans install out across
// agents in parallel.
func (m *Multiplexer) SyncMcpToAgents(ctx context.Context, servers []MCPServer, agents []string) (map[string][]InstallOutcome, error) {
	enabled := make([]MCPServer, 0, len(servers))
	for _, s := range servers {
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}

	results := make(map[string][]InstallOutcome, len(agents))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, agent := range agents {
		agent := agent
		qs, ok := m.get(agent)
		if !ok {
			continue
		}
		g.Go(func() error {
			var outcomes []InstallOutcome
			var err error
			qs.queue.submit(gctx, func(ctx context.Context) {
				outcomes, err = qs.src.Install(ctx, enabled)
			})
			mu.Lock()
			if err != nil {
				results[agent] = []InstallOutcome{{Success: false, Error: err.Error()}}
			} else {
				results[agent] = outcomes
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// RemoveMcpFromAgents fans remove(name) out across agents in parallel.
func (m *Multiplexer) RemoveMcpFromAgents(ctx context.Context, name string, agents []string) (map[string]AgentOutcome, error) {
	results := make(map[string]AgentOutcome, len(agents))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, agent := range agents {
		agent := agent
		qs, ok := m.get(agent)
		if !ok {
			continue
		}
		g.Go(func() error {
			var err error
			qs.queue.submit(gctx, func(ctx context.Context) {
				err = qs.src.Remove(ctx, name)
			})
			mu.Lock()
			if err != nil {
				results[agent] = AgentOutcome{Agent: agent, Success: false, Error: err.Error()}
			} else {
				results[agent] = AgentOutcome{Agent: agent, Success: true}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// TestMcpConnection delegates directly to the named source's TestConnection,
// bypassing the FIFO queue since it is read-only and latency-sensitive.
func (m *Multiplexer) TestMcpConnection(ctx context.Context, agent string, server MCPServer) (TestResult, bool) {
	qs, ok := m.get(agent)
	if !ok {
		return TestResult{}, false
	}
	return qs.src.TestConnection(ctx, server), true
}
