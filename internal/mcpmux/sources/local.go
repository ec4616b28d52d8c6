package sources

import (
	"context"
	"sync"

	"github.com/agentcore/deskrt/internal/mcpmux"
)

// LocalSource is the in-process "local"/integrated source: it reads and
// writes a central config blob directly rather than shelling out. Its
// Remove is an intentionally asymmetric no-op (spec §9 Open Question):
// ownership of the central blob stays with the UI/bridge caller, so this
// source reports success without mutating anything.
type LocalSource struct {
	configPath string
	prober     Prober

	mu sync.Mutex
}

// NewLocalSource builds a LocalSource persisting its blob at configPath.
func NewLocalSource(configPath string, prober Prober) *LocalSource {
	if configPath == "" {
		configPath = defaultConfigPath("local")
	}
	return &LocalSource{configPath: configPath, prober: prober}
}

func (s *LocalSource) Name() string { return "local" }

func (s *LocalSource) Detect(ctx context.Context) ([]mcpmux.MCPServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := loadCLIConfig(s.configPath)
	if err != nil {
		return nil, err
	}
	out := make([]mcpmux.MCPServer, 0, len(cfg.Servers))
	for _, entry := range cfg.Servers {
		status := mcpmux.StatusDisconnected
		var tools []string
		if s.prober != nil {
			target := entry.URL
			if target == "" {
				target = entry.Command
			}
			if res := s.prober.Probe(ctx, mcpmux.Transport(entry.Transport), target); res.Success {
				status = mcpmux.StatusConnected
				tools = res.Tools
			}
		}
		out = append(out, mcpmux.MCPServer{
			ID: "local:" + entry.Name, Name: entry.Name, Transport: mcpmux.Transport(entry.Transport),
			Command: entry.Command, Args: entry.Args, URL: entry.URL, Env: entry.Env,
			Tools: tools, Enabled: entry.Enabled, Status: status,
		})
	}
	return out, nil
}

func (s *LocalSource) Install(ctx context.Context, servers []mcpmux.MCPServer) ([]mcpmux.InstallOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := loadCLIConfig(s.configPath)
	if err != nil {
		return nil, err
	}
	outcomes := make([]mcpmux.InstallOutcome, 0, len(servers))
	for _, srv := range servers {
		recordInstalledServer(cfg, srv)
		outcomes = append(outcomes, mcpmux.InstallOutcome{Name: srv.Name, Success: true})
	}
	if err := saveCLIConfig(s.configPath, cfg); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// Remove is an asymmetric no-op: see the type doc.
func (s *LocalSource) Remove(ctx context.Context, name string) error { return nil }

func (s *LocalSource) TestConnection(ctx context.Context, server mcpmux.MCPServer) mcpmux.TestResult {
	if s.prober == nil {
		return mcpmux.TestResult{Success: false, Error: "no prober configured"}
	}
	target := server.URL
	if target == "" {
		target = server.Command
	}
	return s.prober.Probe(ctx, server.Transport, target)
}
