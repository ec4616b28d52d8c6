// Package sources provides the concrete mcpmux.Source implementations:
// one per external CLI tool, grounded on the config-file and process
// idioms of cmd/agently's mcp/instance-detect commands, plus the
// in-process "local" source.
package sources

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentcore/deskrt/internal/mcpmux"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

func stripANSI(s string) string { return ansiPattern.ReplaceAllString(s, "") }

// cliServerEntry is the YAML-persisted shape for one CLI-managed server.
type cliServerEntry struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"`
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	Enabled   bool              `yaml:"enabled"`
}

type cliConfig struct {
	Servers []cliServerEntry `yaml:"servers"`
}

// CLISource drives one external tool's `<cli> mcp` subcommand family.
type CLISource struct {
	name       string
	cliPath    string
	configPath string
	listArgs   []string
	addArgs    func(mcpmux.MCPServer) []string
	removeArgs func(name string) []string
	prober     Prober
}

// NewCLISource builds a CLISource for a tool identified by name, invoked via
// cliPath, persisting its own config at configPath. listArgs/addArgs/
// removeArgs let each external tool's CLI dialect differ while sharing the
// detect-retry and remove-fallback machinery below.
func NewCLISource(name, cliPath, configPath string, listArgs []string, addArgs func(mcpmux.MCPServer) []string, removeArgs func(string) []string, prober Prober) *CLISource {
	if configPath == "" {
		configPath = defaultConfigPath(name)
	}
	return &CLISource{
		name: name, cliPath: cliPath, configPath: configPath,
		listArgs: listArgs, addArgs: addArgs, removeArgs: removeArgs, prober: prober,
	}
}

func (s *CLISource) Name() string { return s.name }

func defaultConfigPath(tool string) string {
	if home, _ := os.UserHomeDir(); home != "" {
		return filepath.Join(home, "."+tool, "mcp.yaml")
	}
	return filepath.FromSlash("./" + tool + "/mcp.yaml")
}

func loadCLIConfig(path string) (*cliConfig, error) {
	cfg := &cliConfig{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func saveCLIConfig(path string, cfg *cliConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Detect shells out to the tool's `mcp list` command and parses its
// line-oriented, ANSI-stripped output. Truncated output (fewer fields than
// the expected "name transport status" triple) is retried up to 3 times
// with a short backoff per spec §8 scenario 5.
func (s *CLISource) Detect(ctx context.Context) ([]mcpmux.MCPServer, error) {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		servers, truncated, err := s.detectOnce(ctx)
		if err == nil && !truncated {
			return servers, nil
		}
		lastErr = err
		if attempt < 3 {
			time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("cli detect %s: %w", s.name, lastErr)
	}
	return nil, fmt.Errorf("cli detect %s: output truncated after 3 attempts", s.name)
}

func (s *CLISource) detectOnce(ctx context.Context) ([]mcpmux.MCPServer, bool, error) {
	cmd := exec.CommandContext(ctx, s.cliPath, s.listArgs...)
	out, err := cmd.Output()
	if err != nil {
		return nil, false, err
	}
	text := stripANSI(string(out))
	lines := strings.Split(text, "\n")

	var servers []mcpmux.MCPServer
	truncated := false
	now := time.Now()
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			truncated = true
			continue
		}
		name, transport, statusWord := fields[0], fields[1], fields[2]
		status := mcpmux.StatusDisconnected
		var tools []string
		if strings.EqualFold(statusWord, "connected") {
			status = mcpmux.StatusConnected
			if s.prober != nil {
				if res := s.prober.Probe(ctx, mcpmux.Transport(transport), strings.Join(fields[3:], " ")); res.Success {
					tools = res.Tools
				}
			}
		}
		servers = append(servers, mcpmux.MCPServer{
			ID: s.name + ":" + name, Name: name, Transport: mcpmux.Transport(transport),
			Tools: tools, Enabled: true, Status: status, CreatedAt: now, UpdatedAt: now,
		})
	}
	return servers, truncated, nil
}

// Install issues a `mcp add` invocation per server in sequence, recording a
// per-server outcome; it never aborts the batch on one failure, and skips
// unsupported transports with a warning outcome rather than erroring.
func (s *CLISource) Install(ctx context.Context, servers []mcpmux.MCPServer) ([]mcpmux.InstallOutcome, error) {
	cfg, err := loadCLIConfig(s.configPath)
	if err != nil {
		return nil, fmt.Errorf("cli install %s: load config: %w", s.name, err)
	}

	outcomes := make([]mcpmux.InstallOutcome, 0, len(servers))
	for _, srv := range servers {
		if s.addArgs == nil {
			outcomes = append(outcomes, mcpmux.InstallOutcome{Name: srv.Name, Success: false, Error: "unsupported transport"})
			continue
		}
		args := s.addArgs(srv)
		if args == nil {
			outcomes = append(outcomes, mcpmux.InstallOutcome{Name: srv.Name, Success: false, Error: "unsupported transport " + string(srv.Transport)})
			continue
		}
		cmd := exec.CommandContext(ctx, s.cliPath, args...)
		if err := cmd.Run(); err != nil {
			outcomes = append(outcomes, mcpmux.InstallOutcome{Name: srv.Name, Success: false, Error: err.Error()})
			continue
		}
		recordInstalledServer(cfg, srv)
		outcomes = append(outcomes, mcpmux.InstallOutcome{Name: srv.Name, Success: true})
	}

	if err := saveCLIConfig(s.configPath, cfg); err != nil {
		return outcomes, fmt.Errorf("cli install %s: save config: %w", s.name, err)
	}
	return outcomes, nil
}

func recordInstalledServer(cfg *cliConfig, srv mcpmux.MCPServer) {
	entry := cliServerEntry{
		Name: srv.Name, Transport: string(srv.Transport), Command: srv.Command,
		Args: srv.Args, URL: srv.URL, Env: srv.Env, Enabled: srv.Enabled,
	}
	for i, existing := range cfg.Servers {
		if existing.Name == srv.Name {
			cfg.Servers[i] = entry
			return
		}
	}
	cfg.Servers = append(cfg.Servers, entry)
}

// Remove runs the tool's remove command once; no alternate scopes are
// tried. Output containing "not found" is treated as success. The YAML
// config written by Install is left unchanged.
func (s *CLISource) Remove(ctx context.Context, name string) error {
	if s.removeArgs == nil {
		return nil
	}
	cmd := exec.CommandContext(ctx, s.cliPath, s.removeArgs(name)...)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(string(out)), "not found") {
		return nil
	}
	return fmt.Errorf("cli remove %s/%s: %w", s.name, name, err)
}

func (s *CLISource) TestConnection(ctx context.Context, server mcpmux.MCPServer) mcpmux.TestResult {
	if s.prober == nil {
		return mcpmux.TestResult{Success: false, Error: "no prober configured"}
	}
	return s.prober.Probe(ctx, server.Transport, server.URL)
}
