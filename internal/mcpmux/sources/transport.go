package sources

import (
	"context"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/viant/mcp"
	protoclient "github.com/viant/mcp-protocol/client"
	mcpclient "github.com/viant/mcp/client"

	"github.com/agentcore/deskrt/internal/mcpmux"
)

// Prober opens a short-lived transport-specific client against target,
// lists tools, and closes, per spec §4.6's testConnection/detect-probe
// contract. Grounded on internal/mcp/manager/manager.go's mcp.NewClient
// usage.
type Prober interface {
	Probe(ctx context.Context, transport mcpmux.Transport, target string) mcpmux.TestResult
}

type clientProber struct {
	timeout time.Duration
}

// NewProber returns a Prober covering stdio/sse/http/streamable_http, each
// with its own timeout (default 10s per spec §5).
func NewProber(timeout time.Duration) Prober {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &clientProber{timeout: timeout}
}

func (p *clientProber) Probe(ctx context.Context, transport mcpmux.Transport, target string) mcpmux.TestResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	switch transport {
	case mcpmux.TransportStdio:
		return p.probeStdio(ctx, target)
	case mcpmux.TransportSSE:
		return p.probeHTTPFamily(ctx, "sse", target)
	case mcpmux.TransportHTTP:
		return p.probeHTTPFamily(ctx, "http", target)
	case mcpmux.TransportStreamableHTTP:
		return p.probeHTTPFamily(ctx, "streaming", target)
	default:
		return mcpmux.TestResult{Success: false, Error: "unsupported transport " + string(transport)}
	}
}

// probeStdio spawns `command args...` and lists tools. On ENOTEMPTY — a
// known package-manager cache corruption signature some MCP stdio servers
// surface on first launch — it runs a one-shot cache cleanup and retries
// once (spec §4.6 transport probing details).
func (p *clientProber) probeStdio(ctx context.Context, target string) mcpmux.TestResult {
	fields := strings.Fields(target)
	if len(fields) == 0 {
		return mcpmux.TestResult{Success: false, Error: "empty stdio command"}
	}
	command, args := fields[0], fields[1:]

	tools, err := listToolsStdio(ctx, command, args)
	if err != nil && strings.Contains(err.Error(), "ENOTEMPTY") {
		_ = cleanNpxCache()
		tools, err = listToolsStdio(ctx, command, args)
	}
	if err != nil {
		return mcpmux.TestResult{Success: false, Error: err.Error()}
	}
	return mcpmux.TestResult{Success: true, Tools: tools}
}

func listToolsStdio(ctx context.Context, command string, args []string) ([]string, error) {
	opts := &mcp.ClientOptions{
		Name: command,
		Transport: mcp.ClientTransport{
			Type: "stdio",
			ClientTransportStdio: mcp.ClientTransportStdio{
				Command:   command,
				Arguments: args,
			},
		},
	}
	return listTools(ctx, opts)
}

// cleanNpxCache removes npm/npx's local package cache, the standard
// workaround for the ENOTEMPTY race some stdio-spawned MCP servers hit on a
// cold cache.
func cleanNpxCache() error {
	return exec.Command("npm", "cache", "clean", "--force").Run()
}

// probeHTTPFamily pre-flights a GET to detect 401/WWW-Authenticate before
// opening the real transport client, per spec §4.6.
func (p *clientProber) probeHTTPFamily(ctx context.Context, kind, target string) mcpmux.TestResult {
	if needsAuth, method, www := preflightAuth(ctx, target); needsAuth {
		return mcpmux.TestResult{Success: false, NeedsAuth: true, AuthMethod: method, WWWAuthenticate: www}
	}
	opts := &mcp.ClientOptions{
		Name: target,
		Transport: mcp.ClientTransport{
			Type:                 kind,
			ClientTransportHTTP: mcp.ClientTransportHTTP{URL: target},
		},
	}
	tools, err := listTools(ctx, opts)
	if err != nil {
		return mcpmux.TestResult{Success: false, Error: err.Error()}
	}
	return mcpmux.TestResult{Success: true, Tools: tools}
}

func preflightAuth(ctx context.Context, target string) (needsAuth bool, method, www string) {
	if _, err := url.Parse(target); err != nil {
		return false, "", ""
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, "", ""
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false, "", ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		return false, "", ""
	}
	www = resp.Header.Get("WWW-Authenticate")
	method = "bearer"
	if strings.Contains(strings.ToLower(www), "basic") {
		method = "basic"
	}
	return true, method, www
}

func listTools(ctx context.Context, opts *mcp.ClientOptions) ([]string, error) {
	var handler protoclient.Handler
	var cli mcpclient.Interface
	cli, err := mcp.NewClient(handler, opts)
	if err != nil {
		return nil, err
	}
	var cursor *string
	result, err := cli.ListTools(ctx, cursor)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(result.Tools))
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	return names, nil
}
