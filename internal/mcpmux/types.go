// Package mcpmux implements the MCP Multiplexer of spec §4.6: a single API
// over several external CLI-tool "sources" plus one in-process "local"
// source, each fronted by its own FIFO serialization queue.
package mcpmux

import (
	"context"
	"time"
)

// Transport is the wire flavor a server speaks.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportSSE            Transport = "sse"
	TransportHTTP           Transport = "http"
	TransportStreamableHTTP Transport = "streamable_http"
)

// Status is a detected server's reachability.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// MCPServer is one configured/detected server, per spec §4.6.
type MCPServer struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Transport    Transport         `json:"transport"`
	Command      string            `json:"command,omitempty"`
	Args         []string          `json:"args,omitempty"`
	URL          string            `json:"url,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	Tools        []string          `json:"tools"`
	Enabled      bool              `json:"enabled"`
	Status       Status            `json:"status"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	Description  string            `json:"description,omitempty"`
	OriginalJSON string            `json:"originalJson,omitempty"`
}

// TestResult is the outcome of Source.TestConnection.
type TestResult struct {
	Success         bool     `json:"success"`
	Tools           []string `json:"tools,omitempty"`
	Error           string   `json:"error,omitempty"`
	NeedsAuth       bool     `json:"needsAuth,omitempty"`
	AuthMethod      string   `json:"authMethod,omitempty"`
	WWWAuthenticate string   `json:"wwwAuthenticate,omitempty"`
}

// InstallOutcome is the per-server result of a Source.Install batch.
type InstallOutcome struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// AgentOutcome is one agent's result in a fanned-out multiplexer operation.
type AgentOutcome struct {
	Agent   string `json:"agent"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Source is the per-tool interface of spec §4.6: detect/install/remove
// operations against one external CLI tool's MCP config surface, or the
// in-process local config blob.
type Source interface {
	Name() string
	Detect(ctx context.Context) ([]MCPServer, error)
	Install(ctx context.Context, servers []MCPServer) ([]InstallOutcome, error)
	Remove(ctx context.Context, name string) error
	TestConnection(ctx context.Context, server MCPServer) TestResult
}
