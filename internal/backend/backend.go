// Package backend supplies the concrete worker-construction recipe the
// Conversation Worker Manager needs (runtime.Backend) without the runtime
// package itself depending on any agent-client implementation. The core
// orchestrates external agents and a built-in generator; it does not speak
// any LLM protocol itself.
package backend

import (
	"context"
	"os/exec"
	"strings"

	agentrt "github.com/agentcore/deskrt/internal/runtime"
	"github.com/agentcore/deskrt/pkg/deskrt/conversation"
)

// ChatFunc produces the next turn's deltas for an integrated conversation.
// Real deployments inject a genai client pool here; Default falls back to a
// single-shot echo so the runtime is exercisable without one configured.
// msgID is the turn's msg_id and must be stamped onto every RawEvent the
// implementation emits, since streambuf.Buffer.Append drops deltas whose
// msgID is empty.
type ChatFunc func(ctx context.Context, msgID, workspace, model, input string) (<-chan agentrt.RawEvent, error)

// Resolver finds the external agent CLI backing an acp/codex conversation.
// Extra.ACPBackend or Extra.CLIPathOverride name an explicit binary; absent
// either, Resolver falls back to the tool's default name on PATH.
type Resolver struct {
	Chat ChatFunc
}

// New builds a Resolver. A nil chat falls back to EchoChat.
func New(chat ChatFunc) *Resolver {
	if chat == nil {
		chat = EchoChat
	}
	return &Resolver{Chat: chat}
}

// EchoChat is the built-in generator used when no chat client is wired: it
// emits the input back as content events, split into two deltas to exercise
// the streaming buffer's coalescing path (one delta when the input is
// shorter than two bytes).
func EchoChat(ctx context.Context, msgID, workspace, model, input string) (<-chan agentrt.RawEvent, error) {
	ch := make(chan agentrt.RawEvent, 2)
	go func() {
		defer close(ch)
		mid := len(input) / 2
		if mid == 0 {
			ch <- agentrt.RawEvent{Kind: "content", MsgID: msgID, Data: input}
			return
		}
		select {
		case ch <- agentrt.RawEvent{Kind: "content", MsgID: msgID, Data: input[:mid]}:
		case <-ctx.Done():
			return
		}
		select {
		case ch <- agentrt.RawEvent{Kind: "content", MsgID: msgID, Data: input[mid:]}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// IntegratedGenerator adapts Chat into a runtime.Generator closed over c's
// workspace and model.
func (r *Resolver) IntegratedGenerator(c conversation.Conversation) agentrt.Generator {
	workspace, model := c.Extra.Workspace, c.Model
	return func(ctx context.Context, in agentrt.SendInput) (<-chan agentrt.RawEvent, error) {
		return r.Chat(ctx, in.MsgID, workspace, model, in.Input)
	}
}

// ACPCommand resolves the subprocess command for an ACP conversation: an
// explicit CLIPathOverride wins, else ACPBackend is looked up on PATH, else
// "acp-agent" is the default tool name.
func (r *Resolver) ACPCommand(c conversation.Conversation) (string, []string) {
	if p := strings.TrimSpace(c.Extra.CLIPathOverride); p != "" {
		return p, []string{"--workspace", c.Extra.Workspace}
	}
	name := strings.TrimSpace(c.Extra.ACPBackend)
	if name == "" {
		name = "acp-agent"
	}
	return resolveOnPath(name), []string{"--workspace", c.Extra.Workspace}
}

// CodexCommand resolves the codex CLI's subprocess command the same way
// ACPCommand does, defaulting to the "codex" binary name.
func (r *Resolver) CodexCommand(c conversation.Conversation) (string, []string) {
	if p := strings.TrimSpace(c.Extra.CLIPathOverride); p != "" {
		return p, []string{"--workspace", c.Extra.Workspace}
	}
	return resolveOnPath("codex"), []string{"--workspace", c.Extra.Workspace}
}

func resolveOnPath(name string) string {
	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	return name
}
