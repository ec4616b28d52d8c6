package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/agentcore/deskrt/internal/apperr"
	"github.com/agentcore/deskrt/internal/storage"
	"github.com/agentcore/deskrt/internal/streambuf"
	"github.com/agentcore/deskrt/pkg/deskrt/conversation"
	"github.com/agentcore/deskrt/pkg/deskrt/message"
)

// codexEventParams is the wire shape of one codex subprocess notification:
// exec_command_begin|output_delta|end, patch_apply_begin|end,
// mcp_tool_call_begin|end, web_search_begin|end, turn_diff, generic.
type codexEventParams struct {
	Event      string          `json:"event"`
	ToolCallID string          `json:"toolCallId"`
	Kind       string          `json:"kind"`
	Subtype    string          `json:"subtype"`
	MsgID      string          `json:"msgId"`
	Payload    json.RawMessage `json:"payload"`
}

// CodexWorker is the codex variant of spec §4.4: same subprocess-JSON-RPC
// shape as ACPWorker but a distinct event taxonomy, all folded into
// codex_tool_call messages carrying {toolCallId, kind, subtype, data}.
type CodexWorker struct {
	convID    string
	workspace string
	backend   string

	gate     *turnGate
	registry CancelRegistry
	pipe     *pipeline

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan rpcFrame
}

// NewCodexWorker spawns the codex backend command for convID.
func NewCodexWorker(ctx context.Context, convID, workspace, backend string, args []string, store *storage.Store, buf *streambuf.Buffer, sink EventSink, registry CancelRegistry) (*CodexWorker, error) {
	cmd := exec.CommandContext(ctx, backend, args...)
	cmd.Dir = workspace
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("codex stdin pipe: %w", apperr.Transport)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("codex stdout pipe: %w", apperr.Transport)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("codex spawn %s: %w", backend, apperr.Transport)
	}
	w := &CodexWorker{
		convID:    convID,
		workspace: workspace,
		backend:   backend,
		gate:      newTurnGate(),
		registry:  registry,
		pipe:      newPipeline(store, buf, sink, convID),
		cmd:       cmd,
		stdin:     stdin,
		stdout:    bufio.NewScanner(stdout),
		pending:   make(map[int64]chan rpcFrame),
	}
	w.stdout.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	go w.readLoop(ctx)
	return w, nil
}

func (w *CodexWorker) Type() conversation.Type { return conversation.TypeCodex }
func (w *CodexWorker) Status() Status          { return w.gate.current() }
func (w *CodexWorker) Workspace() string       { return w.workspace }

func (w *CodexWorker) readLoop(ctx context.Context) {
	for w.stdout.Scan() {
		var frame rpcFrame
		if err := json.Unmarshal(w.stdout.Bytes(), &frame); err != nil {
			log.Printf("codex[%s]: malformed frame, dropping worker: %v", w.convID, err)
			return
		}
		if frame.Method == "event" {
			w.handleEventFrame(ctx, frame)
			continue
		}
		w.mu.Lock()
		ch, ok := w.pending[frame.ID]
		if ok {
			delete(w.pending, frame.ID)
		}
		w.mu.Unlock()
		if ok {
			ch <- frame
		}
	}
}

// handleEventFrame folds every codex event kind into a single codex_tool_call
// message except turn_diff (agent_status) and a transport-level error, which
// map per spec §4.4's shared table.
func (w *CodexWorker) handleEventFrame(ctx context.Context, frame rpcFrame) {
	var p codexEventParams
	if err := json.Unmarshal(frame.Params, &p); err != nil {
		return
	}
	var raw any
	_ = json.Unmarshal(p.Payload, &raw)

	switch p.Event {
	case "turn_diff":
		w.pipe.handle(ctx, RawEvent{Kind: "agent_status", MsgID: p.MsgID, Data: raw})
	case "error":
		text, _ := raw.(string)
		w.pipe.handle(ctx, RawEvent{Kind: "error", MsgID: p.MsgID, Data: text})
	default:
		content := message.CodexToolCallContent{
			ToolCallID: p.ToolCallID,
			Kind:       p.Kind,
			Subtype:    p.Subtype,
			Data:       raw,
			Status:     p.Event,
		}
		w.pipe.handle(ctx, RawEvent{Kind: "codex_tool_call", MsgID: p.MsgID, CallID: p.ToolCallID, Data: content})
	}
}

func (w *CodexWorker) call(ctx context.Context, method string, params any) (rpcFrame, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return rpcFrame{}, err
	}
	id := atomic.AddInt64(&w.nextID, 1)
	req := rpcFrame{ID: id, Method: method, Params: raw}
	reply := make(chan rpcFrame, 1)
	w.mu.Lock()
	w.pending[id] = reply
	w.mu.Unlock()

	enc, err := json.Marshal(req)
	if err != nil {
		return rpcFrame{}, err
	}
	enc = append(enc, '\n')
	if _, err := w.stdin.Write(enc); err != nil {
		return rpcFrame{}, fmt.Errorf("codex write: %w", apperr.Transport)
	}
	select {
	case resp := <-reply:
		if resp.Error != "" {
			return resp, fmt.Errorf("codex rpc error: %s", resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return rpcFrame{}, ctx.Err()
	}
}

func (w *CodexWorker) SendMessage(ctx context.Context, in SendInput) error {
	turnCtx, turnID, err := w.gate.begin(ctx, w.registry, w.convID)
	if err != nil {
		return err
	}
	go func() {
		_, err := w.call(turnCtx, "turn", map[string]any{"input": in.Input, "msgId": in.MsgID, "files": in.Files})
		w.gate.end(w.registry, w.convID, turnID, err != nil)
	}()
	return nil
}

func (w *CodexWorker) ConfirmMessage(ctx context.Context, in ConfirmInput) error {
	_, err := w.call(ctx, "confirm", map[string]any{"toolCallId": in.CallID, "confirmKey": in.ConfirmKey})
	return err
}

func (w *CodexWorker) Stop(ctx context.Context) error {
	return w.gate.stop(w.registry, w.convID)
}

func (w *CodexWorker) ReloadContext(ctx context.Context) error {
	return fmt.Errorf("codex worker does not support reloadContext: %w", apperr.Unsupported)
}

func (w *CodexWorker) Close() error {
	w.gate.close()
	_ = w.stdin.Close()
	return w.cmd.Process.Kill()
}
