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

// acpState is the subprocess session state machine of spec §4.4.
type acpState string

const (
	acpConnecting    acpState = "connecting"
	acpConnected     acpState = "connected"
	acpAuthenticated acpState = "authenticated"
	acpSessionActive acpState = "session_active"
	acpDisconnected  acpState = "disconnected"
	acpError         acpState = "error"
)

// rpcFrame is the line-delimited JSON-RPC envelope spoken with the ACP
// subprocess: a request carries Method/Params, a response carries Result,
// both are correlated by ID.
type rpcFrame struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type acpEventParams struct {
	Kind   string          `json:"kind"`
	MsgID  string          `json:"msgId"`
	CallID string          `json:"callId"`
	Data   json.RawMessage `json:"data"`
}

// ACPWorker spawns (or attaches to) a subprocess speaking framed JSON-RPC,
// per spec §4.4's acp variant.
type ACPWorker struct {
	convID    string
	workspace string
	backend   string

	gate     *turnGate
	registry CancelRegistry
	pipe     *pipeline

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner

	mu       sync.Mutex
	state    acpState
	nextID   int64
	pending  map[int64]chan rpcFrame
	confirms map[string]int64 // callId -> pending rpc request id awaiting a reply
}

// NewACPWorker starts the backend command and begins the connecting ->
// connected handshake. The subprocess is expected to emit one rpcFrame JSON
// object per line on stdout.
func NewACPWorker(ctx context.Context, convID, workspace, backend string, args []string, store *storage.Store, buf *streambuf.Buffer, sink EventSink, registry CancelRegistry) (*ACPWorker, error) {
	cmd := exec.CommandContext(ctx, backend, args...)
	cmd.Dir = workspace
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("acp stdin pipe: %w", apperr.Transport)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("acp stdout pipe: %w", apperr.Transport)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("acp spawn %s: %w", backend, apperr.Transport)
	}

	w := &ACPWorker{
		convID:    convID,
		workspace: workspace,
		backend:   backend,
		gate:      newTurnGate(),
		registry:  registry,
		pipe:      newPipeline(store, buf, sink, convID),
		cmd:       cmd,
		stdin:     stdin,
		stdout:    bufio.NewScanner(stdout),
		state:     acpConnecting,
		pending:   make(map[int64]chan rpcFrame),
		confirms:  make(map[string]int64),
	}
	w.stdout.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	go w.readLoop(ctx)
	w.setState(acpConnected)
	return w, nil
}

func (w *ACPWorker) Type() conversation.Type { return conversation.TypeACP }
func (w *ACPWorker) Status() Status          { return w.gate.current() }
func (w *ACPWorker) Workspace() string       { return w.workspace }

func (w *ACPWorker) setState(s acpState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *ACPWorker) currentState() acpState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// readLoop decodes each stdout line into a frame: frames carrying the
// "event" method are agent_status / tool call / permission notifications
// translated into typed messages (a permission event's ID is kept so
// ConfirmMessage can reply to it); every other frame is a reply resolved
// against w.pending by its ID.
func (w *ACPWorker) readLoop(ctx context.Context) {
	for w.stdout.Scan() {
		line := w.stdout.Bytes()
		var frame rpcFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			log.Printf("acp[%s]: malformed frame, dropping worker: %v", w.convID, err)
			w.setState(acpError)
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
	if w.currentState() != acpError {
		w.setState(acpDisconnected)
	}
}

func (w *ACPWorker) handleEventFrame(ctx context.Context, frame rpcFrame) {
	var p acpEventParams
	if err := json.Unmarshal(frame.Params, &p); err != nil {
		return
	}
	kind := p.Kind
	switch kind {
	case "status_connecting":
		w.setState(acpConnecting)
		kind = "agent_status"
	case "status_authenticated":
		w.setState(acpAuthenticated)
		kind = "agent_status"
	case "status_session_active":
		w.setState(acpSessionActive)
		kind = "agent_status"
	case "status_disconnected":
		w.setState(acpDisconnected)
		kind = "agent_status"
	case "permission":
		kind = "acp_permission"
		w.mu.Lock()
		w.confirms[p.CallID] = frame.ID
		w.mu.Unlock()
	case "tool_call":
		kind = "acp_tool_call"
	}

	var data any
	if kind == "acp_tool_call" {
		var update message.ACPToolCallUpdate
		_ = json.Unmarshal(p.Data, &update)
		update.ToolCallID = p.CallID
		data = message.ACPToolCallContent{Update: update}
	} else {
		_ = json.Unmarshal(p.Data, &data)
	}
	w.pipe.handle(ctx, RawEvent{Kind: kind, MsgID: p.MsgID, CallID: p.CallID, Data: data})
}

func (w *ACPWorker) call(ctx context.Context, method string, params any) (rpcFrame, error) {
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
		return rpcFrame{}, fmt.Errorf("acp write: %w", apperr.Transport)
	}
	select {
	case resp := <-reply:
		if resp.Error != "" {
			return resp, fmt.Errorf("acp rpc error: %s", resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return rpcFrame{}, ctx.Err()
	}
}

func (w *ACPWorker) SendMessage(ctx context.Context, in SendInput) error {
	if w.currentState() == acpDisconnected {
		return fmt.Errorf("acp worker disconnected: %w", apperr.Transport)
	}
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

func (w *ACPWorker) ConfirmMessage(ctx context.Context, in ConfirmInput) error {
	w.mu.Lock()
	id, ok := w.confirms[in.CallID]
	if ok {
		delete(w.confirms, in.CallID)
	}
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("acp no pending permission for callId=%s: %w", in.CallID, apperr.NotFound)
	}
	resp := rpcFrame{ID: id, Result: json.RawMessage(fmt.Sprintf("%q", in.ConfirmKey))}
	enc, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	enc = append(enc, '\n')
	if _, err := w.stdin.Write(enc); err != nil {
		return fmt.Errorf("acp confirm write: %w", apperr.Transport)
	}
	return nil
}

func (w *ACPWorker) Stop(ctx context.Context) error {
	return w.gate.stop(w.registry, w.convID)
}

func (w *ACPWorker) ReloadContext(ctx context.Context) error {
	return fmt.Errorf("acp worker does not support reloadContext: %w", apperr.Unsupported)
}

func (w *ACPWorker) Close() error {
	w.gate.close()
	_ = w.stdin.Close()
	return w.cmd.Process.Kill()
}
