package runtime

import (
	"context"
	"fmt"

	"github.com/agentcore/deskrt/internal/apperr"
	"github.com/agentcore/deskrt/internal/storage"
	"github.com/agentcore/deskrt/internal/streambuf"
	"github.com/agentcore/deskrt/pkg/deskrt/conversation"
)

// Generator produces an in-process agent turn: given the accepted input it
// emits RawEvents on the returned channel until the turn finishes, then
// closes it. It must respect ctx cancellation promptly (spec §4.4 stop()).
type Generator func(ctx context.Context, in SendInput) (<-chan RawEvent, error)

// IntegratedWorker is the in-process variant of spec §4.4: it owns a
// generation client (modeled here as a Generator func so the runtime
// package stays decoupled from any specific model client) and translates
// its deltas into user_content/content/tool_call/tool_group events.
type IntegratedWorker struct {
	convID    string
	workspace string
	gate      *turnGate
	registry  CancelRegistry
	pipe      *pipeline
	gen       Generator
}

// NewIntegratedWorker wires storage, the streaming buffer, the cancellation
// registry, and a Generator into one worker for convID.
func NewIntegratedWorker(convID, workspace string, store *storage.Store, buf *streambuf.Buffer, sink EventSink, registry CancelRegistry, gen Generator) *IntegratedWorker {
	return &IntegratedWorker{
		convID:    convID,
		workspace: workspace,
		gate:      newTurnGate(),
		registry:  registry,
		pipe:      newPipeline(store, buf, sink, convID),
		gen:       gen,
	}
}

func (w *IntegratedWorker) Type() conversation.Type { return conversation.TypeIntegrated }
func (w *IntegratedWorker) Status() Status          { return w.gate.current() }
func (w *IntegratedWorker) Workspace() string        { return w.workspace }

func (w *IntegratedWorker) SendMessage(ctx context.Context, in SendInput) error {
	turnCtx, turnID, err := w.gate.begin(ctx, w.registry, w.convID)
	if err != nil {
		return err
	}
	events, err := w.gen(turnCtx, in)
	if err != nil {
		w.gate.end(w.registry, w.convID, turnID, true)
		return fmt.Errorf("integrated generate: %w", err)
	}
	go w.drain(turnCtx, turnID, events)
	return nil
}

func (w *IntegratedWorker) drain(ctx context.Context, turnID string, events <-chan RawEvent) {
	errored := false
	for ev := range events {
		if ev.Kind == "error" {
			errored = true
		}
		w.pipe.handle(ctx, ev)
	}
	w.gate.end(w.registry, w.convID, turnID, errored)
}

func (w *IntegratedWorker) ConfirmMessage(ctx context.Context, in ConfirmInput) error {
	// The integrated variant resolves permission prompts synchronously
	// within the generator loop rather than via an out-of-band RPC; there
	// is nothing pending here to confirm.
	return fmt.Errorf("integrated worker has no pending confirmation: %w", apperr.Unsupported)
}

func (w *IntegratedWorker) Stop(ctx context.Context) error {
	return w.gate.stop(w.registry, w.convID)
}

// ReloadContext returns nil without doing anything: IntegratedWorker keeps
// no in-memory context of its own (each turn hands only its SendInput to the
// Generator), so no history is loaded or re-seeded.
func (w *IntegratedWorker) ReloadContext(ctx context.Context) error {
	return nil
}

func (w *IntegratedWorker) Close() error {
	w.gate.close()
	return nil
}
