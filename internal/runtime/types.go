// Package runtime implements the Agent Runtime of spec §4.4: three worker
// variants (integrated, acp, codex) sharing one contract, plus the Worker
// Manager of spec §4.5 that owns the process-wide conversation->worker
// registry.
package runtime

import (
	"context"

	"github.com/agentcore/deskrt/pkg/deskrt/conversation"
	"github.com/agentcore/deskrt/pkg/deskrt/message"
)

// Status is a worker's lifecycle state.
type Status string

const (
	StatusIdle   Status = "idle"
	StatusBusy   Status = "busy"
	StatusError  Status = "error"
	StatusClosed Status = "closed"
)

// SendInput is the argument to Worker.SendMessage.
type SendInput struct {
	Input     string
	MsgID     string
	Files     []string
	LoadingID string
}

// ConfirmInput is the argument to Worker.ConfirmMessage, resolving a pending
// permission prompt.
type ConfirmInput struct {
	ConfirmKey string
	MsgID      string
	CallID     string
}

// EventSink receives typed messages produced by a worker and fans them out
// to the UI bus. Persistence (via compose+streambuf) is done by the worker's
// own pipeline before Emit is called; a nil sink is valid and simply drops
// events.
type EventSink interface {
	Emit(ctx context.Context, convID string, msg message.Message)
}

// Worker is the common contract of spec §4.4, implemented by all three
// variants. Workspace is immutable after construction; migrating a
// workspace means creating a new conversation (spec §3 invariants).
type Worker interface {
	Type() conversation.Type
	Status() Status
	Workspace() string

	// SendMessage enqueues a turn and returns once it is accepted for
	// processing, not once it completes. Returns apperr.Busy if a turn is
	// already in flight (spec §4.4's Open Question is resolved as
	// reject-on-busy; see SPEC_FULL §4.4).
	SendMessage(ctx context.Context, in SendInput) error

	// ConfirmMessage resolves a pending permission prompt whose callId is
	// known to the worker.
	ConfirmMessage(ctx context.Context, in ConfirmInput) error

	// Stop cancels the in-flight turn cooperatively; already-buffered
	// chunks may still flush once.
	Stop(ctx context.Context) error

	// ReloadContext re-seeds the agent's in-memory context from recent
	// history where the variant keeps one. Only the integrated variant
	// accepts the call (its implementation keeps no such context and does
	// nothing); others return apperr.Unsupported.
	ReloadContext(ctx context.Context) error

	// Close releases any subprocess/transport resources held by the worker.
	Close() error
}
