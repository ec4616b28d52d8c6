package runtime

import (
	"context"
	"fmt"
	"log"
	"reflect"
	"sync"

	"github.com/agentcore/deskrt/internal/apperr"
	"github.com/agentcore/deskrt/internal/compose"
	"github.com/agentcore/deskrt/internal/storage"
	"github.com/agentcore/deskrt/internal/streambuf"
	"github.com/agentcore/deskrt/pkg/deskrt/message"
	"github.com/google/uuid"
)

// pipeline is the shared persistence+fanout path every variant routes
// translated events through: text deltas go to the streaming buffer for
// coalesced writes, everything else goes through the pure composer against
// the conversation's in-memory tail before being upserted and emitted.
type pipeline struct {
	store  *storage.Store
	buf    *streambuf.Buffer
	sink   EventSink
	convID string

	mu   sync.Mutex
	tail []message.Message
}

func newPipeline(store *storage.Store, buf *streambuf.Buffer, sink EventSink, convID string) *pipeline {
	return &pipeline{store: store, buf: buf, sink: sink, convID: convID}
}

func (p *pipeline) handle(ctx context.Context, ev RawEvent) {
	t := translateEvent(ev)
	if !t.ok {
		return
	}
	msg := t.msg
	msg.ConversationID = p.convID
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	if msg.Type == message.TypeText {
		rowID := msg.ID
		content, _ := msg.Content.(message.TextContent)
		mode := streambuf.Accumulate
		p.buf.Append(ctx, rowID, msg.MsgID, p.convID, content.Content, mode)
		if p.sink != nil {
			p.sink.Emit(ctx, p.convID, msg)
		}
		return
	}

	p.mu.Lock()
	before := p.tail
	after := compose.Merge(before, msg)
	p.tail = after
	changed := changedMessages(before, after)
	p.mu.Unlock()

	for _, m := range changed {
		if err := p.upsertByID(ctx, m); err != nil {
			log.Printf("runtime: persist failed for conv=%s id=%s: %v", p.convID, m.ID, err)
		}
		if p.sink != nil {
			p.sink.Emit(ctx, p.convID, m)
		}
	}
}

// changedMessages compares the composer's tail before and after a merge and
// returns only the rows that were actually inserted or modified in place,
// keyed by compose.Merge's own Message.ID bookkeeping rather than msg_id —
// tool_group merges can update several existing rows without appending one.
func changedMessages(before, after []message.Message) []message.Message {
	prior := make(map[string]message.Message, len(before))
	for _, m := range before {
		prior[m.ID] = m
	}
	var changed []message.Message
	for _, m := range after {
		if old, ok := prior[m.ID]; !ok || !reflect.DeepEqual(old, m) {
			changed = append(changed, m)
		}
	}
	return changed
}

// upsertByID persists composer output by the row id the composer already
// tracks: tool_call/tool_group/acp_tool_call/codex_tool_call messages never
// go through the msg_id upsert path reserved for streamed text (see
// streambuf.Buffer), since a shared msg_id across a turn's events would
// otherwise let GetMessageByMsgID match and overwrite an unrelated row.
func (p *pipeline) upsertByID(ctx context.Context, m message.Message) error {
	if err := p.store.UpdateMessage(ctx, m.ID, m); err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return p.store.InsertMessage(ctx, m)
		}
		return err
	}
	return nil
}

// turnGate enforces the single-slot inbound queue of spec §4.4: at most one
// turn runs at a time; a SendMessage while busy is rejected with apperr.Busy.
type turnGate struct {
	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	turnID string
}

func newTurnGate() *turnGate {
	return &turnGate{status: StatusIdle}
}

func (g *turnGate) current() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// begin transitions idle->busy atomically and returns a turn-scoped context
// plus its id, or apperr.Busy if a turn is already in flight.
func (g *turnGate) begin(ctx context.Context, registry CancelRegistry, convID string) (context.Context, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status == StatusBusy {
		return nil, "", fmt.Errorf("turn already in flight: %w", apperr.Busy)
	}
	if g.status == StatusClosed {
		return nil, "", fmt.Errorf("worker closed: %w", apperr.Unsupported)
	}
	turnCtx, cancel := context.WithCancel(ctx)
	turnID := uuid.NewString()
	g.status = StatusBusy
	g.cancel = cancel
	g.turnID = turnID
	if registry != nil {
		registry.Register(convID, turnID, cancel)
	}
	return turnCtx, turnID, nil
}

func (g *turnGate) end(registry CancelRegistry, convID, turnID string, errored bool) {
	g.mu.Lock()
	cancel := g.cancel
	if g.turnID == turnID {
		g.cancel = nil
		g.turnID = ""
		if errored {
			g.status = StatusError
		} else {
			g.status = StatusIdle
		}
	}
	g.mu.Unlock()
	if registry != nil && cancel != nil {
		registry.Complete(convID, turnID, cancel)
	}
}

func (g *turnGate) stop(registry CancelRegistry, convID string) error {
	g.mu.Lock()
	turnID := g.turnID
	g.mu.Unlock()
	if turnID == "" {
		return nil
	}
	registry.CancelTurn(turnID)
	return nil
}

func (g *turnGate) close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status = StatusClosed
}
