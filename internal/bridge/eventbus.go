package bridge

import (
	"context"
	"sync"

	"github.com/agentcore/deskrt/pkg/deskrt/message"
)

// EventBus fans typed messages out to conversation-scoped subscribers, the
// same shape as the teacher's stream publisher: per-conversation subscriber
// sets, non-blocking sends that drop on a slow/full subscriber rather than
// stalling the worker producing events.
type EventBus struct {
	mu   sync.RWMutex
	subs map[string]map[chan message.Event]struct{}
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[string]map[chan message.Event]struct{})}
}

// Emit implements runtime.EventSink.
func (b *EventBus) Emit(ctx context.Context, convID string, msg message.Message) {
	if b == nil || convID == "" {
		return
	}
	ev := message.Event{
		Type:           string(msg.Type),
		Data:           msg.Content,
		MsgID:          msg.MsgID,
		ConversationID: convID,
	}
	b.mu.RLock()
	targets := b.subs[convID]
	b.mu.RUnlock()
	for ch := range targets {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel of events for convID and an unsubscribe func.
func (b *EventBus) Subscribe(convID string) (<-chan message.Event, func()) {
	ch := make(chan message.Event, 128)
	if b == nil || convID == "" {
		close(ch)
		return ch, func() {}
	}
	b.mu.Lock()
	if b.subs[convID] == nil {
		b.subs[convID] = make(map[chan message.Event]struct{})
	}
	b.subs[convID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if subs, ok := b.subs[convID]; ok {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(b.subs, convID)
			}
		}
		b.mu.Unlock()
		close(ch)
	}
	return ch, cancel
}
