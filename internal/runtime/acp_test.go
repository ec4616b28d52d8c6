package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore/deskrt/internal/streambuf"
	"github.com/agentcore/deskrt/pkg/deskrt/conversation"
	"github.com/agentcore/deskrt/pkg/deskrt/message"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []message.Message
}

func (s *recordingSink) Emit(ctx context.Context, convID string, msg message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func (s *recordingSink) snapshot() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// fakeACPBackendScript drives a minimal ACP session: it emits a permission
// event for callId "c1", waits for the confirm reply, then emits the
// matching acp_tool_call transitioning to "executing" before completing the
// turn's RPC reply.
const fakeACPBackendScript = `
read -r turn_line
printf '%s\n' '{"id":2,"method":"event","params":{"kind":"permission","msgId":"m1","callId":"c1","data":{}}}'
read -r confirm_line
printf '%s\n' '{"id":3,"method":"event","params":{"kind":"tool_call","msgId":"m1","callId":"c1","data":{"toolCallId":"c1","status":"executing"}}}'
printf '%s\n' '{"id":1,"result":"\"ok\""}'
`

func TestACPPermissionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	buf := streambuf.New(store, 20, 300*time.Millisecond)
	convID := uuid.NewString()
	_, err := store.CreateConversation(ctx, conversation.Conversation{
		ID: convID, Type: conversation.TypeACP, Extra: conversation.Extra{Workspace: "/tmp"},
	})
	require.NoError(t, err)

	sink := &recordingSink{}
	w, err := NewACPWorker(ctx, convID, "/tmp", "sh", []string{"-c", fakeACPBackendScript}, store, buf, sink, NewCancelRegistry())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.SendMessage(ctx, SendInput{Input: "do something risky", MsgID: "m1"}))

	require.Eventually(t, func() bool {
		for _, m := range sink.snapshot() {
			if m.Type == message.TypeACPPermission {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "expected an acp_permission event")

	start := time.Now()
	require.NoError(t, w.ConfirmMessage(ctx, ConfirmInput{ConfirmKey: "allow", CallID: "c1", MsgID: "m1"}))

	require.Eventually(t, func() bool {
		for _, m := range sink.snapshot() {
			if m.Type != message.TypeACPToolCall {
				continue
			}
			c, ok := m.Content.(message.ACPToolCallContent)
			if ok && c.Update.Status == "executing" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "expected acp_tool_call to transition to executing")
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	require.Eventually(t, func() bool {
		return w.Status() == StatusIdle
	}, time.Second, 5*time.Millisecond, "expected turn to complete")
}
