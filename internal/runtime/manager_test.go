package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore/deskrt/internal/storage"
	"github.com/agentcore/deskrt/internal/streambuf"
	"github.com/agentcore/deskrt/pkg/deskrt/conversation"
	"github.com/agentcore/deskrt/pkg/deskrt/message"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, "", t.TempDir()+"/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := storage.New(db)
	require.NoError(t, s.EnsureSystemUser(ctx))
	return s
}

type stubBackend struct {
	gen func(c conversation.Conversation) Generator
}

func (b *stubBackend) IntegratedGenerator(c conversation.Conversation) Generator { return b.gen(c) }
func (b *stubBackend) ACPCommand(c conversation.Conversation) (string, []string) { return "", nil }
func (b *stubBackend) CodexCommand(c conversation.Conversation) (string, []string) {
	return "", nil
}

// echoGenerator returns a Generator that emits one content event carrying
// the conversation's current model name, then closes, so a test can observe
// which model a rebuilt worker was constructed with.
func echoGenerator(model string) Generator {
	return func(ctx context.Context, in SendInput) (<-chan RawEvent, error) {
		ch := make(chan RawEvent, 1)
		ch <- RawEvent{Kind: "content", MsgID: in.MsgID, Data: model}
		close(ch)
		return ch, nil
	}
}

func TestModelChangeRebuildsWorker(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	buf := streambuf.New(store, 20, 300*time.Millisecond)

	convID := uuid.NewString()
	conv, err := store.CreateConversation(ctx, conversation.Conversation{
		ID: convID, Type: conversation.TypeIntegrated, Model: "X",
		Extra: conversation.Extra{Workspace: "/tmp"},
	})
	require.NoError(t, err)

	backend := &stubBackend{gen: func(c conversation.Conversation) Generator { return echoGenerator(c.Model) }}
	mgr := NewManager(store, buf, nil, backend)

	w1, err := mgr.BuildConversation(ctx, conv)
	require.NoError(t, err)
	require.NoError(t, w1.SendMessage(ctx, SendInput{Input: "hi", MsgID: uuid.NewString()}))
	time.Sleep(50 * time.Millisecond)

	newModel := "Y"
	_, modelChanged, err := store.UpdateConversation(ctx, convID, conversation.Updates{Model: &newModel})
	require.NoError(t, err)
	require.True(t, modelChanged)
	mgr.NotifyUpdated(convID, modelChanged)

	_, stillRegistered := mgr.GetTaskByID(convID)
	assert.False(t, stillRegistered)

	updated, err := store.GetConversation(ctx, convID)
	require.NoError(t, err)
	w2, err := mgr.BuildConversation(ctx, updated)
	require.NoError(t, err)
	assert.NotSame(t, w1, w2)

	msgID := uuid.NewString()
	require.NoError(t, w2.SendMessage(ctx, SendInput{Input: "again", MsgID: msgID}))
	// a single chunk is flushed by the buffer's 300ms interval timer
	time.Sleep(400 * time.Millisecond)

	got, err := store.GetMessageByMsgID(ctx, convID, msgID)
	require.NoError(t, err)
	tc, ok := got.Content.(*message.TextContent)
	require.True(t, ok)
	assert.Equal(t, "Y", tc.Content)
}

func TestBuildConversationIdempotentOnExistingID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	buf := streambuf.New(store, 20, 300*time.Millisecond)
	convID := uuid.NewString()
	conv, err := store.CreateConversation(ctx, conversation.Conversation{
		ID: convID, Type: conversation.TypeIntegrated, Extra: conversation.Extra{Workspace: "/tmp"},
	})
	require.NoError(t, err)

	backend := &stubBackend{gen: func(c conversation.Conversation) Generator { return echoGenerator(c.Model) }}
	mgr := NewManager(store, buf, nil, backend)

	w1, err := mgr.BuildConversation(ctx, conv)
	require.NoError(t, err)
	w2, err := mgr.BuildConversation(ctx, conv)
	require.NoError(t, err)
	assert.Same(t, w1, w2)
}

func TestKillUnregistersWorker(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	buf := streambuf.New(store, 20, 300*time.Millisecond)
	convID := uuid.NewString()
	conv, err := store.CreateConversation(ctx, conversation.Conversation{
		ID: convID, Type: conversation.TypeIntegrated, Extra: conversation.Extra{Workspace: "/tmp"},
	})
	require.NoError(t, err)

	backend := &stubBackend{gen: func(c conversation.Conversation) Generator { return echoGenerator(c.Model) }}
	mgr := NewManager(store, buf, nil, backend)

	_, err = mgr.BuildConversation(ctx, conv)
	require.NoError(t, err)
	mgr.Kill(convID)
	_, ok := mgr.GetTaskByID(convID)
	assert.False(t, ok)
}
