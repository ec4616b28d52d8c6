package streambuf

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore/deskrt/internal/storage"
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

func TestStreamingCoalesceScenario(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	convID := uuid.NewString()
	_, err := store.CreateConversation(ctx, conversation.Conversation{
		ID: convID, Type: conversation.TypeIntegrated, Extra: conversation.Extra{Workspace: "/tmp"},
	})
	require.NoError(t, err)

	buf := New(store, 20, 300*time.Millisecond)
	rowID := uuid.NewString()
	var expected string
	for i := 0; i < 25; i++ {
		chunk := "x"
		expected += chunk
		buf.Append(ctx, rowID, "m1", convID, chunk, Accumulate)
		time.Sleep(20 * time.Millisecond)
	}
	// allow the stalled-timer flush (armed for `interval` after the 25th chunk) to fire
	time.Sleep(400 * time.Millisecond)

	got, err := store.GetMessageByMsgID(ctx, convID, "m1")
	require.NoError(t, err)
	tc, ok := got.Content.(*message.TextContent)
	require.True(t, ok)
	assert.Equal(t, expected, tc.Content)
}

func TestReplaceModeOverwritesContent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	convID := uuid.NewString()
	_, err := store.CreateConversation(ctx, conversation.Conversation{
		ID: convID, Type: conversation.TypeIntegrated, Extra: conversation.Extra{Workspace: "/tmp"},
	})
	require.NoError(t, err)

	buf := New(store, 2, 50*time.Millisecond)
	rowID := uuid.NewString()
	buf.Append(ctx, rowID, "m2", convID, "first", Replace)
	buf.Append(ctx, rowID, "m2", convID, "second", Replace)

	got, err := store.GetMessageByMsgID(ctx, convID, "m2")
	require.NoError(t, err)
	tc, ok := got.Content.(*message.TextContent)
	require.True(t, ok)
	assert.Equal(t, "second", tc.Content)
}
