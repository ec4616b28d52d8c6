package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore/deskrt/internal/apperr"
	"github.com/agentcore/deskrt/pkg/deskrt/conversation"
	"github.com/agentcore/deskrt/pkg/deskrt/message"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, "", t.TempDir()+"/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := New(db)
	require.NoError(t, s.EnsureSystemUser(ctx))
	return s
}

func TestCreateAndGetConversationRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c := conversation.Conversation{
		ID:   uuid.NewString(),
		Name: "demo",
		Type: conversation.TypeIntegrated,
		Extra: conversation.Extra{Workspace: "/tmp/ws"},
		Model: "gpt-5",
	}
	created, err := s.CreateConversation(ctx, c)
	require.NoError(t, err)

	got, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, c.Name, got.Name)
	assert.Equal(t, c.Type, got.Type)
	assert.Equal(t, c.Extra, got.Extra)
	assert.Equal(t, c.Model, got.Model)
}

func TestUpdateConversationNoOpAdvancesModifyTime(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := conversation.Conversation{ID: uuid.NewString(), Type: conversation.TypeIntegrated, Extra: conversation.Extra{Workspace: "/tmp"}}
	created, err := s.CreateConversation(ctx, c)
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	updated, modelChanged, err := s.UpdateConversation(ctx, c.ID, conversation.Updates{})
	require.NoError(t, err)
	assert.False(t, modelChanged)
	assert.Equal(t, created.Name, updated.Name)
	assert.True(t, updated.ModifyTime.After(created.ModifyTime))
}

func TestUpdateConversationModelChangeDetected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := conversation.Conversation{ID: uuid.NewString(), Type: conversation.TypeIntegrated, Extra: conversation.Extra{Workspace: "/tmp"}, Model: "X"}
	_, err := s.CreateConversation(ctx, c)
	require.NoError(t, err)

	newModel := "Y"
	_, changed, err := s.UpdateConversation(ctx, c.ID, conversation.Updates{Model: &newModel})
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestInsertMessageAndGetByMsgID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := conversation.Conversation{ID: uuid.NewString(), Type: conversation.TypeIntegrated, Extra: conversation.Extra{Workspace: "/tmp"}}
	_, err := s.CreateConversation(ctx, c)
	require.NoError(t, err)

	m := message.Message{
		ID:             uuid.NewString(),
		ConversationID: c.ID,
		MsgID:          "m1",
		Type:           message.TypeText,
		Content:        message.TextContent{Content: "hello"},
		Position:       message.PositionLeft,
		Status:         message.StatusFinish,
	}
	require.NoError(t, s.InsertMessage(ctx, m))

	got, err := s.GetMessageByMsgID(ctx, c.ID, "m1")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	tc, ok := got.Content.(*message.TextContent)
	require.True(t, ok)
	assert.Equal(t, "hello", tc.Content)
}

func TestDeleteConversationCascadesMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := conversation.Conversation{ID: uuid.NewString(), Type: conversation.TypeIntegrated, Extra: conversation.Extra{Workspace: "/tmp"}}
	_, err := s.CreateConversation(ctx, c)
	require.NoError(t, err)
	require.NoError(t, s.InsertMessage(ctx, message.Message{
		ID: uuid.NewString(), ConversationID: c.ID, Type: message.TypeText,
		Content: message.TextContent{Content: "x"}, Position: message.PositionLeft, Status: message.StatusFinish,
	}))

	require.NoError(t, s.DeleteConversation(ctx, c.ID))

	_, err = s.GetConversation(ctx, c.ID)
	assert.ErrorIs(t, err, apperr.NotFound)

	page, err := s.GetConversationMessages(ctx, c.ID, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Data)
}

func TestGetUserConversationsLastPageHasMoreFalse(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		_, err := s.CreateConversation(ctx, conversation.Conversation{
			ID: uuid.NewString(), Type: conversation.TypeIntegrated, Extra: conversation.Extra{Workspace: "/tmp"},
		})
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}
	page, err := s.GetUserConversations(ctx, "system", 3, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.False(t, page.HasMore)
	assert.Len(t, page.Data, 1)
}
