package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore/deskrt/internal/apperr"
	"github.com/agentcore/deskrt/internal/streambuf"
	"github.com/agentcore/deskrt/pkg/deskrt/conversation"
)

func TestSendMessageRejectsWithBusyWhileTurnInFlight(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	buf := streambuf.New(store, 20, 300*time.Millisecond)
	convID := uuid.NewString()
	conv, err := store.CreateConversation(ctx, conversation.Conversation{
		ID: convID, Type: conversation.TypeIntegrated, Extra: conversation.Extra{Workspace: "/tmp"},
	})
	require.NoError(t, err)

	release := make(chan struct{})
	gen := func(ctx context.Context, in SendInput) (<-chan RawEvent, error) {
		ch := make(chan RawEvent)
		go func() {
			<-release
			close(ch)
		}()
		return ch, nil
	}
	w := NewIntegratedWorker(convID, conv.Extra.Workspace, store, buf, nil, NewCancelRegistry(), gen)

	require.NoError(t, w.SendMessage(ctx, SendInput{Input: "first", MsgID: uuid.NewString()}))
	err = w.SendMessage(ctx, SendInput{Input: "second", MsgID: uuid.NewString()})
	assert.ErrorIs(t, err, apperr.Busy)

	close(release)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StatusIdle, w.Status())
}

func TestStopCancelsInFlightTurn(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	buf := streambuf.New(store, 20, 300*time.Millisecond)
	convID := uuid.NewString()
	conv, err := store.CreateConversation(ctx, conversation.Conversation{
		ID: convID, Type: conversation.TypeIntegrated, Extra: conversation.Extra{Workspace: "/tmp"},
	})
	require.NoError(t, err)

	started := make(chan struct{})
	cancelled := make(chan struct{})
	gen := func(turnCtx context.Context, in SendInput) (<-chan RawEvent, error) {
		ch := make(chan RawEvent)
		go func() {
			close(started)
			<-turnCtx.Done()
			close(cancelled)
			close(ch)
		}()
		return ch, nil
	}
	w := NewIntegratedWorker(convID, conv.Extra.Workspace, store, buf, nil, NewCancelRegistry(), gen)

	require.NoError(t, w.SendMessage(ctx, SendInput{Input: "go", MsgID: uuid.NewString()}))
	<-started
	require.NoError(t, w.Stop(ctx))

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("turn was not cancelled by Stop")
	}
}
