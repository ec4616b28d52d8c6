package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore/deskrt/pkg/deskrt/conversation"
)

func TestEchoChatSplitsInputIntoTwoDeltas(t *testing.T) {
	ch, err := EchoChat(context.Background(), "msg-1", "/tmp", "m", "hello")
	require.NoError(t, err)
	var got string
	for ev := range ch {
		assert.Equal(t, "msg-1", ev.MsgID)
		got += ev.Data.(string)
	}
	assert.Equal(t, "hello", got)
}

func TestACPCommandPrefersExplicitOverride(t *testing.T) {
	r := New(nil)
	cmd, args := r.ACPCommand(conversation.Conversation{
		Extra: conversation.Extra{CLIPathOverride: "/usr/local/bin/myagent", Workspace: "/ws"},
	})
	assert.Equal(t, "/usr/local/bin/myagent", cmd)
	assert.Contains(t, args, "/ws")
}

func TestCodexCommandDefaultsToCodexName(t *testing.T) {
	r := New(nil)
	cmd, _ := r.CodexCommand(conversation.Conversation{Extra: conversation.Extra{Workspace: "/ws"}})
	assert.NotEmpty(t, cmd)
}
