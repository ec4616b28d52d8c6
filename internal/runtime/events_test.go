package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore/deskrt/pkg/deskrt/message"
)

func TestTranslateEventDropsLifecycleKinds(t *testing.T) {
	for _, kind := range []string{"start", "finish", "thought"} {
		got := translateEvent(RawEvent{Kind: kind})
		assert.False(t, got.ok, "kind %q should be dropped", kind)
	}
}

func TestTranslateEventContentAndUserContent(t *testing.T) {
	got := translateEvent(RawEvent{Kind: "content", Data: "hello"})
	require.True(t, got.ok)
	assert.Equal(t, message.TypeText, got.msg.Type)
	assert.Equal(t, message.PositionLeft, got.msg.Position)

	got = translateEvent(RawEvent{Kind: "user_content", Data: "hi"})
	require.True(t, got.ok)
	assert.Equal(t, message.PositionRight, got.msg.Position)
}

func TestTranslateEventAgentStatusIsCentered(t *testing.T) {
	got := translateEvent(RawEvent{Kind: "agent_status", Data: message.AgentStatusContent{Status: "connected"}})
	require.True(t, got.ok)
	assert.Equal(t, message.TypeAgentStatus, got.msg.Type)
	assert.Equal(t, message.PositionCenter, got.msg.Position)
}

func TestTranslateEventErrorBecomesTips(t *testing.T) {
	got := translateEvent(RawEvent{Kind: "error", Data: "boom"})
	require.True(t, got.ok)
	assert.Equal(t, message.TypeTips, got.msg.Type)
	tc := got.msg.Content.(message.TipsContent)
	assert.Equal(t, message.TipsError, tc.Type)
	assert.Equal(t, "boom", tc.Content)
}

func TestTranslateEventUnknownKindPanics(t *testing.T) {
	assert.Panics(t, func() {
		translateEvent(RawEvent{Kind: "not_a_real_kind"})
	})
}
