package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore/deskrt/pkg/deskrt/message"
)

func TestToolGroupMergeScenario(t *testing.T) {
	existing := message.Message{
		Type: message.TypeToolGroup,
		Content: message.ToolGroupContent{Items: []message.ToolGroupItem{
			{CallID: "a", Status: "Executing"},
			{CallID: "b", Status: "Success"},
		}},
	}
	incoming := message.Message{
		Type: message.TypeToolGroup,
		Content: message.ToolGroupContent{Items: []message.ToolGroupItem{
			{CallID: "a", Status: "Success", ResultDisplay: "ok"},
			{CallID: "c", Status: "Pending"},
		}},
	}

	out := Merge([]message.Message{existing}, incoming)
	require.Len(t, out, 2)

	first, ok := out[0].Content.(message.ToolGroupContent)
	require.True(t, ok)
	require.Len(t, first.Items, 2)
	assert.Equal(t, "a", first.Items[0].CallID)
	assert.Equal(t, "Success", first.Items[0].Status)
	assert.Equal(t, "ok", first.Items[0].ResultDisplay)
	assert.Equal(t, "b", first.Items[1].CallID)
	assert.Equal(t, "Success", first.Items[1].Status)

	second, ok := out[1].Content.(message.ToolGroupContent)
	require.True(t, ok)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "c", second.Items[0].CallID)
}

func TestToolGroupMergeUnionOfCallIDs(t *testing.T) {
	existing := message.Message{
		Type: message.TypeToolGroup,
		Content: message.ToolGroupContent{Items: []message.ToolGroupItem{{CallID: "a"}}},
	}
	incoming := message.Message{
		Type:    message.TypeToolGroup,
		Content: message.ToolGroupContent{Items: []message.ToolGroupItem{{CallID: "a"}, {CallID: "z"}}},
	}
	out := Merge([]message.Message{existing}, incoming)

	ids := map[string]bool{}
	for _, m := range out {
		g, ok := m.Content.(message.ToolGroupContent)
		require.True(t, ok)
		for _, item := range g.Items {
			ids[item.CallID] = true
		}
	}
	assert.Equal(t, map[string]bool{"a": true, "z": true}, ids)
}

func TestMergeToolCallByCallID(t *testing.T) {
	existing := message.Message{
		Type:    message.TypeToolCall,
		Content: message.ToolCallContent{CallID: "x", Status: "Executing"},
	}
	incoming := message.Message{
		Type:    message.TypeToolCall,
		Content: message.ToolCallContent{CallID: "x", Status: "Success"},
	}
	out := Merge([]message.Message{existing}, incoming)
	require.Len(t, out, 1)
	c := out[0].Content.(message.ToolCallContent)
	assert.Equal(t, "Success", c.Status)
}

func TestMergeToolCallAppendsWhenNoMatch(t *testing.T) {
	existing := message.Message{Type: message.TypeToolCall, Content: message.ToolCallContent{CallID: "x"}}
	incoming := message.Message{Type: message.TypeToolCall, Content: message.ToolCallContent{CallID: "y"}}
	out := Merge([]message.Message{existing}, incoming)
	require.Len(t, out, 2)
}

func TestMergeDoesNotMutateInput(t *testing.T) {
	existing := message.Message{
		Type:    message.TypeToolGroup,
		Content: message.ToolGroupContent{Items: []message.ToolGroupItem{{CallID: "a", Status: "Executing"}}},
	}
	list := []message.Message{existing}
	incoming := message.Message{
		Type:    message.TypeToolGroup,
		Content: message.ToolGroupContent{Items: []message.ToolGroupItem{{CallID: "a", Status: "Success"}}},
	}
	_ = Merge(list, incoming)

	// original slice/struct must be untouched
	g := list[0].Content.(message.ToolGroupContent)
	assert.Equal(t, "Executing", g.Items[0].Status)
}

func TestMergeCodexToolCallByCallID(t *testing.T) {
	existing := message.Message{
		Type:    message.TypeCodexToolCall,
		Content: message.CodexToolCallContent{ToolCallID: "t1", Kind: "exec_command", Status: "begin"},
	}
	incoming := message.Message{
		Type:    message.TypeCodexToolCall,
		Content: message.CodexToolCallContent{ToolCallID: "t1", Status: "end"},
	}
	out := Merge([]message.Message{existing}, incoming)
	require.Len(t, out, 1)
	c := out[0].Content.(message.CodexToolCallContent)
	assert.Equal(t, "end", c.Status)
	assert.Equal(t, "exec_command", c.Kind)
}
