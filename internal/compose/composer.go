// Package compose implements the pure Message Composer of spec §4.3: merging
// a newly produced typed message into an ordered list by (msgId, type,
// callId). Invoked for message kinds that cannot use the storage layer's
// (conversation_id, msg_id) upsert path directly: tool_group, tool_call,
// codex_tool_call, acp_tool_call.
//
// Every exported function returns new slices/structs; callers' existing
// slices are never mutated in place, so identity changes and downstream
// change detection stays reliable (spec §4.3).
package compose

import "github.com/agentcore/deskrt/pkg/deskrt/message"

// Merge appends or merges incoming into list according to its Type and
// returns the new list. Pure: never mutates list or incoming in place.
func Merge(list []message.Message, incoming message.Message) []message.Message {
	switch incoming.Type {
	case message.TypeToolGroup:
		return mergeToolGroup(list, incoming)
	case message.TypeToolCall, message.TypeCodexToolCall, message.TypeACPToolCall:
		return mergeByCallID(list, incoming)
	case message.TypeText:
		return mergeText(list, incoming)
	default:
		return append(cloneList(list), incoming)
	}
}

func cloneList(list []message.Message) []message.Message {
	out := make([]message.Message, len(list))
	copy(out, list)
	return out
}

// mergeToolGroup implements spec §4.3's tool_group rule: for each existing
// tool_group, replace any element whose callId matches an incoming element
// with the shallow merge of old and new; append remaining unmatched
// incoming elements as a new group message at the tail.
func mergeToolGroup(list []message.Message, incoming message.Message) []message.Message {
	incomingGroup, ok := asToolGroup(incoming.Content)
	if !ok {
		return append(cloneList(list), incoming)
	}

	consumed := make(map[string]bool, len(incomingGroup.Items))
	out := make([]message.Message, 0, len(list)+1)

	for _, existing := range list {
		if existing.Type != message.TypeToolGroup {
			out = append(out, existing)
			continue
		}
		existingGroup, ok := asToolGroup(existing.Content)
		if !ok {
			out = append(out, existing)
			continue
		}
		merged := make([]message.ToolGroupItem, len(existingGroup.Items))
		copy(merged, existingGroup.Items)
		for i, old := range merged {
			for _, in := range incomingGroup.Items {
				if in.CallID == old.CallID {
					merged[i] = shallowMergeToolGroupItem(old, in)
					consumed[in.CallID] = true
				}
			}
		}
		updated := existing
		updated.Content = message.ToolGroupContent{Items: merged}
		out = append(out, updated)
	}

	var remaining []message.ToolGroupItem
	for _, in := range incomingGroup.Items {
		if !consumed[in.CallID] {
			remaining = append(remaining, in)
		}
	}
	if len(remaining) > 0 {
		tail := incoming
		tail.Content = message.ToolGroupContent{Items: remaining}
		out = append(out, tail)
	}
	return out
}

// shallowMergeToolGroupItem merges new on top of old: zero-value fields in
// new keep old's value, non-zero fields in new win.
func shallowMergeToolGroupItem(old, in message.ToolGroupItem) message.ToolGroupItem {
	merged := old
	if in.Description != "" {
		merged.Description = in.Description
	}
	if in.Name != "" {
		merged.Name = in.Name
	}
	if in.RenderOutputAsMarkdown {
		merged.RenderOutputAsMarkdown = in.RenderOutputAsMarkdown
	}
	if in.ResultDisplay != nil {
		merged.ResultDisplay = in.ResultDisplay
	}
	if in.Status != "" {
		merged.Status = in.Status
	}
	if in.ConfirmationDetails != nil {
		merged.ConfirmationDetails = in.ConfirmationDetails
	}
	return merged
}

func asToolGroup(content any) (message.ToolGroupContent, bool) {
	switch c := content.(type) {
	case message.ToolGroupContent:
		return c, true
	case *message.ToolGroupContent:
		if c != nil {
			return *c, true
		}
	}
	return message.ToolGroupContent{}, false
}

// mergeByCallID implements the tool_call / codex_tool_call / acp_tool_call
// rule: find the first existing element with a matching call identifier and
// shallow-merge; otherwise append.
func mergeByCallID(list []message.Message, incoming message.Message) []message.Message {
	callID := incoming.CallID()
	if callID == "" {
		return append(cloneList(list), incoming)
	}
	out := cloneList(list)
	for i, existing := range out {
		if existing.Type == incoming.Type && existing.CallID() == callID {
			out[i] = shallowMergeMessage(existing, incoming)
			return out
		}
	}
	return append(out, incoming)
}

func shallowMergeMessage(old, in message.Message) message.Message {
	merged := old
	switch inC := in.Content.(type) {
	case message.ToolCallContent:
		oldC, _ := old.Content.(message.ToolCallContent)
		merged.Content = shallowMergeToolCall(oldC, inC)
	case message.CodexToolCallContent:
		oldC, _ := old.Content.(message.CodexToolCallContent)
		merged.Content = shallowMergeCodexToolCall(oldC, inC)
	case message.ACPToolCallContent:
		oldC, _ := old.Content.(message.ACPToolCallContent)
		merged.Content = shallowMergeACPToolCall(oldC, inC)
	default:
		merged.Content = in.Content
	}
	if in.Status != "" {
		merged.Status = in.Status
	}
	return merged
}

func shallowMergeToolCall(old, in message.ToolCallContent) message.ToolCallContent {
	merged := old
	if in.Name != "" {
		merged.Name = in.Name
	}
	if in.Args != nil {
		merged.Args = in.Args
	}
	if in.Error != "" {
		merged.Error = in.Error
	}
	if in.Status != "" {
		merged.Status = in.Status
	}
	return merged
}

func shallowMergeCodexToolCall(old, in message.CodexToolCallContent) message.CodexToolCallContent {
	merged := old
	merged.ToolCallID = in.ToolCallID
	if in.Kind != "" {
		merged.Kind = in.Kind
	}
	if in.Subtype != "" {
		merged.Subtype = in.Subtype
	}
	if in.Data != nil {
		merged.Data = in.Data
	}
	if in.Status != "" {
		merged.Status = in.Status
	}
	return merged
}

func shallowMergeACPToolCall(old, in message.ACPToolCallContent) message.ACPToolCallContent {
	merged := old
	if in.Update.Status != "" {
		merged.Update.Status = in.Update.Status
	}
	if in.Update.Title != "" {
		merged.Update.Title = in.Update.Title
	}
	if in.Update.Content != nil {
		merged.Update.Content = in.Update.Content
	}
	return merged
}

// mergeText concatenates consecutive text messages sharing msgId and type
// with the tail. This path is only exercised when composing from an
// external emission path; the streaming buffer's upsert is preferred for
// ordinary token streams (spec §4.3).
func mergeText(list []message.Message, incoming message.Message) []message.Message {
	if len(list) == 0 || incoming.MsgID == "" {
		return append(cloneList(list), incoming)
	}
	out := cloneList(list)
	tail := out[len(out)-1]
	if tail.Type == message.TypeText && tail.MsgID == incoming.MsgID {
		tailContent, _ := tail.Content.(message.TextContent)
		inContent, _ := incoming.Content.(message.TextContent)
		tail.Content = message.TextContent{Content: tailContent.Content + inContent.Content}
		out[len(out)-1] = tail
		return out
	}
	return append(out, incoming)
}
