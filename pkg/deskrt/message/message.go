// Package message defines the typed message sum-type that flows from the
// Agent Runtime through the Message Composer / Streaming Buffer into
// storage, and out to the UI event bus. See spec §3 and §9 ("Dynamic
// message shape -> tagged variant").
package message

import "time"

// Type is the closed set of message kinds. Adding a new variant is the only
// extension path the Composer recognizes.
type Type string

const (
	TypeText            Type = "text"
	TypeTips             Type = "tips"
	TypeToolCall         Type = "tool_call"
	TypeToolGroup        Type = "tool_group"
	TypeAgentStatus      Type = "agent_status"
	TypeACPPermission    Type = "acp_permission"
	TypeACPToolCall      Type = "acp_tool_call"
	TypeCodexPermission  Type = "codex_permission"
	TypeCodexToolCall    Type = "codex_tool_call"
)

// Position controls where the UI renders a message bubble.
type Position string

const (
	PositionLeft   Position = "left"
	PositionRight  Position = "right"
	PositionCenter Position = "center"
	PositionPop    Position = "pop"
)

// Status is the lifecycle state of a single message.
type Status string

const (
	StatusPending Status = "pending"
	StatusWork    Status = "work"
	StatusFinish  Status = "finish"
	StatusError   Status = "error"
)

// TipsKind enumerates the sub-kind of a Tips payload.
type TipsKind string

const (
	TipsError   TipsKind = "error"
	TipsSuccess TipsKind = "success"
	TipsWarning TipsKind = "warning"
)

// TextContent is the payload of a TypeText message.
type TextContent struct {
	Content string `json:"content"`
}

// TipsContent is the payload of a TypeTips message.
type TipsContent struct {
	Content string   `json:"content"`
	Type    TipsKind `json:"type"`
}

// ToolCallContent is the payload of a TypeToolCall message.
type ToolCallContent struct {
	CallID string `json:"callId"`
	Name   string `json:"name"`
	Args   any    `json:"args,omitempty"`
	Error  string `json:"error,omitempty"`
	Status string `json:"status,omitempty"`
}

// ToolGroupItem is one element of a ToolGroupContent.
type ToolGroupItem struct {
	CallID                  string `json:"callId"`
	Description             string `json:"description,omitempty"`
	Name                    string `json:"name,omitempty"`
	RenderOutputAsMarkdown  bool   `json:"renderOutputAsMarkdown,omitempty"`
	ResultDisplay           any    `json:"resultDisplay,omitempty"`
	Status                  string `json:"status,omitempty"`
	ConfirmationDetails     any    `json:"confirmationDetails,omitempty"`
}

// ToolGroupContent is the payload of a TypeToolGroup message.
type ToolGroupContent struct {
	Items []ToolGroupItem `json:"items"`
}

// AgentStatusContent is the payload of a TypeAgentStatus message.
type AgentStatusContent struct {
	Backend string `json:"backend"`
	Status  string `json:"status"`
}

// ACPToolCallContent is the payload of a TypeACPToolCall message.
type ACPToolCallContent struct {
	Update ACPToolCallUpdate `json:"update"`
}

// ACPToolCallUpdate is the nested update carried by acp_tool_call events.
type ACPToolCallUpdate struct {
	ToolCallID string `json:"toolCallId"`
	Status     string `json:"status,omitempty"`
	Title      string `json:"title,omitempty"`
	Content    any    `json:"content,omitempty"`
}

// CodexToolCallContent is the payload of a TypeCodexToolCall message. The
// Data field is deliberately opaque (json.RawMessage-compatible any) because
// the "generic" subtype carries an untyped payload per spec §9 Open
// Questions: do not infer a schema for it.
type CodexToolCallContent struct {
	ToolCallID string `json:"toolCallId"`
	Kind       string `json:"kind"`
	Subtype    string `json:"subtype"`
	Data       any    `json:"data,omitempty"`
	Status     string `json:"status,omitempty"`
}

// Message is the persisted/emitted envelope described in spec §3. Content
// holds one of the *Content structs above, selected by Type.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	MsgID          string    `json:"msgId,omitempty"`
	Type           Type      `json:"type"`
	Content        any       `json:"content"`
	Position       Position  `json:"position"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
}

// CallID extracts the call/tool-call identifier a message carries, if any.
// Used by the Composer to find the merge target for tool_call-shaped
// messages. Returns "" for types that don't carry one.
func (m Message) CallID() string {
	switch c := m.Content.(type) {
	case ToolCallContent:
		return c.CallID
	case *ToolCallContent:
		if c != nil {
			return c.CallID
		}
	case ACPToolCallContent:
		return c.Update.ToolCallID
	case *ACPToolCallContent:
		if c != nil {
			return c.Update.ToolCallID
		}
	case CodexToolCallContent:
		return c.ToolCallID
	case *CodexToolCallContent:
		if c != nil {
			return c.ToolCallID
		}
	}
	return ""
}

// Event is the envelope delivered over the UI event bus (spec §6).
type Event struct {
	Type           string `json:"type"`
	Data           any    `json:"data"`
	MsgID          string `json:"msg_id,omitempty"`
	ConversationID string `json:"conversation_id"`
}
