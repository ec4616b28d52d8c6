package runtime

import (
	"fmt"

	"github.com/agentcore/deskrt/pkg/deskrt/message"
)

// RawEvent is what a variant's transport layer produces before translation:
// an untyped (kind, payload) pair tagged with the msgId it belongs to.
type RawEvent struct {
	Kind   string
	MsgID  string
	CallID string
	Data   any
}

// translated is the result of mapping one RawEvent to a typed message, or
// the zero value with ok=false when the event is intentionally dropped.
type translated struct {
	msg message.Message
	ok  bool
}

// translateEvent implements spec §4.4's transport-event-to-typed-message
// mapping table. It panics on an event kind no variant is specified to
// produce, matching the spec's "any other type is a programmer error".
func translateEvent(ev RawEvent) translated {
	switch ev.Kind {
	case "start", "finish", "thought":
		return translated{}

	case "content":
		return translated{ok: true, msg: textMessage(ev, message.PositionLeft)}
	case "user_content":
		return translated{ok: true, msg: textMessage(ev, message.PositionRight)}

	case "tool_call":
		return translated{ok: true, msg: message.Message{
			MsgID: ev.MsgID, Type: message.TypeToolCall, Content: ev.Data, Position: message.PositionLeft,
		}}
	case "tool_group":
		return translated{ok: true, msg: message.Message{
			MsgID: ev.MsgID, Type: message.TypeToolGroup, Content: ev.Data, Position: message.PositionLeft,
		}}

	case "agent_status":
		return translated{ok: true, msg: message.Message{
			MsgID: ev.MsgID, Type: message.TypeAgentStatus, Content: ev.Data, Position: message.PositionCenter,
		}}

	case "acp_permission":
		return translated{ok: true, msg: message.Message{
			MsgID: ev.MsgID, Type: message.TypeACPPermission, Content: ev.Data, Position: message.PositionLeft,
		}}
	case "acp_tool_call":
		return translated{ok: true, msg: message.Message{
			MsgID: ev.MsgID, Type: message.TypeACPToolCall, Content: ev.Data, Position: message.PositionLeft,
		}}
	case "codex_permission":
		return translated{ok: true, msg: message.Message{
			MsgID: ev.MsgID, Type: message.TypeCodexPermission, Content: ev.Data, Position: message.PositionLeft,
		}}
	case "codex_tool_call":
		return translated{ok: true, msg: message.Message{
			MsgID: ev.MsgID, Type: message.TypeCodexToolCall, Content: ev.Data, Position: message.PositionLeft,
		}}

	case "error":
		text, _ := ev.Data.(string)
		return translated{ok: true, msg: message.Message{
			MsgID:    ev.MsgID,
			Type:     message.TypeTips,
			Content:  message.TipsContent{Content: text, Type: message.TipsError},
			Position: message.PositionCenter,
		}}

	default:
		panic(fmt.Sprintf("runtime: unmapped transport event kind %q", ev.Kind))
	}
}

func textMessage(ev RawEvent, position message.Position) message.Message {
	text, _ := ev.Data.(string)
	return message.Message{
		MsgID:    ev.MsgID,
		Type:     message.TypeText,
		Content:  message.TextContent{Content: text},
		Position: position,
	}
}
