// Package conversation defines the Conversation entity and its enumerations,
// shared by the storage layer, the worker manager, and the bridge.
package conversation

import "time"

// Type selects which Agent Runtime variant backs a conversation.
type Type string

const (
	TypeIntegrated Type = "integrated"
	TypeACP        Type = "acp"
	TypeCodex      Type = "codex"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
)

// Extra is the opaque per-conversation configuration blob. The core never
// indexes inside it; it is serialized as a JSON column and handed back to
// the worker variant that needs it.
type Extra struct {
	Workspace      string   `json:"workspace"`
	PresetRules    string   `json:"presetRules,omitempty"`
	EnabledSkills  []string `json:"enabledSkills,omitempty"`
	PresetContext  string   `json:"presetContext,omitempty"`
	ACPBackend     string   `json:"acpBackend,omitempty"`
	CLIPathOverride string  `json:"cliPathOverride,omitempty"`
}

// Conversation is the durable record described in spec §3.
type Conversation struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Type       Type      `json:"type"`
	Extra      Extra     `json:"extra"`
	Model      string    `json:"model,omitempty"`
	Status     Status    `json:"status"`
	CreateTime time.Time `json:"createTime"`
	ModifyTime time.Time `json:"modifyTime"`
}

// Page is the pagination envelope returned by list operations.
type Page struct {
	Data     []Conversation `json:"data"`
	Total    int            `json:"total"`
	PageNum  int            `json:"page"`
	PageSize int            `json:"pageSize"`
	HasMore  bool           `json:"hasMore"`
}

// Updates is a sparse patch applied by UpdateConversation. Nil fields are
// left untouched; non-nil fields (including the zero value they point to)
// replace the stored value.
type Updates struct {
	Name   *string `json:"name,omitempty"`
	Extra  *Extra  `json:"extra,omitempty"`
	Model  *string `json:"model,omitempty"`
	Status *Status `json:"status,omitempty"`
}

// ModelChanged reports whether applying u would change the conversation's
// model field, using a deep-equality comparison on the serialized value.
// The Worker Manager uses this to decide whether a rebuild is required.
func (u Updates) ModelChanged(current string) bool {
	return u.Model != nil && *u.Model != current
}
