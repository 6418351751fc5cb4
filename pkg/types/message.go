package types

import (
	"encoding/json"
	"strings"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ParseRole normalizes a role string. Roles are compared case-insensitively
// so that session logs written by other tooling remain readable.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "system":
		return RoleSystem
	case "user":
		return RoleUser
	case "assistant":
		return RoleAssistant
	case "tool":
		return RoleTool
	default:
		return Role(strings.ToLower(strings.TrimSpace(s)))
	}
}

// Is reports whether the role equals other, ignoring case.
func (r Role) Is(other Role) bool {
	return strings.EqualFold(string(r), string(other))
}

// Message is one entry in a session's conversation history. Messages are
// owned by the context window: immutable once committed, except when a
// compaction replaces a whole span with a synthetic summary.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionID,omitempty"`
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	Time      MessageTime `json:"time"`

	// ToolCallID links a tool-role result back to the call that produced
	// it, and an assistant message to the call it emitted.
	ToolCallID string `json:"toolCallID,omitempty"`
	ToolName   string `json:"toolName,omitempty"`

	// IsSummary marks a synthetic assistant message produced by compaction.
	IsSummary bool `json:"summary,omitempty"`

	Tokens *TokenUsage `json:"tokens,omitempty"`
}

// MessageTime contains timestamps for a message, in unix milliseconds.
type MessageTime struct {
	Created int64  `json:"created"`
	Updated *int64 `json:"updated,omitempty"`
}

// TokenUsage contains token accounting reported by the provider.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
	CacheRead  int `json:"cacheRead,omitempty"`
	CacheWrite int `json:"cacheWrite,omitempty"`
}

// LogEntry is the on-disk form of one history entry. The shape is part of
// the session-log contract consumed by external log-inspection tooling:
// keep field names stable.
type LogEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	Summary    bool   `json:"summary,omitempty"`
}

// ToLogEntry converts a message to its session-log representation.
func (m Message) ToLogEntry() LogEntry {
	return LogEntry{
		Role:       string(m.Role),
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
		ToolName:   m.ToolName,
		Summary:    m.IsSummary,
	}
}

// MarshalArgs renders an arbitrary argument tree as compact JSON, used for
// stable equality checks and logging.
func MarshalArgs(args map[string]any) json.RawMessage {
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
