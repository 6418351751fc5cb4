package types

// Session describes one conversation owned by a single turn controller.
type Session struct {
	ID        string      `json:"id"`
	Title     string      `json:"title,omitempty"`
	Directory string      `json:"directory,omitempty"`
	Time      SessionTime `json:"time"`

	// Compactions counts completed history compactions; it doubles as the
	// sequence number for dehydrated span files.
	Compactions int `json:"compactions"`
}

// SessionTime contains session lifecycle timestamps in unix milliseconds.
type SessionTime struct {
	Created    int64  `json:"created"`
	Updated    *int64 `json:"updated,omitempty"`
	Compacting *int64 `json:"compacting,omitempty"`
}

// SessionLog is the per-session JSON document persisted for external
// inspection tooling. The context_window/conversation_history nesting is a
// stable contract: tools diff and tail these files.
type SessionLog struct {
	SessionID     string        `json:"session_id"`
	Updated       int64         `json:"updated"`
	ContextWindow ContextWindow `json:"context_window"`
}

// ContextWindow is the persisted snapshot of the conversation history.
type ContextWindow struct {
	ConversationHistory []LogEntry `json:"conversation_history"`
}
